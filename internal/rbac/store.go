package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

// ReloadChannel is the Redis channel used to tell peers to reload.
const ReloadChannel = "ecoloimp:rbac:reload"

// CatalogLoader builds a fresh catalog, usually from the database.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (*authz.Catalog, error)
}

// CatalogStore holds the catalog currently used for decisions. Readers get
// an immutable snapshot; Reload swaps in a new one without blocking them.
type CatalogStore struct {
	current  atomic.Pointer[authz.Catalog]
	loader   CatalogLoader
	group    singleflight.Group
	redis    redis.UniversalClient
	logger   *slog.Logger
	reloaded atomic.Int64
}

// NewCatalogStore wraps an initial catalog. redisClient may be nil, in which
// case reloads stay local to this process.
func NewCatalogStore(initial *authz.Catalog, loader CatalogLoader, redisClient redis.UniversalClient, logger *slog.Logger) *CatalogStore {
	if initial == nil {
		panic("rbac: catalog store requires an initial catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CatalogStore{loader: loader, redis: redisClient, logger: logger}
	s.current.Store(initial)
	return s
}

// Current returns the catalog in effect.
func (s *CatalogStore) Current() *authz.Catalog {
	return s.current.Load()
}

// LastReload returns when the catalog was last swapped, or the zero time.
func (s *CatalogStore) LastReload() time.Time {
	if ns := s.reloaded.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// Reload rebuilds the catalog. Concurrent calls share one load. On failure
// the previous catalog stays in effect.
func (s *CatalogStore) Reload(ctx context.Context) (*authz.Catalog, error) {
	if s.loader == nil {
		return nil, errors.New("rbac: catalog store has no loader")
	}
	ch := s.group.DoChan("reload", func() (any, error) {
		catalog, err := s.loader.LoadCatalog(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.current.Store(catalog)
		s.reloaded.Store(time.Now().UnixNano())
		return catalog, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("rbac reload catalog", slog.Any("error", res.Err))
			return nil, res.Err
		}
		catalog := res.Val.(*authz.Catalog)
		s.logger.Info("rbac catalog reloaded", slog.Int("roles", len(catalog.Roles())), slog.Int("permissions", len(catalog.Permissions())), slog.Bool("shared", res.Shared))
		return catalog, nil
	}
}

// Bootstrap performs the startup load. An empty store keeps the initial
// catalog so a fresh database can serve until it is seeded. Any other
// failure, including an invalid stored catalog, is returned.
func (s *CatalogStore) Bootstrap(ctx context.Context) error {
	_, err := s.Reload(ctx)
	if errors.Is(err, ErrEmptyCatalog) {
		s.logger.Warn("rbac catalog not seeded, using built-in defaults")
		return nil
	}
	return err
}

// Broadcast asks every instance subscribed through Listen to reload.
func (s *CatalogStore) Broadcast(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Publish(ctx, ReloadChannel, time.Now().UTC().Format(time.RFC3339Nano)).Err()
}

// Listen reloads on every broadcast until ctx is cancelled.
func (s *CatalogStore) Listen(ctx context.Context) error {
	if s.redis == nil {
		<-ctx.Done()
		return nil
	}
	sub := s.redis.Subscribe(ctx, ReloadChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-msgs:
			if !ok {
				return nil
			}
			if _, err := s.Reload(ctx); err != nil {
				s.logger.Warn("rbac reload from broadcast failed", slog.Any("error", err))
			}
		}
	}
}
