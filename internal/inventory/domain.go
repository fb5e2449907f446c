package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents received stock.
	MovementIn MovementType = "IN"
	// MovementOut represents stock handed out, e.g. for an approved order.
	MovementOut MovementType = "OUT"
	// MovementAdjust indicates manual corrections after a count.
	MovementAdjust MovementType = "ADJUST"
)

// Part is a spare part or consumable kept in stock.
type Part struct {
	ID          int64
	Code        string
	Name        string
	Description string
	PriceCents  int64
	Stock       int
	MinStock    int
	UpdatedAt   time.Time
}

// LowStock reports whether the part is at or below its minimum.
func (p Part) LowStock() bool {
	return p.Stock <= p.MinStock
}

// Movement is one line of a part's stock card.
type Movement struct {
	ID        int64
	PartID    int64
	Type      MovementType
	Qty       int
	Balance   int
	RefModule string
	RefID     int64
	Note      string
	ActorID   int64
	PostedAt  time.Time
}

// MovementInput describes a stock change. Qty is signed: positive adds stock.
type MovementInput struct {
	PartID    int64
	Type      MovementType
	Qty       int
	RefModule string
	RefID     int64
	Note      string
	ActorID   int64
}

// PartFilter narrows the parts listing.
type PartFilter struct {
	Search       string
	LowStockOnly bool
	Limit        int
	Offset       int
}

var (
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
)
