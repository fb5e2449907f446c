package audit

import (
	"errors"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// DefaultWindow is the period shown when no dates are given.
	DefaultWindow = 7 * 24 * time.Hour
	// MaxWindow bounds a single query or export.
	MaxWindow = 90 * 24 * time.Hour
	// MaxExportRows caps a CSV export.
	MaxExportRows = 10000
)

// ErrInvalidFilter is returned for unparsable or out of range filters.
var ErrInvalidFilter = errors.New("audit: invalid filter")

// TimelineFilters narrows the activity log.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one recorded change.
type TimelineRow struct {
	At        time.Time
	ActorID   int64
	ActorName string
	Action    string
	Entity    string
	EntityID  int64
	Meta      map[string]any
}

// PagingInfo describes a keyless page of the timeline.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps one page of rows.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}
