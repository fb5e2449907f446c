package reports

import (
	"errors"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/counters"
)

// MaxRange bounds a report period.
const MaxRange = 366 * 24 * time.Hour

// ErrInvalidRange is returned for an empty, inverted or oversized period.
var ErrInvalidRange = errors.New("reports: invalid date range")

// Range is an inclusive period of calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days covered.
func (r Range) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// EquipmentUsage aggregates the readings of one equipment.
type EquipmentUsage struct {
	EquipmentID int64
	Label       string
	Area        string
	Readings    int
	Usage       counters.Counters
	LastCountAt time.Time
}

// CountersReport is the usage summary for a period.
type CountersReport struct {
	Range       Range
	Rows        []EquipmentUsage
	Totals      counters.Counters
	Readings    int
	GeneratedAt time.Time
}
