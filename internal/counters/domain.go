package counters

import (
	"errors"
	"fmt"
	"time"
)

// Equipment states recorded with a reading.
const (
	StateOperativo       = "operativo"
	StateConFallas       = "con_fallas"
	StateFueraDeServicio = "fuera_de_servicio"
)

// States lists the valid equipment states.
var States = []string{StateOperativo, StateConFallas, StateFueraDeServicio}

const (
	// MaxCounter is the largest value a meter can show.
	MaxCounter int64 = 9_999_999
	// MaxDailyJump flags readings whose prints grew more than this per day.
	MaxDailyJump int64 = 10_000
)

var (
	// ErrCounterDecreased is returned when a reading is below the one it follows.
	ErrCounterDecreased = errors.New("counters: reading below previous reading")
	// ErrCounterAhead is returned when an edited reading would exceed the reading after it.
	ErrCounterAhead = errors.New("counters: reading above the following reading")
	// ErrInvalidReading signals a rejected form value.
	ErrInvalidReading = errors.New("counters: invalid reading")
)

// Counters are the three meters of a printer.
type Counters struct {
	Prints int64
	Scans  int64
	Copies int64
}

// Below reports the first meter in c that is lower than in other.
func (c Counters) Below(other Counters) (string, bool) {
	switch {
	case c.Prints < other.Prints:
		return "impresiones", true
	case c.Scans < other.Scans:
		return "escaneos", true
	case c.Copies < other.Copies:
		return "copias", true
	}
	return "", false
}

// Sub returns c minus other, meter by meter.
func (c Counters) Sub(other Counters) Counters {
	return Counters{Prints: c.Prints - other.Prints, Scans: c.Scans - other.Scans, Copies: c.Copies - other.Copies}
}

func (c Counters) validate() error {
	for _, v := range []int64{c.Prints, c.Scans, c.Copies} {
		if v < 0 || v > MaxCounter {
			return fmt.Errorf("%w: counter %d out of range", ErrInvalidReading, v)
		}
	}
	return nil
}

// Equipment is a monitored printer or multifunction device.
type Equipment struct {
	ID            int64
	Serial        string
	InventoryCode string
	Brand         string
	Model         string
	Kind          string
	Area          string
	Status        string
	Color         bool
	Last          Counters
	LastCountAt   *time.Time
}

// Label is the short name shown in lists.
func (e Equipment) Label() string {
	return e.Brand + " " + e.Model + " (" + e.Serial + ")"
}

// Reading is one counter reading taken by a technician.
type Reading struct {
	ID               int64
	EquipmentID      int64
	EquipmentLabel   string
	TechnicianID     int64
	TechnicianName   string
	CountedOn        time.Time
	Current          Counters
	Previous         Counters
	State            string
	NeedsMaintenance bool
	Notes            string
	CreatedAt        time.Time
}

// Delta returns the usage since the previous reading.
func (r Reading) Delta() Counters {
	return r.Current.Sub(r.Previous)
}

// Unusual reports a print jump above MaxDailyJump per elapsed day. since is
// the date of the previous reading; a zero value counts as one day.
func (r Reading) Unusual(since time.Time) bool {
	days := int64(1)
	if !since.IsZero() {
		if d := int64(r.CountedOn.Sub(since).Hours() / 24); d > 1 {
			days = d
		}
	}
	return r.Delta().Prints > MaxDailyJump*days
}

// ReadingFilter narrows the readings listing.
type ReadingFilter struct {
	EquipmentID  int64
	TechnicianID int64
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// RegisterInput carries a new reading.
type RegisterInput struct {
	EquipmentID      int64
	CountedOn        time.Time
	Counters         Counters
	State            string
	NeedsMaintenance bool
	Notes            string
	IdempotencyKey   string
}

// UpdateInput carries the editable fields of a reading.
type UpdateInput struct {
	Counters         Counters
	State            string
	NeedsMaintenance bool
	Notes            string
}
