package assignments

import (
	"errors"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Assignment statuses.
const (
	StatusAsignada   = "asignada"
	StatusEnProgreso = "en_progreso"
	StatusFinalizada = "finalizada"
	StatusCancelada  = "cancelada"
)

// Statuses lists every status in workflow order.
var Statuses = []string{StatusAsignada, StatusEnProgreso, StatusFinalizada, StatusCancelada}

// Workflow holds the allowed status changes. Reopening a finished
// assignment is reserved to managers.
var Workflow = shared.Transitions{
	Allowed: map[string][]string{
		StatusAsignada:   {StatusEnProgreso, StatusCancelada},
		StatusEnProgreso: {StatusFinalizada, StatusCancelada},
	},
	Override: map[string][]string{
		StatusFinalizada: {StatusEnProgreso},
	},
}

var (
	// ErrNotTechnician is returned when work is assigned to an account that
	// is not an active technician.
	ErrNotTechnician = errors.New("assignments: user is not an active technician")
	// ErrInvalidInput signals a rejected form value.
	ErrInvalidInput = errors.New("assignments: invalid input")
)

// Assignment is a service request handed to a technician.
type Assignment struct {
	ID               int64
	TechnicianID     int64
	TechnicianName   string
	CreatedBy        int64
	Request          string
	Observations     string
	Status           string
	EstimatedMinutes int
	ActualMinutes    int
	AssignedAt       time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	UpdatedAt        time.Time
}

// Open reports whether work may still happen on the assignment.
func (a Assignment) Open() bool {
	return !Workflow.Terminal(a.Status)
}

// ListFilter narrows the assignments listing.
type ListFilter struct {
	TechnicianID int64
	Status       string
	Limit        int
	Offset       int
}

// CreateInput carries a new assignment.
type CreateInput struct {
	TechnicianID     int64
	Request          string
	EstimatedMinutes int
}

// UpdateInput carries the editable fields. Status may be left empty to keep
// the current one.
type UpdateInput struct {
	Status        string
	Observations  string
	ActualMinutes int
}
