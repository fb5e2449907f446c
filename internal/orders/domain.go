package orders

import (
	"errors"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Order statuses.
const (
	StatusPendiente = "pendiente"
	StatusAprobado  = "aprobado"
	StatusRechazado = "rechazado"
)

// Urgency levels offered on the request form.
var Urgencies = []string{"baja", "normal", "alta", "urgente"}

// Workflow allows a single decision on a pending order.
var Workflow = shared.Transitions{
	Allowed: map[string][]string{
		StatusPendiente: {StatusAprobado, StatusRechazado},
	},
}

// approvalModule tags approval rows and stock movements.
const approvalModule = "orders"

var (
	// ErrInvalidInput signals a rejected form value.
	ErrInvalidInput = errors.New("orders: invalid input")
	// ErrQuantityExceeded is returned when the approved quantity is above the
	// requested one.
	ErrQuantityExceeded = errors.New("orders: approved quantity above requested")
)

// Order is a technician's request for spare parts.
type Order struct {
	ID             int64
	TechnicianID   int64
	TechnicianName string
	PartID         int64
	PartCode       string
	PartName       string
	AssignmentID   *int64
	RequestedQty   int
	ApprovedQty    int
	Reason         string
	Urgency        string
	Status         string
	AdminNotes     string
	RequestedAt    time.Time
	DecidedAt      *time.Time
	DecidedBy      *int64
}

// Pending reports whether the order still awaits a decision.
func (o Order) Pending() bool {
	return !Workflow.Terminal(o.Status)
}

// ListFilter narrows the order listing.
type ListFilter struct {
	TechnicianID int64
	Status       string
	Limit        int
	Offset       int
}

// RequestInput carries a new parts request.
type RequestInput struct {
	PartID       int64
	Qty          int
	Reason       string
	Urgency      string
	AssignmentID *int64
}

// Decision carries an approval or rejection.
type Decision struct {
	Approve bool
	Qty     int
	Note    string
}
