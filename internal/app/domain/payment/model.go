// Package payment defines the payment obligation entity and its lifecycle
// state machine.
package payment

import "time"

// Status is the lifecycle state of a payment record.
type Status string

// The five lifecycle states.
const (
	ApplicationPending  Status = "application_pending"
	ApplicationRejected Status = "application_rejected"
	Pending             Status = "pending"
	Paid                Status = "paid"
	Failed              Status = "failed"
)

// IsApplicationState reports whether s belongs to the review-path bucket.
func (s Status) IsApplicationState() bool {
	return s == ApplicationPending || s == ApplicationRejected
}

// Record is a single financial obligation. Amount is a signed decimal value;
// negative amounts support refund-style entries. ApplicationReason is set if
// and only if the record entered through the review path and is never cleared.
type Record struct {
	ID                string    `json:"payment_id"`
	ServiceID         string    `json:"service_id"`
	Amount            float64   `json:"amount"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	Email             string    `json:"email"`
	ApplicationReason string    `json:"application_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DueDateDays is the settlement window included in payment_created
// notifications. The due date is derived, never persisted.
const DueDateDays = 30

// DueDate returns the settlement deadline for a record entering pending.
func (r Record) DueDate() time.Time {
	return r.CreatedAt.AddDate(0, 0, DueDateDays)
}

// IsApplication reports whether the record currently sits in the review path.
func (r Record) IsApplication() bool {
	return r.Status.IsApplicationState()
}
