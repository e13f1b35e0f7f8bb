// internal/workers/booking/cancellation/models.go
package cancellation

type Input struct {
	BookingID   string `json:"bookingId"`
	CancelledBy string `json:"cancelledBy,omitempty"` // "seeker", "provider" or empty
}

type Output struct {
	BookingID  string `json:"bookingId"`
	Status     string `json:"status"` // "sent" or "skipped"
	SkipReason string `json:"skipReason,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	SentAt     string `json:"sentAt,omitempty"` // ISO 8601
}

// Statuses
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// Skip reasons
const (
	SkipDisabled = "notifications_disabled"
	SkipNotFound = "booking_not_found"
	SkipNoEmail  = "no_email"
)
