// internal/workers/booking/reminder/models.go
package reminder

type Input struct {
	BookingID string `json:"bookingId"`
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
	SkipDisabled      = "notifications_disabled"
	SkipNotFound      = "booking_not_found"
	SkipAlreadySent   = "already_sent"
	SkipStatusBlocked = "status_not_eligible"
	SkipNoEmail       = "no_email"
)
