package models

import (
	"database/sql"
	"strings"
	"time"
)

// Booking statuses as stored in the bookings table.
const (
	BookingStatusPending       = "pending"
	BookingStatusConfirmed     = "confirmed"
	BookingStatusCancelled     = "cancelled"
	BookingStatusRefunded      = "refunded"
	BookingStatusFailed        = "failed"
	BookingStatusPendingPayout = "pending_payout"
)

// Booking is the denormalized booking row the email workers operate on.
// Offering title and times are snapshots taken at booking time, so emails
// reflect what the seeker actually booked even if the offering changed later.
type Booking struct {
	ID                string
	OfferingID        string
	SeekerProfileID   string
	ProviderProfileID string
	Status            string
	AmountCents       int64
	Currency          string
	RefundAmountCents sql.NullInt64
	OfferingTitle     sql.NullString
	OfferingStartAt   sql.NullString
	OfferingEndAt     sql.NullString
	BookedAt          sql.NullTime

	// Idempotency markers, one per lifecycle email that must not repeat.
	ConfirmationSentAt sql.NullTime
	ReminderSentAt     sql.NullTime
	FollowupSentAt     sql.NullTime
}

// Reference returns the human-facing short booking reference.
func (b *Booking) Reference() string {
	if len(b.ID) >= 8 {
		return strings.ToUpper(b.ID[:8])
	}
	return strings.ToUpper(b.ID)
}

// Offering holds the subset of the offerings table the workers read.
type Offering struct {
	ID                 string
	Type               sql.NullString
	ImageURL           sql.NullString
	ProviderLocationID sql.NullString
}

// Location is a resolved event location, either the provider's fixed
// location or the offering's first itinerary stop.
type Location struct {
	Name             string
	FormattedAddress string
	Latitude         *float64
	Longitude        *float64
}

// Delivery statuses recorded in notification_deliveries.
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
)

// Delivery is one row of the notification delivery audit log.
type Delivery struct {
	ID          string
	Channel     string
	Status      string
	Destination string
	TemplateKey string
	BookingID   string
	UserID      sql.NullString
	DedupeKey   string

	ProviderMessageID sql.NullString
	Attempts          int
	SentAt            sql.NullTime
	LastError         sql.NullString
	CreatedAt         time.Time
}
