package notify

import (
	"context"
	"strings"

	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
)

// cancellationPolicy is the platform-wide policy text shown in every
// booking email.
const cancellationPolicy = "Full refund if cancelled more than 48 hours before the experience. " +
	"50% refund within 24–48 hours. No refund within 24 hours."

// Lookups is the subset of Repository the template builder needs.
// Declared here so handler tests can swap in fakes.
type Lookups interface {
	SeekerName(ctx context.Context, seekerProfileID string) (string, error)
	ProviderName(ctx context.Context, providerProfileID string) (string, error)
	GetOffering(ctx context.Context, offeringID string) (*models.Offering, error)
	GetLocation(ctx context.Context, offering *models.Offering) (*models.Location, error)
}

// Builder assembles the flat variable map the provider templates consume.
// Sub-lookup failures degrade to neutral defaults; only the caller's
// top-level booking fetch can fail a job.
type Builder struct {
	lookups Lookups
	appURL  string
	logger  logger.Logger
}

func NewBuilder(lookups Lookups, appURL string, log logger.Logger) *Builder {
	return &Builder{lookups: lookups, appURL: strings.TrimRight(appURL, "/"), logger: log}
}

// Build produces the template variables shared by all booking emails.
func (b *Builder) Build(ctx context.Context, booking *models.Booking) map[string]interface{} {
	offering := b.loadOffering(ctx, booking)
	location := b.loadLocation(ctx, booking, offering)

	startStr := booking.OfferingStartAt.String
	endStr := booking.OfferingEndAt.String

	locName := ""
	locAddress := ""
	if location != nil {
		locName = location.Name
		locAddress = location.FormattedAddress
	}

	eventDate := ""
	if startStr != "" {
		eventDate = FormatLongDate(startStr)
	}
	eventTime := ""
	duration := ""
	if startStr != "" && endStr != "" {
		eventTime = FormatTimeRange(startStr, endStr)
		duration = FormatDuration(startStr, endStr)
	}

	calendarLocation := locAddress
	if calendarLocation == "" {
		calendarLocation = locName
	}

	paymentDate := ""
	if booking.BookedAt.Valid {
		paymentDate = booking.BookedAt.Time.Format("Jan 2, 2006")
	}

	data := map[string]interface{}{
		// Identity
		"seeker_name":   b.seekerName(ctx, booking.SeekerProfileID),
		"provider_name": b.providerName(ctx, booking.ProviderProfileID),

		// Offering
		"offering_title":  booking.OfferingTitle.String,
		"offering_type":   offeringType(offering),
		"cover_image_url": nullableString(offering, func(o *models.Offering) string { return o.ImageURL.String }),

		// Date & time
		"event_date": eventDate,
		"event_time": eventTime,
		"duration":   duration,

		// Location
		"location_name":    locName,
		"location_address": locAddress,
		"directions_url":   DirectionsURL(location),
		"map_url":          "",

		// Calendar
		"calendar_link": CalendarLink(booking.OfferingTitle.String, startStr, endStr, calendarLocation),

		// Payment
		"booking_id":        booking.ID,
		"booking_reference": booking.Reference(),
		"base_price":        FormatCurrency(booking.AmountCents, booking.Currency),
		"service_fee":       FormatCurrency(0, booking.Currency),
		"total_amount":      FormatCurrency(booking.AmountCents, booking.Currency),
		"payment_method":    "Card",
		"payment_date":      paymentDate,
		"amount_cents":      booking.AmountCents,
		"currency":          booking.Currency,

		// Policy
		"cancellation_policy": cancellationPolicy,

		// Links
		"booking_detail_link":   b.appLink("/bookings/" + booking.ID),
		"contact_provider_link": b.appLink("/bookings/" + booking.ID + "/contact"),
		"preferences_link":      b.appLink("/settings/notifications"),
	}

	return data
}

// BuildCancellation extends the base variables with cancellation context.
func (b *Builder) BuildCancellation(ctx context.Context, booking *models.Booking, cancelledBy string) map[string]interface{} {
	data := b.Build(ctx, booking)

	refundCents := int64(0)
	if booking.RefundAmountCents.Valid {
		refundCents = booking.RefundAmountCents.Int64
	}

	data["cancelled_by"] = cancelledBy
	data["refund_amount"] = FormatCurrency(refundCents, booking.Currency)
	data["refund_amount_cents"] = refundCents
	return data
}

func (b *Builder) seekerName(ctx context.Context, seekerProfileID string) string {
	name, err := b.lookups.SeekerName(ctx, seekerProfileID)
	if err != nil {
		b.logger.Warn("Seeker name lookup failed, using fallback", map[string]interface{}{
			"seekerProfileId": seekerProfileID,
			"error":           err.Error(),
		})
	}
	if name == "" {
		return "Guest"
	}
	return name
}

func (b *Builder) providerName(ctx context.Context, providerProfileID string) string {
	name, err := b.lookups.ProviderName(ctx, providerProfileID)
	if err != nil {
		b.logger.Warn("Provider name lookup failed, using fallback", map[string]interface{}{
			"providerProfileId": providerProfileID,
			"error":             err.Error(),
		})
	}
	if name == "" {
		return "Your provider"
	}
	return name
}

func (b *Builder) loadOffering(ctx context.Context, booking *models.Booking) *models.Offering {
	if booking.OfferingID == "" {
		return nil
	}
	offering, err := b.lookups.GetOffering(ctx, booking.OfferingID)
	if err != nil {
		b.logger.Warn("Offering lookup failed, degrading template data", map[string]interface{}{
			"bookingId":  booking.ID,
			"offeringId": booking.OfferingID,
			"error":      err.Error(),
		})
		return nil
	}
	return offering
}

func (b *Builder) loadLocation(ctx context.Context, booking *models.Booking, offering *models.Offering) *models.Location {
	if offering == nil {
		return nil
	}
	location, err := b.lookups.GetLocation(ctx, offering)
	if err != nil {
		b.logger.Warn("Location lookup failed, degrading template data", map[string]interface{}{
			"bookingId":  booking.ID,
			"offeringId": offering.ID,
			"error":      err.Error(),
		})
		return nil
	}
	return location
}

func (b *Builder) appLink(path string) string {
	if b.appURL == "" {
		return ""
	}
	return b.appURL + path
}

// offeringType normalizes the stored type for display; underscores become
// spaces and missing types default to "session".
func offeringType(offering *models.Offering) string {
	if offering == nil || !offering.Type.Valid || offering.Type.String == "" {
		return "session"
	}
	return strings.ReplaceAll(offering.Type.String, "_", " ")
}

func nullableString(offering *models.Offering, get func(*models.Offering) string) string {
	if offering == nil {
		return ""
	}
	return get(offering)
}
