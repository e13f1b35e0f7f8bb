// Package notify contains the shared plumbing of the booking email
// workers: relational lookups, template data assembly, formatting, and
// the delivery audit log.
package notify

import (
	"context"
	"database/sql"
	"fmt"

	"booking-notifier/internal/common/database"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
)

// Repository performs the point lookups the template builder depends on.
// Each lookup is a separate query; bookings reference offerings, profiles,
// and locations by id and the joins happen client-side.
type Repository struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewRepository(db *database.PostgresClient, log logger.Logger) *Repository {
	return &Repository{db: db, logger: log}
}

const bookingColumns = `id, offering_id, seeker_profile_id, provider_profile_id, status,
	amount_cents, currency, refund_amount_cents,
	offering_title, offering_start_at, offering_end_at, booked_at,
	confirmation_sent_at, reminder_sent_at, followup_sent_at`

// GetBooking loads a booking by id. Returns sql.ErrNoRows unwrapped when
// the booking does not exist; callers skip rather than fail on that.
func (r *Repository) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)

	var b models.Booking
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&b.ID, &b.OfferingID, &b.SeekerProfileID, &b.ProviderProfileID, &b.Status,
		&b.AmountCents, &b.Currency, &b.RefundAmountCents,
		&b.OfferingTitle, &b.OfferingStartAt, &b.OfferingEndAt, &b.BookedAt,
		&b.ConfirmationSentAt, &b.ReminderSentAt, &b.FollowupSentAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SeekerEmail resolves the seeker's email via seeker_profiles -> profiles.
// A missing row resolves to an empty string, not an error.
func (r *Repository) SeekerEmail(ctx context.Context, seekerProfileID string) (string, error) {
	query := `SELECT COALESCE(p.email, '')
		FROM seeker_profiles sp
		JOIN profiles p ON p.id = sp.profile_id
		WHERE sp.id = $1`

	var email string
	err := r.db.QueryRow(ctx, query, seekerProfileID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("seeker email lookup failed: %w", err)
	}
	return email, nil
}

// SeekerUserID resolves the seeker's auth user id for the delivery log.
func (r *Repository) SeekerUserID(ctx context.Context, seekerProfileID string) (string, error) {
	query := `SELECT COALESCE(p.user_id::text, '')
		FROM seeker_profiles sp
		JOIN profiles p ON p.id = sp.profile_id
		WHERE sp.id = $1`

	var userID string
	err := r.db.QueryRow(ctx, query, seekerProfileID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("seeker user lookup failed: %w", err)
	}
	return userID, nil
}

// SeekerName resolves the seeker's display name.
func (r *Repository) SeekerName(ctx context.Context, seekerProfileID string) (string, error) {
	query := `SELECT COALESCE(NULLIF(p.display_name, ''), p.full_name, '')
		FROM seeker_profiles sp
		JOIN profiles p ON p.id = sp.profile_id
		WHERE sp.id = $1`

	var name string
	err := r.db.QueryRow(ctx, query, seekerProfileID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("seeker name lookup failed: %w", err)
	}
	return name, nil
}

// ProviderName resolves the provider's public name, preferring the business
// name over the profile display name.
func (r *Repository) ProviderName(ctx context.Context, providerProfileID string) (string, error) {
	query := `SELECT COALESCE(NULLIF(pp.business_name, ''), NULLIF(p.display_name, ''), '')
		FROM provider_profiles pp
		LEFT JOIN profiles p ON p.id = pp.profile_id
		WHERE pp.id = $1`

	var name string
	err := r.db.QueryRow(ctx, query, providerProfileID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("provider name lookup failed: %w", err)
	}
	return name, nil
}

// GetOffering loads the offering fields used for template data.
func (r *Repository) GetOffering(ctx context.Context, offeringID string) (*models.Offering, error) {
	query := `SELECT id, offering_type, image_url, provider_location_id
		FROM offerings WHERE id = $1`

	var o models.Offering
	err := r.db.QueryRow(ctx, query, offeringID).Scan(
		&o.ID, &o.Type, &o.ImageURL, &o.ProviderLocationID,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetLocation resolves the event location for an offering: the provider's
// fixed location when set, otherwise the offering's first itinerary stop,
// otherwise nil.
func (r *Repository) GetLocation(ctx context.Context, offering *models.Offering) (*models.Location, error) {
	if offering.ProviderLocationID.Valid && offering.ProviderLocationID.String != "" {
		loc, err := r.getProviderLocation(ctx, offering.ProviderLocationID.String)
		if err == nil && loc != nil {
			return loc, nil
		}
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}

	return r.getFirstOfferingLocation(ctx, offering.ID)
}

func (r *Repository) getProviderLocation(ctx context.Context, locationID string) (*models.Location, error) {
	query := `SELECT COALESCE(name, ''), COALESCE(formatted_address, ''), latitude, longitude
		FROM provider_locations WHERE id = $1`

	var loc models.Location
	err := r.db.QueryRow(ctx, query, locationID).Scan(
		&loc.Name, &loc.FormattedAddress, &loc.Latitude, &loc.Longitude,
	)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *Repository) getFirstOfferingLocation(ctx context.Context, offeringID string) (*models.Location, error) {
	query := `SELECT COALESCE(name, ''), COALESCE(formatted_address, ''), latitude, longitude
		FROM offering_locations WHERE offering_id = $1
		ORDER BY stop_order ASC LIMIT 1`

	var loc models.Location
	err := r.db.QueryRow(ctx, query, offeringID).Scan(
		&loc.Name, &loc.FormattedAddress, &loc.Latitude, &loc.Longitude,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// sentMarkerColumns whitelists the booking columns MarkNotificationSent may
// touch; the column name is interpolated into SQL.
var sentMarkerColumns = map[string]bool{
	"confirmation_sent_at": true,
	"reminder_sent_at":     true,
	"followup_sent_at":     true,
}

// MarkNotificationSent stamps an idempotency marker on the booking.
func (r *Repository) MarkNotificationSent(ctx context.Context, bookingID, column string) error {
	if !sentMarkerColumns[column] {
		return fmt.Errorf("unknown sent marker column: %s", column)
	}

	query := fmt.Sprintf(`UPDATE bookings SET %s = NOW() WHERE id = $1`, column)
	_, err := r.db.Exec(ctx, query, bookingID)
	return err
}
