package notify

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
)

type mockLookups struct {
	SeekerNameFunc   func(ctx context.Context, id string) (string, error)
	ProviderNameFunc func(ctx context.Context, id string) (string, error)
	GetOfferingFunc  func(ctx context.Context, id string) (*models.Offering, error)
	GetLocationFunc  func(ctx context.Context, o *models.Offering) (*models.Location, error)
}

func (m *mockLookups) SeekerName(ctx context.Context, id string) (string, error) {
	if m.SeekerNameFunc != nil {
		return m.SeekerNameFunc(ctx, id)
	}
	return "", nil
}

func (m *mockLookups) ProviderName(ctx context.Context, id string) (string, error) {
	if m.ProviderNameFunc != nil {
		return m.ProviderNameFunc(ctx, id)
	}
	return "", nil
}

func (m *mockLookups) GetOffering(ctx context.Context, id string) (*models.Offering, error) {
	if m.GetOfferingFunc != nil {
		return m.GetOfferingFunc(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockLookups) GetLocation(ctx context.Context, o *models.Offering) (*models.Location, error) {
	if m.GetLocationFunc != nil {
		return m.GetLocationFunc(ctx, o)
	}
	return nil, nil
}

func testBooking() *models.Booking {
	return &models.Booking{
		ID:                "a1b2c3d4-0000-1111-2222-333344445555",
		OfferingID:        "off-1",
		SeekerProfileID:   "seeker-1",
		ProviderProfileID: "provider-1",
		Status:            models.BookingStatusConfirmed,
		AmountCents:       12999,
		Currency:          "USD",
		OfferingTitle:     sql.NullString{String: "Sunset Kayak Tour", Valid: true},
		OfferingStartAt:   sql.NullString{String: "2026-02-22T10:00:00Z", Valid: true},
		OfferingEndAt:     sql.NullString{String: "2026-02-22T11:35:00Z", Valid: true},
		BookedAt:          sql.NullTime{Time: time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC), Valid: true},
	}
}

func TestBuild_FullData(t *testing.T) {
	lat := 37.8087
	lng := -122.4098
	lookups := &mockLookups{
		SeekerNameFunc:   func(ctx context.Context, id string) (string, error) { return "Ada Lovelace", nil },
		ProviderNameFunc: func(ctx context.Context, id string) (string, error) { return "Bay Adventures", nil },
		GetOfferingFunc: func(ctx context.Context, id string) (*models.Offering, error) {
			return &models.Offering{
				ID:       id,
				Type:     sql.NullString{String: "guided_tour", Valid: true},
				ImageURL: sql.NullString{String: "https://cdn.example.com/kayak.jpg", Valid: true},
			}, nil
		},
		GetLocationFunc: func(ctx context.Context, o *models.Offering) (*models.Location, error) {
			return &models.Location{
				Name:             "Pier 39",
				FormattedAddress: "Pier 39, San Francisco, CA",
				Latitude:         &lat,
				Longitude:        &lng,
			}, nil
		},
	}

	builder := NewBuilder(lookups, "https://app.example.com", logger.NewNoOpLogger())
	data := builder.Build(context.Background(), testBooking())

	assert.Equal(t, "Ada Lovelace", data["seeker_name"])
	assert.Equal(t, "Bay Adventures", data["provider_name"])
	assert.Equal(t, "Sunset Kayak Tour", data["offering_title"])
	assert.Equal(t, "guided tour", data["offering_type"])
	assert.Equal(t, "https://cdn.example.com/kayak.jpg", data["cover_image_url"])
	assert.Equal(t, "Sunday, February 22, 2026", data["event_date"])
	assert.Equal(t, "10:00 AM – 11:35 AM", data["event_time"])
	assert.Equal(t, "1h 35min", data["duration"])
	assert.Equal(t, "Pier 39", data["location_name"])
	assert.Equal(t, "Pier 39, San Francisco, CA", data["location_address"])
	assert.Contains(t, data["directions_url"], "37.808700,-122.409800")
	assert.Equal(t, "", data["map_url"])
	assert.Contains(t, data["calendar_link"], "dates=20260222T100000Z/20260222T113500Z")
	assert.Equal(t, "A1B2C3D4", data["booking_reference"])
	assert.Equal(t, "$129.99", data["base_price"])
	assert.Equal(t, "$0.00", data["service_fee"])
	assert.Equal(t, "$129.99", data["total_amount"])
	assert.Equal(t, "Card", data["payment_method"])
	assert.Equal(t, "Feb 17, 2026", data["payment_date"])
	assert.Equal(t, int64(12999), data["amount_cents"])
	assert.Equal(t, "USD", data["currency"])
	assert.Equal(t, "https://app.example.com/bookings/a1b2c3d4-0000-1111-2222-333344445555", data["booking_detail_link"])
	assert.Equal(t, "https://app.example.com/settings/notifications", data["preferences_link"])
}

func TestBuild_DegradesOnLookupFailures(t *testing.T) {
	lookups := &mockLookups{
		SeekerNameFunc:   func(ctx context.Context, id string) (string, error) { return "", errors.New("db down") },
		ProviderNameFunc: func(ctx context.Context, id string) (string, error) { return "", nil },
		GetOfferingFunc: func(ctx context.Context, id string) (*models.Offering, error) {
			return nil, errors.New("db down")
		},
	}

	builder := NewBuilder(lookups, "", logger.NewTestLogger(t))
	data := builder.Build(context.Background(), testBooking())

	assert.Equal(t, "Guest", data["seeker_name"])
	assert.Equal(t, "Your provider", data["provider_name"])
	assert.Equal(t, "session", data["offering_type"])
	assert.Equal(t, "", data["cover_image_url"])
	assert.Equal(t, "", data["location_name"])
	assert.Equal(t, "", data["location_address"])
	assert.Equal(t, "", data["directions_url"])

	// No app URL configured means no deep links
	assert.Equal(t, "", data["booking_detail_link"])
	assert.Equal(t, "", data["contact_provider_link"])
	assert.Equal(t, "", data["preferences_link"])
}

func TestBuildCancellation(t *testing.T) {
	booking := testBooking()
	booking.Status = models.BookingStatusCancelled
	booking.RefundAmountCents = sql.NullInt64{Int64: 6500, Valid: true}

	builder := NewBuilder(&mockLookups{}, "", logger.NewNoOpLogger())
	data := builder.BuildCancellation(context.Background(), booking, "provider")

	assert.Equal(t, "provider", data["cancelled_by"])
	assert.Equal(t, "$65.00", data["refund_amount"])
	assert.Equal(t, int64(6500), data["refund_amount_cents"])
}

func TestBuildCancellation_NoRefund(t *testing.T) {
	builder := NewBuilder(&mockLookups{}, "", logger.NewNoOpLogger())
	data := builder.BuildCancellation(context.Background(), testBooking(), "seeker")

	assert.Equal(t, "$0.00", data["refund_amount"])
	assert.Equal(t, int64(0), data["refund_amount_cents"])
}
