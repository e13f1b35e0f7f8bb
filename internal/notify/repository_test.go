package notify

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-notifier/internal/common/database"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(&database.PostgresClient{DB: db}, logger.NewTestLogger(t))
	return repo, mock
}

func bookingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "offering_id", "seeker_profile_id", "provider_profile_id", "status",
		"amount_cents", "currency", "refund_amount_cents",
		"offering_title", "offering_start_at", "offering_end_at", "booked_at",
		"confirmation_sent_at", "reminder_sent_at", "followup_sent_at",
	})
}

func TestGetBooking(t *testing.T) {
	repo, mock := newTestRepository(t)

	bookedAt := time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id = \$1`).
		WithArgs("bk-1").
		WillReturnRows(bookingRows().AddRow(
			"bk-1", "off-1", "seeker-1", "provider-1", "confirmed",
			12999, "USD", nil,
			"Sunset Kayak Tour", "2026-02-22T10:00:00Z", "2026-02-22T11:35:00Z", bookedAt,
			nil, nil, nil,
		))

	b, err := repo.GetBooking(context.Background(), "bk-1")

	require.NoError(t, err)
	assert.Equal(t, "bk-1", b.ID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, int64(12999), b.AmountCents)
	assert.False(t, b.ConfirmationSentAt.Valid)
	assert.True(t, b.BookedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBooking_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBooking(context.Background(), "missing")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSeekerEmail(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT COALESCE\(p\.email, ''\)`).
		WithArgs("seeker-1").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("ada@example.com"))

	email, err := repo.SeekerEmail(context.Background(), "seeker-1")

	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)
}

func TestSeekerEmail_MissingProfile(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT COALESCE\(p\.email, ''\)`).
		WithArgs("seeker-x").
		WillReturnError(sql.ErrNoRows)

	email, err := repo.SeekerEmail(context.Background(), "seeker-x")

	require.NoError(t, err)
	assert.Equal(t, "", email)
}

func TestGetLocation_ProviderLocationPreferred(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`FROM provider_locations WHERE id = \$1`).
		WithArgs("loc-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "formatted_address", "latitude", "longitude"}).
			AddRow("Studio A", "12 Main St", 37.5, -122.3))

	offering := &models.Offering{
		ID:                 "off-1",
		ProviderLocationID: sql.NullString{String: "loc-1", Valid: true},
	}

	loc, err := repo.GetLocation(context.Background(), offering)

	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "Studio A", loc.Name)
	require.NotNil(t, loc.Latitude)
	assert.Equal(t, 37.5, *loc.Latitude)
}

func TestGetLocation_FallsBackToOfferingLocation(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`FROM provider_locations WHERE id = \$1`).
		WithArgs("loc-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM offering_locations WHERE offering_id = \$1`).
		WithArgs("off-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "formatted_address", "latitude", "longitude"}).
			AddRow("Trailhead", "Muir Woods", nil, nil))

	offering := &models.Offering{
		ID:                 "off-1",
		ProviderLocationID: sql.NullString{String: "loc-1", Valid: true},
	}

	loc, err := repo.GetLocation(context.Background(), offering)

	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "Trailhead", loc.Name)
	assert.Nil(t, loc.Latitude)
}

func TestGetLocation_NoneKnown(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`FROM offering_locations WHERE offering_id = \$1`).
		WithArgs("off-1").
		WillReturnError(sql.ErrNoRows)

	loc, err := repo.GetLocation(context.Background(), &models.Offering{ID: "off-1"})

	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestMarkNotificationSent(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(`UPDATE bookings SET confirmation_sent_at = NOW\(\) WHERE id = \$1`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkNotificationSent(context.Background(), "bk-1", "confirmation_sent_at")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationSent_RejectsUnknownColumn(t *testing.T) {
	repo, _ := newTestRepository(t)

	err := repo.MarkNotificationSent(context.Background(), "bk-1", "status")

	assert.Error(t, err)
}
