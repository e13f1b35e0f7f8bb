// internal/workers/booking/reminder/handler_test.go
package reminder

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-notifier/internal/common/errors"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
	"booking-notifier/internal/notify"
)

type mockStore struct {
	GetBookingFunc  func(ctx context.Context, id string) (*models.Booking, error)
	SeekerEmailFunc func(ctx context.Context, id string) (string, error)

	markedColumns []string
}

func (m *mockStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return m.GetBookingFunc(ctx, id)
}

func (m *mockStore) SeekerEmail(ctx context.Context, id string) (string, error) {
	if m.SeekerEmailFunc != nil {
		return m.SeekerEmailFunc(ctx, id)
	}
	return "ada@example.com", nil
}

func (m *mockStore) SeekerUserID(ctx context.Context, id string) (string, error) {
	return "user-1", nil
}

func (m *mockStore) MarkNotificationSent(ctx context.Context, bookingID, column string) error {
	m.markedColumns = append(m.markedColumns, column)
	return nil
}

type mockBuilder struct{}

func (m *mockBuilder) Build(ctx context.Context, booking *models.Booking) map[string]interface{} {
	return map[string]interface{}{"booking_id": booking.ID}
}

type mockDeliveries struct {
	claims   []notify.ClaimParams
	sentKeys []string
}

func (m *mockDeliveries) Claim(ctx context.Context, p notify.ClaimParams) (bool, error) {
	m.claims = append(m.claims, p)
	return true, nil
}

func (m *mockDeliveries) MarkSent(ctx context.Context, bookingID, templateKey, messageID string) {
	m.sentKeys = append(m.sentKeys, notify.DedupeKey(bookingID, templateKey))
}

func (m *mockDeliveries) MarkFailed(ctx context.Context, bookingID, templateKey, errMsg string) {}

type mockEmail struct {
	sentTo []string
}

func (m *mockEmail) SendTemplate(ctx context.Context, to, templateID string, data map[string]interface{}) (string, error) {
	m.sentTo = append(m.sentTo, to)
	return "msg-1", nil
}

func liveBooking(status string) *models.Booking {
	return &models.Booking{
		ID:              "bk-1",
		OfferingID:      "off-1",
		SeekerProfileID: "seeker-1",
		Status:          status,
		AmountCents:     5000,
		Currency:        "USD",
	}
}

func newTestHandler(t *testing.T, store *mockStore, deliveries *mockDeliveries, email *mockEmail) *Handler {
	cfg := DefaultConfig()
	cfg.TemplateID = "d-reminder-1"
	return NewHandler(cfg, store, &mockBuilder{}, deliveries, email, nil, logger.NewTestLogger(t))
}

func TestExecute_SendsReminderForLiveStatuses(t *testing.T) {
	for _, status := range []string{
		models.BookingStatusConfirmed,
		models.BookingStatusPendingPayout,
	} {
		t.Run(status, func(t *testing.T) {
			store := &mockStore{
				GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
					return liveBooking(status), nil
				},
			}
			deliveries := &mockDeliveries{}
			email := &mockEmail{}

			h := newTestHandler(t, store, deliveries, email)
			output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

			require.NoError(t, err)
			assert.Equal(t, StatusSent, output.Status)
			assert.Equal(t, []string{"ada@example.com"}, email.sentTo)
			assert.Equal(t, []string{"reminder_sent_at"}, store.markedColumns)
			require.Len(t, deliveries.claims, 1)
			assert.Equal(t, TemplateKey, deliveries.claims[0].TemplateKey)
		})
	}
}

func TestExecute_SkipsNonLiveStatuses(t *testing.T) {
	for _, status := range []string{
		models.BookingStatusPending,
		models.BookingStatusCancelled,
		models.BookingStatusRefunded,
		models.BookingStatusFailed,
	} {
		t.Run(status, func(t *testing.T) {
			store := &mockStore{
				GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
					return liveBooking(status), nil
				},
			}
			email := &mockEmail{}

			h := newTestHandler(t, store, &mockDeliveries{}, email)
			output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, output.Status)
			assert.Equal(t, SkipStatusBlocked, output.SkipReason)
			assert.Empty(t, email.sentTo)
		})
	}
}

func TestExecute_SkipsWhenMarkerSet(t *testing.T) {
	booking := liveBooking(models.BookingStatusConfirmed)
	booking.ReminderSentAt = sql.NullTime{Time: time.Now(), Valid: true}
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return booking, nil
		},
	}
	email := &mockEmail{}

	h := newTestHandler(t, store, &mockDeliveries{}, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipAlreadySent, output.SkipReason)
	assert.Empty(t, email.sentTo)
}

func TestExecute_SkipsWhenBookingMissing(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return nil, sql.ErrNoRows
		},
	}

	h := newTestHandler(t, store, &mockDeliveries{}, &mockEmail{})
	output, err := h.Execute(context.Background(), &Input{BookingID: "missing"})

	require.NoError(t, err)
	assert.Equal(t, SkipNotFound, output.SkipReason)
}

func TestExecute_EmailLookupErrorIsRetryable(t *testing.T) {
	email := &mockEmail{}
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return liveBooking(models.BookingStatusConfirmed), nil
		},
		SeekerEmailFunc: func(ctx context.Context, id string) (string, error) {
			return "", stderrors.New("connection reset by peer")
		},
	}

	h := newTestHandler(t, store, &mockDeliveries{}, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	assert.Nil(t, output)
	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeSeekerLookupFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.Empty(t, email.sentTo)
}
