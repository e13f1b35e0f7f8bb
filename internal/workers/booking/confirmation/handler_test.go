// internal/workers/booking/confirmation/handler_test.go
package confirmation

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-notifier/internal/common/errors"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/common/sendgrid"
	"booking-notifier/internal/models"
	"booking-notifier/internal/notify"
)

type mockStore struct {
	GetBookingFunc           func(ctx context.Context, id string) (*models.Booking, error)
	SeekerEmailFunc          func(ctx context.Context, id string) (string, error)
	SeekerUserIDFunc         func(ctx context.Context, id string) (string, error)
	MarkNotificationSentFunc func(ctx context.Context, bookingID, column string) error

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
	if m.SeekerUserIDFunc != nil {
		return m.SeekerUserIDFunc(ctx, id)
	}
	return "user-1", nil
}

func (m *mockStore) MarkNotificationSent(ctx context.Context, bookingID, column string) error {
	m.markedColumns = append(m.markedColumns, column)
	if m.MarkNotificationSentFunc != nil {
		return m.MarkNotificationSentFunc(ctx, bookingID, column)
	}
	return nil
}

type mockBuilder struct{}

func (m *mockBuilder) Build(ctx context.Context, booking *models.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":  booking.ID,
		"seeker_name": "Ada",
	}
}

type mockDeliveries struct {
	ClaimFunc func(ctx context.Context, p notify.ClaimParams) (bool, error)

	claims     []notify.ClaimParams
	sentKeys   []string
	failedMsgs []string
}

func (m *mockDeliveries) Claim(ctx context.Context, p notify.ClaimParams) (bool, error) {
	m.claims = append(m.claims, p)
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, p)
	}
	return true, nil
}

func (m *mockDeliveries) MarkSent(ctx context.Context, bookingID, templateKey, messageID string) {
	m.sentKeys = append(m.sentKeys, notify.DedupeKey(bookingID, templateKey))
}

func (m *mockDeliveries) MarkFailed(ctx context.Context, bookingID, templateKey, errMsg string) {
	m.failedMsgs = append(m.failedMsgs, errMsg)
}

type mockEmail struct {
	SendTemplateFunc func(ctx context.Context, to, templateID string, data map[string]interface{}) (string, error)

	sentTo []string
}

func (m *mockEmail) SendTemplate(ctx context.Context, to, templateID string, data map[string]interface{}) (string, error) {
	m.sentTo = append(m.sentTo, to)
	if m.SendTemplateFunc != nil {
		return m.SendTemplateFunc(ctx, to, templateID, data)
	}
	return "msg-1", nil
}

func confirmableBooking() *models.Booking {
	return &models.Booking{
		ID:                "bk-1",
		OfferingID:        "off-1",
		SeekerProfileID:   "seeker-1",
		ProviderProfileID: "provider-1",
		Status:            models.BookingStatusConfirmed,
		AmountCents:       12999,
		Currency:          "USD",
	}
}

func newTestHandler(t *testing.T, store *mockStore, deliveries *mockDeliveries, email *mockEmail) *Handler {
	cfg := DefaultConfig()
	cfg.TemplateID = "d-confirm-1"
	return NewHandler(cfg, store, &mockBuilder{}, deliveries, email, nil, logger.NewTestLogger(t))
}

func TestExecute_SendsConfirmation(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
	}
	deliveries := &mockDeliveries{}
	email := &mockEmail{
		SendTemplateFunc: func(ctx context.Context, to, templateID string, data map[string]interface{}) (string, error) {
			assert.Equal(t, "d-confirm-1", templateID)
			assert.Equal(t, "bk-1", data["booking_id"])
			return "msg-42", nil
		},
	}

	h := newTestHandler(t, store, deliveries, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, output.Status)
	assert.Equal(t, "msg-42", output.MessageID)
	assert.NotEmpty(t, output.SentAt)

	require.Len(t, deliveries.claims, 1)
	assert.Equal(t, TemplateKey, deliveries.claims[0].TemplateKey)
	assert.Equal(t, "ada@example.com", deliveries.claims[0].Destination)
	assert.Equal(t, []string{"bk-1:booking_confirmation"}, deliveries.sentKeys)
	assert.Equal(t, []string{"confirmation_sent_at"}, store.markedColumns)
}

func TestExecute_SkipsWhenDisabled(t *testing.T) {
	h := newTestHandler(t, &mockStore{}, &mockDeliveries{}, &mockEmail{})
	h.config.Enabled = false

	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, output.Status)
	assert.Equal(t, SkipDisabled, output.SkipReason)
}

func TestExecute_SkipsWhenBookingMissing(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return nil, sql.ErrNoRows
		},
	}
	email := &mockEmail{}

	h := newTestHandler(t, store, &mockDeliveries{}, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "missing"})

	require.NoError(t, err)
	assert.Equal(t, SkipNotFound, output.SkipReason)
	assert.Empty(t, email.sentTo)
}

func TestExecute_LookupErrorIsRetryable(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return nil, stderrors.New("connection reset")
		},
	}

	h := newTestHandler(t, store, &mockDeliveries{}, &mockEmail{})
	_, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeBookingLookupFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestExecute_SkipsWhenMarkerSet(t *testing.T) {
	booking := confirmableBooking()
	booking.ConfirmationSentAt = sql.NullTime{Time: time.Now(), Valid: true}
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return booking, nil
		},
	}
	deliveries := &mockDeliveries{}
	email := &mockEmail{}

	h := newTestHandler(t, store, deliveries, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipAlreadySent, output.SkipReason)
	assert.Empty(t, deliveries.claims)
	assert.Empty(t, email.sentTo)
}

func TestExecute_SkipsOnRedisSentMarker(t *testing.T) {
	rdb, redisMock := redismock.NewClientMock()
	redisMock.ExpectGet("sent:bk-1:booking_confirmation").SetVal("1")

	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
	}
	email := &mockEmail{}

	cfg := DefaultConfig()
	cfg.TemplateID = "d-confirm-1"
	h := NewHandler(cfg, store, &mockBuilder{}, &mockDeliveries{}, email, rdb, logger.NewTestLogger(t))

	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipAlreadySent, output.SkipReason)
	assert.Empty(t, email.sentTo)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestExecute_StatusGate(t *testing.T) {
	for _, status := range []string{
		models.BookingStatusCancelled,
		models.BookingStatusRefunded,
		models.BookingStatusFailed,
	} {
		t.Run(status, func(t *testing.T) {
			booking := confirmableBooking()
			booking.Status = status
			store := &mockStore{
				GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
					return booking, nil
				},
			}
			email := &mockEmail{}

			h := newTestHandler(t, store, &mockDeliveries{}, email)
			output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

			require.NoError(t, err)
			assert.Equal(t, SkipStatusBlocked, output.SkipReason)
			assert.Empty(t, email.sentTo)
		})
	}
}

func TestExecute_SkipsWhenNoEmail(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
		SeekerEmailFunc: func(ctx context.Context, id string) (string, error) {
			return "", nil
		},
	}

	h := newTestHandler(t, store, &mockDeliveries{}, &mockEmail{})
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipNoEmail, output.SkipReason)
}

func TestExecute_EmailLookupErrorIsRetryable(t *testing.T) {
	email := &mockEmail{}
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
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

func TestExecute_SkipsMalformedEmail(t *testing.T) {
	email := &mockEmail{}
	deliveries := &mockDeliveries{}
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
		SeekerEmailFunc: func(ctx context.Context, id string) (string, error) {
			return "not-an-address", nil
		},
	}

	h := newTestHandler(t, store, deliveries, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipNoEmail, output.SkipReason)
	assert.Empty(t, deliveries.claims)
	assert.Empty(t, email.sentTo)
}

func TestExecute_SkipsWhenClaimLost(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
	}
	deliveries := &mockDeliveries{
		ClaimFunc: func(ctx context.Context, p notify.ClaimParams) (bool, error) {
			return false, nil
		},
	}
	email := &mockEmail{}

	h := newTestHandler(t, store, deliveries, email)
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, SkipAlreadySent, output.SkipReason)
	assert.Empty(t, email.sentTo)
}

func TestExecute_ClaimErrorIsRetryable(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
	}
	deliveries := &mockDeliveries{
		ClaimFunc: func(ctx context.Context, p notify.ClaimParams) (bool, error) {
			return false, stderrors.New("deadlock detected")
		},
	}

	h := newTestHandler(t, store, deliveries, &mockEmail{})
	_, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeDeliveryClaimFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestExecute_ProviderRejectionPropagates(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
	}
	deliveries := &mockDeliveries{}
	email := &mockEmail{
		SendTemplateFunc: func(ctx context.Context, to, templateID string, data map[string]interface{}) (string, error) {
			return "", &sendgrid.ProviderError{StatusCode: 403, Body: `{"errors":[{"message":"forbidden"}]}`}
		},
	}

	h := newTestHandler(t, store, deliveries, email)
	_, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeEmailProviderError, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.Equal(t, 403, stdErr.Metadata["statusCode"])
	assert.Contains(t, stdErr.Metadata["responseBody"], "forbidden")

	// Failure recorded, nothing marked sent
	require.Len(t, deliveries.failedMsgs, 1)
	assert.Empty(t, deliveries.sentKeys)
	assert.Empty(t, store.markedColumns)
}

func TestExecute_MarkerFailureDoesNotFailJob(t *testing.T) {
	store := &mockStore{
		GetBookingFunc: func(ctx context.Context, id string) (*models.Booking, error) {
			return confirmableBooking(), nil
		},
		MarkNotificationSentFunc: func(ctx context.Context, bookingID, column string) error {
			return stderrors.New("connection reset")
		},
	}
	deliveries := &mockDeliveries{}

	h := newTestHandler(t, store, deliveries, &mockEmail{})
	output, err := h.Execute(context.Background(), &Input{BookingID: "bk-1"})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, output.Status)
	assert.Equal(t, []string{"bk-1:booking_confirmation"}, deliveries.sentKeys)
}
