// internal/workers/booking/reminder/handler.go
package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"

	"booking-notifier/internal/common/errors"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/common/metrics"
	"booking-notifier/internal/common/sendgrid"
	"booking-notifier/internal/common/validation"
	"booking-notifier/internal/models"
	"booking-notifier/internal/notify"
)

const (
	TaskType    = "booking-reminder"
	TemplateKey = "booking_reminder"

	sentMarkerColumn = "reminder_sent_at"
)

// Interfaces over the notify plumbing so tests can swap in fakes.
type BookingStore interface {
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	SeekerEmail(ctx context.Context, seekerProfileID string) (string, error)
	SeekerUserID(ctx context.Context, seekerProfileID string) (string, error)
	MarkNotificationSent(ctx context.Context, bookingID, column string) error
}

type TemplateBuilder interface {
	Build(ctx context.Context, booking *models.Booking) map[string]interface{}
}

type DeliveryLog interface {
	Claim(ctx context.Context, p notify.ClaimParams) (bool, error)
	MarkSent(ctx context.Context, bookingID, templateKey, messageID string)
	MarkFailed(ctx context.Context, bookingID, templateKey, errMsg string)
}

type EmailSender interface {
	SendTemplate(ctx context.Context, toEmail, templateID string, data map[string]interface{}) (string, error)
}

type Handler struct {
	config     *Config
	repo       BookingStore
	builder    TemplateBuilder
	deliveries DeliveryLog
	email      EmailSender
	redis      *redis.Client
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(cfg *Config, repo BookingStore, builder TemplateBuilder, deliveries DeliveryLog, email EmailSender, rdb *redis.Client, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		repo:       repo,
		builder:    builder,
		deliveries: deliveries,
		email:      email,
		redis:      rdb,
		logger:     scoped,
		errHandler: errors.NewErrorHandler(scoped),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing booking reminder email", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.ErrCodeInputParsingFailed)).Inc()
		h.errHandler.HandleJobError(ctx, client, job, errors.NewInputParsingFailedError(err))
		return
	}
	if input.BookingID == "" {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.ErrCodeValidationFailed)).Inc()
		h.errHandler.HandleJobError(ctx, client, job, errors.NewValidationFailedError("bookingId is required"))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		errorCode := extractErrorCode(err)
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, errorCode).Inc()
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	if output.Status == StatusSkipped {
		metrics.WorkerJobsSkipped.WithLabelValues(TaskType, output.SkipReason).Inc()
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	}
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

// Execute runs the reminder flow. Exported for tests.
//
// Reminders are stricter than confirmations: the booking must still be live
// (confirmed or pending payout) at send time, since the job is scheduled well
// before the experience and the booking may have been cancelled in between.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if !h.config.Enabled {
		return h.skip(input.BookingID, SkipDisabled), nil
	}
	if h.config.TemplateID == "" {
		return nil, errors.NewTemplateNotConfiguredError(TemplateKey)
	}

	booking, err := h.repo.GetBooking(ctx, input.BookingID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			h.logger.Warn("Booking not found, skipping reminder email", map[string]interface{}{
				"bookingId": input.BookingID,
			})
			return h.skip(input.BookingID, SkipNotFound), nil
		}
		return nil, errors.NewBookingLookupFailedError(input.BookingID, err)
	}

	if booking.ReminderSentAt.Valid {
		return h.skip(booking.ID, SkipAlreadySent), nil
	}
	if h.sentCached(ctx, booking.ID) {
		return h.skip(booking.ID, SkipAlreadySent), nil
	}

	switch booking.Status {
	case models.BookingStatusConfirmed, models.BookingStatusPendingPayout:
		// still live, proceed
	default:
		h.logger.Info("Booking no longer live, skipping reminder", map[string]interface{}{
			"bookingId": booking.ID,
			"status":    booking.Status,
		})
		return h.skip(booking.ID, SkipStatusBlocked), nil
	}

	email, err := h.repo.SeekerEmail(ctx, booking.SeekerProfileID)
	if err != nil {
		return nil, errors.NewSeekerLookupFailedError(booking.SeekerProfileID, err)
	}
	if email == "" || !validation.ValidateEmail(email) {
		h.logger.Warn("No usable seeker email for booking, skipping", map[string]interface{}{
			"bookingId":       booking.ID,
			"seekerProfileId": booking.SeekerProfileID,
		})
		return h.skip(booking.ID, SkipNoEmail), nil
	}

	userID, _ := h.repo.SeekerUserID(ctx, booking.SeekerProfileID)

	claimed, err := h.deliveries.Claim(ctx, notify.ClaimParams{
		BookingID:   booking.ID,
		UserID:      userID,
		TemplateKey: TemplateKey,
		Destination: email,
	})
	if err != nil {
		return nil, errors.NewDeliveryClaimFailedError(notify.DedupeKey(booking.ID, TemplateKey), err)
	}
	if !claimed {
		return h.skip(booking.ID, SkipAlreadySent), nil
	}

	data := h.builder.Build(ctx, booking)
	if err := validation.ValidateTemplateData(TemplateKey, data); err != nil {
		h.logger.Warn("Template data failed validation, sending anyway", map[string]interface{}{
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}

	messageID, err := h.email.SendTemplate(ctx, email, h.config.TemplateID, data)
	if err != nil {
		h.deliveries.MarkFailed(ctx, booking.ID, TemplateKey, err.Error())
		return nil, toProviderError(err)
	}

	h.finalize(ctx, booking.ID, messageID)

	return &Output{
		BookingID: booking.ID,
		Status:    StatusSent,
		MessageID: messageID,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// finalize is best-effort: the claimed delivery row already blocks duplicates.
func (h *Handler) finalize(ctx context.Context, bookingID, messageID string) {
	if err := h.repo.MarkNotificationSent(ctx, bookingID, sentMarkerColumn); err != nil {
		h.logger.Warn("Failed to stamp reminder marker", map[string]interface{}{
			"bookingId": bookingID,
			"error":     err.Error(),
		})
	}

	h.deliveries.MarkSent(ctx, bookingID, TemplateKey, messageID)
	h.cacheSent(ctx, bookingID)
	metrics.EmailsSent.WithLabelValues(TemplateKey).Inc()
}

func (h *Handler) skip(bookingID, reason string) *Output {
	return &Output{BookingID: bookingID, Status: StatusSkipped, SkipReason: reason}
}

func sentCacheKey(bookingID string) string {
	return "sent:" + bookingID + ":" + TemplateKey
}

func (h *Handler) sentCached(ctx context.Context, bookingID string) bool {
	if h.redis == nil {
		return false
	}
	_, err := h.redis.Get(ctx, sentCacheKey(bookingID)).Result()
	return err == nil
}

func (h *Handler) cacheSent(ctx context.Context, bookingID string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Set(ctx, sentCacheKey(bookingID), "1", h.config.SentCacheTTL).Err(); err != nil {
		h.logger.Debug("Failed to cache sent marker", map[string]interface{}{
			"bookingId": bookingID,
			"error":     err.Error(),
		})
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	h.logger.Info("Booking reminder job completed", map[string]interface{}{
		"jobKey":     job.GetKey(),
		"bookingId":  output.BookingID,
		"status":     output.Status,
		"skipReason": output.SkipReason,
	})
}

func toProviderError(err error) error {
	var provErr *sendgrid.ProviderError
	if stderrors.As(err, &provErr) {
		metrics.EmailsFailed.WithLabelValues(TemplateKey, fmt.Sprintf("%d", provErr.StatusCode)).Inc()
		return errors.NewEmailProviderError(provErr.StatusCode, provErr.Body, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewEmailProviderTimeoutError()
	}
	return errors.NewExternalServiceError("sendgrid", err)
}

func extractErrorCode(err error) string {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return string(stdErr.Code)
	}
	return "INTERNAL_ERROR"
}
