// internal/workers/booking/cancellation/handler.go
package cancellation

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"booking-notifier/internal/common/errors"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/common/metrics"
	"booking-notifier/internal/common/sendgrid"
	"booking-notifier/internal/common/validation"
	"booking-notifier/internal/models"
	"booking-notifier/internal/notify"
)

const (
	TaskType    = "booking-cancellation"
	TemplateKey = "booking_cancellation"
)

// Interfaces over the notify plumbing so tests can swap in fakes.
type BookingStore interface {
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	SeekerEmail(ctx context.Context, seekerProfileID string) (string, error)
	SeekerUserID(ctx context.Context, seekerProfileID string) (string, error)
}

type TemplateBuilder interface {
	BuildCancellation(ctx context.Context, booking *models.Booking, cancelledBy string) map[string]interface{}
}

type DeliveryLog interface {
	Record(ctx context.Context, p notify.ClaimParams, status, messageID, errMsg string)
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
	logger     logger.Logger
	errHandler *errors.ErrorHandler
}

func NewHandler(cfg *Config, repo BookingStore, builder TemplateBuilder, deliveries DeliveryLog, email EmailSender, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     cfg,
		repo:       repo,
		builder:    builder,
		deliveries: deliveries,
		email:      email,
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

	h.logger.Info("Processing booking cancellation email", map[string]interface{}{
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

// Execute runs the cancellation flow. Exported for tests.
//
// Unlike the other lifecycle emails, cancellations carry no sent marker and
// take no delivery claim. A booking can be cancelled regardless of its
// current status, and a retried job resends rather than risk the seeker
// never hearing their booking is off. The delivery log still records every
// attempt under the same dedupe key.
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
			h.logger.Warn("Booking not found, skipping cancellation email", map[string]interface{}{
				"bookingId": input.BookingID,
			})
			return h.skip(input.BookingID, SkipNotFound), nil
		}
		return nil, errors.NewBookingLookupFailedError(input.BookingID, err)
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
	params := notify.ClaimParams{
		BookingID:   booking.ID,
		UserID:      userID,
		TemplateKey: TemplateKey,
		Destination: email,
	}

	data := h.builder.BuildCancellation(ctx, booking, input.CancelledBy)
	if err := validation.ValidateTemplateData(TemplateKey, data); err != nil {
		h.logger.Warn("Template data failed validation, sending anyway", map[string]interface{}{
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}

	messageID, err := h.email.SendTemplate(ctx, email, h.config.TemplateID, data)
	if err != nil {
		h.deliveries.Record(ctx, params, models.DeliveryStatusFailed, "", err.Error())
		return nil, toProviderError(err)
	}

	h.deliveries.Record(ctx, params, models.DeliveryStatusSent, messageID, "")
	metrics.EmailsSent.WithLabelValues(TemplateKey).Inc()

	return &Output{
		BookingID: booking.ID,
		Status:    StatusSent,
		MessageID: messageID,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) skip(bookingID, reason string) *Output {
	return &Output{BookingID: bookingID, Status: StatusSkipped, SkipReason: reason}
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

	h.logger.Info("Booking cancellation job completed", map[string]interface{}{
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
