package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"booking-notifier/internal/common/database"
	"booking-notifier/internal/common/logger"
	"booking-notifier/internal/models"
)

// DedupeKey builds the delivery log dedupe key for a booking and template.
func DedupeKey(bookingID, templateKey string) string {
	return bookingID + ":" + templateKey
}

// DeliveryLog records notification outcomes in notification_deliveries and,
// when configured, mirrors them into an Elasticsearch audit index.
//
// The dedupe_key unique constraint makes Claim the real idempotency
// guarantee: a 'sent' row blocks any further send for that booking and
// template, while pending or failed rows are re-claimable so queue retries
// can finish the job.
type DeliveryLog struct {
	db     *database.PostgresClient
	es     *database.ElasticsearchClient // nil disables audit indexing
	index  string
	logger logger.Logger
}

func NewDeliveryLog(db *database.PostgresClient, es *database.ElasticsearchClient, index string, log logger.Logger) *DeliveryLog {
	return &DeliveryLog{db: db, es: es, index: index, logger: log}
}

// ClaimParams identifies the delivery a worker is about to attempt.
type ClaimParams struct {
	BookingID   string
	UserID      string
	TemplateKey string
	Destination string
}

// Claim inserts or re-arms the delivery row for this booking and template.
// Returns false when a 'sent' row already exists, meaning the email went
// out earlier and must not be sent again. Database errors are returned so
// the job can be retried.
func (d *DeliveryLog) Claim(ctx context.Context, p ClaimParams) (bool, error) {
	dedupeKey := DedupeKey(p.BookingID, p.TemplateKey)

	query := `INSERT INTO notification_deliveries
		(id, channel, status, destination, template_key, booking_id, user_id, dedupe_key, attempts, created_at)
		VALUES ($1, 'email', 'pending', $2, $3, $4, NULLIF($5, ''), $6, 1, NOW())
		ON CONFLICT (dedupe_key) DO UPDATE
			SET status = 'pending',
			    destination = EXCLUDED.destination,
			    attempts = notification_deliveries.attempts + 1
			WHERE notification_deliveries.status <> 'sent'
		RETURNING id`

	var id string
	err := d.db.QueryRow(ctx, query,
		uuid.NewString(), p.Destination, p.TemplateKey, p.BookingID, p.UserID, dedupeKey,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSent finalizes a claimed delivery after the provider accepted the
// email. Best-effort: a failed audit write never undoes a sent email, so
// errors are logged and swallowed.
func (d *DeliveryLog) MarkSent(ctx context.Context, bookingID, templateKey, messageID string) {
	dedupeKey := DedupeKey(bookingID, templateKey)

	query := `UPDATE notification_deliveries
		SET status = 'sent', provider_message_id = $2, sent_at = NOW(), last_error = NULL
		WHERE dedupe_key = $1`

	if _, err := d.db.Exec(ctx, query, dedupeKey, messageID); err != nil {
		d.logger.Warn("Failed to record sent delivery", map[string]interface{}{
			"dedupeKey": dedupeKey,
			"error":     err.Error(),
		})
	}

	d.indexDelivery(ctx, bookingID, templateKey, models.DeliveryStatusSent, messageID, "")
}

// MarkFailed records a provider rejection on the claimed delivery row.
// Best-effort for the same reason as MarkSent; the queue retry is driven
// by the returned job error, not by this row.
func (d *DeliveryLog) MarkFailed(ctx context.Context, bookingID, templateKey, errMsg string) {
	dedupeKey := DedupeKey(bookingID, templateKey)

	query := `UPDATE notification_deliveries
		SET status = 'failed', last_error = $2
		WHERE dedupe_key = $1`

	if _, err := d.db.Exec(ctx, query, dedupeKey, errMsg); err != nil {
		d.logger.Warn("Failed to record failed delivery", map[string]interface{}{
			"dedupeKey": dedupeKey,
			"error":     err.Error(),
		})
	}

	d.indexDelivery(ctx, bookingID, templateKey, models.DeliveryStatusFailed, "", errMsg)
}

// Record upserts a delivery row without claim semantics. Used by the
// cancellation worker, which may legitimately send more than once.
func (d *DeliveryLog) Record(ctx context.Context, p ClaimParams, status, messageID, errMsg string) {
	dedupeKey := DedupeKey(p.BookingID, p.TemplateKey)

	query := `INSERT INTO notification_deliveries
		(id, channel, status, destination, template_key, booking_id, user_id, dedupe_key,
		 provider_message_id, last_error, attempts, sent_at, created_at)
		VALUES ($1, 'email', $2, $3, $4, $5, NULLIF($6, ''), $7,
		        NULLIF($8, ''), NULLIF($9, ''), 1,
		        CASE WHEN $2 = 'sent' THEN NOW() END, NOW())
		ON CONFLICT (dedupe_key) DO UPDATE
			SET status = EXCLUDED.status,
			    provider_message_id = EXCLUDED.provider_message_id,
			    last_error = EXCLUDED.last_error,
			    attempts = notification_deliveries.attempts + 1,
			    sent_at = EXCLUDED.sent_at`

	_, err := d.db.Exec(ctx, query,
		uuid.NewString(), status, p.Destination, p.TemplateKey, p.BookingID, p.UserID,
		dedupeKey, messageID, errMsg,
	)
	if err != nil {
		d.logger.Warn("Failed to record delivery", map[string]interface{}{
			"dedupeKey": dedupeKey,
			"status":    status,
			"error":     err.Error(),
		})
	}

	d.indexDelivery(ctx, p.BookingID, p.TemplateKey, status, messageID, errMsg)
}

// Get loads the delivery row for a booking and template. Returns nil when
// no attempt has been recorded yet.
func (d *DeliveryLog) Get(ctx context.Context, bookingID, templateKey string) (*models.Delivery, error) {
	query := `SELECT id, channel, status, destination, template_key, booking_id,
		       user_id, dedupe_key, provider_message_id, attempts, sent_at,
		       last_error, created_at
		FROM notification_deliveries
		WHERE dedupe_key = $1`

	var dlv models.Delivery
	err := d.db.QueryRow(ctx, query, DedupeKey(bookingID, templateKey)).Scan(
		&dlv.ID, &dlv.Channel, &dlv.Status, &dlv.Destination, &dlv.TemplateKey,
		&dlv.BookingID, &dlv.UserID, &dlv.DedupeKey, &dlv.ProviderMessageID,
		&dlv.Attempts, &dlv.SentAt, &dlv.LastError, &dlv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery lookup failed: %w", err)
	}
	return &dlv, nil
}

// indexDelivery mirrors the delivery outcome into the audit index.
func (d *DeliveryLog) indexDelivery(ctx context.Context, bookingID, templateKey, status, messageID, errMsg string) {
	if d.es == nil {
		return
	}

	doc := map[string]interface{}{
		"bookingId":   bookingID,
		"templateKey": templateKey,
		"channel":     "email",
		"status":      status,
		"messageId":   messageID,
		"error":       errMsg,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return
	}

	docID := DedupeKey(bookingID, templateKey)
	if err := d.es.Index(ctx, d.index, docID, bytes.NewReader(body)); err != nil {
		d.logger.Warn("Failed to index delivery audit document", map[string]interface{}{
			"bookingId":   bookingID,
			"templateKey": templateKey,
			"error":       err.Error(),
		})
	}
}
