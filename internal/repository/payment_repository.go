package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-engine/internal/models"
)

// ErrNotFound is returned when a payment or webhook event does not
// exist.
var ErrNotFound = errors.New("record not found")

// PaymentRepository is the persistence layer for payments and their
// webhook events.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.PublicID == uuid.Nil {
		payment.PublicID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByPublicID loads a payment by its external identifier.
func (r *PaymentRepository) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("public_id = ?", publicID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// GetByGatewayReference loads a payment by the provider-side charge
// reference, used to correlate inbound webhooks.
func (r *PaymentRepository) GetByGatewayReference(ctx context.Context, gateway, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_reference = ?", gateway, reference).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by gateway reference: %w", err)
	}
	return &payment, nil
}

// Update persists changes to a payment.
func (r *PaymentRepository) Update(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// ListByPayer returns the payer's payments, newest first.
func (r *PaymentRepository) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]models.Payment, int64, error) {
	var payments []models.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("payer_id = ?", payerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&payments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

// WithPaymentLock loads the payment under a FOR UPDATE row lock, runs
// fn on it and persists the mutated row when fn succeeds, all in one
// transaction. Callers must finish all network I/O before entering; the
// lock is only for the state transition itself.
func (r *PaymentRepository) WithPaymentLock(ctx context.Context, publicID uuid.UUID, fn func(payment *models.Payment) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("public_id = ?", publicID).
			First(&payment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if err := fn(&payment); err != nil {
			return err
		}
		if err := tx.Save(&payment).Error; err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		return nil
	})
}

// FindOrCreateWebhookEvent inserts the event if its (provider, provider
// event id) pair is new and returns the stored row either way. The
// second return value reports whether this call created the row; false
// means a duplicate delivery.
func (r *PaymentRepository) FindOrCreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to store webhook event: %w", result.Error)
	}

	created := result.RowsAffected > 0
	if created {
		return event, true, nil
	}

	var existing models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &existing, false, nil
}

// MarkWebhookProcessed records a successful processing attempt.
func (r *PaymentRepository) MarkWebhookProcessed(ctx context.Context, event *models.WebhookEvent) error {
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	event.ErrorMessage = ""
	event.Attempts++
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	return nil
}

// MarkWebhookFailed records a failed processing attempt. The event stays
// unprocessed so a provider redelivery can retry it.
func (r *PaymentRepository) MarkWebhookFailed(ctx context.Context, event *models.WebhookEvent, cause error) error {
	event.Processed = false
	event.ErrorMessage = cause.Error()
	event.Attempts++
	if err := r.db.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("failed to mark webhook failed: %w", err)
	}
	return nil
}

// ListUnprocessedWebhooks returns events whose processing failed, for
// inspection and manual replay.
func (r *PaymentRepository) ListUnprocessedWebhooks(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND attempts > 0", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhooks: %w", err)
	}
	return events, nil
}
