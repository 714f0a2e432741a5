package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-engine/internal/models"
)

// InsufficientFundsError reports that a hold or debit asked for more
// than the account's available balance.
type InsufficientFundsError struct {
	PayerID        uuid.UUID
	RequestedCents int64
	AvailableCents int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet funds for payer %s: requested %d, available %d",
		e.PayerID, e.RequestedCents, e.AvailableCents)
}

// Service is the wallet ledger. Every mutation locks the payer's
// account row, appends a WalletOperation and updates the balance in the
// same transaction. Operations are deduplicated on (kind, payment ref),
// so replaying a settlement or refund never double-moves money.
type Service struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.WithField("component", "wallet"),
	}
}

// GetOrCreateAccount returns the payer's account, creating an empty one
// on first contact.
func (s *Service) GetOrCreateAccount(ctx context.Context, payerID uuid.UUID) (*models.WalletAccount, error) {
	account := models.WalletAccount{PayerID: payerID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet account: %w", err)
	}

	// Re-read so a conflicting concurrent insert still yields the row.
	var out models.WalletAccount
	if err := s.db.WithContext(ctx).Where("payer_id = ?", payerID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load wallet account: %w", err)
	}
	return &out, nil
}

// Balance returns the payer's account without creating one. A payer
// with no account has a zero balance.
func (s *Service) Balance(ctx context.Context, payerID uuid.UUID) (*models.WalletAccount, error) {
	var account models.WalletAccount
	err := s.db.WithContext(ctx).Where("payer_id = ?", payerID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.WalletAccount{PayerID: payerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet account: %w", err)
	}
	return &account, nil
}

// Available returns the payer's spendable balance.
func (s *Service) Available(ctx context.Context, payerID uuid.UUID) (int64, error) {
	account, err := s.Balance(ctx, payerID)
	if err != nil {
		return 0, err
	}
	return account.AvailableCents(), nil
}

// Hold reserves amountCents of available balance for paymentRef. The
// reservation is reversible with ReleaseHold and consumed by Debit.
func (s *Service) Hold(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error {
	return s.mutate(ctx, payerID, models.WalletOpHold, amountCents, paymentRef, func(account *models.WalletAccount) error {
		if account.AvailableCents() < amountCents {
			return &InsufficientFundsError{
				PayerID:        payerID,
				RequestedCents: amountCents,
				AvailableCents: account.AvailableCents(),
			}
		}
		account.HeldCents += amountCents
		return nil
	})
}

// ReleaseHold reverses a hold placed for paymentRef.
func (s *Service) ReleaseHold(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error {
	return s.mutate(ctx, payerID, models.WalletOpRelease, amountCents, paymentRef, func(account *models.WalletAccount) error {
		account.HeldCents -= amountCents
		if account.HeldCents < 0 {
			account.HeldCents = 0
		}
		return nil
	})
}

// Debit consumes a hold: the held amount leaves both the hold and the
// balance.
func (s *Service) Debit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error {
	return s.mutate(ctx, payerID, models.WalletOpDebit, amountCents, paymentRef, func(account *models.WalletAccount) error {
		if account.BalanceCents < amountCents {
			return &InsufficientFundsError{
				PayerID:        payerID,
				RequestedCents: amountCents,
				AvailableCents: account.BalanceCents,
			}
		}
		account.BalanceCents -= amountCents
		account.HeldCents -= amountCents
		if account.HeldCents < 0 {
			account.HeldCents = 0
		}
		return nil
	})
}

// Credit adds amountCents to the payer's balance.
func (s *Service) Credit(ctx context.Context, payerID uuid.UUID, amountCents int64, paymentRef string) error {
	if _, err := s.GetOrCreateAccount(ctx, payerID); err != nil {
		return err
	}
	return s.mutate(ctx, payerID, models.WalletOpCredit, amountCents, paymentRef, func(account *models.WalletAccount) error {
		account.BalanceCents += amountCents
		return nil
	})
}

// mutate runs one ledger mutation under a row lock on the account. When
// an operation with the same kind and payment ref already exists the
// mutation is a no-op.
func (s *Service) mutate(ctx context.Context, payerID uuid.UUID, kind models.WalletOperationKind, amountCents int64, paymentRef string, apply func(*models.WalletAccount) error) error {
	if amountCents <= 0 {
		return fmt.Errorf("wallet %s amount must be positive, got %d", kind, amountCents)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.WalletAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payer_id = ?", payerID).
			First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if kind == models.WalletOpHold || kind == models.WalletOpDebit {
				return &InsufficientFundsError{PayerID: payerID, RequestedCents: amountCents}
			}
			return fmt.Errorf("wallet account not found for payer %s", payerID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock wallet account: %w", err)
		}

		if paymentRef != "" {
			var count int64
			if err := tx.Model(&models.WalletOperation{}).
				Where("account_id = ? AND kind = ? AND payment_ref = ?", account.ID, kind, paymentRef).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check wallet operation: %w", err)
			}
			if count > 0 {
				s.logger.WithFields(logrus.Fields{
					"payer_id":    payerID,
					"kind":        kind,
					"payment_ref": paymentRef,
				}).Info("wallet operation already applied, skipping")
				return nil
			}
		}

		if err := apply(&account); err != nil {
			return err
		}

		if err := tx.Save(&account).Error; err != nil {
			return fmt.Errorf("failed to update wallet account: %w", err)
		}

		op := models.WalletOperation{
			AccountID:   account.ID,
			Kind:        kind,
			AmountCents: amountCents,
			PaymentRef:  paymentRef,
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("failed to record wallet operation: %w", err)
		}
		return nil
	})
}
