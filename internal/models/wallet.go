package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletOperationKind classifies a wallet ledger operation
type WalletOperationKind string

const (
	WalletOpHold    WalletOperationKind = "hold"
	WalletOpRelease WalletOperationKind = "release"
	WalletOpDebit   WalletOperationKind = "debit"
	WalletOpCredit  WalletOperationKind = "credit"
)

// WalletAccount holds one payer's balance. HeldCents is the sum of
// outstanding reversible holds; available balance is BalanceCents minus
// HeldCents.
type WalletAccount struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PayerID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_wallet_accounts_payer" json:"payerId"`
	BalanceCents int64     `gorm:"default:0" json:"balanceCents"`
	HeldCents    int64     `gorm:"default:0" json:"heldCents"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for WalletAccount
func (WalletAccount) TableName() string {
	return "wallet_accounts"
}

// AvailableCents returns the spendable balance.
func (a *WalletAccount) AvailableCents() int64 {
	return a.BalanceCents - a.HeldCents
}

// WalletOperation is the audit row for one wallet mutation. Tags carry
// the Payment correlation id so repeated operations for the same payment
// can be recognized and skipped.
type WalletOperation struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	AccountID   uuid.UUID           `gorm:"type:uuid;not null;index:idx_wallet_operations_account" json:"accountId"`
	Kind        WalletOperationKind `gorm:"type:varchar(20);not null;index:idx_wallet_operations_kind" json:"kind"`
	AmountCents int64               `gorm:"not null" json:"amountCents"`
	PaymentRef  string              `gorm:"type:varchar(255);index:idx_wallet_operations_payment" json:"paymentRef,omitempty"`
	Tags        JSONB               `gorm:"type:jsonb" json:"tags,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for WalletOperation
func (WalletOperation) TableName() string {
	return "wallet_operations"
}
