package models

import "time"

// Account holds the guest allowance and personal credential of a user.
type Account struct {
	UserID              string    `db:"user_id"`
	EncryptedCredential *string   `db:"encrypted_credential"`
	ConsumedAmount      float64   `db:"consumed_amount"`
	LimitAmount         float64   `db:"limit_amount"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Balance is the ledger view of a principal.
type Balance struct {
	Consumed float64 `db:"consumed_amount" json:"consumed"`
	Limit    float64 `db:"limit_amount" json:"limit"`
}

// Remaining returns max(limit - consumed, 0).
func (b Balance) Remaining() float64 {
	if r := b.Limit - b.Consumed; r > 0 {
		return r
	}
	return 0
}
