package model

import "time"

type ReceiptKind string

const (
	ReceiptPurchase      ReceiptKind = "purchase"
	ReceiptManulPurchase ReceiptKind = "manul_purchase"
	ReceiptQuizResult    ReceiptKind = "quiz_result"
)

func (k ReceiptKind) Valid() bool {
	switch k {
	case ReceiptPurchase, ReceiptManulPurchase, ReceiptQuizResult:
		return true
	}
	return false
}

// Receipt is the write-once record of a completed purchase or quiz settlement.
// TargetID is the item, manul or quiz the receipt refers to.
type Receipt struct {
	ID             string      `json:"id"`
	Kind           ReceiptKind `json:"kind"`
	UserID         string      `json:"user_id"`
	TargetID       string      `json:"target_id"`
	Cost           int64       `json:"cost"`
	Score          int         `json:"score"`
	MaxScore       int         `json:"max_score"`
	Reward         int64       `json:"reward"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
