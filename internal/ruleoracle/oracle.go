package ruleoracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NoCollection marks a coupon without eligibility rules.
const NoCollection int64 = 0

type EvaluateRequest struct {
	RequestID     string          `json:"request_id"`
	UserID        int64           `json:"user_id"`
	OrderAmount   decimal.Decimal `json:"order_amount"`
	AsOf          time.Time       `json:"as_of"`
	CollectionIDs []int64         `json:"collection_ids"`
}

type Verdict struct {
	CollectionID int64  `json:"collection_id"`
	Passed       bool   `json:"passed"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type EvaluateResponse struct {
	Verdicts []Verdict `json:"verdicts"`
}

// Oracle decides whether a user and order satisfy rule collections.
type Oracle interface {
	Evaluate(ctx context.Context, req EvaluateRequest) ([]Verdict, error)
}
