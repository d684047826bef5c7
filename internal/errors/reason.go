package errors

import (
	"github.com/cockroachdb/errors"
)

// Action tells the operator what an aborted operation left behind.
type Action string

const (
	// ActionRetry means nothing happened and the operation can be tried again.
	ActionRetry Action = "retry"
	// ActionFollowUp means the systems disagree and someone has to reconcile them.
	ActionFollowUp Action = "follow_up"
)

var reasonNames = map[string]string{
	ErrCodeInsufficientBalance:  "InsufficientBalance",
	ErrCodeDuplicateReward:      "DuplicateReward",
	ErrCodeDiscountExceedsTotal: "DiscountExceedsOrderTotal",
	ErrCodeLedgerUnavailable:    "LedgerUnavailable",
	ErrCodeManualReconciliation: "ManualReconciliationRequired",
	ErrCodeConnectivityLost:     "ConnectivityLost",
	ErrCodeResourceNotFound:     "ResourceNotFound",
	ErrCodeAlreadyProcessed:     "AlreadyProcessed",
	ErrCodeNothingToRollback:    "NothingToRollback",
	ErrCodeRedemptionInFlight:   "RedemptionInFlight",
	ErrCodeReservedPaymentLine:  "ReservedPaymentLine",
	ErrCodeCouponUsed:           "CouponUsed",
	ErrCodeCouponUnavailable:    "CouponValidationUnavailable",
	ErrCodeOrderClosed:          "OrderClosed",
	ErrCodeValidation:           "InvalidRequest",
	ErrCodeInvalidOperation:     "InvalidRequest",
	ErrCodePermissionDenied:     "PermissionDenied",
	ErrCodeNotFound:             "NotFound",
	ErrCodeAlreadyExists:        "AlreadyExists",
}

// Failure is the operator-facing description of an error, also used as the
// JSON error body by every HTTP handler.
type Failure struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Action  Action `json:"action"`
}

// Describe classifies err into a named failure reason. The message prefers the
// hints attached with WithHint and falls back to the error text.
func Describe(err error) Failure {
	code := Code(err)
	msg := errors.FlattenHints(err)
	if msg == "" {
		msg = err.Error()
	}

	action := ActionRetry
	if code == ErrCodeManualReconciliation {
		action = ActionFollowUp
	}

	return Failure{
		Message: msg,
		Kind:    code,
		Reason:  ReasonFor(code),
		Action:  action,
	}
}

// ReasonFor returns the operator-facing reason name for a wire kind.
func ReasonFor(code string) string {
	if r, ok := reasonNames[code]; ok {
		return r
	}
	return "SystemError"
}
