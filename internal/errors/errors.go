package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types shared by the backend modules and the terminal saga.
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")
	ErrHTTPClient       = new(ErrCodeHTTPClient, "http client error")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// Ledger
	ErrResourceNotFound    = new(ErrCodeResourceNotFound, "redeemable resource not found")
	ErrInsufficientBalance = new(ErrCodeInsufficientBalance, "insufficient balance")
	ErrAlreadyProcessed    = new(ErrCodeAlreadyProcessed, "idempotency key already processed")
	ErrNothingToRollback   = new(ErrCodeNothingToRollback, "no deduction recorded for idempotency key")
	ErrLedgerUnavailable   = new(ErrCodeLedgerUnavailable, "ledger unavailable")

	// Redemption and finalization
	ErrDuplicateReward              = new(ErrCodeDuplicateReward, "reward already applied")
	ErrDiscountExceedsOrderTotal    = new(ErrCodeDiscountExceedsTotal, "discount exceeds order total")
	ErrManualReconciliationRequired = new(ErrCodeManualReconciliation, "manual reconciliation required")
	ErrConnectivityLost             = new(ErrCodeConnectivityLost, "connectivity lost")
	ErrRedemptionInFlight           = new(ErrCodeRedemptionInFlight, "redemption already in flight")
	ErrReservedPaymentLine          = new(ErrCodeReservedPaymentLine, "reserved payment line")
	ErrCouponUsed                   = new(ErrCodeCouponUsed, "coupon already used")
	ErrCouponValidationUnavailable  = new(ErrCodeCouponUnavailable, "coupon validation unavailable")
	ErrOrderClosed                  = new(ErrCodeOrderClosed, "order is closed")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrHTTPClient:                   http.StatusInternalServerError,
		ErrDatabase:                     http.StatusInternalServerError,
		ErrNotFound:                     http.StatusNotFound,
		ErrAlreadyExists:                http.StatusConflict,
		ErrValidation:                   http.StatusBadRequest,
		ErrInvalidOperation:             http.StatusBadRequest,
		ErrPermissionDenied:             http.StatusForbidden,
		ErrSystem:                       http.StatusInternalServerError,
		ErrResourceNotFound:             http.StatusNotFound,
		ErrInsufficientBalance:          http.StatusUnprocessableEntity,
		ErrAlreadyProcessed:             http.StatusConflict,
		ErrNothingToRollback:            http.StatusConflict,
		ErrLedgerUnavailable:            http.StatusServiceUnavailable,
		ErrDuplicateReward:              http.StatusConflict,
		ErrDiscountExceedsOrderTotal:    http.StatusUnprocessableEntity,
		ErrManualReconciliationRequired: http.StatusConflict,
		ErrConnectivityLost:             http.StatusServiceUnavailable,
		ErrRedemptionInFlight:           http.StatusConflict,
		ErrReservedPaymentLine:          http.StatusConflict,
		ErrCouponUsed:                   http.StatusUnprocessableEntity,
		ErrCouponValidationUnavailable:  http.StatusServiceUnavailable,
		ErrOrderClosed:                  http.StatusConflict,
	}

	// codeMap resolves a wire error kind back to its sentinel.
	codeMap = map[string]*InternalError{}
)

const (
	ErrCodeHTTPClient       = "http_client_error"
	ErrCodeSystemError      = "system_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeDatabase         = "database_error"

	ErrCodeResourceNotFound     = "resource_not_found"
	ErrCodeInsufficientBalance  = "insufficient_balance"
	ErrCodeAlreadyProcessed     = "already_processed"
	ErrCodeNothingToRollback    = "nothing_to_rollback"
	ErrCodeLedgerUnavailable    = "ledger_unavailable"
	ErrCodeDuplicateReward      = "duplicate_reward"
	ErrCodeDiscountExceedsTotal = "discount_exceeds_order_total"
	ErrCodeManualReconciliation = "manual_reconciliation_required"
	ErrCodeConnectivityLost     = "connectivity_lost"
	ErrCodeRedemptionInFlight   = "redemption_in_flight"
	ErrCodeReservedPaymentLine  = "reserved_payment_line"
	ErrCodeCouponUsed           = "coupon_used"
	ErrCodeCouponUnavailable    = "coupon_validation_unavailable"
	ErrCodeOrderClosed          = "order_closed"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	e := &InternalError{
		Code:    code,
		Message: message,
	}
	codeMap[code] = e
	return e
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// FromCode returns the sentinel registered for a wire error kind, or nil.
func FromCode(code string) *InternalError {
	return codeMap[code]
}

// Code returns the machine-readable kind of the most specific sentinel err is
// marked with. Unmarked errors report system_error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, ref := range precedence {
		if errors.Is(err, ref) {
			return ref.Code
		}
	}
	return ErrCodeSystemError
}

// precedence orders sentinels from most to least specific so that an error
// marked with both a domain kind and a generic kind reports the domain kind.
var precedence = []*InternalError{
	ErrManualReconciliationRequired,
	ErrConnectivityLost,
	ErrLedgerUnavailable,
	ErrInsufficientBalance,
	ErrAlreadyProcessed,
	ErrNothingToRollback,
	ErrResourceNotFound,
	ErrDuplicateReward,
	ErrDiscountExceedsOrderTotal,
	ErrRedemptionInFlight,
	ErrReservedPaymentLine,
	ErrCouponUsed,
	ErrCouponValidationUnavailable,
	ErrOrderClosed,
	ErrPermissionDenied,
	ErrNotFound,
	ErrAlreadyExists,
	ErrValidation,
	ErrInvalidOperation,
	ErrHTTPClient,
	ErrDatabase,
	ErrSystem,
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrResourceNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

func HTTPStatusFromErr(err error) int {
	for _, ref := range precedence {
		if errors.Is(err, ref) {
			if status, ok := statusCodeMap[ref]; ok {
				return status
			}
		}
	}
	return http.StatusInternalServerError
}
