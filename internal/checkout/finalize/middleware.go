package finalize

import (
	"context"
	"time"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
)

// WithLogging logs every attempt and its outcome.
func WithLogging(log *logger.Logger) Middleware {
	return func(next Finalizer) Finalizer {
		return FinalizerFunc(func(ctx context.Context, req Request) (*Result, error) {
			l := log
			if req.Order != nil {
				l = log.With("order_id", req.Order.ID(), "reference", req.Order.Reference())
			}
			start := time.Now()
			res, err := next.Finalize(ctx, req)
			if err != nil {
				fields := []interface{}{
					"kind", ierr.Code(err),
					"retryable", Retryable(err),
					"duration", time.Since(start),
					"error", err,
				}
				switch {
				case ierr.IsValidation(err) || ierr.IsPermissionDenied(err):
					// the operator can fix these at the till
					l.Infow("finalization refused", fields...)
				case ierr.IsHTTPClient(err):
					l.Errorw("backend failed the finalization", fields...)
				default:
					l.Warnw("finalization aborted", fields...)
				}
				return nil, err
			}
			l.Infow("order finalized",
				"backend_id", res.BackendID,
				"order_number", res.OrderNumber,
				"replayed", res.Replayed,
				"warnings", len(res.Warnings),
				"duration", time.Since(start))
			return res, nil
		})
	}
}

// WithMetrics counts attempts by outcome.
func WithMetrics(m *metrics.Registry) Middleware {
	return func(next Finalizer) Finalizer {
		return FinalizerFunc(func(ctx context.Context, req Request) (*Result, error) {
			res, err := next.Finalize(ctx, req)
			if m != nil {
				m.Finalizations.WithLabelValues(outcome(err)).Inc()
			}
			return res, err
		})
	}
}

// Retryable reports whether an aborted finalization left the order intact
// and may simply be tried again.
func Retryable(err error) bool {
	return ierr.Is(err, ierr.ErrConnectivityLost) ||
		ierr.Is(err, ierr.ErrLedgerUnavailable) ||
		ierr.Is(err, ierr.ErrCouponValidationUnavailable)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSynced
	case Retryable(err):
		return metrics.OutcomeRetryable
	default:
		return metrics.OutcomeAborted
	}
}
