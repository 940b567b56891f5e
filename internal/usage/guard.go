package usage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrServiceUnavailable marks an infrastructure failure in the limit service,
// as opposed to a legitimate quota denial. Callers may retry; a denial cannot
// be retried until the quota window resets.
var ErrServiceUnavailable = errors.New("usage service unavailable")

// Decision is the outcome of a pre-flight limit check.
type Decision struct {
	Allowed bool
	Reason  string
}

// LimitService is the external quota subsystem consulted before any paid
// operation runs.
type LimitService interface {
	CheckLimit(ctx context.Context, userID string, estimatedTokens int) (Decision, error)
	RecordUsage(ctx context.Context, userID string, tokens int) error
}

// EstimateTokens approximates the token cost of a message as ceil(len/4).
// Exact tokenization is not required pre-flight; the heuristic only has to be
// deterministic and coarse.
func EstimateTokens(message string) int {
	return (len(message) + 3) / 4
}

// Guard gates paid operations on per-user quota state. It has no side
// effects: checks are pure queries against the limit service.
type Guard struct {
	svc    LimitService
	logger *zap.Logger
}

func NewGuard(svc LimitService, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{svc: svc, logger: logger}
}

// Check estimates the token cost of the incoming message and asks the limit
// service whether the user may proceed. If the service is unreachable the
// guard fails closed and reports ErrServiceUnavailable.
func (g *Guard) Check(ctx context.Context, userID, message string) (Decision, error) {
	estimated := EstimateTokens(message)
	dec, err := g.svc.CheckLimit(ctx, userID, estimated)
	if err != nil {
		g.logger.Warn("usage check failed, denying request",
			zap.String("user_id", userID),
			zap.Error(err))
		return Decision{Allowed: false, Reason: "usage service unavailable"},
			fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return dec, nil
}
