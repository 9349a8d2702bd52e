package application

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"community-energy/internal/notify"
	"community-energy/internal/observability/metrics"
)

// ZeroSumChecker reports whether the published ledger balances.
// QueryService implements it.
type ZeroSumChecker interface {
	VerifyZeroSum() (bool, *big.Int)
	Period() uint64
}

// AuditorOption configures the auditor.
type AuditorOption func(*ZeroSumAuditor)

// WithNotifier sends an alert when the ledger stops balancing.
func WithNotifier(notifier notify.Notifier, communityID string) AuditorOption {
	return func(a *ZeroSumAuditor) {
		a.notifier = notifier
		a.communityID = communityID
	}
}

// ZeroSumAuditor periodically checks that the published ledger balances.
type ZeroSumAuditor struct {
	checker     ZeroSumChecker
	logger      *zap.Logger
	cron        *cron.Cron
	notifier    notify.Notifier
	communityID string
	violated    atomic.Bool
}

// NewZeroSumAuditor schedules audits with a cron spec such as "@every 5m".
func NewZeroSumAuditor(checker ZeroSumChecker, schedule string, logger *zap.Logger, opts ...AuditorOption) (*ZeroSumAuditor, error) {
	if checker == nil {
		return nil, errors.New("zero-sum auditor: nil checker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &ZeroSumAuditor{checker: checker, logger: logger, cron: cron.New()}
	for _, opt := range opts {
		opt(a)
	}
	if _, err := a.cron.AddFunc(schedule, func() { a.Check() }); err != nil {
		return nil, err
	}
	return a, nil
}

// Check audits the current snapshot once. The notifier fires once per
// transition from balanced to unbalanced.
func (a *ZeroSumAuditor) Check() bool {
	ok, net := a.checker.VerifyZeroSum()
	period := a.checker.Period()
	metrics.ObserveZeroSum(ok)
	if ok {
		a.violated.Store(false)
		a.logger.Debug("ledger balanced", zap.Uint64("period", period))
		return true
	}
	a.logger.Error("ledger does not sum to zero",
		zap.Uint64("period", period),
		zap.Stringer("net", net),
	)
	if !a.violated.Swap(true) && a.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.notifier.Notify(ctx, notify.AlertMessage{
			CommunityID: a.communityID,
			Period:      period,
			Summary:     "ledger does not sum to zero",
			Net:         net.String(),
		})
		if err != nil {
			a.logger.Warn("zero-sum alert failed", zap.Error(err))
		}
	}
	return false
}

// Start runs the schedule in the background.
func (a *ZeroSumAuditor) Start() {
	a.Check()
	a.cron.Start()
}

// Stop halts the schedule; the returned context is done when a running
// audit has finished.
func (a *ZeroSumAuditor) Stop() context.Context {
	return a.cron.Stop()
}
