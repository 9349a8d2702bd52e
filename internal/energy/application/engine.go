package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"community-energy/internal/auth"
	energy "community-energy/internal/energy/domain"
	"community-energy/internal/observability/metrics"
)

// Engine is the single writer of a community ledger. Mutations are
// serialised by a mutex and applied to a clone of the published ledger;
// the clone is persisted and then published atomically, so readers never
// observe a partial change and a failed operation leaves no trace.
//
// Events are written to the outbox after the state commit, in a separate
// write. A crash between the two keeps the new state but loses its events,
// so delivery is at most once across a crash; once the outbox insert
// succeeds, the dispatcher retries delivery until its attempt limit.
type Engine struct {
	mu      sync.Mutex
	current atomic.Pointer[energy.Ledger]

	store       StateStore
	publisher   EventPublisher
	communityID string
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine loads the stored ledger, or starts an empty one.
func NewEngine(ctx context.Context, store StateStore, publisher EventPublisher, communityID string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("energy engine: nil store")
	}
	if communityID == "" {
		return nil, errors.New("energy engine: empty community id")
	}
	e := &Engine{
		store:       store,
		publisher:   publisher,
		communityID: communityID,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("energy engine: load state: %w", err)
	}
	ledger := energy.NewLedger()
	if state != nil {
		if ledger, err = energy.RestoreLedger(*state); err != nil {
			return nil, fmt.Errorf("energy engine: restore state: %w", err)
		}
	}
	e.current.Store(ledger)
	e.publishGauges(ledger)
	e.logger.Info("ledger loaded",
		zap.String("community_id", communityID),
		zap.Uint64("period", ledger.Period()),
		zap.Int("members", len(ledger.Members())),
	)
	return e, nil
}

// CommunityID returns the community this engine settles.
func (e *Engine) CommunityID() string { return e.communityID }

// snapshot returns the published ledger. It must not be mutated.
func (e *Engine) snapshot() *energy.Ledger { return e.current.Load() }

// AddMember registers a member with its devices and share in basis points.
func (e *Engine) AddMember(ctx context.Context, id energy.MemberID, devices []energy.DeviceID, shareBps int) error {
	return e.mutate(ctx, "add_member", func(l *energy.Ledger) ([]any, error) {
		if err := l.AddMember(id, devices, shareBps); err != nil {
			return nil, err
		}
		names := make([]string, len(devices))
		for i, device := range devices {
			names[i] = string(device)
		}
		return []any{MemberAdded{
			CommunityID:   e.communityID,
			MemberID:      string(id),
			Devices:       names,
			ShareBps:      shareBps,
			TotalShareBps: l.TotalShare(),
			OccurredAt:    e.now(),
		}}, nil
	})
}

// RemoveMember frees a member's devices and share.
func (e *Engine) RemoveMember(ctx context.Context, id energy.MemberID) error {
	return e.mutate(ctx, "remove_member", func(l *energy.Ledger) ([]any, error) {
		if err := l.RemoveMember(id); err != nil {
			return nil, err
		}
		return []any{MemberRemoved{
			CommunityID:   e.communityID,
			MemberID:      string(id),
			TotalShareBps: l.TotalShare(),
			OccurredAt:    e.now(),
		}}, nil
	})
}

// ConfigureBattery sets the battery discharge price and capacity.
func (e *Engine) ConfigureBattery(ctx context.Context, price, maxCapacity int64) error {
	return e.mutate(ctx, "configure_battery", func(l *energy.Ledger) ([]any, error) {
		if err := l.ConfigureBattery(price, maxCapacity); err != nil {
			return nil, err
		}
		battery := l.Battery()
		return []any{BatteryConfigured{
			CommunityID: e.communityID,
			Price:       battery.Price,
			MaxCapacity: battery.Capacity,
			Level:       battery.Level,
			OccurredAt:  e.now(),
		}}, nil
	})
}

// SetExportDevice reserves the grid export meter.
func (e *Engine) SetExportDevice(ctx context.Context, device energy.DeviceID) error {
	return e.mutate(ctx, "set_export_device", func(l *energy.Ledger) ([]any, error) {
		if err := l.SetExportDevice(device); err != nil {
			return nil, err
		}
		return []any{e.reservedEvent(energy.OwnerExport, device)}, nil
	})
}

// SetCommunityDevice reserves the community load meter.
func (e *Engine) SetCommunityDevice(ctx context.Context, device energy.DeviceID) error {
	return e.mutate(ctx, "set_community_device", func(l *energy.Ledger) ([]any, error) {
		if err := l.SetCommunityDevice(device); err != nil {
			return nil, err
		}
		return []any{e.reservedEvent(energy.OwnerCommunity, device)}, nil
	})
}

func (e *Engine) reservedEvent(kind energy.OwnerKind, device energy.DeviceID) ReservedDeviceSet {
	return ReservedDeviceSet{
		CommunityID: e.communityID,
		Role:        kind.String(),
		DeviceID:    string(device),
		OccurredAt:  e.now(),
	}
}

// SetImportPrice sets the per-unit price of imported energy.
func (e *Engine) SetImportPrice(ctx context.Context, price int64) error {
	return e.mutate(ctx, "set_import_price", func(l *energy.Ledger) ([]any, error) {
		if err := l.SetImportPrice(price); err != nil {
			return nil, err
		}
		return []any{ImportPriceSet{CommunityID: e.communityID, Price: price, OccurredAt: e.now()}}, nil
	})
}

// Distribute opens a new period from the given sources. A nil batteryTarget
// leaves the battery untouched.
func (e *Engine) Distribute(ctx context.Context, sources []energy.EnergySource, batteryTarget *int64) (energy.Distribution, error) {
	var report energy.Distribution
	err := e.mutate(ctx, "distribute", func(l *energy.Ledger) ([]any, error) {
		var err error
		if report, err = l.Distribute(sources, batteryTarget); err != nil {
			return nil, err
		}
		allocations := make(map[string]int64, len(report.Allocations))
		for id, qty := range report.Allocations {
			allocations[string(id)] = qty
		}
		return []any{EnergyDistributed{
			CommunityID:  e.communityID,
			Period:       report.Period,
			Distributed:  report.Distributed,
			Charged:      report.Charged,
			Discharged:   report.Discharged,
			BatteryLevel: report.BatteryLevel,
			Allocations:  allocations,
			OccurredAt:   e.now(),
		}}, nil
	})
	if err != nil {
		return energy.Distribution{}, err
	}
	metrics.AddDistributed(report.Distributed)
	e.logger.Info("energy distributed",
		zap.String("community_id", e.communityID),
		zap.Uint64("period", report.Period),
		zap.Int("members", len(report.Allocations)),
		zap.Int64("quantity", report.Distributed),
		zap.Int64("charged", report.Charged),
		zap.Int64("discharged", report.Discharged),
	)
	return report, nil
}

// Consume settles a batch of metered readings. Callers must deliver each
// reading at most once per period.
func (e *Engine) Consume(ctx context.Context, requests []energy.ConsumptionRequest) (energy.Settlement, error) {
	var result energy.Settlement
	err := e.mutate(ctx, "consume", func(l *energy.Ledger) ([]any, error) {
		var err error
		if result, err = l.Consume(requests); err != nil {
			return nil, err
		}
		return []any{EnergyConsumed{
			CommunityID:   e.communityID,
			Period:        result.Period,
			Consumed:      result.Consumed,
			Matched:       result.Matched,
			Imported:      result.Imported,
			Exported:      result.Exported,
			MeteredExport: result.MeteredExport,
			Transfers:     len(result.Transfers),
			OccurredAt:    e.now(),
		}}, nil
	})
	if err != nil {
		return energy.Settlement{}, err
	}
	metrics.AddSettled("own", result.Consumed)
	metrics.AddSettled("matched", result.Matched)
	metrics.AddSettled("imported", result.Imported)
	metrics.AddSettled("exported", result.Exported)
	e.logger.Info("energy consumed",
		zap.String("community_id", e.communityID),
		zap.Uint64("period", result.Period),
		zap.Int("requests", len(requests)),
		zap.Int64("quantity", result.Consumed+result.Matched+result.Imported),
		zap.Int64("exported", result.Exported),
		zap.Int64("imported", result.Imported),
	)
	if result.MeteredExport > 0 && result.MeteredExport != result.Exported {
		e.logger.Warn("metered export differs from settled export",
			zap.Uint64("period", result.Period),
			zap.Int64("metered", result.MeteredExport),
			zap.Int64("exported", result.Exported),
		)
	}
	return result, nil
}

type applyFunc func(l *energy.Ledger) ([]any, error)

func (e *Engine) mutate(ctx context.Context, operation string, apply applyFunc) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation(operation, result, time.Since(start))
	}()

	if err := auth.RequireRole(ctx, auth.RoleOperator); err != nil {
		result = metrics.ResultRejected
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.snapshot().Clone()
	events, err := apply(next)
	if err != nil {
		result = metrics.ResultRejected
		e.logger.Debug("operation rejected", zap.String("operation", operation), zap.Error(err))
		return err
	}
	if ok, net := next.VerifyZeroSum(); !ok {
		result = metrics.ResultError
		e.logger.Error("ledger imbalance", zap.String("operation", operation), zap.Stringer("net", net))
		return fmt.Errorf("%s: net %s: %w", operation, net, energy.ErrLedgerImbalance)
	}
	if err := e.store.Save(ctx, next.State()); err != nil {
		result = metrics.ResultError
		e.logger.Error("save ledger failed", zap.String("operation", operation), zap.Error(err))
		return fmt.Errorf("energy engine: save state: %w", err)
	}
	e.current.Store(next)
	e.publishGauges(next)

	if e.publisher == nil {
		return nil
	}
	for _, event := range events {
		if err := e.publisher.Publish(ctx, event); err != nil {
			metrics.IncEventPublishError()
			e.logger.Warn("publish event failed", zap.String("operation", operation), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) publishGauges(l *energy.Ledger) {
	metrics.SetLedger(metrics.LedgerGauges{
		Members:      len(l.Members()),
		TotalShare:   l.TotalShare(),
		Period:       l.Period(),
		Unconsumed:   l.TotalUnconsumed(),
		BatteryLevel: l.Battery().Level,
		Community:    l.CommunityBalance(),
		Export:       l.ExportBalance(),
		Import:       l.ImportBalance(),
	})
}
