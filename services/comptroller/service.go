// Package comptroller hosts the long-running risk engine service: it owns the
// ledger, serialises engine operations, commits or discards each one and
// publishes the resulting events.
package comptroller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablerisk/core/events"
	"stablerisk/core/state"
	"stablerisk/core/types"
	nativecommon "stablerisk/native/common"
	risk "stablerisk/native/comptroller"
	"stablerisk/native/oracle"
	"stablerisk/native/stablecoin"
	"stablerisk/native/vtoken"
	"stablerisk/observability"
	"stablerisk/observability/metrics"
	telemetry "stablerisk/observability/otel"
	"stablerisk/services/comptroller/indexer"
	"stablerisk/storage"
)

const (
	moduleName              = "comptroller"
	defaultStablecoinSymbol = "VAI"
)

var (
	heightKey = []byte("service:block-height")
	pauseKey  = []byte("service:module-paused")
)

var (
	ErrUnknownMarket = errors.New("comptroller service: unknown market")
	ErrInvalidBlocks = errors.New("comptroller service: block advance must be positive")
	// ErrInvalidUnderlying rejects listings without an underlying symbol.
	ErrInvalidUnderlying = errors.New("comptroller service: underlying symbol required")
)

// Config wires the service identity and collaborators.
type Config struct {
	// EngineAddress is the identity the engine presents when seizing and burning.
	EngineAddress      common.Address
	StablecoinSymbol   string
	OracleMaxAgeBlocks uint64
}

// EventStore persists and serves committed events.
type EventStore interface {
	Record(ctx context.Context, height uint64, evts []*types.Event) error
	Query(ctx context.Context, filter indexer.Filter) ([]indexer.Event, error)
}

// Service serialises every engine call behind one mutex. Mutations run
// against the journaled ledger and are committed to storage only when the
// engine reports success.
type Service struct {
	mu sync.Mutex

	cfg      Config
	manager  *state.Manager
	engine   *risk.Engine
	markets  *vtoken.Registry
	oracle   *oracle.SimplePriceOracle
	stable   *stablecoin.Token
	recorder *events.Recorder
	pauses   *nativecommon.PauseSet
	store    EventStore
	logger   *slog.Logger
	metrics  *metrics.ComptrollerMetrics
	tracer   trace.Tracer
	height   uint64

	// marketsDirty is set when an operation attached market tokens that a
	// failure must detach again.
	marketsDirty bool
}

// New opens the service over db. The stablecoin token is registered on first
// start and market tokens are rebuilt from the listed markets.
func New(db storage.Database, cfg Config, store EventStore, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("comptroller service: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.StablecoinSymbol = strings.ToUpper(strings.TrimSpace(cfg.StablecoinSymbol))
	if cfg.StablecoinSymbol == "" {
		cfg.StablecoinSymbol = defaultStablecoinSymbol
	}

	manager := state.NewManager(state.NewLedger(db))
	recorder := &events.Recorder{}
	s := &Service{
		cfg:      cfg,
		manager:  manager,
		engine:   risk.NewEngine(cfg.EngineAddress),
		markets:  vtoken.NewRegistry(),
		oracle:   oracle.NewSimplePriceOracle(manager, cfg.OracleMaxAgeBlocks),
		stable:   stablecoin.New(cfg.StablecoinSymbol, manager),
		recorder: recorder,
		pauses:   nativecommon.NewPauseSet(),
		store:    store,
		logger:   logger.With(slog.String("component", moduleName)),
		metrics:  metrics.Comptroller(),
		tracer:   telemetry.Tracer(),
	}
	s.stable.SetEmitter(recorder)
	s.engine.SetState(state.NewComptrollerState(manager))
	s.engine.SetMarkets(s.markets)
	s.engine.SetOracle(s.oracle)
	s.engine.SetStablecoin(s.stable)
	s.engine.SetPauses(s.pauses)
	s.engine.SetEmitter(recorder)

	if _, err := manager.KVGet(heightKey, &s.height); err != nil {
		return nil, fmt.Errorf("load block height: %w", err)
	}
	s.syncHeight()
	if err := s.loadPause(); err != nil {
		return nil, err
	}

	if !manager.TokenExists(cfg.StablecoinSymbol) {
		if err := manager.RegisterToken(cfg.StablecoinSymbol, cfg.StablecoinSymbol+" Stablecoin", 18, cfg.EngineAddress); err != nil {
			return nil, err
		}
		if err := manager.Ledger().Commit(); err != nil {
			return nil, fmt.Errorf("commit token registration: %w", err)
		}
	}
	if err := s.reloadMarkets(); err != nil {
		return nil, err
	}
	return s, nil
}

// reloadMarkets rebuilds the market token registry from the listed markets.
func (s *Service) reloadMarkets() error {
	listed, err := s.engine.Markets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	s.markets = vtoken.NewRegistry()
	s.engine.SetMarkets(s.markets)
	for _, market := range listed {
		s.attachMarket(market.Address, market.Underlying)
	}
	s.marketsDirty = false
	return nil
}

// Engine exposes the underlying engine for read-only inspection in tests.
func (s *Service) Engine() *risk.Engine { return s.engine }

// Height returns the block height operations accrue against.
func (s *Service) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// MarketSymbol derives the ledger symbol of a market token from its underlying.
func MarketSymbol(underlying string) string {
	return "V" + strings.ToUpper(strings.TrimSpace(underlying))
}

func (s *Service) attachMarket(addr common.Address, underlying string) *vtoken.Market {
	market := vtoken.NewMarket(addr, MarketSymbol(underlying), strings.ToUpper(strings.TrimSpace(underlying)), s.cfg.EngineAddress, s.manager)
	market.SetEmitter(s.recorder)
	s.markets.Add(market)
	s.marketsDirty = true
	return market
}

func (s *Service) syncHeight() {
	s.engine.SetBlockHeight(s.height)
	s.oracle.SetBlockHeight(s.height)
	s.metrics.SetBlockHeight(s.height)
}

// run executes fn as one atomic operation. Any error discards every ledger
// write and buffered event; success commits the ledger in one batch and
// publishes the events.
func (s *Service) run(ctx context.Context, op string, fn func() error) error {
	ctx, span := s.tracer.Start(ctx, "comptroller."+op)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	span.SetAttributes(attribute.Int64("block.height", int64(s.height)))
	s.marketsDirty = false
	start := time.Now()
	ops := observability.Operations()

	if err := fn(); err != nil {
		s.rollback()
		reason := ErrorReason(err)
		ops.ObserveOperation(op, observability.OutcomeRejected, time.Since(start))
		s.metrics.ObserveRejection(op, reason)
		if strings.HasPrefix(reason, "quota_") {
			ops.RecordThrottle("mint_quota", reason)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.logger.Info("operation rejected",
			slog.String("operation", op),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return err
	}
	if err := s.manager.Ledger().Commit(); err != nil {
		s.rollback()
		ops.ObserveOperation(op, observability.OutcomeFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		s.logger.Error("ledger commit failed", slog.String("operation", op), slog.String("error", err.Error()))
		return fmt.Errorf("commit ledger: %w", err)
	}
	s.marketsDirty = false
	ops.ObserveOperation(op, observability.OutcomeCommitted, time.Since(start))
	s.metrics.ObserveCommit()
	s.publish(ctx)
	return nil
}

func (s *Service) rollback() {
	s.manager.Ledger().Discard()
	s.recorder.Drain()
	var committed uint64
	if _, err := s.manager.KVGet(heightKey, &committed); err == nil && committed != s.height {
		s.height = committed
		s.syncHeight()
	}
	if err := s.loadPause(); err != nil {
		s.logger.Error("reload module pause failed", slog.String("error", err.Error()))
	}
	if s.marketsDirty {
		if err := s.reloadMarkets(); err != nil {
			s.logger.Error("reload markets failed", slog.String("error", err.Error()))
		}
	}
}

// read runs a query under the service lock. Queries never write, but any
// stray ledger change is discarded.
func (s *Service) read(ctx context.Context, op string, fn func() error) error {
	_, span := s.tracer.Start(ctx, "comptroller."+op)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.manager.Ledger().Discard()
	if err := fn(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context) {
	drained := s.recorder.Drain()
	rendered := make([]*types.Event, 0, len(drained))
	eventMetrics := observability.Events()
	for _, evt := range drained {
		out := events.Render(evt)
		if out == nil {
			continue
		}
		eventMetrics.RecordEvent(out.Type)
		switch e := evt.(type) {
		case events.Transfer:
			eventMetrics.RecordTransfer(e.Asset)
		case events.LiquidationExecuted:
			kind := "borrow"
			if e.Stablecoin {
				kind = "stablecoin"
			}
			s.metrics.ObserveLiquidation(kind)
		}
		rendered = append(rendered, out)
	}
	if st, err := s.engine.StablecoinState(); err == nil {
		s.metrics.SetStablecoin(st.TotalMinted.ToBig(), st.TotalInterestRepaid.ToBig(), st.MintIndex.ToBig())
	}
	if s.store == nil || len(rendered) == 0 {
		return
	}
	// The ledger is authoritative; an index failure is logged, not rolled back.
	if err := s.store.Record(ctx, s.height, rendered); err != nil {
		s.logger.Error("index events failed", slog.Uint64("height", s.height), slog.String("error", err.Error()))
	}
}

func (s *Service) requireAdmin(caller common.Address) error {
	params, err := s.engine.RiskParams()
	if err != nil {
		return err
	}
	if params.Admin != caller {
		return risk.ErrUnauthorized
	}
	return nil
}

func (s *Service) market(addr common.Address) (*vtoken.Market, error) {
	market, ok := s.markets.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, addr.Hex())
	}
	return market, nil
}

// AdvanceBlocks moves the block height forward and accrues the stability fee.
func (s *Service) AdvanceBlocks(ctx context.Context, blocks uint64) error {
	return s.advanceBlocks(ctx, nil, blocks)
}

// AdvanceBlocksAs is AdvanceBlocks restricted to the risk admin.
func (s *Service) AdvanceBlocksAs(ctx context.Context, caller common.Address, blocks uint64) error {
	return s.advanceBlocks(ctx, &caller, blocks)
}

func (s *Service) advanceBlocks(ctx context.Context, caller *common.Address, blocks uint64) error {
	if blocks == 0 {
		return ErrInvalidBlocks
	}
	return s.run(ctx, "advance_blocks", func() error {
		if caller != nil {
			if err := s.requireAdmin(*caller); err != nil {
				return err
			}
		}
		s.height += blocks
		s.syncHeight()
		if err := s.manager.KVPut(heightKey, s.height); err != nil {
			return err
		}
		ok, err := s.engine.Initialized()
		if err != nil {
			return fmt.Errorf("read risk params: %w", err)
		}
		// A paused module keeps its index; accrual catches up on resume.
		if ok && !s.ModulePaused() {
			return s.engine.AccrueStablecoinInterest()
		}
		return nil
	})
}

// SetModulePaused pauses or resumes every engine mutation. The flag is stored
// with the ledger and survives a restart.
func (s *Service) SetModulePaused(ctx context.Context, caller common.Address, paused bool) error {
	return s.run(ctx, "set_module_paused", func() error {
		if err := s.requireAdmin(caller); err != nil {
			return err
		}
		if err := s.manager.KVPut(pauseKey, paused); err != nil {
			return err
		}
		s.pauses.Set(moduleName, paused)
		s.logger.Warn("module pause updated", slog.Bool("paused", paused))
		return nil
	})
}

// loadPause restores the module pause from the committed ledger.
func (s *Service) loadPause() error {
	var paused bool
	if _, err := s.manager.KVGet(pauseKey, &paused); err != nil {
		return fmt.Errorf("load module pause: %w", err)
	}
	s.pauses.Set(moduleName, paused)
	return nil
}

// ModulePaused reports whether engine mutations are currently rejected.
func (s *Service) ModulePaused() bool { return s.pauses.IsPaused(moduleName) }

func positive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return risk.ErrInvalidAmount
	}
	return nil
}
