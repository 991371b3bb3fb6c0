// Package modulehost is the top-level orchestrator (spec §5, §6): it
// wires the metered executor (internal/wasmhost), a storage engine
// (internal/storage), and the subscription engine (internal/subscription)
// together into one thing a CLI or network transport can drive - load a
// module, call its reducers, and receive the incremental updates each
// call produces for every live subscription.
//
// Grounded on the teacher's internal/core.Engine: wiring one long-lived
// component around a *sql.DB, hot-reloading external files via fsnotify,
// and reporting failures with fmt.Errorf("...: %w", err) rather than a
// custom error type hierarchy.
package modulehost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vela-systems/reactorhost/internal/abi"
	"github.com/vela-systems/reactorhost/internal/compilecache"
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/energy"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/storage"
	"github.com/vela-systems/reactorhost/internal/subscription"
	"github.com/vela-systems/reactorhost/internal/wasmhost"
)

// Dispatcher receives the incremental update a subscriber should apply
// after a reducer call commits (spec §4.6, §4.7). A console or network
// transport implements this; the module host never talks to a client
// directly.
type Dispatcher interface {
	Dispatch(subscriber subscription.SubscriberID, update dbupdate.DatabaseUpdate)
}

type subscriberState struct {
	sub  *subscription.Subscription
	auth storage.AuthCtx
}

// Host orchestrates one loaded guest module against one storage engine:
// it owns the metered executor, re-evaluates every live subscription
// after a reducer call commits, and can hot-reload the module file when
// it changes on disk.
//
// One Host loads one module at a time, matching spec §5's per-database
// module lifecycle; running several modules concurrently means running
// several Hosts, each against its own storage engine.
type Host struct {
	log      *zap.Logger
	executor *wasmhost.Executor
	recorder *recordingMutator
	dispatch Dispatcher
	sched    *scheduler

	mu        sync.RWMutex
	instance  *wasmhost.Instance
	funcNames abi.FuncNames

	subsMu sync.Mutex
	subs   map[subscription.SubscriberID]*subscriberState

	watcher *fsnotify.Watcher
}

// New builds a Host against db/mut. dispatch and log may be nil; a nil
// dispatch means incremental updates are computed and then discarded
// (useful for reducer-only testing), and a nil log becomes a no-op
// logger.
func New(ctx context.Context, cache *compilecache.Cache, db storage.RelationalDB, mut storage.Mutator, dispatch Dispatcher, log *zap.Logger) (*Host, error) {
	if log == nil {
		log = zap.NewNop()
	}

	h := &Host{
		log:      log,
		dispatch: dispatch,
		subs:     make(map[subscription.SubscriberID]*subscriberState),
		recorder: newRecordingMutator(db, mut),
	}
	h.sched = newScheduler(h)

	executor, err := wasmhost.NewExecutor(ctx, cache, h.sched, newGuestLogger(log))
	if err != nil {
		return nil, fmt.Errorf("modulehost: new executor: %w", err)
	}
	h.executor = executor
	return h, nil
}

// Close tears down the active module, the executor, any pending scheduled
// calls, and the file watcher if one is running.
func (h *Host) Close(ctx context.Context) error {
	h.sched.stop()
	if h.watcher != nil {
		_ = h.watcher.Close()
	}

	h.mu.Lock()
	inst := h.instance
	h.instance = nil
	h.mu.Unlock()
	if inst != nil {
		_ = inst.Close(ctx)
	}

	return h.executor.Close(ctx)
}

// LoadModule instantiates wasmBytes as the active module, closing
// whatever module was previously loaded (spec §4.4's init lifecycle, run
// once per load rather than once per reducer call). funcNames.Version is
// checked against abi.ImplementedABI before anything else runs.
func (h *Host) LoadModule(ctx context.Context, wasmBytes []byte, funcNames abi.FuncNames) error {
	inst, err := h.executor.Instantiate(ctx, wasmBytes, h.recorder, nil, funcNames)
	if err != nil {
		return fmt.Errorf("modulehost: load module: %w", err)
	}

	h.mu.Lock()
	old := h.instance
	h.instance = inst
	h.funcNames = funcNames
	h.mu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	h.log.Info("module loaded")
	return nil
}

// LoadModuleFile reads path, loads it as the active module, and starts
// watching path for changes so a rebuilt module is picked up without a
// restart (the teacher's Engine.WatchFile pattern, repurposed from
// watching a config file to watching a compiled guest module).
func (h *Host) LoadModuleFile(ctx context.Context, path string, funcNames abi.FuncNames) error {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("modulehost: read module file %s: %w", path, err)
	}
	if err := h.LoadModule(ctx, wasmBytes, funcNames); err != nil {
		return err
	}
	return h.watchModuleFile(ctx, path, funcNames)
}

func (h *Host) watchModuleFile(ctx context.Context, path string, funcNames abi.FuncNames) error {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("modulehost: watch %s: %w", path, err)
	}
	h.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				wasmBytes, err := os.ReadFile(path)
				if err != nil {
					h.log.Error("module hot reload: read file", zap.Error(err))
					continue
				}
				if err := h.LoadModule(ctx, wasmBytes, funcNames); err != nil {
					h.log.Error("module hot reload failed", zap.Error(err))
				} else {
					h.log.Info("module hot reloaded", zap.String("path", path))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.log.Error("module watcher error", zap.Error(err))
			}
		}
	}()

	return watcher.Add(path)
}

// CallReducer invokes the active module's reducer, then re-evaluates
// every live subscription against the rows the call changed and
// dispatches the resulting incremental updates (spec §4.4, §4.6, §4.7).
func (h *Host) CallReducer(ctx context.Context, reducerID uint32, budget energy.Quanta, senderIdentity [32]byte, senderAddress [16]byte, timestampMicros uint64, args []byte) (energy.Stats, error) {
	h.mu.RLock()
	inst := h.instance
	h.mu.RUnlock()
	if inst == nil {
		return energy.Stats{}, fmt.Errorf("modulehost: call reducer: no module loaded")
	}

	stats, _, callErr := inst.CallReducer(ctx, reducerID, budget, senderIdentity, senderAddress, timestampMicros, args)
	update := h.recorder.Drain()

	// A trapped reducer's writes are still reflected in the recorder's
	// drained update, matching spec §7's note that a reducer trap does
	// not roll back rows already written through insert/delete_by_col_eq
	// host-calls before the trap - the original likewise has no
	// statement-level rollback inside a single call, only the instance
	// surviving to accept the next one.
	if !update.IsEmpty() {
		h.broadcast(ctx, update)
	}
	if callErr != nil {
		var trap *wasmhost.ReducerTrap
		if errors.As(callErr, &trap) {
			for i, f := range trap.Frames {
				h.log.Info("reducer trap traceback", zap.Int("frame", i), zap.String("module", f.ModuleName), zap.String("function", f.FuncName))
			}
		}
		return stats, callErr
	}
	return stats, nil
}

// invokeScheduled is the scheduler's callback for a due scheduled call
// (spec §4.3's schedule_reducer). It runs with no sender identity, since
// a self-scheduled call has no external caller.
func (h *Host) invokeScheduled(reducerID uint32, args []byte) {
	var identity [32]byte
	var address [16]byte
	now := uint64(time.Now().UnixMicro())
	if _, err := h.CallReducer(context.Background(), reducerID, energy.DefaultReducerBudget, identity, address, now, args); err != nil {
		h.log.Error("scheduled reducer call failed", zap.Uint32("reducer_id", reducerID), zap.Error(err))
	}
}

// ExtractDescriptions returns the active module's schema blob (spec
// §4.4's extract_descriptions).
func (h *Host) ExtractDescriptions(ctx context.Context) ([]byte, error) {
	h.mu.RLock()
	inst := h.instance
	h.mu.RUnlock()
	if inst == nil {
		return nil, fmt.Errorf("modulehost: extract descriptions: no module loaded")
	}
	start := time.Now()
	blob, err := inst.ExtractDescriptions(ctx)
	h.log.Debug("describer call", zap.Int64("elapsed_us", time.Since(start).Microseconds()))
	return blob, err
}

// Subscribe registers subscriber against exprs and returns the initial
// result set it should render (spec §4.6). Each call creates its own
// Subscription rather than joining one with an identical query set -
// internal/subscription's Subscription.AddSubscriber sharing optimization
// is available to a caller that wants it, but is not exercised by this
// Host.
func (h *Host) Subscribe(ctx context.Context, subscriber subscription.SubscriberID, auth storage.AuthCtx, exprs []queryexpr.QueryExpr) (dbupdate.DatabaseUpdate, error) {
	qs := subscription.NewQuerySet()
	for _, expr := range exprs {
		sq, err := subscription.NewSupportedQuery(expr)
		if err != nil {
			return dbupdate.DatabaseUpdate{}, fmt.Errorf("modulehost: subscribe: %w", err)
		}
		qs.Add(sq)
	}
	return h.subscribe(ctx, subscriber, auth, qs)
}

// SubscribeToAll registers subscriber against every table it can see
// (spec §4.6's get_all), rather than a caller-supplied query list.
func (h *Host) SubscribeToAll(ctx context.Context, subscriber subscription.SubscriberID, auth storage.AuthCtx) (dbupdate.DatabaseUpdate, error) {
	qs, err := subscription.GetAll(ctx, h.recorder, nil, auth)
	if err != nil {
		return dbupdate.DatabaseUpdate{}, fmt.Errorf("modulehost: subscribe to all: %w", err)
	}
	return h.subscribe(ctx, subscriber, auth, qs)
}

func (h *Host) subscribe(ctx context.Context, subscriber subscription.SubscriberID, auth storage.AuthCtx, qs *subscription.QuerySet) (dbupdate.DatabaseUpdate, error) {
	initial, err := subscription.Eval(ctx, h.recorder, nil, qs, auth)
	if err != nil {
		return dbupdate.DatabaseUpdate{}, fmt.Errorf("modulehost: subscribe: initial eval: %w", err)
	}

	h.subsMu.Lock()
	h.subs[subscriber] = &subscriberState{sub: subscription.NewSubscription(qs, subscriber), auth: auth}
	h.subsMu.Unlock()

	return initial, nil
}

// Unsubscribe removes subscriber; it stops receiving dispatched updates.
func (h *Host) Unsubscribe(subscriber subscription.SubscriberID) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	delete(h.subs, subscriber)
}

func (h *Host) broadcast(ctx context.Context, update dbupdate.DatabaseUpdate) {
	h.subsMu.Lock()
	states := make([]*subscriberState, 0, len(h.subs))
	for _, st := range h.subs {
		states = append(states, st)
	}
	h.subsMu.Unlock()

	for _, st := range states {
		incr, err := subscription.EvalIncr(ctx, h.recorder, nil, st.sub.Queries, update, st.auth)
		if err != nil {
			h.log.Error("eval_incr failed", zap.Error(err))
			continue
		}
		if incr.IsEmpty() {
			continue
		}
		if h.dispatch == nil {
			continue
		}
		for _, id := range st.sub.Subscribers() {
			h.dispatch.Dispatch(id, incr)
		}
	}
}
