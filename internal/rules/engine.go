package rules

import (
	"container/ring"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
	"github.com/atomicobject/vaultweaver/internal/watcher"
)

// Config tunes the engine's scheduling and quarantine behavior.
type Config struct {
	Parallelism         int
	RuleTimeout         time.Duration
	GracePeriod         time.Duration
	QuarantineThreshold int
	QuarantineWindow    time.Duration
	ExecutionLogSize    int
}

// ExecutionRecord is one entry in the bounded execution log.
type ExecutionRecord struct {
	RuleID     string
	Path       string
	StartedAt  time.Time
	DurationMs int64
	Outcome    string // "success", "condition_false", or a vwerr.Kind
	Err        string
}

// Stats summarizes engine-wide execution counts for the admin surface.
type Stats struct {
	Executions   int64
	Successes    int64
	Failures     int64
	Quarantined  []string
}

// Engine dispatches watcher events to matching rules, enforcing per-path
// serialization, a bounded worker pool, per-rule timeouts, and quarantine.
type Engine struct {
	registry *Registry
	cache    *cache.Cache
	memory   *memory.Store
	llm      *llm.Client
	vaultio  vaultio.VaultIO
	log      zerolog.Logger
	cfg      Config
	metrics  *observability.Metrics

	sem chan struct{}

	pathMu sync.Mutex
	paths  map[string]*pathWorker

	mu          sync.Mutex
	execLog     *ring.Ring
	execLogN    int
	execCount   int64
	successCt   int64
	failureCt   int64
	failures    map[string][]time.Time // ruleID -> recent failure timestamps
	quarantined map[string]bool
}

type pathWorker struct {
	queue chan watcher.FileEvent
	done  chan struct{}
}

// New constructs an Engine. logger should already carry a component field.
func New(registry *Registry, c *cache.Cache, m *memory.Store, lc *llm.Client, vio vaultio.VaultIO, logger zerolog.Logger, cfg Config) *Engine {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 5
	}
	if cfg.RuleTimeout <= 0 {
		cfg.RuleTimeout = 30 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 2 * time.Second
	}
	if cfg.QuarantineThreshold <= 0 {
		cfg.QuarantineThreshold = 5
	}
	if cfg.QuarantineWindow <= 0 {
		cfg.QuarantineWindow = 5 * time.Minute
	}
	if cfg.ExecutionLogSize <= 0 {
		cfg.ExecutionLogSize = 1000
	}
	return &Engine{
		registry:    registry,
		cache:       c,
		memory:      m,
		llm:         lc,
		vaultio:     vio,
		log:         logger,
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.Parallelism),
		paths:       make(map[string]*pathWorker),
		execLog:     ring.New(cfg.ExecutionLogSize),
		failures:    make(map[string][]time.Time),
		quarantined: make(map[string]bool),
	}
}

// Run consumes events until ctx is canceled or the channel closes, routing
// each to its path's dedicated FIFO worker.
func (e *Engine) Run(ctx context.Context, events <-chan watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.dispatch(ctx, ev)
		}
	}
}

// dispatch routes ev to its path's worker, creating one if this is the
// path's first event since startup. Workers stay alive until ctx is canceled.
func (e *Engine) dispatch(ctx context.Context, ev watcher.FileEvent) {
	e.pathMu.Lock()
	w, ok := e.paths[ev.Path]
	if !ok {
		w = &pathWorker{queue: make(chan watcher.FileEvent, 64), done: make(chan struct{})}
		e.paths[ev.Path] = w
		go e.runPathWorker(ctx, ev.Path, w)
	}
	e.pathMu.Unlock()

	select {
	case w.queue <- ev:
	case <-ctx.Done():
	}
}

// runPathWorker processes its path's events strictly in arrival order,
// acquiring the global semaphore only while actually executing rules so
// queued-but-idle paths don't consume a worker slot.
func (e *Engine) runPathWorker(ctx context.Context, path string, w *pathWorker) {
	defer func() {
		e.pathMu.Lock()
		delete(e.paths, path)
		e.pathMu.Unlock()
		close(w.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.queue:
			if !ok {
				return
			}
			select {
			case e.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			e.processEvent(ctx, ev)
			<-e.sem
		}
	}
}

func triggerFor(t watcher.EventType) Trigger {
	switch t {
	case watcher.Add:
		return TriggerFileAdd
	case watcher.Change:
		return TriggerFileChange
	case watcher.Delete:
		return TriggerFileDelete
	case watcher.Rename:
		return TriggerFileRename
	default:
		return TriggerFileChange
	}
}

// processEvent runs every eligible rule for ev, in priority order, against
// the same underlying note. All rules for the event complete (success or
// handled failure) before processEvent returns, satisfying the ack-after
// contract the caller enforces.
func (e *Engine) processEvent(ctx context.Context, ev watcher.FileEvent) {
	direct := e.registry.Eligible(triggerFor(ev.Type))
	tagMatched := e.tagMatchedRules(ev)

	seen := make(map[string]bool, len(direct)+len(tagMatched))
	var all []Rule
	for _, r := range append(direct, tagMatched...) {
		if seen[r.ID()] {
			continue
		}
		seen[r.ID()] = true
		all = append(all, r)
	}

	for _, r := range all {
		if e.isQuarantined(r.ID()) {
			continue
		}
		e.runOne(ctx, r, ev)
	}
}

// tagMatchedRules evaluates TAG_MATCH-triggered rules by reading the
// event's note tags from the cache; cheap for the common case (no
// TAG_MATCH rules registered) since Eligible returns an empty slice
// immediately.
func (e *Engine) tagMatchedRules(ev watcher.FileEvent) []Rule {
	candidates := e.registry.Eligible(TriggerTagMatch)
	if len(candidates) == 0 {
		return nil
	}
	n, ok, err := e.cache.GetNote(context.Background(), ev.Path)
	if err != nil || !ok {
		return nil
	}
	var out []Rule
	for _, r := range candidates {
		if tagsIntersect(n.Tags, r.Metadata().Tags) {
			out = append(out, r)
		}
	}
	return out
}

func tagsIntersect(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// runOne executes condition then action for rule r against ev, enforcing
// the per-rule timeout plus grace period, and applying the resulting
// RuleResult atomically.
func (e *Engine) runOne(ctx context.Context, r Rule, ev watcher.FileEvent) {
	start := time.Now()
	_, opts, _ := e.registry.Get(r.ID())

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RuleTimeout)
	defer cancel()

	rc := &RuleContext{Ctx: runCtx, Event: ev, Options: opts, Cache: e.cache, Memory: e.memory, LLM: e.llm, VaultIO: e.vaultio}

	outcome, errStr := e.execute(runCtx, r, rc)

	e.record(ExecutionRecord{
		RuleID:     r.ID(),
		Path:       ev.Path,
		StartedAt:  start,
		DurationMs: time.Since(start).Milliseconds(),
		Outcome:    outcome,
		Err:        errStr,
	})

	e.log.Info().
		Str("ruleId", r.ID()).
		Str("path", ev.Path).
		Int64("durationMs", time.Since(start).Milliseconds()).
		Str("outcome", outcome).
		Msg("rule executed")

	if e.metrics != nil {
		e.metrics.RuleExecutionsTotal.WithLabelValues(r.ID(), outcome).Inc()
		e.metrics.RuleLatency.WithLabelValues(r.ID()).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) execute(ctx context.Context, r Rule, rc *RuleContext) (outcome, errStr string) {
	ok, err := safeCondition(r, rc)
	if err != nil {
		e.countFailure(r.ID())
		return string(vwerr.RuleConditionError), err.Error()
	}
	if !ok {
		return "condition_false", ""
	}

	resultCh := make(chan actionOutcome, 1)
	go func() {
		res, err := safeAction(r, rc)
		resultCh <- actionOutcome{res, err}
	}()

	select {
	case ao := <-resultCh:
		if ao.err != nil {
			e.countFailure(r.ID())
			kind, _ := vwerr.KindOf(ao.err)
			if kind == "" {
				kind = vwerr.RuleApplyFailed
			}
			return string(kind), ao.err.Error()
		}
		if err := e.apply(ctx, ao.result); err != nil {
			e.countFailure(r.ID())
			return string(vwerr.RuleApplyFailed), err.Error()
		}
		e.countSuccess()
		return "success", ""

	case <-ctx.Done():
		e.countFailure(r.ID())
		select {
		case <-time.After(e.cfg.GracePeriod):
		case ao := <-resultCh:
			if ao.err == nil {
				_ = e.apply(context.Background(), ao.result)
			}
		}
		return string(vwerr.RuleTimeout), "rule exceeded timeout"
	}
}

type actionOutcome struct {
	result RuleResult
	err    error
}

// safeCondition/safeAction convert a panicking rule into RULE_CONDITION_ERROR
// / RULE_APPLY_FAILED so one misbehaving rule never aborts the engine.
func safeCondition(r Rule, rc *RuleContext) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = vwerr.New("rules.Condition", vwerr.RuleConditionError, panicErr(p))
		}
	}()
	return r.Condition(rc)
}

func safeAction(r Rule, rc *RuleContext) (res RuleResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = vwerr.New("rules.Action", vwerr.RuleApplyFailed, panicErr(p))
		}
	}()
	return r.Action(rc)
}

func panicErr(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return vwerr.New("rules", vwerr.RuleApplyFailed, nil).WithDetail(toString(p))
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "panic"
}

func (e *Engine) countSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execCount++
	e.successCt++
}

func (e *Engine) countFailure(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execCount++
	e.failureCt++

	now := time.Now()
	cutoff := now.Add(-e.cfg.QuarantineWindow)
	recent := e.failures[ruleID][:0]
	for _, t := range e.failures[ruleID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	e.failures[ruleID] = recent

	if len(recent) >= e.cfg.QuarantineThreshold {
		e.quarantined[ruleID] = true
		e.registry.Disable(ruleID)
	}
}

func (e *Engine) isQuarantined(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quarantined[ruleID]
}

// SetMetrics wires Prometheus recording into the engine. Optional; a nil
// metrics set means Run operates without recording.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// Unquarantine clears quarantine state and re-enables ruleID, for manual
// admin recovery.
func (e *Engine) Unquarantine(ruleID string) {
	e.mu.Lock()
	delete(e.quarantined, ruleID)
	delete(e.failures, ruleID)
	e.mu.Unlock()
	e.registry.Enable(ruleID)
}

func (e *Engine) record(rec ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execLog.Value = rec
	e.execLog = e.execLog.Next()
}

// ExecutionLog returns up to n most recent execution records, newest first.
func (e *Engine) ExecutionLog(n int) []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ExecutionRecord
	e.execLog.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(ExecutionRecord))
	})
	// ring.Do walks oldest-to-current; reverse for newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// StatsSnapshot returns current counters and the quarantined rule list.
func (e *Engine) StatsSnapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var q []string
	for id := range e.quarantined {
		q = append(q, id)
	}
	return Stats{Executions: e.execCount, Successes: e.successCt, Failures: e.failureCt, Quarantined: q}
}
