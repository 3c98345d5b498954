package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Observer receives execution and cost notifications, typically backed by
// prometheus counters. All methods are called synchronously.
type Observer interface {
	ToolExecuted(tool, status string, duration time.Duration, cached bool)
	CostUpdated(daily, monthly float64)
}

// Ledger persists charged cost. Implementations must tolerate being called
// from the execution path; failures are logged, not surfaced.
type Ledger interface {
	Charge(day string, tool string, amount float64) error
}

// Execution outcome labels reported to the observer.
const (
	statusOK              = "ok"
	statusError           = "error"
	statusNotFound        = "not_found"
	statusPolicyViolation = "policy_violation"
	statusInvalidArgs     = "invalid_args"
)

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Policy   Policy
	CacheTTL time.Duration
	Observer Observer
	Ledger   Ledger
	Now      func() time.Time
}

// Router executes tool calls against a registry under a risk/cost policy,
// with result caching and cost accounting. It never returns an error to
// callers; every call yields a structured Result.
type Router struct {
	registry *Registry
	observer Observer
	ledger   Ledger
	cacheTTL time.Duration
	now      func() time.Time

	mu          sync.Mutex
	policy      Policy
	cache       map[string]cacheEntry
	costDay     string
	costMonth   string
	dailyCost   float64
	monthlyCost float64
	calls       map[string]int64
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, opts RouterOptions) *Router {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}

	return &Router{
		registry: registry,
		observer: opts.Observer,
		ledger:   opts.Ledger,
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
		policy:   opts.Policy,
		cache:    make(map[string]cacheEntry),
		calls:    make(map[string]int64),
	}
}

// Registry returns the underlying registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// SetPolicy replaces the active policy. This is the only way policy state
// mutates.
func (r *Router) SetPolicy(policy Policy) {
	r.mu.Lock()
	r.policy = policy
	r.mu.Unlock()

	log.Info().
		Str("approvedRisk", string(policy.ApprovedRisk)).
		Float64("dailyLimit", policy.DailyCostLimit).
		Float64("monthlyLimit", policy.MonthlyCostLimit).
		Msg("Tool policy updated")
}

// GetPolicy returns the active policy.
func (r *Router) GetPolicy() Policy {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.policy
}

// RestoreCosts seeds the cost counters, typically from the persistent ledger
// at startup.
func (r *Router) RestoreCosts(daily, monthly float64) {
	now := r.now()
	r.mu.Lock()
	r.costDay = dayKey(now)
	r.costMonth = monthKey(now)
	r.dailyCost = daily
	r.monthlyCost = monthly
	r.mu.Unlock()
}

// Execute runs one tool call: policy check, cache check, handler invocation,
// result wrapping. It measures wall-clock duration and generates a unique
// callId for every result, including not-found misses.
func (r *Router) Execute(ctx context.Context, call Call, tc Context) Result {
	start := r.now()

	callID := call.ID
	if callID == "" {
		callID, _ = gonanoid.New()
	}

	def, schema, found := r.registry.Get(call.Name)
	if !found {
		result := r.failure(call.Name, "unknown", callID, start,
			fmt.Sprintf("tool not found: %s", call.Name))
		r.observe(call.Name, statusNotFound, start, false)
		return result
	}

	if verdict := r.checkPolicy(def); verdict != "" {
		log.Warn().
			Str("tool", call.Name).
			Str("risk", string(def.RiskLevel)).
			Msg("Tool execution blocked by policy")
		result := r.failure(call.Name, def.Provider, callID, start, verdict)
		r.observe(call.Name, statusPolicyViolation, start, false)
		return result
	}

	if def.Cacheable {
		if cached, ok := r.cacheLookup(def.Name, call.Arguments); ok {
			cached.Metadata.Cached = true
			cached.Metadata.DurationMs = 0
			cached.Metadata.CallID = callID
			cached.Metadata.Timestamp = r.now()
			log.Debug().Str("tool", call.Name).Msg("Tool result served from cache")
			r.observe(call.Name, statusOK, start, true)
			return cached
		}
	}

	if err := validateArgs(schema, call.Arguments); err != nil {
		result := r.failure(call.Name, def.Provider, callID, start,
			fmt.Sprintf("invalid arguments: %v", err))
		r.observe(call.Name, statusInvalidArgs, start, false)
		return result
	}

	data, err := r.invoke(ctx, def, call.Arguments, tc)
	duration := r.now().Sub(start)
	r.charge(def)

	if err != nil {
		log.Error().
			Str("tool", call.Name).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		result := r.failure(call.Name, def.Provider, callID, start, err.Error())
		r.observe(call.Name, statusError, start, false)
		return result
	}

	result := Result{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			ToolName:   def.Name,
			Provider:   def.Provider,
			DurationMs: duration.Milliseconds(),
			Cached:     false,
			Timestamp:  r.now(),
			CallID:     callID,
		},
	}

	if def.Cacheable {
		r.cacheStore(def.Name, call.Arguments, result)
	}

	log.Debug().
		Str("tool", call.Name).
		Dur("duration", duration).
		Msg("Tool execution completed")
	r.observe(call.Name, statusOK, start, false)

	return result
}

// invoke runs the handler, converting panics into errors so a single bad
// handler never crashes a caller.
func (r *Router) invoke(ctx context.Context, def *Definition, args map[string]interface{}, tc Context) (data interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool handler panicked: %v", rec)
		}
	}()

	return def.Handler(ctx, args, tc)
}

func (r *Router) checkPolicy(def *Definition) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.policy.Allows(def.RiskLevel) {
		return fmt.Sprintf("policy violation: tool %s has risk level %s, approved ceiling is %s",
			def.Name, def.RiskLevel, r.policy.ApprovedRisk)
	}

	r.rolloverLocked()
	if r.policy.DailyCostLimit > 0 && r.dailyCost+def.CostPerCall > r.policy.DailyCostLimit {
		return fmt.Sprintf("policy violation: daily cost limit %.2f reached", r.policy.DailyCostLimit)
	}
	if r.policy.MonthlyCostLimit > 0 && r.monthlyCost+def.CostPerCall > r.policy.MonthlyCostLimit {
		return fmt.Sprintf("policy violation: monthly cost limit %.2f reached", r.policy.MonthlyCostLimit)
	}

	return ""
}

func (r *Router) charge(def *Definition) {
	r.mu.Lock()
	r.rolloverLocked()
	r.dailyCost += def.CostPerCall
	r.monthlyCost += def.CostPerCall
	r.calls[def.Name]++
	daily, monthly := r.dailyCost, r.monthlyCost
	day := r.costDay
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.CostUpdated(daily, monthly)
	}
	if r.ledger != nil && def.CostPerCall > 0 {
		if err := r.ledger.Charge(day, def.Name, def.CostPerCall); err != nil {
			log.Error().Err(err).Str("tool", def.Name).Msg("Failed to persist cost charge")
		}
	}
}

// rolloverLocked resets counters when the day or month changes.
func (r *Router) rolloverLocked() {
	now := r.now()
	day := dayKey(now)
	month := monthKey(now)

	if r.costDay != day {
		r.costDay = day
		r.dailyCost = 0
	}
	if r.costMonth != month {
		r.costMonth = month
		r.monthlyCost = 0
	}
}

// CostStats returns the running cost counters and per-tool call counts.
func (r *Router) CostStats() CostStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rolloverLocked()

	calls := make(map[string]int64, len(r.calls))
	for name, count := range r.calls {
		calls[name] = count
	}

	return CostStats{
		DailyCost:    r.dailyCost,
		MonthlyCost:  r.monthlyCost,
		DailyLimit:   r.policy.DailyCostLimit,
		MonthlyLimit: r.policy.MonthlyCostLimit,
		Calls:        calls,
	}
}

func (r *Router) cacheLookup(name string, args map[string]interface{}) (Result, bool) {
	key := cacheKey(name, args)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok {
		return Result{}, false
	}
	if r.now().Sub(entry.storedAt) > r.cacheTTL {
		delete(r.cache, key)
		return Result{}, false
	}

	return entry.result, true
}

func (r *Router) cacheStore(name string, args map[string]interface{}, result Result) {
	key := cacheKey(name, args)

	r.mu.Lock()
	r.cache[key] = cacheEntry{result: result, storedAt: r.now()}
	r.mu.Unlock()
}

func (r *Router) failure(tool, provider, callID string, start time.Time, message string) Result {
	if provider == "" {
		provider = "unknown"
	}
	now := r.now()

	return Result{
		Success: false,
		Data:    nil,
		Error:   message,
		Metadata: Metadata{
			ToolName:   tool,
			Provider:   provider,
			DurationMs: now.Sub(start).Milliseconds(),
			Cached:     false,
			Timestamp:  now,
			CallID:     callID,
		},
	}
}

func (r *Router) observe(tool, status string, start time.Time, cached bool) {
	if r.observer == nil {
		return
	}
	r.observer.ToolExecuted(tool, status, r.now().Sub(start), cached)
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("%v", msgs)
	}

	return nil
}

// cacheKey builds a deterministic key from the tool name and arguments.
// encoding/json sorts map keys, so identical argument maps collapse to the
// same key.
func cacheKey(name string, args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		return name + "?unmarshalable"
	}
	return name + ":" + string(data)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}
