package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	cucumberexpressions "github.com/cucumber/cucumber-expressions/go/v16"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum-optimism/infra/op-behave/tagexpr"
	"github.com/ethereum-optimism/infra/op-behave/types"
)

// DefaultMatchCacheSize bounds the number of distinct step texts whose
// resolution is cached.
const DefaultMatchCacheSize = 1024

// ErrFrozen is returned when registering after execution has started.
var ErrFrozen = errors.New("registry is frozen")

// World is the per-scenario state handed to every step and hook.
type World any

// Handler executes one step against the scenario's World.
type Handler func(ctx context.Context, world World, args *Args) error

// WorldFactory creates a fresh World for each scenario attempt.
type WorldFactory func(ctx context.Context) (World, error)

// BeforeHook runs before the first step of a scenario.
type BeforeHook func(ctx context.Context, world World, unit *types.Unit) error

// AfterHook runs after the last step of a scenario, whatever its outcome.
type AfterHook func(ctx context.Context, world World, unit *types.Unit, outcome types.Status) error

// StepDefinition is one registered (pattern, handler) pair.
type StepDefinition struct {
	Pattern  string
	Keyword  types.StepType // empty matches any keyword
	Location string         // file:line of the registration
	Handler  Handler

	expr     cucumberexpressions.Expression
	argTypes []ArgType
}

// String identifies the definition in diagnostics.
func (d *StepDefinition) String() string {
	if d.Keyword == "" {
		return fmt.Sprintf("%q (%s)", d.Pattern, d.Location)
	}
	return fmt.Sprintf("%s %q (%s)", d.Keyword, d.Pattern, d.Location)
}

// HookDefinition is a registered hook with an optional tag filter.
type HookDefinition[F any] struct {
	Name   string
	Filter tagexpr.Expr
	Fn     F
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	MatchCacheSize int
}

// Registry holds step definitions, hooks and the World factory. It accepts
// registrations until Freeze is called and is read-only afterwards.
type Registry struct {
	log    log.Logger
	mu     sync.RWMutex
	frozen atomic.Bool

	params *cucumberexpressions.ParameterTypeRegistry
	steps  []*StepDefinition
	before []*HookDefinition[BeforeHook]
	after  []*HookDefinition[AfterHook]
	world  WorldFactory

	cache *lru.Cache[matchKey, []candidate]
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.MatchCacheSize < 0 {
		return nil, fmt.Errorf("match cache size cannot be negative: %d", cfg.MatchCacheSize)
	}
	if cfg.MatchCacheSize == 0 {
		cfg.MatchCacheSize = DefaultMatchCacheSize
	}
	cache, err := lru.New[matchKey, []candidate](cfg.MatchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create match cache: %w", err)
	}
	return &Registry{
		log:    cfg.Log.New("component", "registry"),
		params: cucumberexpressions.NewParameterTypeRegistry(),
		cache:  cache,
	}, nil
}

// StepOption customises a step registration.
type StepOption func(*StepDefinition)

// WithArgTypes declares the types captured arguments are coerced to.
func WithArgTypes(argTypes ...ArgType) StepOption {
	return func(d *StepDefinition) {
		d.argTypes = argTypes
	}
}

// Given registers a step that only matches Given steps.
func (r *Registry) Given(pattern string, h Handler, opts ...StepOption) error {
	return r.register(types.StepTypeGiven, pattern, h, opts)
}

// When registers a step that only matches When steps.
func (r *Registry) When(pattern string, h Handler, opts ...StepOption) error {
	return r.register(types.StepTypeWhen, pattern, h, opts)
}

// Then registers a step that only matches Then steps.
func (r *Registry) Then(pattern string, h Handler, opts ...StepOption) error {
	return r.register(types.StepTypeThen, pattern, h, opts)
}

// Step registers a step that matches any keyword.
func (r *Registry) Step(pattern string, h Handler, opts ...StepOption) error {
	return r.register("", pattern, h, opts)
}

func (r *Registry) register(keyword types.StepType, pattern string, h Handler, opts []StepOption) error {
	if h == nil {
		return fmt.Errorf("handler for step %q cannot be nil", pattern)
	}
	if strings.TrimSpace(pattern) == "" {
		return errors.New("step pattern cannot be empty")
	}

	def := &StepDefinition{
		Pattern:  pattern,
		Keyword:  keyword,
		Handler:  h,
		Location: callerLocation(3),
	}
	for _, opt := range opts {
		opt(def)
	}

	expr, err := r.compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid step pattern %q: %w", pattern, err)
	}
	def.expr = expr
	if len(def.argTypes) > 0 && len(def.argTypes) != expr.Regexp().NumSubexp() {
		return fmt.Errorf("step pattern %q declares %d argument types but captures %d groups",
			pattern, len(def.argTypes), expr.Regexp().NumSubexp())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	for _, existing := range r.steps {
		if existing.Pattern == pattern && existing.Keyword == keyword {
			return fmt.Errorf("step %q already registered at %s", pattern, existing.Location)
		}
	}
	r.steps = append(r.steps, def)
	r.cache.Purge()

	r.log.Debug("Registered step", "pattern", pattern, "keyword", keyword, "location", def.Location)
	return nil
}

// compile treats patterns anchored with ^ or $ as regular expressions and
// anything else as a cucumber expression.
func (r *Registry) compile(pattern string) (cucumberexpressions.Expression, error) {
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return cucumberexpressions.NewRegularExpression(re, r.params), nil
	}
	return cucumberexpressions.NewCucumberExpression(pattern, r.params)
}

// HookOption customises a hook registration.
type HookOption func(name *string, filter *tagexpr.Expr)

// WithHookName names a hook for diagnostics.
func WithHookName(name string) HookOption {
	return func(n *string, _ *tagexpr.Expr) { *n = name }
}

// WithTagFilter restricts a hook to scenarios whose tags satisfy expr.
func WithTagFilter(expr tagexpr.Expr) HookOption {
	return func(_ *string, f *tagexpr.Expr) { *f = expr }
}

// Before registers a hook run before each matching scenario.
func (r *Registry) Before(fn BeforeHook, opts ...HookOption) error {
	if fn == nil {
		return errors.New("before hook cannot be nil")
	}
	def := &HookDefinition[BeforeHook]{Name: callerLocation(2), Fn: fn}
	for _, opt := range opts {
		opt(&def.Name, &def.Filter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.before = append(r.before, def)
	return nil
}

// After registers a hook run after each matching scenario.
func (r *Registry) After(fn AfterHook, opts ...HookOption) error {
	if fn == nil {
		return errors.New("after hook cannot be nil")
	}
	def := &HookDefinition[AfterHook]{Name: callerLocation(2), Fn: fn}
	for _, opt := range opts {
		opt(&def.Name, &def.Filter)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.after = append(r.after, def)
	return nil
}

// SetWorld installs the World factory. Without one, handlers receive a nil World.
func (r *Registry) SetWorld(factory WorldFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.world = factory
	return nil
}

// Freeze stops accepting registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.CompareAndSwap(false, true) {
		r.log.Debug("Registry frozen", "steps", len(r.steps), "before", len(r.before), "after", len(r.after))
	}
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Len returns the number of step definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Definitions returns the registered step definitions in registration order.
func (r *Registry) Definitions() []*StepDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StepDefinition, len(r.steps))
	copy(out, r.steps)
	return out
}

// NewWorld creates the World for one scenario attempt.
func (r *Registry) NewWorld(ctx context.Context) (World, error) {
	r.mu.RLock()
	factory := r.world
	r.mu.RUnlock()
	if factory == nil {
		return nil, nil
	}
	return factory(ctx)
}

// BeforeHooks returns the before hooks applicable to tags, in registration order.
func (r *Registry) BeforeHooks(tags types.TagSet) []*HookDefinition[BeforeHook] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterHooks(r.before, tags)
}

// AfterHooks returns the after hooks applicable to tags, in registration order.
func (r *Registry) AfterHooks(tags types.TagSet) []*HookDefinition[AfterHook] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterHooks(r.after, tags)
}

func filterHooks[F any](hooks []*HookDefinition[F], tags types.TagSet) []*HookDefinition[F] {
	var out []*HookDefinition[F]
	for _, h := range hooks {
		if tagexpr.Match(h.Filter, tags) {
			out = append(out, h)
		}
	}
	return out
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}
