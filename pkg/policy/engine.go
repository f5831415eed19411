package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deploy/pkg/engine"
)

// Engine evaluates install requests against compiled Rego policies. It
// implements engine.Guard.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

var _ engine.Guard = (*Engine)(nil)

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.add(context.Background(), builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// AddPolicy compiles p and adds it, replacing any policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.add(ctx, p)
}

func (e *Engine) add(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}
	e.policies[p.Name] = cp
	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

// compile parses p and prepares a query for its package's deny set.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

// LoadPolicies compiles every policy found under paths. Nothing is added
// unless all of them compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).Load(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, policies[i])
		if err != nil {
			return err
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// ReplacePolicies swaps every non built-in policy for policies. On a compile
// error the current set is kept.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	next := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compile(ctx, policies[i])
		if err != nil {
			return err
		}
		next[cp.policy.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, shadowed := next[name]; !shadowed {
				next[name] = cp
			}
		}
	}
	e.policies = next
	return nil
}

// Watch reloads the policies under paths whenever a file changes, until ctx
// is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return NewLoader(e.logger).Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// Evaluate runs every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	enabled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			enabled = append(enabled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(enabled, func(i, j int) bool {
		return enabled[i].policy.Name < enabled[j].policy.Name
	})

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, cp := range enabled {
		violations, err := evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, err
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("host", input.Host).
		Str("artifact", input.Artifact.Name).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy %s evaluation error: %w", cp.policy.Name, err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// newViolation converts one deny entry. Entries are either a message
// string or an object with "message" and optional "severity".
func newViolation(p Policy, entry interface{}, input *Input) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
		Host:     input.Host,
		Artifact: input.Artifact.Name,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok && sev != "" {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// Check implements engine.Guard. Blocking violations reject the request
// with a POLICY_DENIED artifact error; warnings are only logged. A policy
// that fails to evaluate rejects the request too.
func (e *Engine) Check(ctx context.Context, host string, artifact engine.Artifact) error {
	input := NewInput(host, artifact)

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return engine.NewArtifactError(engine.ErrCodePolicyDenied,
			fmt.Sprintf("policy evaluation for %s failed", input.Artifact.Name), err).WithHost(host)
	}

	for _, w := range result.Warnings {
		e.logger.Warn().Str("policy", w.Policy).Str("host", host).Msg(w.Message)
	}
	if result.Allowed {
		return nil
	}

	messages := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		messages[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return engine.NewArtifactError(engine.ErrCodePolicyDenied,
		fmt.Sprintf("install of %s denied by policy: %s", input.Artifact.Name, strings.Join(messages, "; ")), nil).
		WithHost(host).
		WithDetail("violations", result.Violations)
}

// NewInput builds the policy input for installing artifact on host.
func NewInput(host string, artifact engine.Artifact) *Input {
	input := &Input{
		Host: host,
		Artifact: ArtifactInput{
			Parameters: map[string]string{},
		},
		Context: InputContext{
			Operation: "install",
			User:      os.Getenv("USER"),
			Timestamp: time.Now().UTC(),
		},
	}
	if artifact != nil {
		input.Artifact.Name = artifact.Name()
		input.Artifact.Parameters = artifact.Parameters()
	}
	return input
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return Policy{}, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
