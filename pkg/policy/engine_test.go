package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deploy/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func product(t *testing.T, name string, params engine.Params) engine.Artifact {
	t.Helper()
	p, err := engine.NewProduct(name, params)
	if err != nil {
		t.Fatalf("NewProduct() error = %v", err)
	}
	return p
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{PolicyHostNaming, PolicyPackageNaming, PolicyPinnedVersion}
	if len(policies) != len(want) {
		t.Fatalf("got %d policies, want %d", len(policies), len(want))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policy %d = %s, want %s", i, p.Name, want[i])
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("%s should be an enabled built-in", p.Name)
		}
	}
}

func TestEvaluateBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name         string
		host         string
		params       engine.Params
		wantAllowed  bool
		wantPolicies []string
		wantWarnings int
	}{
		{
			name:        "pinned and well named",
			host:        "web-1",
			params:      engine.Params{"version": "1.24"},
			wantAllowed: true,
		},
		{
			name:         "unpinned warns",
			host:         "web-1",
			params:       nil,
			wantAllowed:  true,
			wantWarnings: 1,
		},
		{
			name:         "bad package name",
			host:         "web-1",
			params:       engine.Params{"package": "Nginx Plus", "version": "1"},
			wantAllowed:  false,
			wantPolicies: []string{PolicyPackageNaming},
		},
		{
			name:         "bad host name",
			host:         "web-1; rm -rf /",
			params:       engine.Params{"version": "1"},
			wantAllowed:  false,
			wantPolicies: []string{PolicyHostNaming},
		},
		{
			name:        "local host",
			host:        "",
			params:      engine.Params{"version": "1"},
			wantAllowed: true,
		},
		{
			name:        "ipv6 literal",
			host:        "[::1]",
			params:      engine.Params{"version": "1"},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewInput(tt.host, product(t, "Nginx", tt.params))
			result, err := eng.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}

			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations %v)", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if len(result.Violations) != len(tt.wantPolicies) {
				t.Fatalf("violations = %v, want policies %v", result.Violations, tt.wantPolicies)
			}
			for i, v := range result.Violations {
				if v.Policy != tt.wantPolicies[i] {
					t.Errorf("violation %d from %s, want %s", i, v.Policy, tt.wantPolicies[i])
				}
				if v.Host != tt.host || v.Artifact != "Nginx" {
					t.Errorf("violation context = %s/%s", v.Host, v.Artifact)
				}
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("warnings = %v, want %d", result.Warnings, tt.wantWarnings)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("evaluated %v", result.EvaluatedPolicies)
			}
		})
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:    "no-db-on-web",
		Enabled: true,
		Rego: `package deploy.web

import rego.v1

deny contains msg if {
	startswith(input.host, "web-")
	input.artifact.parameters["package"] in {"postgresql", "mysql"}
	msg := sprintf("%s does not belong on %s", [input.artifact.name, input.host])
}`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	p, err := eng.GetPolicy("no-db-on-web")
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("default severity = %s, want error", p.Severity)
	}

	result, err := eng.Evaluate(ctx, NewInput("web-1", product(t, "PostgreSQL", engine.Params{"version": "16"})))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("postgresql on a web host should be denied")
	}
	if got := result.Violations[0].Message; got != "PostgreSQL does not belong on web-1" {
		t.Errorf("message = %q", got)
	}

	result, _ = eng.Evaluate(ctx, NewInput("db-1", product(t, "PostgreSQL", engine.Params{"version": "16"})))
	if !result.Allowed {
		t.Errorf("postgresql on a db host should be allowed: %v", result.Violations)
	}
}

func TestAddPolicyRejectsInvalid(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name   string
		policy Policy
	}{
		{"no name", Policy{Rego: "package x\n"}},
		{"syntax error", Policy{Name: "broken", Rego: "package x\n\ndeny contains msg if {"}},
		{"no package", Policy{Name: "nopkg", Rego: "deny := true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.AddPolicy(context.Background(), tt.policy); err == nil {
				t.Error("expected error")
			}
		})
	}
	if len(eng.ListPolicies()) != 3 {
		t.Error("invalid policies must not be added")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	input := NewInput("web-1", product(t, "Nginx", nil))

	if err := eng.DisablePolicy(PolicyPinnedVersion); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	result, _ := eng.Evaluate(ctx, input)
	if len(result.Warnings) != 0 || len(result.EvaluatedPolicies) != 2 {
		t.Errorf("disabled policy still evaluated: %+v", result)
	}

	if err := eng.EnablePolicy(PolicyPinnedVersion); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, _ = eng.Evaluate(ctx, input)
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want 1", result.Warnings)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestCheck(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Check(ctx, "web-1", product(t, "Nginx", engine.Params{"version": "1.24"})); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	// warnings never block
	if err := eng.Check(ctx, "web-1", product(t, "Nginx", nil)); err != nil {
		t.Errorf("Check() with warning error = %v", err)
	}

	err := eng.Check(ctx, "web-1", product(t, "Nginx", engine.Params{"package": "../etc", "version": "1"}))
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("Check() error = %v, want policy denied", err)
	}
	if !engine.IsArtifactError(err) || engine.IsRecoverable(err) {
		t.Error("policy denial must be a non-recoverable artifact error")
	}

	var de *engine.DeployError
	if !errors.As(err, &de) || de.Host != "web-1" {
		t.Fatalf("error = %#v", err)
	}
	violations, ok := de.Details["violations"].([]Violation)
	if !ok || len(violations) != 1 || violations[0].Policy != PolicyPackageNaming {
		t.Errorf("violations detail = %v", de.Details["violations"])
	}
}

func TestCheckEvaluationFailureDenies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Conflicting values for a complete rule fail at evaluation time
	err := eng.AddPolicy(ctx, Policy{
		Name:    "conflict",
		Enabled: true,
		Rego: `package deploy.conflict

import rego.v1

mode = "a" if input.host != ""

mode = "b" if input.host != ""

deny contains msg if {
	msg := mode
}`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	err = eng.Check(ctx, "web-1", product(t, "Nginx", engine.Params{"version": "1"}))
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Errorf("Check() error = %v, want policy denied", err)
	}
}

type countingSource struct {
	calls int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Install(context.Context, string, engine.Params) error {
	s.calls++
	return nil
}

func TestEngineGuardsInstaller(t *testing.T) {
	eng := newTestEngine(t)
	src := &countingSource{}

	inst, err := engine.NewInstaller([]engine.PackageSource{src}, engine.WithGuard(eng))
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := inst.OnHost(context.Background(), "bad host", product(t, "Nginx", engine.Params{"version": "1"}))
	if !errors.Is(err, engine.ErrPolicyDenied) || outcome != nil {
		t.Fatalf("OnHost() = %v, %v; want policy denial", outcome, err)
	}
	if src.calls != 0 {
		t.Errorf("source called %d times after denial", src.calls)
	}

	outcome, err = inst.OnHost(context.Background(), "web-1", product(t, "Nginx", engine.Params{"version": "1"}))
	if err != nil || !outcome.Succeeded() {
		t.Fatalf("OnHost() = %v, %v", outcome, err)
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}
