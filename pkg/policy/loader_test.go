package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deploy/pkg/engine"
)

const webPolicy = `# No database packages on web hosts.
# severity: critical
package deploy.web

import rego.v1

deny contains msg if {
	startswith(input.host, "web-")
	input.artifact.parameters["package"] == "postgresql"
	msg := "databases do not belong on web hosts"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoadFileRego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-db-on-web.rego")
	writeFile(t, path, webPolicy)

	policy, err := newTestLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-db-on-web" {
		t.Errorf("Name = %q", policy.Name)
	}
	if policy.Description != "No database packages on web hosts." {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want critical", policy.Severity)
	}
	if !policy.Enabled || policy.Source != path || policy.Rego != webPolicy {
		t.Errorf("policy = %+v", policy)
	}
}

func TestLoadFileDefinitions(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		file        string
		content     string
		wantEnabled bool
		wantSev     Severity
		wantErr     bool
	}{
		{
			file:        "pinned.json",
			content:     `{"name": "pinned", "rego": "package p\n", "severity": "warning"}`,
			wantEnabled: true,
			wantSev:     SeverityWarning,
		},
		{
			file:        "disabled.yaml",
			content:     "name: disabled\nenabled: false\nrego: |\n  package d\n",
			wantEnabled: false,
			wantSev:     SeverityError,
		},
		{
			file:    "nameless.yml",
			content: "rego: |\n  package n\n",
			wantErr: true,
		},
		{
			file:    "empty.json",
			content: `{"name": "empty"}`,
			wantErr: true,
		},
		{
			file:    "garbage.json",
			content: `{not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			policy, err := newTestLoader().LoadFile(path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", policy)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadFromFile() error = %v", err)
			}
			if policy.Enabled != tt.wantEnabled || policy.Severity != tt.wantSev {
				t.Errorf("policy = %+v", policy)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "web.rego"), webPolicy)
	writeFile(t, filepath.Join(dir, "nested", "pinned.json"), `{"name": "pinned", "rego": "package p\n"}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{`)
	writeFile(t, filepath.Join(dir, "README.md"), "# policies")

	policies, err := newTestLoader().Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("loaded %d policies, want 2: %+v", len(policies), policies)
	}

	if _, err := newTestLoader().Load(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-db-on-web.rego"), webPolicy)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	err := eng.Check(context.Background(), "web-2", product(t, "PostgreSQL", engine.Params{"version": "16"}))
	if !engine.IsArtifactError(err) {
		t.Errorf("Check() error = %v, want denial", err)
	}

	writeFile(t, filepath.Join(dir, "bad.rego"), "package bad\n\ndeny contains x if {")
	if err := eng.LoadPolicies(context.Background(), []string{filepath.Join(dir, "bad.rego")}); err == nil {
		t.Error("expected compile error")
	}
	if _, err := eng.GetPolicy("bad"); err == nil {
		t.Error("failed load must not add policies")
	}
}

func TestEngineReplacePoliciesKeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicy(ctx, Policy{Name: "old", Enabled: true, Rego: "package old\n"}); err != nil {
		t.Fatal(err)
	}
	err := eng.ReplacePolicies(ctx, []Policy{{Name: "new", Enabled: true, Rego: "package new\n"}})
	if err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}

	if _, err := eng.GetPolicy("old"); err == nil {
		t.Error("old policy should be gone")
	}
	if _, err := eng.GetPolicy("new"); err != nil {
		t.Error("new policy missing")
	}
	if _, err := eng.GetPolicy(PolicyPackageNaming); err != nil {
		t.Error("built-in policy dropped")
	}

	err = eng.ReplacePolicies(ctx, []Policy{{Name: "broken", Rego: "package broken\n\nx := {"}})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("new"); err != nil {
		t.Error("failed replace must keep the current set")
	}
}

func TestEngineWatch(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := newTestEngine(t)
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeFile(t, filepath.Join(dir, "no-db-on-web.rego"), webPolicy)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := eng.GetPolicy("no-db-on-web"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("policy was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
