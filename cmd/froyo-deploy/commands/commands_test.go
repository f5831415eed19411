package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/openfroyo/deploy/pkg/engine"
)

func init() {
	color.NoColor = true
}

// testRepo writes a two-platform repository and a manifest pointing at it,
// returning the manifest path.
func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	packages := map[string]string{
		"freebsd/nginx": `[
			{"platform": "freebsd", "package": "nginx", "version": "1.24", "resources": ["freebsd/nginx-1.24.zip"]},
			{"platform": "freebsd", "package": "nginx", "version": "1.25", "stable": true, "resources": ["freebsd/nginx-1.25.zip"]}
		]`,
		"freebsd/redis": `[{"platform": "freebsd", "package": "redis", "version": "7.2", "resources": []}]`,
		"ubuntu/nginx":  `[{"platform": "ubuntu", "package": "nginx", "version": "1.24", "resources": []}]`,
	}
	for rel, metadata := range packages {
		pkgDir := filepath.Join(dir, "repo", rel)
		if err := os.MkdirAll(pkgDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(pkgDir, ".metadata"), []byte(metadata), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	manifest := filepath.Join(dir, "deploy.yaml")
	content := `repository:
  root: repo
sources:
  - name: upstream
    type: repository
    base_url: https://packages.example.com/
  - name: mirror
    type: mirror
    mirror_dir: repo
telemetry:
  log_level: error
`
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return manifest
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseKeyValues(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: map[string]string{}},
		{name: "simple", pairs: []string{"version=1.24", "arch=amd64"}, want: map[string]string{"version": "1.24", "arch": "amd64"}},
		{name: "value with equals", pairs: []string{"flags=-o=x"}, want: map[string]string{"flags": "-o=x"}},
		{name: "empty value", pairs: []string{"stable="}, want: map[string]string{"stable": ""}},
		{name: "last wins", pairs: []string{"v=1", "v=2"}, want: map[string]string{"v": "2"}},
		{name: "missing equals", pairs: []string{"version"}, wantErr: true},
		{name: "missing key", pairs: []string{"=1.24"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyValues(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseKeyValues() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseKeyValues() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand("1.0.0", "abc123", "2026-01-01")

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"install", "detect", "host", "repo", "policy", "validate"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %s in %v", want, names)
		}
	}

	if !strings.Contains(root.Version, "abc123") {
		t.Errorf("Version = %q", root.Version)
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil || f.Shorthand != "c" {
		t.Error("missing -c/--config flag")
	}
}

func TestValidateCommand(t *testing.T) {
	manifest := testRepo(t)

	out, err := run(t, "validate", manifest)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "ok") || !strings.Contains(out, "2 sources") {
		t.Errorf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("repository: {root: /r}\nsources: [{name: r, type: ftp}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "validate", bad, "--json")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var errs []map[string]interface{}
	if jerr := json.Unmarshal([]byte(out), &errs); jerr != nil {
		t.Fatalf("output is not JSON: %v\n%s", jerr, out)
	}
	if len(errs) == 0 || errs[0]["path"] != "sources[0].type" {
		t.Errorf("errors = %v", errs)
	}
}

func TestRepoCommands(t *testing.T) {
	manifest := testRepo(t)

	tests := []struct {
		name string
		args []string
		want interface{}
	}{
		{"platforms", []string{"repo", "platforms"}, []interface{}{"freebsd", "ubuntu"}},
		{"packages", []string{"repo", "packages", "freebsd"}, []interface{}{"nginx", "redis"}},
		{"query all", []string{"repo", "query", "freebsd", "nginx"}, 2},
		{"query where", []string{"repo", "query", "freebsd", "nginx", "-w", "version=1.25"}, 1},
		{"query no match", []string{"repo", "query", "freebsd", "nginx", "-w", "version=9"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append(tt.args, "-c", manifest, "--json")...)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			var got []interface{}
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, out)
			}
			switch want := tt.want.(type) {
			case int:
				if len(got) != want {
					t.Errorf("got %d versions, want %d", len(got), want)
				}
			default:
				if !reflect.DeepEqual(got, want) {
					t.Errorf("got %v, want %v", got, want)
				}
			}
		})
	}
}

func TestRepoQueryText(t *testing.T) {
	manifest := testRepo(t)

	out, err := run(t, "repo", "query", "freebsd", "nginx", "-w", "stable=true", "-c", manifest)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(out, "version=1.25") || !strings.Contains(out, "freebsd/nginx-1.25.zip") {
		t.Errorf("output = %q", out)
	}
}

func TestRepoUnknownPlatform(t *testing.T) {
	manifest := testRepo(t)

	_, err := run(t, "repo", "packages", "plan9", "-c", manifest)
	if !engine.IsRepositoryError(err) {
		t.Errorf("error = %v, want repository error", err)
	}
}

func TestRepoIndex(t *testing.T) {
	manifest := testRepo(t)
	catalog := filepath.Join(t.TempDir(), "catalog.db")

	out, err := run(t, "repo", "index", "--catalog", catalog, "-c", manifest, "--json")
	if err != nil {
		t.Fatalf("index error = %v", err)
	}
	var stats map[string]int
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if stats["Platforms"] != 2 || stats["Packages"] != 3 || stats["Versions"] != 4 {
		t.Errorf("stats = %v", stats)
	}
	if _, err := os.Stat(catalog); err != nil {
		t.Errorf("catalog not created: %v", err)
	}
}

func TestPolicyCommands(t *testing.T) {
	manifest := testRepo(t)

	out, err := run(t, "policy", "list", "-c", manifest)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	for _, name := range []string{"package-naming", "host-naming", "pinned-version"} {
		if !strings.Contains(out, name) {
			t.Errorf("list output missing %s:\n%s", name, out)
		}
	}

	out, err = run(t, "policy", "check", "Nginx", "-p", "version=1.24", "--host", "web-1", "-c", manifest)
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	if !strings.Contains(out, "allow") {
		t.Errorf("check output = %q", out)
	}

	out, err = run(t, "policy", "check", "Nginx", "-p", "package=Bad Name", "-c", manifest)
	if err == nil {
		t.Fatal("expected denial")
	}
	if !strings.Contains(out, "package-naming") {
		t.Errorf("check output = %q", out)
	}
}

func TestInstallArgumentErrors(t *testing.T) {
	manifest := testRepo(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no artifact", []string{"install"}},
		{"bad param", []string{"install", "nginx", "-p", "version"}},
		{"unknown source", []string{"install", "nginx", "--source", "ftp"}},
		{"blank artifact", []string{"install", " "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, append(tt.args, "-c", manifest)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInstallReports(t *testing.T) {
	failure := errors.New("connection refused")
	results := []engine.HostResult{
		{Host: "web-1", Err: failure},
		{Host: "web-2", Outcome: &engine.Outcome{
			Host:   "web-2",
			Errors: []engine.SourceError{{Source: "upstream", Err: errors.New("404")}, {Source: "mirror", Err: errors.New("missing")}},
		}},
	}

	reports := installReports(results)
	if len(reports) != 2 {
		t.Fatalf("reports = %v", reports)
	}
	if reports[0].Success || reports[0].Errors[0] != "connection refused" {
		t.Errorf("web-1 report = %+v", reports[0])
	}
	if want := []string{"upstream: 404", "mirror: missing"}; !reflect.DeepEqual(reports[1].Errors, want) {
		t.Errorf("web-2 errors = %v, want %v", reports[1].Errors, want)
	}

	var out bytes.Buffer
	artifact, _ := engine.NewProduct("Nginx", nil)
	printInstallResults(&out, artifact, results)
	if !strings.Contains(out.String(), "web-2 Nginx: all sources failed") || !strings.Contains(out.String(), "mirror: missing") {
		t.Errorf("output = %q", out.String())
	}
}

func TestFirstWord(t *testing.T) {
	if got := firstWord("fetch -o /tmp/x http://h/x"); got != "fetch" {
		t.Errorf("firstWord() = %q", got)
	}
	if got := firstWord("true"); got != "true" {
		t.Errorf("firstWord() = %q", got)
	}
}

func TestHostBar(t *testing.T) {
	var buf bytes.Buffer
	bar := newHostBar(&buf, 2)

	bar.Describe("web-1")
	if err := bar.Add(1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	bar.Describe("web-2")
	if err := bar.Add(1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := bar.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !strings.Contains(buf.String(), "2/2") {
		t.Errorf("bar output %q does not show the host count", buf.String())
	}
}
