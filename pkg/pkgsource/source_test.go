package pkgsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
	"github.com/openfroyo/deploy/pkg/hostos"
	"github.com/openfroyo/deploy/pkg/repository"
)

// scriptedExecutor answers "uname -a" with a fixed string and fails any
// command containing one of the failing substrings.
type scriptedExecutor struct {
	uname   string
	failing []string

	mu       sync.Mutex
	commands []string
	closed   int
}

func (e *scriptedExecutor) Execute(_ context.Context, command string) (*executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if command == hostos.ProbeCommand {
		return &executor.Result{Command: command, Stdout: e.uname}, nil
	}
	e.commands = append(e.commands, command)
	for _, f := range e.failing {
		if strings.Contains(command, f) {
			return &executor.Result{Command: command, ExitCode: 8, Stderr: "404 Not Found"}, nil
		}
	}
	return &executor.Result{Command: command}, nil
}

func (e *scriptedExecutor) Target() string { return "web-1" }

func (e *scriptedExecutor) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	return nil
}

func (e *scriptedExecutor) ran() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

type staticConnector struct {
	exec  executor.Executor
	opens int
}

func (c *staticConnector) Open(context.Context, string) (executor.Executor, error) {
	c.opens++
	return c.exec, nil
}

func writeMetadata(t *testing.T, root, platform, pkg, body string) {
	t.Helper()
	dir := filepath.Join(root, platform, pkg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, repository.MetadataFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestRepo builds a repository with nginx for freebsd and ubuntu.
func newTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	root := t.TempDir()
	writeMetadata(t, root, "freebsd", "nginx", `[
		{"platform": "freebsd", "package": "nginx", "version": "1.24",
		 "resources": ["http://pkg.example.com/freebsd/nginx-1.24.tar.gz"]},
		{"platform": "freebsd", "package": "nginx", "version": "1.25",
		 "resources": ["http://pkg.example.com/freebsd/nginx-1.25.tar.gz",
		               "http://pkg.example.com/freebsd/nginx-1.25-modules.tar.gz"]}
	]`)
	writeMetadata(t, root, "ubuntu", "nginx", `[
		{"platform": "ubuntu", "package": "nginx", "version": "1.24",
		 "resources": ["ubuntu/nginx_1.24_amd64.zip"]}
	]`)
	return repository.NewFilesystem(root)
}

func newFreeBSD(failing ...string) (*scriptedExecutor, *hostos.Detector) {
	exec := &scriptedExecutor{uname: "FreeBSD web-1 14.0-RELEASE amd64", failing: failing}
	return exec, hostos.NewDetector(&staticConnector{exec: exec})
}

func TestRepositorySourceFetchesAllResources(t *testing.T) {
	exec, detector := newFreeBSD()
	src, err := NewRepositorySource("primary", newTestRepo(t), detector, "", WithWorkDir("/var/cache/deploy"))
	if err != nil {
		t.Fatalf("NewRepositorySource() error = %v", err)
	}

	if err := src.Install(context.Background(), "web-1", engine.Params{"package": "nginx"}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	want := []string{
		"fetch -o /var/cache/deploy/nginx-1.24.tar.gz http://pkg.example.com/freebsd/nginx-1.24.tar.gz",
		"fetch -o /var/cache/deploy/nginx-1.25.tar.gz http://pkg.example.com/freebsd/nginx-1.25.tar.gz",
		"fetch -o /var/cache/deploy/nginx-1.25-modules.tar.gz http://pkg.example.com/freebsd/nginx-1.25-modules.tar.gz",
	}
	if got := exec.ran(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if exec.closed != 1 {
		t.Errorf("executor closed %d times, want 1", exec.closed)
	}
	if src.Name() != "primary" || src.WorkDir() != "/var/cache/deploy" {
		t.Errorf("Name() = %q, WorkDir() = %q", src.Name(), src.WorkDir())
	}
}

func TestRepositorySourceCriteria(t *testing.T) {
	exec, detector := newFreeBSD()
	src, _ := NewRepositorySource("", newTestRepo(t), detector, "")

	err := src.Install(context.Background(), "web-1", engine.Params{"package": "nginx", "version": "1.24"})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got := exec.ran(); len(got) != 1 || !strings.Contains(got[0], "nginx-1.24.tar.gz") {
		t.Errorf("commands = %v", got)
	}
	if src.Name() != "repository" {
		t.Errorf("default Name() = %q", src.Name())
	}
}

func TestRepositorySourcePlatformOverride(t *testing.T) {
	exec, detector := newFreeBSD()
	src, _ := NewRepositorySource("primary", newTestRepo(t), detector, "http://mirror.example.com/repo/")

	err := src.Install(context.Background(), "web-1", engine.Params{"package": "nginx", "platform": "ubuntu"})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	// FreeBSD fetch syntax, ubuntu resources, relative locator resolved
	want := []string{"fetch -o /tmp/nginx_1.24_amd64.zip http://mirror.example.com/repo/ubuntu/nginx_1.24_amd64.zip"}
	if got := exec.ran(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestRepositorySourceErrors(t *testing.T) {
	tests := []struct {
		name   string
		params engine.Params
		check  func(error) bool
	}{
		{
			name:   "missing package attribute",
			params: engine.Params{"version": "1.24"},
			check:  engine.IsArtifactError,
		},
		{
			name:   "no matching version",
			params: engine.Params{"package": "nginx", "version": "9.9"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrNoMatchingVersion) },
		},
		{
			name:   "unknown package",
			params: engine.Params{"package": "apache"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrUnknownPackage) },
		},
		{
			name:   "unknown platform",
			params: engine.Params{"package": "nginx", "platform": "solaris"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrUnknownPlatform) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, detector := newFreeBSD()
			src, _ := NewRepositorySource("primary", newTestRepo(t), detector, "")

			err := src.Install(context.Background(), "web-1", tt.params)
			if !tt.check(err) {
				t.Errorf("Install() error = %v", err)
			}
			if len(exec.ran()) != 0 {
				t.Errorf("nothing should be fetched, ran %v", exec.ran())
			}
		})
	}
}

func TestRepositorySourceMissingPackageSkipsDetection(t *testing.T) {
	conn := &staticConnector{exec: &scriptedExecutor{uname: "FreeBSD"}}
	src, _ := NewRepositorySource("primary", newTestRepo(t), hostos.NewDetector(conn), "")

	if err := src.Install(context.Background(), "web-1", engine.Params{}); !engine.IsArtifactError(err) {
		t.Fatalf("Install() error = %v, want artifact error", err)
	}
	if conn.opens != 0 {
		t.Errorf("connector opened %d times, want 0", conn.opens)
	}
}

func TestRepositorySourceUnsupportedOS(t *testing.T) {
	exec := &scriptedExecutor{uname: "SunOS box 5.11"}
	src, _ := NewRepositorySource("primary", newTestRepo(t), hostos.NewDetector(&staticConnector{exec: exec}), "")

	err := src.Install(context.Background(), "solaris-1", engine.Params{"package": "nginx"})
	if !engine.IsUnsupportedOS(err) {
		t.Errorf("Install() error = %v, want unsupported OS", err)
	}
}

type refusingConnector struct{ opens int }

func (c *refusingConnector) Open(_ context.Context, host string) (executor.Executor, error) {
	c.opens++
	return nil, engine.NewTransportError(engine.ErrCodeConnection, "dial "+host+":22: connection refused", nil).WithHost(host)
}

func TestRepositorySourceExplicitPlatformQueriesFirst(t *testing.T) {
	tests := []struct {
		name   string
		params engine.Params
		check  func(error) bool
	}{
		{
			name:   "unknown package",
			params: engine.Params{"package": "apache", "platform": "freebsd"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrUnknownPackage) },
		},
		{
			name:   "unknown platform",
			params: engine.Params{"package": "nginx", "platform": "solaris"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrUnknownPlatform) },
		},
		{
			name:   "no matching version",
			params: engine.Params{"package": "nginx", "platform": "freebsd", "version": "9.9"},
			check:  func(err error) bool { return errors.Is(err, engine.ErrNoMatchingVersion) },
		},
		{
			name:   "host unreachable once there is something to fetch",
			params: engine.Params{"package": "nginx", "platform": "freebsd"},
			check:  engine.IsTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &refusingConnector{}
			src, _ := NewRepositorySource("primary", newTestRepo(t), hostos.NewDetector(conn), "")

			err := src.Install(context.Background(), "web-1", tt.params)
			if !tt.check(err) {
				t.Errorf("Install() error = %v", err)
			}
			wantOpens := 0
			if engine.IsTransport(err) {
				wantOpens = 1
			}
			if conn.opens != wantOpens {
				t.Errorf("connector opened %d times, want %d", conn.opens, wantOpens)
			}
		})
	}
}

func TestRepositorySourceNothingToFetchSkipsDetection(t *testing.T) {
	root := t.TempDir()
	writeMetadata(t, root, "freebsd", "meta", `[{"platform": "freebsd", "package": "meta", "resources": []}]`)

	conn := &refusingConnector{}
	src, _ := NewRepositorySource("primary", repository.NewFilesystem(root), hostos.NewDetector(conn), "")

	if err := src.Install(context.Background(), "web-1", engine.Params{"package": "meta", "platform": "freebsd"}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if conn.opens != 0 {
		t.Errorf("connector opened %d times, want 0", conn.opens)
	}
}

func TestRepositorySourceFetchFailureAborts(t *testing.T) {
	exec, detector := newFreeBSD("nginx-1.25.tar.gz")
	src, _ := NewRepositorySource("primary", newTestRepo(t), detector, "")

	err := src.Install(context.Background(), "web-1", engine.Params{"package": "nginx"})
	if !errors.Is(err, engine.ErrFetchFailed) {
		t.Fatalf("Install() error = %v, want fetch failed", err)
	}

	var de *engine.DeployError
	if !errors.As(err, &de) {
		t.Fatal("expected *engine.DeployError")
	}
	if de.Details["exit_code"] != 8 || de.Details["stderr"] != "404 Not Found" {
		t.Errorf("details = %v", de.Details)
	}
	if de.Platform != "freebsd" || de.Package != "nginx" || de.Host != "web-1" {
		t.Errorf("context = %s/%s@%s", de.Platform, de.Package, de.Host)
	}

	// The modules tarball after the failure is never fetched
	if got := exec.ran(); len(got) != 2 {
		t.Errorf("ran %d commands, want 2: %v", len(got), got)
	}
	if !engine.IsRecoverable(err) {
		t.Error("fetch failure should let the installer fall back")
	}
}

func TestNewSourceValidation(t *testing.T) {
	_, detector := newFreeBSD()
	repo := newTestRepo(t)

	if _, err := NewRepositorySource("x", nil, detector, ""); err == nil {
		t.Error("nil repository should be rejected")
	}
	if _, err := NewRepositorySource("x", repo, nil, ""); err == nil {
		t.Error("nil detector should be rejected")
	}
	if _, err := NewRepositorySource("x", repo, detector, "http://[::1"); err == nil {
		t.Error("invalid base URL should be rejected")
	}
	if _, err := NewMirrorSource("x", repo, detector, ""); err == nil {
		t.Error("empty mirror root should be rejected")
	}
}
