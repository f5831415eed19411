package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// decoders maps a policy file extension to its parser.
var decoders = map[string]func(path string, data []byte) (*Policy, error){
	".rego": parseRegoFile,
	".json": func(_ string, data []byte) (*Policy, error) { return parseDefinition(data, json.Unmarshal) },
	".yaml": func(_ string, data []byte) (*Policy, error) { return parseDefinition(data, yaml.Unmarshal) },
	".yml":  func(_ string, data []byte) (*Policy, error) { return parseDefinition(data, yaml.Unmarshal) },
}

func isPolicyFile(path string) bool {
	_, ok := decoders[filepath.Ext(path)]
	return ok
}

// Loader reads policies from .rego files and from JSON or YAML policy
// definitions.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// Load reads every path. A file path must hold a valid policy; inside a
// directory tree, invalid policy files are logged and skipped.
func (l *Loader) Load(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.LoadFile(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		found, err := l.loadTree(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

func (l *Loader) loadTree(ctx context.Context, root string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case d.IsDir() || !isPolicyFile(path):
			return nil
		}

		p, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	return policies, err
}

// LoadFile parses one policy file, choosing the format by extension.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported policy file type", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path
	return p, nil
}

// parseRegoFile names the policy after the file and reads its description
// and severity from the leading comment block:
//
//	# Deny installs on database hosts.
//	# severity: warning
func parseRegoFile(path string, data []byte) (*Policy, error) {
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(data),
		Severity: SeverityError,
		Enabled:  true,
	}

	var description []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && len(description) > 0 {
				break
			}
			continue
		}

		comment = strings.TrimSpace(comment)
		if sev, ok := strings.CutPrefix(comment, "severity:"); ok {
			p.Severity = Severity(strings.TrimSpace(sev))
		} else if comment != "" {
			description = append(description, comment)
		}
	}
	p.Description = strings.Join(description, " ")

	return p, nil
}

// definition mirrors Policy with an optional enabled flag, which defaults
// to true.
type definition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Rego        string   `json:"rego" yaml:"rego"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
}

func parseDefinition(data []byte, unmarshal func([]byte, interface{}) error) (*Policy, error) {
	var def definition
	if err := unmarshal(data, &def); err != nil {
		return nil, err
	}
	switch {
	case def.Name == "":
		return nil, fmt.Errorf("policy name is required")
	case def.Rego == "":
		return nil, fmt.Errorf("policy %s has no rego", def.Name)
	}

	p := &Policy{
		Name:        def.Name,
		Description: def.Description,
		Rego:        def.Rego,
		Severity:    def.Severity,
		Enabled:     def.Enabled == nil || *def.Enabled,
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	return p, nil
}

// Watch reloads paths after policy files under them change and passes the
// result to apply. It returns once the watches are in place; watching stops
// when ctx is done. A failed reload is logged and the previous policies
// stay in force.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatches(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Not watching policy path")
		}
	}

	go l.watchLoop(ctx, watcher, paths, apply)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

// addWatches watches path itself, or every directory of the tree below it.
func addWatches(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	reload := time.NewTimer(reloadDelay)
	reload.Stop()
	defer reload.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			reload.Reset(reloadDelay)

		case <-reload.C:
			if err := l.reload(ctx, paths, apply); err != nil {
				l.logger.Error().Err(err).Msg("Policy reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.Load(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return err
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	return nil
}
