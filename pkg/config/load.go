package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultConcurrency    = 4
	DefaultCommandTimeout = 5 * time.Minute
	DefaultLogLevel       = "info"
)

// EnvConfig names the environment variable holding the manifest path.
const EnvConfig = "FROYO_DEPLOY_CONFIG"

// LoadError collects every problem found in a manifest.
type LoadError struct {
	Source string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.Source, strings.Join(msgs, "; "))
}

// Load reads, validates and defaults the manifest at path. The format
// follows the extension: .cue and .json are evaluated as CUE, anything
// else as YAML.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".json":
		m, err = NewCUEParser().Parse(path, data)
	default:
		m, err = ParseYAML(path, data)
	}
	if err != nil {
		return nil, err
	}

	m.resolvePaths(filepath.Dir(path))
	return m, nil
}

// ParseYAML decodes a YAML manifest, rejecting unknown fields.
func ParseYAML(source string, data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, &LoadError{Source: source, Errors: []ValidationError{yamlError(source, err)}}
	}
	return finish(source, &m)
}

func yamlError(source string, err error) ValidationError {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		return ValidationError{File: source, Message: strings.Join(te.Errors, ", ")}
	}
	return ValidationError{File: source, Message: err.Error()}
}

// finish applies defaults and validates m.
func finish(source string, m *Manifest) (*Manifest, error) {
	m.ApplyDefaults()
	if errs := m.Validate(); len(errs) > 0 {
		return nil, &LoadError{Source: source, Errors: errs}
	}
	return m, nil
}

// ApplyDefaults fills empty fields.
func (m *Manifest) ApplyDefaults() {
	if m.Concurrency == 0 {
		m.Concurrency = DefaultConcurrency
	}
	if m.CommandTimeout == 0 {
		m.CommandTimeout = Duration(DefaultCommandTimeout)
	}
	if m.Telemetry.LogLevel == "" {
		m.Telemetry.LogLevel = DefaultLogLevel
	}
	if m.Telemetry.LogFormat == "" {
		m.Telemetry.LogFormat = "console"
	}
	if m.Telemetry.Tracing.Exporter == "" {
		m.Telemetry.Tracing.Exporter = "none"
	}
	if m.Telemetry.Tracing.SamplingRate == 0 {
		m.Telemetry.Tracing.SamplingRate = 1
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and cross-field rules.
func (m *Manifest) Validate() []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Path:    strings.TrimPrefix(fe.Namespace(), "Manifest."),
				Message: describe(fe),
			})
		}
	}

	for i, src := range m.Sources {
		if src.Type == SourceRepository && src.MirrorDir != "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("sources[%d].mirror_dir", i),
				Message: "only mirror sources take a mirror directory",
			})
		}
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if", "required_without":
		return fmt.Sprintf("is required (%s %s)", fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "unique":
		return fmt.Sprintf("must have unique %s values", strings.ToLower(fe.Param()))
	case "url":
		return fmt.Sprintf("%v is not a URL", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// resolvePaths makes local paths relative to the manifest directory.
func (m *Manifest) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	m.Repository.Root = abs(m.Repository.Root)
	m.Repository.Catalog = abs(m.Repository.Catalog)
	for i := range m.Sources {
		m.Sources[i].MirrorDir = abs(m.Sources[i].MirrorDir)
	}
	for i := range m.Policy.Paths {
		m.Policy.Paths[i] = abs(m.Policy.Paths[i])
	}
}

// Source returns the source configuration named name.
func (m *Manifest) Source(name string) (SourceConfig, bool) {
	for _, s := range m.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}
