package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source types.
const (
	SourceRepository = "repository"
	SourceMirror     = "mirror"
)

// Manifest is the deployment configuration: where packages come from, how
// hosts are reached and which policies guard installs.
type Manifest struct {
	// Repository locates the package repository.
	Repository RepositoryConfig `json:"repository" yaml:"repository"`

	// Sources are tried in order for every install.
	Sources []SourceConfig `json:"sources" yaml:"sources" validate:"required,min=1,unique=Name,dive"`

	// SSH holds connection defaults for remote hosts.
	SSH SSHConfig `json:"ssh" yaml:"ssh"`

	// Hosts overrides connection settings per host name.
	Hosts map[string]HostConfig `json:"hosts,omitempty" yaml:"hosts,omitempty" validate:"dive"`

	// Variants restricts and orders the OS variants probed during
	// detection. Empty means all built-in variants.
	Variants []string `json:"variants,omitempty" yaml:"variants,omitempty" validate:"dive,required"`

	Policy PolicyConfig `json:"policy" yaml:"policy"`

	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Concurrency bounds how many hosts a rollout works on at once.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty" validate:"gte=0,lte=256"`

	// CommandTimeout applies to commands run without a deadline.
	CommandTimeout Duration `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty" validate:"gte=0"`
}

// RepositoryConfig selects a filesystem repository or a SQLite catalog.
type RepositoryConfig struct {
	// Root is the repository directory.
	Root string `json:"root,omitempty" yaml:"root,omitempty" validate:"required_without=Catalog"`

	// Catalog is a SQLite catalog file built with "repo index". When set
	// it is used instead of Root.
	Catalog string `json:"catalog,omitempty" yaml:"catalog,omitempty"`

	// Cache keeps parsed metadata in memory.
	Cache bool `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Watch invalidates the cache when metadata files change.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// SourceConfig describes one package source.
type SourceConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required,oneof=repository mirror"`

	// BaseURL resolves relative resource locators of repository sources.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`

	// MirrorDir is the local mirror of a mirror source.
	MirrorDir string `json:"mirror_dir,omitempty" yaml:"mirror_dir,omitempty" validate:"required_if=Type mirror"`

	// WorkDir is where resources land on the target host.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// SSHConfig holds connection defaults.
type SSHConfig struct {
	User       string `json:"user,omitempty" yaml:"user,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	AuthMethod string `json:"auth_method,omitempty" yaml:"auth_method,omitempty" validate:"omitempty,oneof=password key agent"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`

	// InsecureIgnoreHostKey accepts any host key.
	InsecureIgnoreHostKey bool `json:"insecure_ignore_host_key,omitempty" yaml:"insecure_ignore_host_key,omitempty"`

	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty" validate:"gte=0"`
	JumpHost       string   `json:"jump_host,omitempty" yaml:"jump_host,omitempty"`
}

// HostConfig overrides SSHConfig for one host. Address defaults to the
// host name.
type HostConfig struct {
	Address    string `json:"address,omitempty" yaml:"address,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string `json:"user,omitempty" yaml:"user,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	JumpHost   string `json:"jump_host,omitempty" yaml:"jump_host,omitempty"`
}

// PolicyConfig configures the install guard.
type PolicyConfig struct {
	// Paths are policy files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Disable lists policies, built-in or loaded, to switch off.
	Disable []string `json:"disable,omitempty" yaml:"disable,omitempty"`

	// Watch reloads policies when files under Paths change.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// TelemetryConfig is the manifest view of telemetry.Config.
type TelemetryConfig struct {
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	Tracing struct {
		Enabled      bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
		Exporter     string  `json:"exporter,omitempty" yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
		Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
		SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
		Insecure     bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	} `json:"tracing" yaml:"tracing"`

	Metrics struct {
		Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
		Listen  string `json:"listen,omitempty" yaml:"listen,omitempty" validate:"omitempty,hostname_port"`
	} `json:"metrics" yaml:"metrics"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// ValidationError is one problem found while loading a manifest.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}
