package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
	"github.com/openfroyo/deploy/pkg/hostos"
	"github.com/openfroyo/deploy/pkg/pkgsource"
	"github.com/openfroyo/deploy/pkg/policy"
	"github.com/openfroyo/deploy/pkg/repository"
	"github.com/openfroyo/deploy/pkg/telemetry"
	"github.com/openfroyo/deploy/pkg/transports/ssh"
)

// TelemetryConfig maps the telemetry section onto telemetry.Config.
func (m *Manifest) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	t := m.Telemetry

	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}

	cfg.Tracing.Enabled = t.Tracing.Enabled
	if t.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = t.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = t.Tracing.Endpoint
	if t.Tracing.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = t.Tracing.SamplingRate
	}
	cfg.Tracing.Insecure = t.Tracing.Insecure

	cfg.Metrics.Enabled = t.Metrics.Enabled || t.Metrics.Listen != ""
	cfg.Metrics.ListenAddress = t.Metrics.Listen

	return cfg
}

// SSHTemplate returns the connection template for remote hosts. Its Host
// is empty; the executor factory fills it per target.
func (m *Manifest) SSHTemplate() *ssh.Config {
	s := m.SSH
	cfg := ssh.DefaultConfig("", s.User)

	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if s.AuthMethod != "" {
		cfg.AuthMethod = ssh.AuthMethod(s.AuthMethod)
	} else if s.Password != "" && s.PrivateKey == "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
	}
	cfg.Password = s.Password
	cfg.PrivateKeyPath = s.PrivateKey
	cfg.PrivateKeyPassphrase = s.Passphrase
	if s.KnownHosts != "" {
		cfg.KnownHostsPath = s.KnownHosts
	}
	cfg.StrictHostKeyChecking = !s.InsecureIgnoreHostKey
	if s.ConnectTimeout > 0 {
		cfg.ConnectionTimeout = s.ConnectTimeout.Std()
	}
	cfg.CommandTimeout = m.CommandTimeout.Std()
	cfg.JumpHost = s.JumpHost

	return cfg
}

// HostConfigs returns the per-host connection settings, each derived from
// the template.
func (m *Manifest) HostConfigs() map[string]*ssh.Config {
	template := m.SSHTemplate()
	hosts := make(map[string]*ssh.Config, len(m.Hosts))

	for name, h := range m.Hosts {
		address := h.Address
		if address == "" {
			address = name
		}
		cfg := template.ForHost(address)
		if h.Port != 0 {
			cfg.Port = h.Port
		}
		if h.User != "" {
			cfg.User = h.User
		}
		if h.Password != "" {
			cfg.Password = h.Password
			if h.PrivateKey == "" {
				cfg.AuthMethod = ssh.AuthMethodPassword
			}
		}
		if h.PrivateKey != "" {
			cfg.PrivateKeyPath = h.PrivateKey
			cfg.AuthMethod = ssh.AuthMethodKey
		}
		if h.JumpHost != "" {
			cfg.JumpHost = h.JumpHost
		}
		hosts[name] = cfg
	}
	return hosts
}

// Factory builds the host to executor factory.
func (m *Manifest) Factory() *executor.Factory {
	f := executor.NewFactory(m.SSHTemplate(), m.CommandTimeout.Std())
	f.Hosts = m.HostConfigs()
	return f
}

// DetectionVariants resolves the variants list against the built-in
// variants, keeping the configured order.
func (m *Manifest) DetectionVariants() ([]hostos.Variant, error) {
	builtins := hostos.DefaultVariants()
	if len(m.Variants) == 0 {
		return builtins, nil
	}

	variants := make([]hostos.Variant, 0, len(m.Variants))
	for _, name := range m.Variants {
		found := false
		for _, v := range builtins {
			if strings.EqualFold(v.Name, name) {
				variants = append(variants, v)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown OS variant %q", name)
		}
	}
	return variants, nil
}

// Deployment is everything an install needs, built from a manifest.
type Deployment struct {
	Manifest   *Manifest
	Telemetry  *telemetry.Telemetry
	Repository repository.Repository
	Factory    *executor.Factory
	Detector   *hostos.Detector
	Policy     *policy.Engine
	Sources    []engine.PackageSource

	closers []func(context.Context) error
}

// Build wires a Deployment. tel may be nil, in which case telemetry is
// created from the manifest. Watches started for the repository cache and
// policies stop when ctx is done.
func Build(ctx context.Context, m *Manifest, tel *telemetry.Telemetry) (*Deployment, error) {
	d := &Deployment{Manifest: m}
	if err := d.build(ctx, tel); err != nil {
		_ = d.Close(context.Background())
		return nil, err
	}
	return d, nil
}

func (d *Deployment) build(ctx context.Context, tel *telemetry.Telemetry) error {
	m := d.Manifest
	if tel == nil {
		var err error
		if tel, err = telemetry.NewTelemetry(m.TelemetryConfig()); err != nil {
			return fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		d.closers = append(d.closers, tel.Shutdown)
	}
	d.Telemetry = tel

	var err error
	if d.Repository, err = d.openRepository(ctx); err != nil {
		return err
	}

	d.Factory = m.Factory()

	variants, err := m.DetectionVariants()
	if err != nil {
		return err
	}
	d.Detector = hostos.NewDetector(d.Factory, hostos.WithVariants(variants...), hostos.WithTelemetry(tel))

	if d.Policy, err = d.buildPolicy(ctx); err != nil {
		return err
	}

	for _, sc := range m.Sources {
		src, err := d.buildSource(sc)
		if err != nil {
			return err
		}
		d.Sources = append(d.Sources, src)
	}
	return nil
}

func (d *Deployment) openRepository(ctx context.Context) (repository.Repository, error) {
	rc := d.Manifest.Repository

	if rc.Catalog != "" {
		catalog, err := repository.OpenCatalog(ctx, rc.Catalog)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func(context.Context) error { return catalog.Close() })
		return catalog, nil
	}

	opts := []repository.Option{repository.WithLogger(*d.Telemetry.Logger.Zerolog())}
	if rc.Cache || rc.Watch {
		opts = append(opts, repository.WithCache())
	}
	fs := repository.NewFilesystem(rc.Root, opts...)
	if rc.Watch {
		if err := fs.Watch(ctx); err != nil {
			return nil, fmt.Errorf("failed to watch repository: %w", err)
		}
	}
	return fs, nil
}

func (d *Deployment) buildPolicy(ctx context.Context) (*policy.Engine, error) {
	pc := d.Manifest.Policy

	eng, err := policy.NewEngine(*d.Telemetry.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(pc.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, pc.Paths); err != nil {
			return nil, err
		}
		if pc.Watch {
			if err := eng.Watch(ctx, pc.Paths); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range pc.Disable {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (d *Deployment) buildSource(sc SourceConfig) (engine.PackageSource, error) {
	opts := []pkgsource.Option{
		pkgsource.WithWorkDir(sc.WorkDir),
		pkgsource.WithTelemetry(d.Telemetry),
	}

	switch sc.Type {
	case SourceRepository:
		return pkgsource.NewRepositorySource(sc.Name, d.Repository, d.Detector, sc.BaseURL, opts...)
	case SourceMirror:
		return pkgsource.NewMirrorSource(sc.Name, d.Repository, d.Detector, sc.MirrorDir, opts...)
	default:
		return nil, fmt.Errorf("source %s: unknown type %q", sc.Name, sc.Type)
	}
}

// Installer returns an installer over the named sources, or over all
// sources in manifest order when names is empty.
func (d *Deployment) Installer(names ...string) (*engine.Installer, error) {
	sources := d.Sources
	if len(names) > 0 {
		sources = make([]engine.PackageSource, 0, len(names))
		for _, name := range names {
			src, ok := d.source(name)
			if !ok {
				return nil, fmt.Errorf("unknown package source %q", name)
			}
			sources = append(sources, src)
		}
	}

	return engine.NewInstaller(sources,
		engine.WithTelemetry(d.Telemetry),
		engine.WithGuard(d.Policy),
	)
}

func (d *Deployment) source(name string) (engine.PackageSource, bool) {
	for _, src := range d.Sources {
		if src.Name() == name {
			return src, true
		}
	}
	return nil, false
}

// Rollout returns a rollout over the installer with the manifest's
// concurrency.
func (d *Deployment) Rollout(inst *engine.Installer) *engine.Rollout {
	return engine.NewRollout(inst, d.Manifest.Concurrency)
}

// Close releases the repository and flushes telemetry.
func (d *Deployment) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
