package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/deploy/pkg/telemetry"
)

// Guard vets an install request before any package source is tried.
// A non-nil error rejects the request; implementations should return an
// artifact-class *DeployError.
type Guard interface {
	Check(ctx context.Context, host string, artifact Artifact) error
}

// SourceError pairs a failed package source with the error it returned.
type SourceError struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Unwrap returns the source's error.
func (e SourceError) Unwrap() error {
	return e.Err
}

// Outcome records the result of one Installer.OnHost call.
type Outcome struct {
	RunID    string        `json:"run_id"`
	Host     string        `json:"host"`
	Artifact string        `json:"artifact"`
	Source   string        `json:"source,omitempty"`
	Errors   []SourceError `json:"-"`
	Duration time.Duration `json:"duration"`

	succeeded bool
}

// Succeeded reports whether some package source installed the artifact.
func (o *Outcome) Succeeded() bool {
	return o.succeeded
}

// Failed is the negation of Succeeded.
func (o *Outcome) Failed() bool {
	return !o.succeeded
}

// Err joins the collected source errors, or returns nil on success.
func (o *Outcome) Err() error {
	if o.succeeded {
		return nil
	}
	if len(o.Errors) == 0 {
		return errors.New("no package sources configured")
	}
	errs := make([]error, len(o.Errors))
	for i, se := range o.Errors {
		errs[i] = se
	}
	return errors.Join(errs...)
}

// InstallerOption configures an Installer.
type InstallerOption func(*Installer)

// WithTelemetry attaches logging, metrics and tracing to the installer.
func WithTelemetry(tel *telemetry.Telemetry) InstallerOption {
	return func(i *Installer) {
		if tel != nil {
			i.tel = tel
		}
	}
}

// WithGuard installs a pre-flight guard, typically a policy check.
func WithGuard(g Guard) InstallerOption {
	return func(i *Installer) {
		i.guard = g
	}
}

// Installer tries an ordered list of package sources until one succeeds.
// It holds no per-call state and is safe for concurrent use.
type Installer struct {
	sources []PackageSource
	guard   Guard
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
}

// NewInstaller creates an installer over sources, tried in the given order.
func NewInstaller(sources []PackageSource, opts ...InstallerOption) (*Installer, error) {
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("package source %d is nil", i)
		}
	}

	inst := &Installer{
		sources: append([]PackageSource(nil), sources...),
		tel:     telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	inst.logger = inst.tel.Logger.NewComponentLogger("installer")

	return inst, nil
}

// Sources returns the names of the configured sources in priority order.
func (i *Installer) Sources() []string {
	names := make([]string, len(i.sources))
	for n, src := range i.sources {
		names[n] = src.Name()
	}
	return names
}

// OnHost installs artifact on host using the first source that succeeds.
//
// Recoverable failures (repository, unsupported OS, transport) are recorded
// in the outcome and the next source is tried. Artifact errors, context
// cancellation and unclassified errors abort immediately and are returned
// as the error, with a nil outcome. Exhausting all sources is not an error:
// the outcome reports Failed with one entry per source.
func (i *Installer) OnHost(ctx context.Context, host string, artifact Artifact) (*Outcome, error) {
	if artifact == nil {
		return nil, NewArtifactError(ErrCodeInvalidArtifact, "artifact is required", nil)
	}

	outcome := &Outcome{
		RunID:    uuid.New().String(),
		Host:     host,
		Artifact: artifact.Name(),
	}
	timer := telemetry.NewTimer()
	logger := i.logger.WithRunID(outcome.RunID).WithHost(host).WithArtifact(outcome.Artifact)

	ctx, span := i.tel.Tracer.StartInstallSpan(ctx, outcome.RunID, host, outcome.Artifact)
	defer span.End()

	i.tel.Metrics.RecordInstallStarted()
	finish := func(status string) {
		outcome.Duration = timer.Duration()
		i.tel.Metrics.RecordInstallCompleted(outcome.Artifact, status, outcome.Duration)
	}

	if i.guard != nil {
		if err := i.guard.Check(ctx, host, artifact); err != nil {
			logger.WithError(err).Warn("install request rejected")
			i.recordError(err)
			telemetry.RecordError(span, err)
			finish("rejected")
			return nil, err
		}
	}

	for n, src := range i.sources {
		name := src.Name()
		srcCtx, srcSpan := i.tel.Tracer.StartSourceSpan(ctx, name, n+1)
		logger.Debugf("trying package source %s (%d/%d)", name, n+1, len(i.sources))

		err := artifact.InstallOn(srcCtx, host, src)
		if err == nil {
			telemetry.RecordSuccess(srcSpan)
			srcSpan.End()
			i.tel.Metrics.RecordSourceAttempt(name, "succeeded")

			outcome.Source = name
			outcome.succeeded = true
			finish("succeeded")
			telemetry.RecordSuccess(span)
			logger.Infof("installed from %s", name)
			return outcome, nil
		}

		telemetry.RecordError(srcSpan, err)
		srcSpan.End()
		i.recordError(err)

		if !IsRecoverable(err) {
			i.tel.Metrics.RecordSourceAttempt(name, "aborted")
			finish("aborted")
			telemetry.RecordError(span, err)
			logger.WithError(err).Errorf("package source %s aborted the install", name)
			return nil, err
		}

		i.tel.Metrics.RecordSourceAttempt(name, "failed")
		logger.WithError(err).Warnf("package source %s failed, falling back", name)
		outcome.Errors = append(outcome.Errors, SourceError{Source: name, Err: err})
	}

	finish("failed")
	telemetry.RecordError(span, outcome.Err())
	logger.Errorf("all %d package sources failed", len(i.sources))
	return outcome, nil
}

func (i *Installer) recordError(err error) {
	var de *DeployError
	if errors.As(err, &de) {
		i.tel.Metrics.RecordError(string(de.Class), de.Code)
		return
	}
	i.tel.Metrics.RecordError("unclassified", "")
}
