package hostos

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
	"github.com/openfroyo/deploy/pkg/telemetry"
)

// Detector resolves hosts to a HostOS by probing variants in order.
type Detector struct {
	connector executor.Connector
	variants  []Variant
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithVariants replaces the default variant registry. Order is probe order.
func WithVariants(variants ...Variant) DetectorOption {
	return func(d *Detector) {
		d.variants = append([]Variant(nil), variants...)
	}
}

// WithTelemetry attaches logging, metrics and tracing to detection.
func WithTelemetry(tel *telemetry.Telemetry) DetectorOption {
	return func(d *Detector) {
		if tel != nil {
			d.tel = tel
		}
	}
}

// NewDetector creates a detector opening executors through connector.
func NewDetector(connector executor.Connector, opts ...DetectorOption) *Detector {
	d := &Detector{
		connector: connector,
		variants:  DefaultVariants(),
		tel:       telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.tel.Logger.NewComponentLogger("detector")
	return d
}

// Variants returns the registry in probe order.
func (d *Detector) Variants() []Variant {
	return append([]Variant(nil), d.variants...)
}

// Detect opens an executor for host and returns the first variant whose
// probe matches. Variants after the match are not probed. When nothing
// matches the error is an unsupported_os error naming host; a probe error
// aborts detection and is returned as is. The caller owns the returned
// HostOS and must Close it.
func (d *Detector) Detect(ctx context.Context, host string) (*HostOS, error) {
	ctx, span := d.tel.Tracer.StartDetectSpan(ctx, host)
	defer span.End()

	logger := d.logger.WithHost(host)

	exec, err := d.connector.Open(ctx, host)
	if err != nil {
		d.fail(span, err)
		return nil, err
	}

	for _, v := range d.variants {
		if v.Probe == nil {
			continue
		}
		ok, err := v.Probe(ctx, exec)
		if err != nil {
			_ = exec.Close()
			d.fail(span, err)
			logger.WithError(err).Warnf("probe for %s failed", v.Name)
			return nil, err
		}
		if ok {
			span.SetAttributes(telemetry.AttrVariant.String(v.Name))
			telemetry.RecordSuccess(span)
			d.tel.Metrics.RecordDetection(v.Name)
			logger.Debugf("detected %s", v.Name)
			return New(v, exec), nil
		}
	}

	_ = exec.Close()
	err = engine.NewUnsupportedOSError(host).WithDetail("probed", len(d.variants))
	d.fail(span, err)
	d.tel.Metrics.RecordDetection("unsupported")
	logger.Warn("no supported operating system found")
	return nil, err
}

func (d *Detector) fail(span trace.Span, err error) {
	telemetry.RecordError(span, err)
	var de *engine.DeployError
	if errors.As(err, &de) {
		d.tel.Metrics.RecordError(string(de.Class), de.Code)
		return
	}
	d.tel.Metrics.RecordError("unclassified", "")
}

// Variant looks up a registered variant by name.
func (d *Detector) Variant(name string) (Variant, error) {
	for _, v := range d.variants {
		if v.Name == name {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("unknown OS variant %q", name)
}
