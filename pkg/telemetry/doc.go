// Package telemetry provides observability instrumentation for froyo-deploy.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Telemetry bundle that
// the CLI builds once and hands to the installer, the OS detector and the
// package sources.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	inst, err := engine.NewInstaller(sources, engine.WithTelemetry(tel))
//
// Components that are constructed without telemetry fall back to Nop
// implementations, so a nil-free bundle is always available:
//
//	tel := telemetry.Nop()
//
// # Metrics
//
// The following series are exported under the configured namespace:
//
//   - installs_total{artifact,status}
//   - install_duration_seconds{status}
//   - source_attempts_total{source,result}
//   - os_detections_total{variant}
//   - resource_fetch_duration_seconds{platform,status}
//   - errors_by_class_total{class}, errors_by_code_total{code}
//   - active_installs
//
// # Tracing
//
// Spans are emitted for each install request (install.on_host), each
// package source attempt (install.source) and each OS detection
// (hostos.detect). Exporters: stdout, otlp (gRPC) or none.
package telemetry
