// Package pkgsource implements engine.PackageSource on top of a package
// repository. A source resolves the request attributes to repository
// versions and places every resource of every matching version in a work
// directory on the target host.
package pkgsource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/hostos"
	"github.com/openfroyo/deploy/pkg/repository"
	"github.com/openfroyo/deploy/pkg/telemetry"
)

// DefaultWorkDir is where resources land when no work directory is set.
const DefaultWorkDir = "/tmp"

// Detector resolves a host to its HostOS.
type Detector interface {
	Detect(ctx context.Context, host string) (*hostos.HostOS, error)
}

// Option configures a source.
type Option func(*base)

// WithWorkDir sets the destination directory on the target host.
func WithWorkDir(dir string) Option {
	return func(b *base) {
		if dir != "" {
			b.workDir = dir
		}
	}
}

// WithTelemetry attaches logging and metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(b *base) {
		if tel != nil {
			b.tel = tel
		}
	}
}

// base holds what both source kinds share: naming, the repository lookup
// and host detection.
type base struct {
	name     string
	repo     repository.Repository
	detector Detector
	workDir  string
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

func newBase(kind, name string, repo repository.Repository, detector Detector, opts []Option) (base, error) {
	if repo == nil {
		return base{}, fmt.Errorf("%s source %q: repository is required", kind, name)
	}
	if detector == nil {
		return base{}, fmt.Errorf("%s source %q: detector is required", kind, name)
	}
	if name == "" {
		name = kind
	}

	b := base{
		name:     name,
		repo:     repo,
		detector: detector,
		workDir:  DefaultWorkDir,
		tel:      telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.tel.Logger.NewComponentLogger("pkgsource").WithField("source", b.name)
	return b, nil
}

// Name implements engine.PackageSource.
func (b *base) Name() string {
	return b.name
}

// WorkDir returns the destination directory on target hosts.
func (b *base) WorkDir() string {
	return b.workDir
}

// resolution is the versions selected for a request and, when they list
// any resources, the detected host to place them on.
type resolution struct {
	hostName string
	host     *hostos.HostOS
	platform string
	pkg      string
	versions []repository.Version
}

func (r *resolution) close() {
	if r.host != nil {
		_ = r.host.Close()
	}
}

// resolve queries the repository and detects the host. platform and
// package are lookup context; every other attribute is a match criterion.
// An explicit platform is queried before detection, so lookup misses are
// reported even for unreachable hosts, and a host is only detected when
// there is something to place on it. Without one the detected platform is
// used. The caller must close the resolution.
func (b *base) resolve(ctx context.Context, hostName string, attributes engine.Params) (*resolution, error) {
	pkg := strings.TrimSpace(attributes[engine.ParamPackage])
	if pkg == "" {
		return nil, engine.NewArtifactError(engine.ErrCodeInvalidArtifact,
			fmt.Sprintf("attribute %q is required", engine.ParamPackage), nil)
	}

	res := &resolution{hostName: hostName, platform: attributes[engine.ParamPlatform], pkg: pkg}
	if res.platform == "" {
		h, err := b.detector.Detect(ctx, hostName)
		if err != nil {
			return nil, err
		}
		res.host = h
		res.platform = h.Platform()
	}

	if err := b.selectVersions(ctx, res, attributes); err != nil {
		res.close()
		return nil, err
	}

	if res.host == nil && hasResources(res.versions) {
		h, err := b.detector.Detect(ctx, hostName)
		if err != nil {
			return nil, err
		}
		res.host = h
	}

	b.logger.WithHost(hostName).Debugf("%d version(s) of %s/%s selected", len(res.versions), res.platform, pkg)
	return res, nil
}

func (b *base) selectVersions(ctx context.Context, res *resolution, attributes engine.Params) error {
	criteria := repository.Criteria{}
	for k, v := range attributes {
		if k == engine.ParamPackage || k == engine.ParamPlatform {
			continue
		}
		criteria[k] = v
	}

	versions, err := b.repo.Query(ctx, res.platform, res.pkg, criteria)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return engine.NewRepositoryError(engine.ErrCodeNoMatchingVersion,
			fmt.Sprintf("no version of %s/%s matches %s", res.platform, res.pkg, engine.Params(criteria)), nil).
			WithPackage(res.platform, res.pkg).
			WithHost(res.hostName)
	}
	res.versions = versions
	return nil
}

func hasResources(versions []repository.Version) bool {
	for _, v := range versions {
		if len(v.Resources()) > 0 {
			return true
		}
	}
	return false
}

func fetchFailed(res *resolution, uri, msg string, err error) *engine.DeployError {
	return engine.NewRepositoryError(engine.ErrCodeFetchFailed, msg, err).
		WithPackage(res.platform, res.pkg).
		WithHost(res.hostName).
		WithDetail("resource", uri)
}

// uriPath returns the path component of a resource locator.
func uriPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return u.Path
	}
	return uri
}
