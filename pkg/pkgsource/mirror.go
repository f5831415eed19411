package pkgsource

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/repository"
)

// MirrorSource installs by pushing resources from a local mirror directory
// to the host. The mirror holds each resource under its URI path, so
// "http://example.com/freebsd/nginx.zip" is read from
// <mirror>/freebsd/nginx.zip.
type MirrorSource struct {
	base
	mirrorRoot string
}

var _ engine.PackageSource = (*MirrorSource)(nil)

// NewMirrorSource creates an upload based source reading from mirrorRoot.
func NewMirrorSource(name string, repo repository.Repository, detector Detector, mirrorRoot string, opts ...Option) (*MirrorSource, error) {
	b, err := newBase("mirror", name, repo, detector, opts)
	if err != nil {
		return nil, err
	}
	if mirrorRoot == "" {
		return nil, fmt.Errorf("mirror source %q: mirror directory is required", b.name)
	}
	return &MirrorSource{base: b, mirrorRoot: mirrorRoot}, nil
}

// Install implements engine.PackageSource.
func (s *MirrorSource) Install(ctx context.Context, host string, attributes engine.Params) error {
	res, err := s.resolve(ctx, host, attributes)
	if err != nil {
		return err
	}
	defer res.close()

	logger := s.logger.WithHost(host)
	for _, v := range res.versions {
		for _, resource := range v.Resources() {
			local := s.LocalPath(resource)
			if _, err := os.Stat(local); err != nil {
				s.tel.Metrics.RecordFetch(res.platform, "failed", 0)
				return fetchFailed(res, resource, fmt.Sprintf("%s is not mirrored", resource), err).
					WithDetail("mirror_path", local)
			}

			remote := path.Join(s.workDir, path.Base(uriPath(resource)))
			start := time.Now()
			if err := res.host.Upload(ctx, local, remote); err != nil {
				s.tel.Metrics.RecordFetch(res.platform, "error", time.Since(start))
				return err
			}
			s.tel.Metrics.RecordFetch(res.platform, "succeeded", time.Since(start))
			logger.Debugf("uploaded %s to %s", local, remote)
		}
	}
	return nil
}

// LocalPath returns the mirror file for a resource locator. The URI path
// is cleaned as an absolute path so it cannot leave the mirror.
func (s *MirrorSource) LocalPath(resource string) string {
	clean := path.Clean("/" + uriPath(resource))
	return filepath.Join(s.mirrorRoot, filepath.FromSlash(clean))
}
