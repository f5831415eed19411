package pkgsource

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/repository"
)

// RepositorySource installs by having the host download each resource
// with its native fetch command.
type RepositorySource struct {
	base
	baseURL *url.URL
}

var _ engine.PackageSource = (*RepositorySource)(nil)

// NewRepositorySource creates a fetch based source. When baseURL is set,
// relative resource locators are resolved against it.
func NewRepositorySource(name string, repo repository.Repository, detector Detector, baseURL string, opts ...Option) (*RepositorySource, error) {
	b, err := newBase("repository", name, repo, detector, opts)
	if err != nil {
		return nil, err
	}

	s := &RepositorySource{base: b}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("repository source %q: invalid base URL: %w", b.name, err)
		}
		s.baseURL = u
	}
	return s, nil
}

// Install implements engine.PackageSource. Resources are fetched in version
// order, then in listing order; the first failed fetch aborts the install.
func (s *RepositorySource) Install(ctx context.Context, host string, attributes engine.Params) error {
	res, err := s.resolve(ctx, host, attributes)
	if err != nil {
		return err
	}
	defer res.close()

	logger := s.logger.WithHost(host)
	for _, v := range res.versions {
		for _, resource := range v.Resources() {
			uri := s.locate(resource)

			start := time.Now()
			out, err := res.host.Fetch(ctx, uri, s.workDir)
			if err != nil {
				s.tel.Metrics.RecordFetch(res.platform, "error", time.Since(start))
				return err
			}
			if out.Failed() {
				s.tel.Metrics.RecordFetch(res.platform, "failed", time.Since(start))
				return fetchFailed(res, uri, fmt.Sprintf("fetch of %s exited with status %d", uri, out.ExitCode), nil).
					WithDetail("exit_code", out.ExitCode).
					WithDetail("stderr", out.Stderr)
			}
			s.tel.Metrics.RecordFetch(res.platform, "succeeded", time.Since(start))
			logger.Debugf("fetched %s into %s", uri, s.workDir)
		}
	}
	return nil
}

// locate resolves a resource locator against the base URL.
func (s *RepositorySource) locate(resource string) string {
	if s.baseURL == nil {
		return resource
	}
	ref, err := url.Parse(resource)
	if err != nil || ref.IsAbs() {
		return resource
	}
	return s.baseURL.ResolveReference(ref).String()
}
