package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrRolloutStopped is the result of hosts that were never started because
// another host failed fatally.
var ErrRolloutStopped = errors.New("rollout stopped before this host started")

// DefaultRolloutConcurrency bounds the number of hosts installed at once.
const DefaultRolloutConcurrency = 4

// HostResult is the per-host result of a rollout.
type HostResult struct {
	Host    string
	Outcome *Outcome
	Err     error
}

// Succeeded reports whether the host ended up with the artifact installed.
func (r HostResult) Succeeded() bool {
	return r.Err == nil && r.Outcome != nil && r.Outcome.Succeeded()
}

// Rollout installs one artifact on many hosts through a shared Installer.
type Rollout struct {
	installer   *Installer
	concurrency int

	// OnHostDone, if set, is called once per host as soon as it finishes.
	// Calls are serialized.
	OnHostDone func(HostResult)
}

// NewRollout creates a rollout bounded to concurrency parallel hosts.
// Non-positive values fall back to DefaultRolloutConcurrency.
func NewRollout(installer *Installer, concurrency int) *Rollout {
	if concurrency <= 0 {
		concurrency = DefaultRolloutConcurrency
	}
	return &Rollout{installer: installer, concurrency: concurrency}
}

// Run installs artifact on every distinct host. Results are returned in the
// order hosts were first listed. Hosts whose sources are all exhausted are
// reported through their Outcome and do not stop the rollout. An error
// returned by the installer itself (rejected artifact, cancellation) keeps
// hosts that have not started yet from starting, with ErrRolloutStopped as
// their result, and is returned alongside the results. Hosts already
// installing are left to finish.
func (r *Rollout) Run(ctx context.Context, hosts []string, artifact Artifact) ([]HostResult, error) {
	hosts = dedupeHosts(hosts)
	results := make([]HostResult, len(hosts))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	var stopped atomic.Bool
	var mu sync.Mutex
	done := func(res HostResult) {
		if r.OnHostDone == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		r.OnHostDone(res)
	}

	for n, host := range hosts {
		g.Go(func() error {
			res := HostResult{Host: host}
			switch {
			case stopped.Load():
				res.Err = ErrRolloutStopped
			case ctx.Err() != nil:
				res.Err = ctx.Err()
			default:
				res.Outcome, res.Err = r.installer.OnHost(ctx, host, artifact)
			}
			results[n] = res

			fatal := res.Err != nil && !errors.Is(res.Err, ErrRolloutStopped)
			if fatal {
				stopped.Store(true)
			}
			done(res)
			if fatal {
				return res.Err
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

func dedupeHosts(hosts []string) []string {
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
