package wheelcache

import "context"

// PrefetchOptions controls a bulk fetch operation.
type PrefetchOptions struct {
	DryRun   bool
	Parallel int
}

// PrefetchReport tallies outcomes without aborting on the first failure
// (§4.2).
type PrefetchReport struct {
	Requested int
	Hit       int
	Fetched   int
	Failed    int
	Errors    []PrefetchError
}

// PrefetchError pairs a spec with the error fetching it.
type PrefetchError struct {
	Spec Spec
	Err  error
}

// Prefetch fetches every spec, batching work Parallel at a time, and
// reports aggregate counts rather than failing fast.
func (c *Cache) Prefetch(ctx context.Context, specs []Spec, opts PrefetchOptions) PrefetchReport {
	report := PrefetchReport{Requested: len(specs)}
	if opts.DryRun {
		for _, s := range specs {
			if hit, err := c.probeCached(s); err == nil && hit {
				report.Hit++
			}
		}
		return report
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}

	type result struct {
		spec   Spec
		hit    bool
		err    error
	}
	results := make(chan result, len(specs))
	sem := make(chan struct{}, parallel)

	for _, s := range specs {
		s := s
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			wasCached, _ := c.probeCached(s)
			_, err := c.Fetch(ctx, s)
			results <- result{spec: s, hit: wasCached, err: err}
		}()
	}
	for range specs {
		r := <-results
		switch {
		case r.err != nil:
			report.Failed++
			report.Errors = append(report.Errors, PrefetchError{Spec: r.spec, Err: r.err})
		case r.hit:
			report.Hit++
		default:
			report.Fetched++
		}
	}
	return report
}

func (c *Cache) probeCached(s Spec) (bool, error) {
	sha, err := hashFile(c.wheelPath(s))
	if err != nil {
		return false, err
	}
	return sha == s.SHA256, nil
}
