package harness

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
)

// Case is one test of a group.
type Case struct {
	Name   string
	Device string // empty means the configured device
	Fn     TestFunc
}

// workItem is a case and its index in the original case list.
type workItem struct {
	c     Case
	index int
}

// Summary aggregates the results of one group.
type Summary struct {
	Group    string
	Total    int
	Passed   int
	Failed   int
	Errored  int
	Skipped  int
	Duration time.Duration
	Results  []Result
}

// OK reports whether no test failed or errored.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}

// RunParallel starts the group, then runs cases on workers pulling from a
// shared queue. Each worker owns its session exclusively. When ctx is
// cancelled, cases not yet started are reported as skipped and the context
// error is returned.
func (h *Harness) RunParallel(ctx context.Context, group string, cases []Case, workers int) (Summary, error) {
	if workers <= 0 {
		workers = h.cfg.Workers
	}
	if workers > len(cases) {
		workers = len(cases)
	}
	if workers <= 0 {
		workers = 1
	}

	h.StartGroup(ctx, group)
	start := time.Now()

	queue := make(chan workItem, len(cases))
	for i, c := range cases {
		queue <- workItem{c: c, index: i}
	}
	close(queue)

	// Each slot is written by exactly one worker.
	results := make([]Result, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := fmt.Sprintf("%s-worker-%d", group, i+1)
		g.Go(func() error {
			for item := range queue {
				if err := gctx.Err(); err != nil {
					results[item.index] = Result{Name: item.c.Name, Worker: worker, Status: core.StatusSkipped, Err: err}
					continue
				}
				results[item.index] = h.Run(gctx, group, item.c.Name, worker, item.c.Device, item.c.Fn)
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	return summarize(group, results, time.Since(start)), err
}

func summarize(group string, results []Result, wall time.Duration) Summary {
	s := Summary{Group: group, Total: len(results), Results: results, Duration: wall}
	for _, r := range results {
		switch r.Status {
		case core.StatusPassed:
			s.Passed++
		case core.StatusFailed:
			s.Failed++
		case core.StatusErrored:
			s.Errored++
		case core.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
