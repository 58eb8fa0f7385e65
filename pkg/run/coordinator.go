package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/devicelab-dev/mobile-harness/pkg/artifact"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/report"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

var log = logger.ForComponent(logger.CompRun)

// DefaultLockWait bounds how long a group start waits for another process
// holding the marker lock.
const DefaultLockWait = 30 * time.Second

// State is the coordinator's cleanup state.
type State int

const (
	StateUninitialized State = iota
	StateCleaned
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// Reason explains the decision taken on a group start.
type Reason string

const (
	ReasonMarkerAbsent     Reason = "marker absent"
	ReasonMarkerUnreadable Reason = "marker unreadable"
	ReasonNewRun           Reason = "marker from a previous run"
	ReasonSameRun          Reason = "later group in the same run"
)

// Outcome describes what one group start did.
type Outcome struct {
	Group     string
	Cleaned   bool
	Reason    Reason
	Before    artifact.Counts
	After     artifact.Counts
	Deleted   int
	Preserved int
	// Err collects non-fatal failures (lock, cleanup or marker I/O).
	Err error
}

// Coordinator clears the artifact store at most once per process.
// One Coordinator is shared by every worker of the process.
type Coordinator struct {
	id         Identity
	store      *artifact.Store
	markerPath string
	lockWait   time.Duration
	sink       func(group string) report.Sink

	mu    sync.Mutex
	state State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLockWait sets how long to wait for the cross-process marker lock.
func WithLockWait(d time.Duration) Option {
	return func(c *Coordinator) { c.lockWait = d }
}

// WithSink sets the report sink receiving group start annotations.
func WithSink(fn func(group string) report.Sink) Option {
	return func(c *Coordinator) { c.sink = fn }
}

// NewCoordinator creates a coordinator for the process identified by id.
func NewCoordinator(id Identity, store *artifact.Store, markerPath string, opts ...Option) *Coordinator {
	c := &Coordinator{
		id:         id,
		store:      store,
		markerPath: markerPath,
		lockWait:   DefaultLockWait,
		sink:       func(string) report.Sink { return report.Discard },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the process identity.
func (c *Coordinator) Identity() Identity { return c.id }

// MarkerPath returns the marker file location.
func (c *Coordinator) MarkerPath() string { return c.markerPath }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnGroupStart runs the group start hook. The whole check-and-clear sequence
// is serialized in-process by a mutex and across processes by a lock
// directory next to the marker. It never fails the caller: problems are
// logged and returned in Outcome.Err.
func (c *Coordinator) OnGroupStart(ctx context.Context, group string) Outcome {
	_, span := telemetry.StartSpan(ctx, "run.group_start",
		telemetry.AttrGroup.String(group),
		telemetry.AttrRunID.String(c.id.RunID),
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out Outcome
	if c.state == StateCleaned {
		out = c.skip(group, ReasonSameRun)
	} else {
		err := newRunLock(c.markerPath+".lock", c.id).Do(ctx, c.lockWait, func() error {
			out = c.decide(group)
			return nil
		})
		if err != nil {
			// The in-process mutex still holds; only cross-process exclusion is lost.
			log.Warn("run lock unavailable, continuing without it", "group", group, "error", err)
			out = c.decide(group)
			out.Err = errors.Join(core.ErrCleanupIO.WithMessage("run lock unavailable").WithCause(err), out.Err)
		}
	}

	c.annotate(out)
	telemetry.EndSpan(span, out.Err)
	return out
}

// decide reads the marker and clears the store unless the marker names this
// process. Caller holds c.mu.
func (c *Coordinator) decide(group string) Outcome {
	recorded, err := ReadMarker(c.markerPath)
	switch {
	case errors.Is(err, ErrMarkerAbsent):
		return c.clean(group, ReasonMarkerAbsent)
	case err != nil:
		log.Warn("run marker unreadable, treating as new run", "path", c.markerPath, "error", err)
		return c.clean(group, ReasonMarkerUnreadable)
	case recorded != c.id:
		return c.clean(group, ReasonNewRun)
	default:
		// Another coordinator of this process already cleaned.
		c.state = StateCleaned
		return c.skip(group, ReasonSameRun)
	}
}

func (c *Coordinator) clean(group string, reason Reason) Outcome {
	out := Outcome{Group: group, Cleaned: true, Reason: reason}

	before, err := c.store.Count()
	if err != nil {
		log.Warn("could not count artifacts before cleanup", "error", err)
	}
	out.Before = before

	deleted, clearErr := c.store.Clear()
	out.Deleted = deleted
	telemetry.ArtifactsDeleted.Add(float64(deleted))
	if clearErr != nil {
		log.Warn("artifact cleanup incomplete", "group", group, "deleted", deleted, "error", clearErr)
	}

	markerErr := WriteMarker(c.markerPath, c.id)
	if markerErr != nil {
		log.Warn("could not write run marker", "path", c.markerPath, "error", markerErr)
		markerErr = core.ErrCleanupIO.WithMessage("could not write run marker").WithCause(markerErr)
	}
	out.Err = errors.Join(clearErr, markerErr)

	after, _ := c.store.Count()
	out.After = after
	out.Preserved = after.Total()

	c.state = StateCleaned
	telemetry.GroupStarts.WithLabelValues("cleaned").Inc()
	log.Info("stale artifacts cleared",
		"group", group,
		"reason", string(reason),
		"run_id", c.id.RunID,
		"screenshots", before.Screenshots,
		"results", before.Results,
		"deleted", deleted,
	)
	return out
}

func (c *Coordinator) skip(group string, reason Reason) Outcome {
	counts, err := c.store.Count()
	if err != nil {
		log.Warn("could not count preserved artifacts", "error", err)
	}
	telemetry.GroupStarts.WithLabelValues("skipped").Inc()
	log.Info("cleanup skipped",
		"group", group,
		"reason", string(reason),
		"run_id", c.id.RunID,
		"screenshots", counts.Screenshots,
		"results", counts.Results,
	)
	return Outcome{Group: group, Reason: reason, Before: counts, After: counts, Preserved: counts.Total()}
}

type annotation struct{ label, value string }

// annotate writes the group start record to the report sink. Attachment
// failures are logged only.
func (c *Coordinator) annotate(out Outcome) {
	sink := c.sink(out.Group)
	if sink == nil {
		return
	}

	status := "skipped - " + string(out.Reason)
	if out.Cleaned {
		status = "performed - " + string(out.Reason)
	}
	entries := []annotation{
		{"Suite Name", out.Group},
		{"Run ID", c.id.RunID},
		{"Run Start Time", time.UnixMilli(c.id.StartTime).UTC().Format(time.RFC3339)},
		{"Process ID", strconv.Itoa(os.Getpid())},
		{"Cleanup Status", status},
	}
	if out.Cleaned {
		entries = append(entries,
			annotation{"Screenshots Cleaned", fmt.Sprintf("%d -> %d", out.Before.Screenshots, out.After.Screenshots)},
			annotation{"Report Results Cleaned", fmt.Sprintf("%d -> %d", out.Before.Results, out.After.Results)},
		)
	} else {
		entries = append(entries, annotation{"Artifacts Preserved", strconv.Itoa(out.Preserved)})
	}

	for _, e := range entries {
		if _, err := sink.Attach(e.label, []byte(e.value), core.ContentTypeText); err != nil {
			log.Warn("group start annotation failed", "label", e.label, "error", err)
		}
	}
	sink.Step(fmt.Sprintf("Test group %q started (cleanup %s)", out.Group, status))
}
