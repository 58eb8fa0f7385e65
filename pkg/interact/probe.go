package interact

import (
	"context"

	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

// Probe is the observed state of an element. Fault means the lookup itself
// failed, so nothing is known about the element.
type Probe int

const (
	Absent Probe = iota
	Displayed
	Hidden
	Fault
)

func (p Probe) String() string {
	switch p {
	case Displayed:
		return "displayed"
	case Hidden:
		return "hidden"
	case Absent:
		return "absent"
	case Fault:
		return "fault"
	}
	return "unknown"
}

// ProbeResult carries the state and, for Fault, the cause.
type ProbeResult struct {
	State Probe
	Err   error
}

// Probe waits up to the probe timeout for loc to be displayed and reports
// what it last saw. It never returns an error; faults are part of the result.
func (p *Primitives) Probe(ctx context.Context, loc Locator) ProbeResult {
	obs, ok := p.poll(ctx, loc, p.timeouts.Probe, visible)

	var res ProbeResult
	switch {
	case ok:
		res = ProbeResult{State: Displayed}
	case obs.err == nil && obs.id != "":
		res = ProbeResult{State: Hidden}
	case obs.absent():
		res = ProbeResult{State: Absent}
	default:
		res = ProbeResult{State: Fault, Err: obs.err}
	}

	telemetry.Probes.WithLabelValues(res.State.String()).Inc()
	if res.State == Fault {
		log.Warn("probe fault", "locator", loc.String(), "error", res.Err)
	} else {
		log.Debug("probe", "locator", loc.String(), "state", res.State.String())
	}
	return res
}

// QueryDisplayed reports whether loc is displayed. Absent, hidden, stale and
// faulted lookups are all false.
func (p *Primitives) QueryDisplayed(ctx context.Context, loc Locator) bool {
	return p.Probe(ctx, loc).State == Displayed
}

// IsEnabled reports whether loc is visible and enabled. Failures are false.
func (p *Primitives) IsEnabled(ctx context.Context, loc Locator) bool {
	id, err := p.WaitVisible(ctx, loc, p.timeouts.Probe)
	if err != nil {
		log.Debug("element is not enabled or not found", "locator", loc.String())
		return false
	}
	enabled, err := p.s.Enabled(ctx, id)
	if err != nil {
		log.Debug("enabled check failed", "locator", loc.String(), "error", err)
		return false
	}
	return enabled
}
