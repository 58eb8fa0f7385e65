package interact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/remote"
	"github.com/devicelab-dev/mobile-harness/pkg/report"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

var log = logger.ForComponent(logger.CompInteract)

// Default timeouts.
const (
	DefaultTimeout      = 15 * time.Second
	ShortTimeout        = 5 * time.Second
	LongTimeout         = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Timeouts bound every wait performed by Primitives.
type Timeouts struct {
	Default time.Duration // WaitVisible with no explicit bound, Click, TypeText
	Probe   time.Duration // Probe, QueryDisplayed, IsEnabled
	Long    time.Duration // WaitGone and WaitForActivity with no explicit bound
	Poll    time.Duration // interval between lookups
}

// DefaultTimeouts returns 15s waits, 5s probes, 30s long waits and a 250ms poll.
func DefaultTimeouts() Timeouts {
	return Timeouts{Default: DefaultTimeout, Probe: ShortTimeout, Long: LongTimeout, Poll: DefaultPollInterval}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Default <= 0 {
		t.Default = d.Default
	}
	if t.Probe <= 0 {
		t.Probe = d.Probe
	}
	if t.Long <= 0 {
		t.Long = d.Long
	}
	if t.Poll <= 0 {
		t.Poll = d.Poll
	}
	return t
}

// Primitives performs element waits and actions against one session.
type Primitives struct {
	s        remote.Session
	timeouts Timeouts
	steps    report.Sink
}

// Option configures Primitives.
type Option func(*Primitives)

// WithSteps records every user-level action as a report step.
func WithSteps(sink report.Sink) Option {
	return func(p *Primitives) { p.steps = sink }
}

// New binds primitives to a session. Zero timeout fields take defaults.
func New(s remote.Session, t Timeouts, opts ...Option) *Primitives {
	p := &Primitives{s: s, timeouts: t.withDefaults(), steps: report.Discard}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Primitives) step(format string, args ...interface{}) {
	p.steps.Step(fmt.Sprintf(format, args...))
}

// Timeouts returns the effective timeouts.
func (p *Primitives) Timeouts() Timeouts {
	return p.timeouts
}

// observation is the result of one lookup.
type observation struct {
	id        string
	displayed bool
	err       error // nil, ErrNoSuchElement, ErrStaleElement or a fault
}

// errLookupCutShort replaces the error of a lookup that the wait bound
// interrupted. The server may still have been inside its implicit wait, so
// the element counts as absent rather than as a fault.
var errLookupCutShort = errors.New("lookup did not finish within the wait bound")

func (o observation) absent() bool {
	return errors.Is(o.err, remote.ErrNoSuchElement) ||
		errors.Is(o.err, remote.ErrStaleElement) ||
		errors.Is(o.err, errLookupCutShort)
}

func (p *Primitives) observe(ctx context.Context, loc Locator) observation {
	id, err := p.s.FindElement(ctx, loc.Strategy, loc.Value)
	if err != nil {
		return observation{err: err}
	}
	shown, err := p.s.Displayed(ctx, id)
	if err != nil {
		return observation{id: id, err: err}
	}
	return observation{id: id, displayed: shown}
}

// poll observes loc until done reports true or the bound elapses. It returns
// the last observation and whether done was satisfied.
func (p *Primitives) poll(parent context.Context, loc Locator, timeout time.Duration, done func(context.Context, observation) bool) (observation, bool) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(p.timeouts.Poll), 1)
	var last observation
	for {
		if err := limiter.Wait(ctx); err != nil {
			if last == (observation{}) {
				last.err = err
			}
			return last, false
		}
		obs := p.observe(ctx, loc)
		if done(ctx, obs) {
			return obs, true
		}
		if ctx.Err() != nil {
			// Only our own bound expired; the caller did not cancel.
			if parent.Err() == nil && obs.err != nil && errors.Is(obs.err, ctx.Err()) {
				obs = observation{err: errLookupCutShort}
			}
			if last == (observation{}) {
				last = obs
			}
			return last, false
		}
		last = obs
	}
}

// WaitVisible waits until loc is displayed and returns its element id.
// A non-positive timeout uses the default bound.
func (p *Primitives) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = p.timeouts.Default
	}

	start := time.Now()
	obs, ok := p.poll(ctx, loc, timeout, visible)
	if ok {
		telemetry.ElementWait.WithLabelValues("found").Observe(time.Since(start).Seconds())
		return obs.id, nil
	}
	telemetry.ElementWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())

	details := map[string]interface{}{
		"locator": loc.String(),
		"timeout": timeout.String(),
	}
	if obs.id != "" && obs.err == nil {
		details["state"] = "hidden"
	}
	return "", core.ErrElementNotFound.WithCause(obs.err).WithDetails(details)
}

func visible(_ context.Context, o observation) bool {
	return o.err == nil && o.displayed
}

// WaitClickable waits until loc is displayed and enabled and returns its
// element id. A non-positive timeout uses the default bound.
func (p *Primitives) WaitClickable(ctx context.Context, loc Locator, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = p.timeouts.Default
	}

	disabled := false
	start := time.Now()
	obs, ok := p.poll(ctx, loc, timeout, func(ctx context.Context, o observation) bool {
		if !visible(ctx, o) {
			disabled = false
			return false
		}
		enabled, err := p.s.Enabled(ctx, o.id)
		disabled = err == nil && !enabled
		return err == nil && enabled
	})
	if ok {
		telemetry.ElementWait.WithLabelValues("found").Observe(time.Since(start).Seconds())
		return obs.id, nil
	}
	telemetry.ElementWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())

	details := map[string]interface{}{
		"locator": loc.String(),
		"timeout": timeout.String(),
	}
	switch {
	case disabled:
		details["state"] = "disabled"
	case obs.id != "" && obs.err == nil:
		details["state"] = "hidden"
	}
	return "", core.ErrElementNotFound.WithMessage("element not clickable").WithCause(obs.err).WithDetails(details)
}

// Click waits until loc is clickable and clicks it.
func (p *Primitives) Click(ctx context.Context, loc Locator) error {
	ctx, span := telemetry.StartSpan(ctx, "interact.click", telemetry.AttrLocator.String(loc.String()))
	err := p.click(ctx, loc)
	telemetry.EndSpan(span, err)
	return err
}

func (p *Primitives) click(ctx context.Context, loc Locator) error {
	p.step("Clicking on %s", loc)
	id, err := p.WaitClickable(ctx, loc, 0)
	if err != nil {
		log.Error("click target not clickable", "locator", loc.String(), "error", err)
		return err
	}
	if err := p.s.Click(ctx, id); err != nil {
		log.Error("click failed", "locator", loc.String(), "error", err)
		return core.ErrActionFailed.WithMessage("click failed").WithCause(err).WithDetails(map[string]interface{}{
			"locator": loc.String(),
		})
	}
	log.Debug("clicked", "locator", loc.String())
	return nil
}

// TypeText waits for loc, clears it and enters text.
func (p *Primitives) TypeText(ctx context.Context, loc Locator, text string) error {
	ctx, span := telemetry.StartSpan(ctx, "interact.type", telemetry.AttrLocator.String(loc.String()))
	err := p.typeText(ctx, loc, text)
	telemetry.EndSpan(span, err)
	return err
}

func (p *Primitives) typeText(ctx context.Context, loc Locator, text string) error {
	details := map[string]interface{}{"locator": loc.String()}

	p.step("Entering text into %s", loc)
	id, err := p.WaitVisible(ctx, loc, 0)
	if err != nil {
		log.Error("input target not visible", "locator", loc.String(), "error", err)
		return core.ErrInputFailed.WithMessage("input target could not be focused").WithCause(err).WithDetails(details)
	}
	if err := p.s.Clear(ctx, id); err != nil {
		log.Error("clear failed", "locator", loc.String(), "error", err)
		return core.ErrInputFailed.WithMessage("could not clear input").WithCause(err).WithDetails(details)
	}
	if err := p.s.SendKeys(ctx, id, text); err != nil {
		log.Error("send keys failed", "locator", loc.String(), "error", err)
		return core.ErrInputFailed.WithCause(err).WithDetails(details)
	}
	log.Debug("entered text", "locator", loc.String(), "length", len(text))
	return nil
}

// Text returns the text of loc once visible, or "" on any failure.
func (p *Primitives) Text(ctx context.Context, loc Locator) string {
	text, err := p.TextE(ctx, loc)
	if err != nil {
		log.Error("failed to get text", "locator", loc.String(), "error", err)
		return ""
	}
	return text
}

// TextE is Text with the error returned.
func (p *Primitives) TextE(ctx context.Context, loc Locator) (string, error) {
	p.step("Getting text from %s", loc)
	id, err := p.WaitVisible(ctx, loc, 0)
	if err != nil {
		return "", err
	}
	text, err := p.s.Text(ctx, id)
	if err != nil {
		return "", core.ErrActionFailed.WithMessage("get text failed").WithCause(err).WithDetails(map[string]interface{}{
			"locator": loc.String(),
		})
	}
	return text, nil
}

// WaitGone waits until loc is absent or hidden. A non-positive timeout uses
// the long bound.
func (p *Primitives) WaitGone(ctx context.Context, loc Locator, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.timeouts.Long
	}
	_, ok := p.poll(ctx, loc, timeout, func(_ context.Context, o observation) bool {
		return o.absent() || (o.err == nil && !o.displayed)
	})
	if ok {
		return nil
	}
	return core.ErrActionFailed.WithMessage("element still visible").WithDetails(map[string]interface{}{
		"locator": loc.String(),
		"timeout": timeout.String(),
	})
}

// HideKeyboard hides the soft keyboard. Failures are ignored.
func (p *Primitives) HideKeyboard(ctx context.Context) {
	p.step("Hiding keyboard")
	if err := p.s.HideKeyboard(ctx); err != nil {
		log.Debug("keyboard was not visible or could not be hidden", "error", err)
	}
}

// Back presses the device back button.
func (p *Primitives) Back(ctx context.Context) error {
	p.step("Pressing back button")
	if err := p.s.Back(ctx); err != nil {
		return core.ErrActionFailed.WithMessage("back navigation failed").WithCause(err)
	}
	return nil
}

// CurrentActivity returns the foreground Android activity, or "" when it
// cannot be read.
func (p *Primitives) CurrentActivity(ctx context.Context) string {
	activity, err := p.s.CurrentActivity(ctx)
	if err != nil {
		log.Error("failed to get current activity", "error", err)
		return ""
	}
	log.Debug("current activity", "activity", activity)
	return activity
}

// WaitForActivity polls until activity is in the foreground. A non-positive
// timeout uses the long bound. It reports false on timeout.
func (p *Primitives) WaitForActivity(ctx context.Context, activity string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = p.timeouts.Long
	}
	p.step("Waiting for activity %s", activity)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(p.timeouts.Poll), 1)
	for limiter.Wait(ctx) == nil {
		if current, err := p.s.CurrentActivity(ctx); err == nil && current == activity {
			log.Debug("activity is now active", "activity", activity)
			return true
		}
	}
	log.Warn("activity not reached", "activity", activity, "timeout", timeout.String())
	return false
}
