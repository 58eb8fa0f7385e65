package interact

import (
	"context"

	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

// Scrolls are best effort: a screen without a scrollable container is
// common, so failures are logged as warnings and reported as false.

// ScrollToText scrolls the first scrollable container until text is in view.
func (p *Primitives) ScrollToText(ctx context.Context, text string) bool {
	p.step("Scrolling to element with text: %s", text)
	return p.scroll(ctx, "scroll to text", scrollIntoViewExpr(text), "text", text)
}

// ScrollForward scrolls the first scrollable container down one page.
func (p *Primitives) ScrollForward(ctx context.Context) bool {
	p.step("Scrolling down")
	return p.scroll(ctx, "scroll forward", scrollForwardExpr())
}

// ScrollBackward scrolls the first scrollable container up one page.
func (p *Primitives) ScrollBackward(ctx context.Context) bool {
	p.step("Scrolling up")
	return p.scroll(ctx, "scroll backward", scrollBackwardExpr())
}

func (p *Primitives) scroll(ctx context.Context, what, expr string, attrs ...any) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Default)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "interact.scroll", telemetry.AttrLocator.String(expr))

	_, err := p.s.FindElement(ctx, StrategyUIAutomator, expr)
	telemetry.EndSpan(span, err)
	if err != nil {
		log.Warn("could not "+what, append(attrs, "error", err)...)
		return false
	}
	log.Debug(what, attrs...)
	return true
}
