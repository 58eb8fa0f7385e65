// Package interact provides bounded-wait element probes and actions shared by all screens.
package interact

import (
	"fmt"
	"strings"
)

// Locator strategies understood by the automation server.
const (
	StrategyAccessibilityID = "accessibility id"
	StrategyID              = "id"
	StrategyXPath           = "xpath"
	StrategyUIAutomator     = "-android uiautomator"
)

// Locator identifies an element on screen. Screens declare their locators as
// plain data and pass them to Primitives.
type Locator struct {
	Strategy string
	Value    string
	Name     string // human-readable label for logs and errors
}

// String returns the label, or strategy=value when unnamed.
func (l Locator) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("%s=%s", l.Strategy, l.Value)
}

// Named returns a copy of l with a label.
func (l Locator) Named(name string) Locator {
	l.Name = name
	return l
}

// ByAccessibilityID locates by content-desc / accessibility identifier.
func ByAccessibilityID(id string) Locator {
	return Locator{Strategy: StrategyAccessibilityID, Value: id}
}

// ByID locates by resource id.
func ByID(id string) Locator {
	return Locator{Strategy: StrategyID, Value: id}
}

// ByXPath locates by XPath over the view hierarchy.
func ByXPath(xpath string) Locator {
	return Locator{Strategy: StrategyXPath, Value: xpath}
}

// ByUIAutomator locates with a raw UiSelector expression.
func ByUIAutomator(expr string) Locator {
	return Locator{Strategy: StrategyUIAutomator, Value: expr}
}

// ByText locates by exact visible text.
func ByText(text string) Locator {
	return ByUIAutomator(fmt.Sprintf("new UiSelector().text(%s)", quoteJava(text)))
}

// quoteJava quotes s as a Java string literal for UiSelector expressions.
func quoteJava(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

const scrollable = "new UiScrollable(new UiSelector().scrollable(true))"

func scrollIntoViewExpr(text string) string {
	return fmt.Sprintf("%s.scrollIntoView(new UiSelector().text(%s))", scrollable, quoteJava(text))
}

func scrollForwardExpr() string {
	return scrollable + ".scrollForward()"
}

func scrollBackwardExpr() string {
	return scrollable + ".scrollBackward()"
}
