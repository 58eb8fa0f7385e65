package remote

import "strings"

// w3cStandardCaps pass through unprefixed; everything else is a vendor extension.
var w3cStandardCaps = map[string]bool{
	"platformName":              true,
	"browserName":               true,
	"browserVersion":            true,
	"acceptInsecureCerts":       true,
	"pageLoadStrategy":          true,
	"proxy":                     true,
	"setWindowRect":             true,
	"timeouts":                  true,
	"strictFileInteractability": true,
	"unhandledPromptBehavior":   true,
	"webSocketUrl":              true,
}

// AppiumPrefix is the vendor prefix for non-standard capabilities.
const AppiumPrefix = "appium:"

// EncodeCapabilities returns a copy of caps with every non-standard key
// carrying the appium: prefix. Keys that already have a vendor prefix
// (sauce:options) are kept as is.
func EncodeCapabilities(caps map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(caps))
	for k, v := range caps {
		out[encodeKey(k)] = v
	}
	return out
}

func encodeKey(k string) string {
	if w3cStandardCaps[k] || strings.Contains(k, ":") {
		return k
	}
	return AppiumPrefix + k
}
