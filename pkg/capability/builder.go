package capability

import (
	"strings"

	"github.com/devicelab-dev/mobile-harness/pkg/config"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
)

var log = logger.ForComponent(logger.CompCapability)

// Category is the environment class that selects capability augmentation.
type Category string

const (
	CategoryLocal   Category = "local"
	CategoryCI      Category = "ci"
	CategoryCloud   Category = "cloud"
	CategoryUnknown Category = ""
)

// CategoryFor maps an environment name onto its category.
// "saucelabs" is an alias of cloud.
func CategoryFor(env string) Category {
	switch strings.ToLower(env) {
	case "local":
		return CategoryLocal
	case "ci":
		return CategoryCI
	case "cloud", "saucelabs":
		return CategoryCloud
	}
	return CategoryUnknown
}

// Safety defaults applied last, overriding every other layer.
var safetyDefaults = map[string]interface{}{
	"noReset":           false,
	"fullReset":         false,
	"newCommandTimeout": 300,
	"autoAcceptAlerts":  true,
	"autoDismissAlerts": true,
}

// requiredFields must be present and non-empty after the merge.
var requiredFields = []string{
	config.AttrPlatformName,
	config.AttrPlatformVersion,
	config.AttrDeviceName,
	config.AttrAutomationName,
}

// localFields are descriptor attributes only meaningful on a local or CI host.
var localFields = []string{"avd", "systemPort", "chromeDriverPort"}

// profileFields maps profile keys onto capability names.
var profileFields = []struct{ key, capability string }{
	{"app.path", "app"},
	{"android.app.package", "appPackage"},
	{"android.app.activity", "appActivity"},
}

// Source resolves environment profile values.
type Source interface {
	Get(key, env string) (string, bool)
}

// Builder merges device, profile, environment and default layers.
type Builder struct {
	src  Source
	warn func(error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithWarningHandler receives unknown-category warnings in addition to the log.
func WithWarningHandler(fn func(error)) Option {
	return func(b *Builder) { b.warn = fn }
}

// NewBuilder creates a builder reading profile values from src.
func NewBuilder(src Source, opts ...Option) *Builder {
	b := &Builder{src: src}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build merges the layers for env and desc. Later layers override earlier:
// common platform fields, device fields, profile app fields, environment
// augmentation, safety defaults. It fails only when a platform identity
// field is missing after the merge.
func (b *Builder) Build(env string, desc config.Descriptor) (Capabilities, error) {
	caps := make(map[string]interface{})

	for _, k := range requiredFields {
		if v, ok := desc.Get(k); ok && v != nil {
			caps[k] = v
		}
	}

	for k, v := range desc.Attrs {
		if isLocalField(k) || v == nil {
			continue
		}
		if _, common := caps[k]; common {
			continue
		}
		caps[k] = v
	}

	for _, f := range profileFields {
		if v, ok := b.src.Get(f.key, env); ok && v != "" {
			caps[f.capability] = v
		}
	}

	switch CategoryFor(env) {
	case CategoryLocal:
		addLocal(caps, desc)
	case CategoryCI:
		caps["isHeadless"] = true
		caps["enableVNC"] = true
		caps["enableVideo"] = true
		addLocal(caps, desc)
	case CategoryCloud:
		if opts, ok := b.sauceOptions(env); ok {
			caps["sauce:options"] = opts
		} else {
			log.Info("cloud credentials absent, omitting sauce:options", "env", env)
		}
	default:
		err := core.ErrConfigMissing.WithMessage("unknown environment category, using baseline capabilities").WithDetails(map[string]interface{}{
			"env": env,
		})
		log.Warn(err.Error(), "env", env)
		if b.warn != nil {
			b.warn(err)
		}
	}

	for k, v := range safetyDefaults {
		caps[k] = v
	}

	if missing := missingFields(caps); len(missing) > 0 {
		return Capabilities{}, core.ErrCapabilityBuild.WithDetails(map[string]interface{}{
			"env":     env,
			"device":  desc.Name,
			"missing": missing,
		})
	}

	log.Debug("built capabilities", "env", env, "device", desc.Name, "count", len(caps))
	return Capabilities{env: env, device: desc.Name, values: caps}, nil
}

func addLocal(caps map[string]interface{}, desc config.Descriptor) {
	for _, k := range localFields {
		if v, ok := desc.Get(k); ok && v != nil {
			caps[k] = v
		}
	}
}

// sauceOptions builds the cloud auth block. It is omitted unless the
// username resolves to a real value.
func (b *Builder) sauceOptions(env string) (map[string]interface{}, bool) {
	username, ok := b.src.Get("sauce.username", env)
	if !ok || strings.TrimSpace(username) == "" || config.IsUnresolved(username) {
		return nil, false
	}

	get := func(key string) string {
		v, _ := b.src.Get(key, env)
		return v
	}
	flag := func(key string) bool {
		return strings.EqualFold(strings.TrimSpace(get(key)), "true")
	}

	opts := map[string]interface{}{
		"username":           username,
		"accessKey":          get("sauce.access.key"),
		"build":              get("sauce.build.name"),
		"name":               get("sauce.test.name"),
		"tags":               splitTags(get("sauce.tags")),
		"videoUploadOnPass":  flag("sauce.video.upload.on.pass"),
		"screenshotEnabled":  flag("sauce.screenshot.enabled"),
		"extendedDebugging":  flag("sauce.extended.debugging"),
		"capturePerformance": flag("sauce.capture.performance"),
	}
	return opts, true
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func isLocalField(k string) bool {
	for _, f := range localFields {
		if f == k {
			return true
		}
	}
	return false
}

func missingFields(caps map[string]interface{}) []string {
	var missing []string
	for _, k := range requiredFields {
		v, ok := caps[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}
