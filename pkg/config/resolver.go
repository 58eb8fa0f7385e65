package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
)

var log = logger.ForComponent(logger.CompConfig)

// placeholder matches ${NAME} indirection markers.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolver loads environment profiles and the device catalog and resolves
// ${NAME} indirection against process variables on every read, so rotated
// secrets are picked up without a reload.
type Resolver struct {
	dir    string
	lookup func(string) (string, bool)
	warn   func(error)

	mu       sync.RWMutex
	profiles map[string]*Profile
	catalog  *Catalog
	loaded   bool // catalog load attempted
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupEnv replaces os.LookupEnv for indirection (for testing).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithWarningHandler receives every soft ConfigMissing error in addition to the log.
func WithWarningHandler(fn func(error)) Option {
	return func(r *Resolver) { r.warn = fn }
}

// NewResolver creates a resolver reading profiles and the catalog from dir.
// Nothing is read until first use.
func NewResolver(dir string, opts ...Option) *Resolver {
	r := &Resolver{
		dir:      dir,
		lookup:   os.LookupEnv,
		profiles: make(map[string]*Profile),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the configuration directory.
func (r *Resolver) Dir() string {
	return r.dir
}

func (r *Resolver) warning(err *core.ExecutionError) {
	log.Warn(err.Error(), "code", err.Code, "details", err.Details)
	if r.warn != nil {
		r.warn(err)
	}
}

// Load (re)reads the profile for env. A missing or unreadable file yields an
// empty profile and a warning; it is never fatal.
func (r *Resolver) Load(env string) *Profile {
	p, err := readProfile(r.dir, env)
	if err != nil {
		msg := "environment profile not found"
		if !errors.Is(err, os.ErrNotExist) {
			msg = "environment profile unreadable"
		}
		r.warning(core.ErrConfigMissing.WithMessage(msg).WithCause(err).WithDetails(map[string]interface{}{
			"env":  env,
			"path": profilePath(r.dir, env),
		}))
		p = NewProfile(env, nil)
	} else {
		log.Info("loaded environment profile", "env", env, "keys", p.Len(), "path", p.Source)
	}

	r.mu.Lock()
	r.profiles[env] = p
	r.mu.Unlock()
	return p
}

// Profile returns the cached profile for env, loading it on first use.
func (r *Resolver) Profile(env string) *Profile {
	r.mu.RLock()
	p, ok := r.profiles[env]
	r.mu.RUnlock()
	if ok {
		return p
	}
	return r.Load(env)
}

// Get returns the resolved value for key in env. The bool is false when the
// key is missing. Placeholders whose variable is undefined are returned
// literally and reported as a warning.
func (r *Resolver) Get(key, env string) (string, bool) {
	raw, ok := r.Profile(env).Raw(key)
	if !ok {
		return "", false
	}
	return r.expand(key, env, raw), true
}

func (r *Resolver) expand(key, env, raw string) string {
	if !strings.Contains(raw, "${") {
		return raw
	}
	return placeholder.ReplaceAllStringFunc(raw, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := r.lookup(name); ok {
			return v
		}
		r.warning(core.ErrConfigMissing.WithMessage("environment variable not found").WithDetails(map[string]interface{}{
			"variable": name,
			"key":      key,
			"env":      env,
		}))
		return m
	})
}

// GetDefault returns the resolved value or def when the key is missing.
func (r *Resolver) GetDefault(key, env, def string) string {
	if v, ok := r.Get(key, env); ok {
		return v
	}
	return def
}

// GetInt returns the value parsed as an int, or def when missing or malformed.
func (r *Resolver) GetInt(key, env string, def int) int {
	v, ok := r.Get(key, env)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.warning(core.ErrConfigMissing.WithMessage("value is not an integer").WithCause(err).WithDetails(map[string]interface{}{
			"key": key,
			"env": env,
		}))
		return def
	}
	return n
}

// GetBool returns the value parsed as a bool; anything but "true" is false.
func (r *Resolver) GetBool(key, env string) bool {
	v, _ := r.Get(key, env)
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// Has reports whether key exists in env.
func (r *Resolver) Has(key, env string) bool {
	_, ok := r.Profile(env).Raw(key)
	return ok
}

// All returns every key of env with placeholders resolved.
func (r *Resolver) All(env string) map[string]string {
	p := r.Profile(env)
	out := make(map[string]string, p.Len())
	for _, k := range p.Keys() {
		raw, _ := p.Raw(k)
		out[k] = r.expand(k, env, raw)
	}
	return out
}

// IsUnresolved reports whether v still contains a ${NAME} marker.
func IsUnresolved(v string) bool {
	return placeholder.MatchString(v)
}

// LoadCatalog (re)reads the device catalog. A missing catalog is a warning.
func (r *Resolver) LoadCatalog() *Catalog {
	c, err := readCatalog(r.dir)
	if err != nil {
		r.warning(core.ErrConfigMissing.WithMessage("device catalog not found").WithCause(err).WithDetails(map[string]interface{}{
			"dir": r.dir,
		}))
		c = nil
	} else {
		log.Info("loaded device catalog", "path", c.Source)
	}

	r.mu.Lock()
	r.catalog = c
	r.loaded = true
	r.mu.Unlock()
	return c
}

func (r *Resolver) currentCatalog() *Catalog {
	r.mu.RLock()
	c, loaded := r.catalog, r.loaded
	r.mu.RUnlock()
	if loaded {
		return c
	}
	return r.LoadCatalog()
}

// DeviceDescriptor returns the catalog entry for env/name. The bool is false
// when the device is unknown, so callers can substitute DefaultDescriptor.
func (r *Resolver) DeviceDescriptor(env, name string) (Descriptor, bool) {
	d, ok := r.currentCatalog().Lookup(env, name)
	if !ok {
		r.warning(core.ErrConfigMissing.WithMessage("device configuration not found").WithDetails(map[string]interface{}{
			"env":    env,
			"device": name,
		}))
	}
	return d, ok
}

// AvailableDevices returns the device names defined for env.
func (r *Resolver) AvailableDevices(env string) []string {
	return r.currentCatalog().Names(env)
}
