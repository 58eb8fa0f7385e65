package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profile is the flat key/value settings of one environment.
// Values are stored raw; ${NAME} indirection is resolved by Resolver.Get.
type Profile struct {
	Name   string
	Source string // file the profile was read from, empty when missing
	values map[string]string
}

// NewProfile builds a profile from already-flat values.
func NewProfile(name string, values map[string]string) *Profile {
	p := &Profile{Name: name, values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// Raw returns the unresolved value for key.
func (p *Profile) Raw(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the profile keys in sorted order.
func (p *Profile) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (p *Profile) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// profilePath returns <dir>/<env>.toml.
func profilePath(dir, env string) string {
	return filepath.Join(dir, env+".toml")
}

// readProfile parses a TOML profile and flattens nested tables into dotted keys,
// so `appium.server.url = "..."` and `[appium.server] url = "..."` are equivalent.
func readProfile(dir, env string) (*Profile, error) {
	path := profilePath(dir, env)
	data, err := os.ReadFile(path) //#nosec G304 -- profile from workspace config dir
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	p := &Profile{Name: env, Source: path, values: make(map[string]string)}
	flatten("", raw, p.values)
	return p, nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
