package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Platform identity attributes every descriptor must carry.
const (
	AttrPlatformName    = "platformName"
	AttrPlatformVersion = "platformVersion"
	AttrDeviceName      = "deviceName"
	AttrAutomationName  = "automationName"
)

// Descriptor is one device catalog entry: a flat bag of platform attributes.
// Values are strings, booleans or numbers.
type Descriptor struct {
	Name  string
	Attrs map[string]interface{}
}

// Get returns an attribute.
func (d Descriptor) Get(key string) (interface{}, bool) {
	v, ok := d.Attrs[key]
	return v, ok
}

// String returns an attribute formatted as a string, or "" when absent.
func (d Descriptor) String(key string) string {
	v, ok := d.Attrs[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Clone returns a deep copy of the attribute bag.
func (d Descriptor) Clone() Descriptor {
	attrs := make(map[string]interface{}, len(d.Attrs))
	for k, v := range d.Attrs {
		attrs[k] = v
	}
	return Descriptor{Name: d.Name, Attrs: attrs}
}

// DefaultDescriptor is substituted when a device is missing from the catalog.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Name: "default",
		Attrs: map[string]interface{}{
			AttrPlatformName:    "Android",
			AttrPlatformVersion: "11.0",
			AttrDeviceName:      "Android Emulator",
			AttrAutomationName:  "UiAutomator2",
		},
	}
}

// catalogFile is the on-disk shape: devices → environment → device → attributes.
// Attributes stay as nodes so scalars can be read with their literal text.
type catalogFile struct {
	Devices map[string]map[string]map[string]yaml.Node `yaml:"devices"`
}

// identityAttr reports whether key is a platform identity attribute.
func identityAttr(key string) bool {
	switch key {
	case AttrPlatformName, AttrPlatformVersion, AttrDeviceName, AttrAutomationName:
		return true
	}
	return false
}

// attrValue decodes one attribute. Identity attributes and floats keep the
// scalar text as written, so "platformVersion: 11.0" stays "11.0".
func attrValue(key string, n *yaml.Node) (interface{}, error) {
	if n.Kind == yaml.ScalarNode {
		switch {
		case n.Tag == "!!null":
			return nil, nil
		case identityAttr(key), n.Tag == "!!float":
			return n.Value, nil
		}
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f catalogFile) decode() (map[string]map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]map[string]interface{}, len(f.Devices))
	for env, byName := range f.Devices {
		out[env] = make(map[string]map[string]interface{}, len(byName))
		for name, nodes := range byName {
			attrs := make(map[string]interface{}, len(nodes))
			for k := range nodes {
				n := nodes[k]
				v, err := attrValue(k, &n)
				if err != nil {
					return nil, fmt.Errorf("device %s/%s attribute %s: %w", env, name, k, err)
				}
				attrs[k] = v
			}
			out[env][name] = attrs
		}
	}
	return out, nil
}

// Catalog is the parsed device catalog.
type Catalog struct {
	Source  string
	devices map[string]map[string]map[string]interface{}
}

// Lookup returns the descriptor for env/name.
func (c *Catalog) Lookup(env, name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	byEnv, ok := c.devices[env]
	if !ok {
		return Descriptor{}, false
	}
	attrs, ok := byEnv[name]
	if !ok {
		return Descriptor{}, false
	}
	d := Descriptor{Name: name, Attrs: attrs}
	return d.Clone(), true
}

// Names returns the sorted device names for env.
func (c *Catalog) Names(env string) []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.devices[env]))
	for n := range c.devices[env] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// catalogCandidates are tried in order; JSON is decoded by the YAML parser.
var catalogCandidates = []string{"devices.yaml", "devices.yml", "devices.json"}

func readCatalog(dir string) (*Catalog, error) {
	for _, name := range catalogCandidates {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) //#nosec G304 -- catalog from workspace config dir
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		var f catalogFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		devices, err := f.decode()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &Catalog{Source: path, devices: devices}, nil
	}
	return nil, os.ErrNotExist
}

func isCatalogFile(name string) bool {
	for _, c := range catalogCandidates {
		if name == c {
			return true
		}
	}
	return false
}
