// Package params holds model parameters loaded from YAML, with typed
// accessors that fall back to defaults and track which keys were read.
package params

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Params struct {
	Name string

	vals map[string]any
	used map[string]bool
}

// New wraps an in-memory parameter map.
func New(name string, vals map[string]any) *Params {
	if vals == nil {
		vals = map[string]any{}
	}
	return &Params{Name: name, vals: vals, used: map[string]bool{}}
}

// Load reads a YAML parameter file.
// The parameter set is named after the file.
func Load(fpath string) (*Params, error) {
	b, err := os.ReadFile(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	name := strings.TrimSuffix(filepath.Base(fpath), filepath.Ext(fpath))
	p, err := FromYAML(name, b)
	if err != nil {
		return nil, errors.Wrap(err, fpath)
	}
	return p, nil
}

func FromYAML(name string, b []byte) (*Params, error) {
	vals := map[string]any{}
	if err := yaml.Unmarshal(b, &vals); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return New(name, vals), nil
}

func (p *Params) Has(key string) bool {
	_, ok := p.vals[key]
	return ok
}

// GetFloat returns the parameter key, or deflt if it is absent.
func (p *Params) GetFloat(key string, deflt float64) (float64, error) {
	v, ok := p.vals[key]
	if !ok {
		return deflt, nil
	}
	p.used[key] = true
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, errors.Errorf("%s.%s is %T, not a number", p.Name, key, v)
	}
}

// GetComplex returns the parameter key, or deflt if it is absent.
// Complex values are written as strings such as "1+2i".
func (p *Params) GetComplex(key string, deflt complex128) (complex128, error) {
	v, ok := p.vals[key]
	if !ok {
		return deflt, nil
	}
	p.used[key] = true
	switch x := v.(type) {
	case float64:
		return complex(x, 0), nil
	case int:
		return complex(float64(x), 0), nil
	case string:
		c, err := strconv.ParseComplex(x, 128)
		if err != nil {
			return 0, errors.Wrap(err, key)
		}
		return c, nil
	default:
		return 0, errors.Errorf("%s.%s is %T, not a number", p.Name, key, v)
	}
}

// GetInt returns the parameter key, or deflt if it is absent.
func (p *Params) GetInt(key string, deflt int) (int, error) {
	v, ok := p.vals[key]
	if !ok {
		return deflt, nil
	}
	p.used[key] = true
	x, ok := v.(int)
	if !ok {
		return 0, errors.Errorf("%s.%s is %T, not an integer", p.Name, key, v)
	}
	return x, nil
}

// GetString returns the parameter key, or deflt if it is absent.
func (p *Params) GetString(key string, deflt string) (string, error) {
	v, ok := p.vals[key]
	if !ok {
		return deflt, nil
	}
	p.used[key] = true
	x, ok := v.(string)
	if !ok {
		return "", errors.Errorf("%s.%s is %T, not a string", p.Name, key, v)
	}
	return x, nil
}

// GetBool returns the parameter key, or deflt if it is absent.
func (p *Params) GetBool(key string, deflt bool) (bool, error) {
	v, ok := p.vals[key]
	if !ok {
		return deflt, nil
	}
	p.used[key] = true
	x, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("%s.%s is %T, not a bool", p.Name, key, v)
	}
	return x, nil
}

// Unused lists the keys that have never been read, usually misspellings.
func (p *Params) Unused() []string {
	keys := make([]string, 0)
	for k := range p.vals {
		if !p.used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// WarnUnused logs the keys that have never been read.
func (p *Params) WarnUnused() {
	for _, k := range p.Unused() {
		log.Printf("unused parameter %s.%s", p.Name, k)
	}
}
