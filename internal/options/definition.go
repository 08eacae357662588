// Package options resolves configuration values across the global, user,
// folder and subscription scopes.
package options

import (
	"encoding/json"
	"fmt"
)

// Flags declares which scopes may hold an explicit override for an option.
type Flags uint8

const (
	FlagUser Flags = 1 << iota
	FlagSubscriptionFolder
	FlagSubscription

	FlagNone Flags = 0
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Definition describes an option. Definitions are declared once as package
// level values and never modified.
type Definition[T any] struct {
	// Key is the persistence identity. An empty key means the option cannot
	// be stored and only resolves from the environment, configuration or
	// default value.
	Key              string
	EnvironmentKey   string
	ConfigurationKey string
	DefaultValue     T
	Flags            Flags
}

// Option is the type-erased view of a Definition.
type Option interface {
	OptionKey() string
	OptionFlags() Flags
	describe() descriptor
}

// OptionKey returns the persistence key.
func (d Definition[T]) OptionKey() string { return d.Key }

// OptionFlags returns the scopes that accept overrides.
func (d Definition[T]) OptionFlags() Flags { return d.Flags }

func (d Definition[T]) describe() descriptor {
	return descriptor{
		key:          d.Key,
		envKey:       d.EnvironmentKey,
		configKey:    d.ConfigurationKey,
		flags:        d.Flags,
		defaultValue: d.DefaultValue,
		decode: func(data []byte) (any, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		encode: func(v any) (string, error) {
			if _, ok := v.(T); !ok {
				return "", fmt.Errorf("option %s: value of type %T", d.Key, v)
			}
			b, err := json.Marshal(v)
			return string(b), err
		},
		fromEnv: func(raw string) (any, error) {
			var v T
			if _, ok := any(v).(string); ok {
				return raw, nil
			}
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		fromConfig: func(src ConfigSource) (any, bool, error) {
			var v T
			ok, err := src.Lookup(d.ConfigurationKey, &v)
			if err != nil || !ok {
				return nil, false, err
			}
			return v, true, nil
		},
	}
}

// descriptor carries everything the resolver needs without the type
// parameter, so the resolution logic is written once.
type descriptor struct {
	key          string
	envKey       string
	configKey    string
	flags        Flags
	defaultValue any

	decode     func(data []byte) (any, error)
	encode     func(v any) (string, error)
	fromEnv    func(raw string) (any, error)
	fromConfig func(src ConfigSource) (any, bool, error)
}

// cacheKey identifies the option in the caches. Options without a key are
// still cached, keyed by where their value comes from.
func (d descriptor) cacheKey() string {
	if d.key != "" {
		return d.key
	}
	return "~env:" + d.envKey + "|cfg:" + d.configKey
}
