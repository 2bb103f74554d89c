// Package settings implements the typed, validated, replicated configuration
// store. User-scoped values replicate across devices through the sync
// engine; platform-scoped values stay local to the installation.
package settings

import (
	"fmt"
	"math"
	"sort"

	"github.com/accessmate/accessmate/internal/common"
)

// Type enumerates the value types a setting may hold.
type Type string

const (
	TypeBool   Type = "bool"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeString Type = "string"
	TypeEnum   Type = "enum"
	TypeList   Type = "list"
	TypeDict   Type = "dict"
)

// Definition is a static schema entry. The full table is fixed at build time.
type Definition struct {
	Key              string
	Type             Type
	Default          any
	PlatformSpecific bool
	RequiresRestart  bool
	Choices          []string
	Min              float64
	Max              float64
	HasRange         bool
}

// Normalize validates v against the definition and returns the value in its
// canonical in-memory form (ints as int, floats as float64). JSON-decoded
// numbers arrive as float64 and are accepted for int keys when integral.
func (d Definition) Normalize(v any) (any, error) {
	switch d.Type {
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects bool, got %T", common.ErrValidation, d.Key, v)
		}
		return b, nil

	case TypeInt:
		var n int
		switch val := v.(type) {
		case int:
			n = val
		case int64:
			n = int(val)
		case float64:
			if val != math.Trunc(val) {
				return nil, fmt.Errorf("%w: %s expects integer, got %v", common.ErrValidation, d.Key, val)
			}
			n = int(val)
		default:
			return nil, fmt.Errorf("%w: %s expects int, got %T", common.ErrValidation, d.Key, v)
		}
		if d.HasRange && (float64(n) < d.Min || float64(n) > d.Max) {
			return nil, fmt.Errorf("%w: %s=%d outside [%v, %v]", common.ErrValidation, d.Key, n, d.Min, d.Max)
		}
		return n, nil

	case TypeFloat:
		var f float64
		switch val := v.(type) {
		case float64:
			f = val
		case int:
			f = float64(val)
		default:
			return nil, fmt.Errorf("%w: %s expects float, got %T", common.ErrValidation, d.Key, v)
		}
		if d.HasRange && (f < d.Min || f > d.Max) {
			return nil, fmt.Errorf("%w: %s=%v outside [%v, %v]", common.ErrValidation, d.Key, f, d.Min, d.Max)
		}
		return f, nil

	case TypeString, TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects string, got %T", common.ErrValidation, d.Key, v)
		}
		if len(d.Choices) > 0 {
			for _, c := range d.Choices {
				if c == s {
					return s, nil
				}
			}
			return nil, fmt.Errorf("%w: %s=%q not in %v", common.ErrValidation, d.Key, s, d.Choices)
		}
		return s, nil

	case TypeList:
		l, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects list, got %T", common.ErrValidation, d.Key, v)
		}
		return l, nil

	case TypeDict:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects dict, got %T", common.ErrValidation, d.Key, v)
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %s has unknown type %q", common.ErrValidation, d.Key, d.Type)
}

func boolDef(key string, def bool) Definition {
	return Definition{Key: key, Type: TypeBool, Default: def}
}

func stringDef(key, def string, choices ...string) Definition {
	return Definition{Key: key, Type: TypeString, Default: def, Choices: choices}
}

func rangeInt(key string, def int, min, max float64) Definition {
	return Definition{Key: key, Type: TypeInt, Default: def, Min: min, Max: max, HasRange: true}
}

func rangeFloat(key string, def, min, max float64) Definition {
	return Definition{Key: key, Type: TypeFloat, Default: def, Min: min, Max: max, HasRange: true}
}

func restart(d Definition) Definition {
	d.RequiresRestart = true
	return d
}

func platformScoped(d Definition) Definition {
	d.PlatformSpecific = true
	return d
}

// definitions is the canonical schema table.
var definitions = buildDefinitions()

func buildDefinitions() map[string]Definition {
	defs := []Definition{
		stringDef("app_language", "en", "en", "es", "fr", "de", "it", "pt", "zh", "ja"),
		stringDef("app_theme", "auto", "light", "dark", "auto", "high_contrast"),
		stringDef("startup_behavior", "automatic", "manual", "automatic", "restore_session"),

		restart(boolDef("enable_screen_reader", true)),
		rangeFloat("screen_reader_voice_speed", 1.0, 0.5, 3.0),
		boolDef("high_contrast_mode", false),
		boolDef("large_text_mode", false),
		boolDef("voice_navigation", false),

		boolDef("enable_speech_recognition", true),
		stringDef("speech_language", "en-US"),
		stringDef("tts_voice", "default"),
		rangeFloat("tts_speed", 1.0, 0.5, 2.0),

		boolDef("auto_translate", true),
		stringDef("translation_target_language", "en"),
		boolDef("enable_ocr", true),
		boolDef("enable_web_scraping", true),

		restart(boolDef("enable_cloud_sync", true)),
		rangeInt("sync_frequency", 5, 1, 60),
		boolDef("sync_on_startup", true),
		boolDef("cross_device_clipboard", true),

		boolDef("data_collection_consent", false),
		boolDef("crash_reporting", true),
		boolDef("usage_analytics", false),
		restart(boolDef("debug_mode", false)),
		stringDef("log_level", "INFO", "DEBUG", "INFO", "WARNING", "ERROR"),
		boolDef("automatic_updates", true),

		platformScoped(boolDef("integrate_with_narrator", false)),
		platformScoped(boolDef("integrate_with_voiceover", false)),
		platformScoped(boolDef("integrate_with_orca", false)),
	}

	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Key] = d
	}
	return m
}

// Lookup returns the definition for key, or common.ErrUnknownKey.
func Lookup(key string) (Definition, error) {
	d, ok := definitions[key]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", common.ErrUnknownKey, key)
	}
	return d, nil
}

// Keys returns all defined setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
