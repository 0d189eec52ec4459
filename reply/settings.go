package reply

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// MetaMode controls how much tool and status traffic reaches the channel.
type MetaMode string

const (
	MetaOff     MetaMode = "off"
	MetaMinimal MetaMode = "minimal"
	MetaVerbose MetaMode = "verbose"
)

// DeliveryMode controls when buffered text is released.
type DeliveryMode string

const (
	// DeliveryLive releases chunks as they fill or go idle.
	DeliveryLive DeliveryMode = "live"
	// DeliveryFinalOnly withholds all text until the turn ends.
	DeliveryFinalOnly DeliveryMode = "final_only"
)

// Defaults and bounds for Settings.
const (
	DefaultCoalesceIdle         = 350 * time.Millisecond
	DefaultMaxChunkChars        = 1800
	DefaultMaxTurnChars         = 24000
	DefaultMaxToolSummaryChars  = 320
	DefaultMaxStatusChars       = 320
	DefaultMaxMetaEventsPerTurn = 64

	maxCoalesceIdleMs = 5000
)

// Config is the on-disk shape of the projection settings. Every field is
// optional; Resolve fills in defaults and clamps out-of-range values.
type Config struct {
	CoalesceIdleMs       *int            `yaml:"coalesceIdleMs,omitempty" json:"coalesceIdleMs,omitempty" jsonschema:"minimum=0,maximum=5000,default=350,description=Idle gap in milliseconds before buffered text is sent"`
	MaxChunkChars        *int            `yaml:"maxChunkChars,omitempty" json:"maxChunkChars,omitempty" jsonschema:"minimum=50,maximum=4000,default=1800,description=Largest text chunk in characters"`
	ShowUsage            *bool           `yaml:"showUsage,omitempty" json:"showUsage,omitempty" jsonschema:"default=false,description=Deliver token usage updates"`
	MaxTurnChars         *int            `yaml:"maxTurnChars,omitempty" json:"maxTurnChars,omitempty" jsonschema:"minimum=1,maximum=500000,default=24000,description=Character budget for the text of one turn"`
	MaxToolSummaryChars  *int            `yaml:"maxToolSummaryChars,omitempty" json:"maxToolSummaryChars,omitempty" jsonschema:"minimum=64,maximum=8000,default=320"`
	MaxStatusChars       *int            `yaml:"maxStatusChars,omitempty" json:"maxStatusChars,omitempty" jsonschema:"minimum=64,maximum=8000,default=320"`
	MaxMetaEventsPerTurn *int            `yaml:"maxMetaEventsPerTurn,omitempty" json:"maxMetaEventsPerTurn,omitempty" jsonschema:"minimum=1,maximum=2000,default=64,description=Tool and status lines allowed per turn"`
	TagVisibility        map[string]bool `yaml:"tagVisibility,omitempty" json:"tagVisibility,omitempty" jsonschema:"description=Per update kind visibility overrides"`
	MetaMode             string          `yaml:"metaMode,omitempty" json:"metaMode,omitempty" jsonschema:"enum=off,enum=minimal,enum=verbose,default=minimal"`
	DeliveryMode         string          `yaml:"deliveryMode,omitempty" json:"deliveryMode,omitempty" jsonschema:"enum=live,enum=final_only,default=live"`
}

// Settings is the resolved, immutable projection configuration of one
// pipeline.
type Settings struct {
	tagVisibility        map[string]bool
	MetaMode             MetaMode
	DeliveryMode         DeliveryMode
	CoalesceIdle         time.Duration
	MaxChunkChars        int
	MaxTurnChars         int
	MaxToolSummaryChars  int
	MaxStatusChars       int
	MaxMetaEventsPerTurn int
	ShowUsage            bool
}

// DefaultSettings returns the settings used when no configuration is given.
func DefaultSettings() Settings {
	var c *Config
	return c.Resolve()
}

// Resolve applies defaults and clamps every field into its allowed range.
// Unknown enum values fall back to their defaults. A nil Config resolves to
// the defaults.
func (c *Config) Resolve() Settings {
	if c == nil {
		c = &Config{}
	}
	s := Settings{
		CoalesceIdle:         time.Duration(clampInt(c.CoalesceIdleMs, 0, maxCoalesceIdleMs, int(DefaultCoalesceIdle/time.Millisecond))) * time.Millisecond,
		MaxChunkChars:        clampInt(c.MaxChunkChars, 50, 4000, DefaultMaxChunkChars),
		MaxTurnChars:         clampInt(c.MaxTurnChars, 1, 500000, DefaultMaxTurnChars),
		MaxToolSummaryChars:  clampInt(c.MaxToolSummaryChars, 64, 8000, DefaultMaxToolSummaryChars),
		MaxStatusChars:       clampInt(c.MaxStatusChars, 64, 8000, DefaultMaxStatusChars),
		MaxMetaEventsPerTurn: clampInt(c.MaxMetaEventsPerTurn, 1, 2000, DefaultMaxMetaEventsPerTurn),
		MetaMode:             MetaMinimal,
		DeliveryMode:         DeliveryLive,
	}
	if c.ShowUsage != nil {
		s.ShowUsage = *c.ShowUsage
	}
	switch m := MetaMode(c.MetaMode); m {
	case MetaOff, MetaMinimal, MetaVerbose:
		s.MetaMode = m
	}
	switch m := DeliveryMode(c.DeliveryMode); m {
	case DeliveryLive, DeliveryFinalOnly:
		s.DeliveryMode = m
	}
	if len(c.TagVisibility) > 0 {
		s.tagVisibility = make(map[string]bool, len(c.TagVisibility))
		for tag, visible := range c.TagVisibility {
			s.tagVisibility[tag] = visible
		}
	}
	return s
}

// TagOverride reports the configured visibility override for tag, if any.
func (s Settings) TagOverride(tag string) (visible, ok bool) {
	visible, ok = s.tagVisibility[tag]
	return visible, ok
}

func clampInt(v *int, lo, hi, def int) int {
	if v == nil {
		return def
	}
	return min(max(*v, lo), hi)
}

// LoadConfig reads a YAML settings file.
// Returns an empty config (all defaults) if the file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &config, nil
}

// ConfigSchema returns the JSON schema of Config.
func ConfigSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "acpbridge reply settings"
	return json.MarshalIndent(schema, "", "  ")
}
