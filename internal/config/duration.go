package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from YAML as "10s"-style text or as a
// plain number of seconds.
type Duration struct {
	time.Duration
}

// DurationFrom creates a Duration from a standard time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses Go duration syntax. Negative values are rejected.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return d.set(parsed, string(text))
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		d.Duration = 0
		return nil
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
		}
		if err := d.set(time.Duration(secs*float64(time.Second)), node.Value); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return nil
	default:
		if err := d.UnmarshalText([]byte(node.Value)); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return nil
	}
}

func (d *Duration) set(v time.Duration, raw string) error {
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", raw)
	}
	d.Duration = v
	return nil
}

// IsZero reports whether the duration is zero.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}
