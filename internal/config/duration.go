package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "1m30s" style strings or plain
// numbers of seconds from YAML.
type Duration struct {
	time.Duration
}

// DurationFrom wraps d.
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML accepts a duration string or numeric seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	case "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		d.Duration = time.Duration(f * float64(time.Second))
		return nil
	case "!!null":
		d.Duration = 0
		return nil
	default:
		return d.UnmarshalText([]byte(node.Value))
	}
}

// IsZero reports whether the duration is zero. yaml.v3 uses it for omitempty.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}
