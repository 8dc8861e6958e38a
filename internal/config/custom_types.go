package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FlexBool is a boolean type that can be unmarshalled from a boolean, a string, or a number.
type FlexBool bool

// UnmarshalYAML implements the yaml.Unmarshaler interface for FlexBool.
func (fb *FlexBool) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		*fb = FlexBool(b)
	case "!!str":
		return fb.UnmarshalText([]byte(value.Value))
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(value.Value, 64)
		if err != nil {
			return err
		}
		*fb = FlexBool(f != 0)
	default:
		return fmt.Errorf("cannot unmarshal %s into FlexBool", value.Tag)
	}
	return nil
}

// UnmarshalText lets environment variables such as LLM_ENABLED=1 populate a FlexBool.
// An empty value leaves the current setting untouched.
func (fb *FlexBool) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	b, err := strconv.ParseBool(string(text))
	if err != nil {
		return fmt.Errorf("cannot unmarshal string %q into FlexBool", string(text))
	}
	*fb = FlexBool(b)
	return nil
}

// Duration is a time.Duration read from strings like "30s" or bare seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("cannot unmarshal %s into Duration", value.Tag)
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses a Go duration string. A plain number is taken as seconds
// and an empty value is ignored.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	s := string(text)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
