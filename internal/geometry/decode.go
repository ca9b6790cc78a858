package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Points arrive either as {"x": .., "y": ..} objects or as [x, y] pairs.
// Both forms are normalized to Point here so nothing downstream sees the raw
// shape.

type pointFields struct {
	X *float64 `json:"x" yaml:"x"`
	Y *float64 `json:"y" yaml:"y"`
}

func (f pointFields) point() (Point, error) {
	if f.X == nil || f.Y == nil {
		return Point{}, fmt.Errorf("point requires both x and y")
	}
	return Point{X: *f.X, Y: *f.Y}, nil
}

func pointFromPair(pair []float64) (Point, error) {
	if len(pair) != 2 {
		return Point{}, fmt.Errorf("point pair must have 2 elements, got %d", len(pair))
	}
	return Point{X: pair[0], Y: pair[1]}, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("invalid point: %w", err)
		}
		parsed, err := pointFromPair(pair)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var fields pointFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("invalid point: %w", err)
	}
	parsed, err := fields.point()
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Point) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var pair []float64
		if err := value.Decode(&pair); err != nil {
			return fmt.Errorf("invalid point at line %d: %w", value.Line, err)
		}
		parsed, err := pointFromPair(pair)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*p = parsed
	case yaml.MappingNode:
		var fields pointFields
		if err := value.Decode(&fields); err != nil {
			return fmt.Errorf("invalid point at line %d: %w", value.Line, err)
		}
		parsed, err := fields.point()
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*p = parsed
	default:
		return fmt.Errorf("line %d: point must be a mapping or a pair", value.Line)
	}
	return nil
}
