// Package codec serializes datums at the file boundary. A Codec is the
// encode/decode pair a store uses both for the files it writes and for the
// deep copy it takes of every value handed to Set.
package codec

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec converts values to and from their stored byte form. Implementations
// must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default codec. It produces the same file content node-persist
// style stores write, so existing directories load unchanged.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAML stores records as YAML documents.
type YAML struct{}

func (YAML) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

func (YAML) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// ByName returns the codec registered under name ("json" or "yaml").
// An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}
