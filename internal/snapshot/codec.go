package snapshot

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec serializes a snapshot manifest. One concrete codec is chosen
// at engine construction; callers and readers never learn which one is
// active because JSON emission is a YAML subset and the manifest is
// always parsed with the YAML parser.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Name() string
}

// YAMLCodec emits real YAML. This is the default.
type YAMLCodec struct{}

// Marshal serializes v as YAML.
func (YAMLCodec) Marshal(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Name identifies the codec in logs.
func (YAMLCodec) Name() string { return "yaml" }

// JSONCodec emits indented JSON into the manifest file. Valid JSON is
// valid YAML, so readers are unaffected.
type JSONCodec struct{}

// Marshal serializes v as indented JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Name identifies the codec in logs.
func (JSONCodec) Name() string { return "json" }

// ParseManifest decodes a manifest produced by either codec.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("snapshot: parsing manifest: %w", err)
	}
	return &m, nil
}
