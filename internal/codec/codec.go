// Package codec encodes site option values for transport. Every codec must
// return a value of the same shape from Decode(Encode(v)): maps stay maps,
// lists stay lists, numbers stay numbers.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec serializes structured option values into a string and back.
type Codec interface {
	Name() string
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// Default is the codec used when none is configured.
const Default = "json"

var registry = map[string]Codec{
	"json": JSON{},
	"yaml": YAML{},
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	c, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown option codec %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists registered codecs in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSON keeps numbers as json.Number on decode so integers never turn into
// floats. Maps with non-string keys are encoded with their keys as strings.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Normalize(v)); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func (JSON) Decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type YAML struct{}

func (YAML) Name() string { return "yaml" }

func (YAML) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (YAML) Decode(s string) (any, error) {
	var out any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
