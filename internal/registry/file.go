package registry

import (
	"bytes"
	"fmt"
	"os"

	"github.com/nulzo/inference-gateway/internal/inference"
	"gopkg.in/yaml.v3"
)

type catalogue struct {
	Endpoints []inference.UnparsedModel `yaml:"endpoints"`
}

// LoadFile reads an endpoint catalogue. The file is either a list of endpoints or a mapping with
// an "endpoints" key.
func LoadFile(path string) ([]inference.UnparsedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func Decode(data []byte) ([]inference.UnparsedModel, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var out []inference.UnparsedModel
	if trimmed[0] == '-' {
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("invalid endpoint catalogue: %w", err)
		}
	} else {
		var c catalogue
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid endpoint catalogue: %w", err)
		}
		out = c.Endpoints
	}

	for i := range out {
		tt, err := inference.ParseTaskType(string(out[i].TaskType))
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", out[i].InferenceID, err)
		}
		out[i].TaskType = tt
	}
	return out, nil
}

// Encode renders endpoints as a catalogue mapping.
func Encode(endpoints []inference.UnparsedModel) ([]byte, error) {
	return yaml.Marshal(catalogue{Endpoints: endpoints})
}

// SaveFile writes endpoints as a catalogue, merging them into the file's current content when the
// file exists.
func SaveFile(path string, endpoints []inference.UnparsedModel) error {
	existing, err := LoadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	data, err := Encode(MergeCatalogue(existing, endpoints))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MergeCatalogue keeps the order of existing, replaces entries that live also has and appends the
// rest of live.
func MergeCatalogue(existing, live []inference.UnparsedModel) []inference.UnparsedModel {
	index := make(map[string]int, len(existing))
	out := make([]inference.UnparsedModel, len(existing), len(existing)+len(live))
	copy(out, existing)
	for i, e := range out {
		index[e.InferenceID] = i
	}

	for _, m := range live {
		if i, ok := index[m.InferenceID]; ok {
			out[i] = m
			continue
		}
		index[m.InferenceID] = len(out)
		out = append(out, m)
	}
	return out
}
