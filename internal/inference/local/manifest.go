package local

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// FormatGraphModel is the only model.json format this runtime executes.
const FormatGraphModel = "graph-model"

// Manifest is the parsed model.json.
//
// The layout follows the tfjs graph model files: a signature naming the input and
// output nodes plus a weights manifest describing binary shards. Shapes in the
// signature exclude the leading batch dimension.
type Manifest struct {
	Format          string        `json:"format"`
	GeneratedBy     string        `json:"generatedBy,omitempty"`
	Signature       Signature     `json:"signature"`
	WeightsManifest []WeightGroup `json:"weightsManifest"`
}

// Signature names the graph's inputs and outputs.
type Signature struct {
	Inputs  map[string]NodeSpec `json:"inputs"`
	Outputs map[string]NodeSpec `json:"outputs"`
}

// NodeSpec is the per-row shape of a node.
type NodeSpec struct {
	Shape []int `json:"shape"`
}

// WeightGroup is a set of weights stored across one or more shard files.
type WeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

// WeightSpec describes one weight inside a group.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Dtype string `json:"dtype"`
}

// ParseManifest decodes and validates model.json contents.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode model description")
	}

	if m.Format != FormatGraphModel {
		return nil, errors.Errorf("unsupported model format %q (want %q)", m.Format, FormatGraphModel)
	}
	if len(m.Signature.Inputs) == 0 {
		return nil, errors.New("model description declares no inputs")
	}
	if len(m.Signature.Outputs) == 0 {
		return nil, errors.New("model description declares no outputs")
	}

	for name, spec := range m.Signature.Inputs {
		if err := checkShape(spec.Shape); err != nil {
			return nil, errors.Wrapf(err, "input %q", name)
		}
	}
	for name, spec := range m.Signature.Outputs {
		if err := checkShape(spec.Shape); err != nil {
			return nil, errors.Wrapf(err, "output %q", name)
		}
	}

	for i, g := range m.WeightsManifest {
		if len(g.Paths) == 0 && len(g.Weights) > 0 {
			return nil, errors.Errorf("weight group %d has weights but no shard paths", i)
		}
		for _, w := range g.Weights {
			if _, err := DtypeWidth(w.Dtype); err != nil {
				return nil, errors.Wrapf(err, "weight %q", w.Name)
			}
			if err := checkShape(w.Shape); err != nil {
				return nil, errors.Wrapf(err, "weight %q", w.Name)
			}
		}
	}

	return &m, nil
}

// InputNames returns the signature inputs in a stable order.
func (m *Manifest) InputNames() []string {
	return sortedKeys(m.Signature.Inputs)
}

// OutputNames returns the signature outputs in a stable order.
func (m *Manifest) OutputNames() []string {
	return sortedKeys(m.Signature.Outputs)
}

func checkShape(shape []int) error {
	for _, d := range shape {
		if d <= 0 {
			return errors.Errorf("invalid dimension %d in shape %v", d, shape)
		}
	}
	return nil
}

func sortedKeys(nodes map[string]NodeSpec) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
