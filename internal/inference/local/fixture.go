package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFileName is the description file inside a model directory.
const ManifestFileName = "model.json"

// WriteModel writes m and its weights into dir as model.json plus one shard per
// weight group. Shard paths already present in m are replaced.
func WriteModel(dir string, m *Manifest, weights map[string][]float32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	out := *m
	out.WeightsManifest = make([]WeightGroup, len(m.WeightsManifest))
	for i, group := range m.WeightsManifest {
		data, err := EncodeWeights(group, weights)
		if err != nil {
			return err
		}

		shard := fmt.Sprintf("group%d-shard1of1.bin", i+1)
		if err := os.WriteFile(filepath.Join(dir, shard), data, 0o644); err != nil {
			return err
		}

		group.Paths = []string{shard}
		out.WeightsManifest[i] = group
	}

	desc, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFileName), desc, 0o644)
}

// DenseManifest describes a model with the given inputs and dense output heads,
// with all weights in a single float32 group.
func DenseManifest(inputs, outputs map[string][]int) *Manifest {
	m := &Manifest{
		Format:    FormatGraphModel,
		Signature: Signature{Inputs: map[string]NodeSpec{}, Outputs: map[string]NodeSpec{}},
	}

	in := 0
	for name, shape := range inputs {
		m.Signature.Inputs[name] = NodeSpec{Shape: shape}
		n := 1
		for _, d := range shape {
			n *= d
		}
		in += n
	}

	group := WeightGroup{}
	for _, name := range sortedKeys(toSpecs(outputs)) {
		shape := outputs[name]
		m.Signature.Outputs[name] = NodeSpec{Shape: shape}
		n := 1
		for _, d := range shape {
			n *= d
		}
		group.Weights = append(group.Weights,
			WeightSpec{Name: name + "/kernel", Shape: []int{in, n}, Dtype: DtypeFloat32},
			WeightSpec{Name: name + "/bias", Shape: []int{n}, Dtype: DtypeFloat32},
		)
	}
	m.WeightsManifest = []WeightGroup{group}

	return m
}

func toSpecs(shapes map[string][]int) map[string]NodeSpec {
	specs := make(map[string]NodeSpec, len(shapes))
	for name, shape := range shapes {
		specs[name] = NodeSpec{Shape: shape}
	}
	return specs
}
