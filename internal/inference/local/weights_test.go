package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWeights_MixedDtypes(t *testing.T) {
	group := WeightGroup{
		Paths: []string{"shard.bin"},
		Weights: []WeightSpec{
			{Name: "a", Shape: []int{2, 2}, Dtype: DtypeFloat32},
			{Name: "b", Shape: []int{3}, Dtype: DtypeFloat16},
		},
	}

	data, err := EncodeWeights(group, map[string][]float32{
		"a": {1.5, -2, 0, 3.25},
		"b": {0.5, -1, 2},
	})
	require.NoError(t, err)
	assert.Len(t, data, 4*4+3*2)

	weights, err := DecodeWeights(group, data)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, weights["a"].Shape)
	assert.Equal(t, []float32{1.5, -2, 0, 3.25}, weights["a"].DataSync())
	// These values are exact in half precision.
	assert.Equal(t, []float32{0.5, -1, 2}, weights["b"].DataSync())
}

func TestDecodeWeights_Truncated(t *testing.T) {
	group := WeightGroup{Weights: []WeightSpec{{Name: "a", Shape: []int{4}, Dtype: DtypeFloat32}}}

	_, err := DecodeWeights(group, make([]byte, 12))
	require.Error(t, err)
}

func TestDecodeWeights_TrailingBytes(t *testing.T) {
	group := WeightGroup{Weights: []WeightSpec{{Name: "a", Shape: []int{1}, Dtype: DtypeFloat32}}}

	_, err := DecodeWeights(group, make([]byte, 6))
	require.Error(t, err)
}

func TestParseManifest(t *testing.T) {
	_, err := ParseManifest([]byte(`{"format":"layers-model"}`))
	require.Error(t, err)

	_, err = ParseManifest([]byte(`{not json`))
	require.Error(t, err)

	_, err = ParseManifest([]byte(`{"format":"graph-model","signature":{"inputs":{"x":{"shape":[2]}},"outputs":{}}}`))
	require.Error(t, err, "outputs are required")

	_, err = ParseManifest([]byte(`{"format":"graph-model","signature":{"inputs":{"x":{"shape":[2]}},"outputs":{"y":{"shape":[1]}}},
		"weightsManifest":[{"paths":["a.bin"],"weights":[{"name":"w","shape":[1],"dtype":"int8"}]}]}`))
	require.Error(t, err, "int8 weights are not supported")

	m, err := ParseManifest([]byte(`{"format":"graph-model","signature":{"inputs":{"b":{"shape":[2]},"a":{"shape":[1]}},"outputs":{"y":{"shape":[1]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.InputNames())
}
