package local

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/woxQAQ/nnbridge/internal/inference"
)

// Weight dtypes.
const (
	DtypeFloat32 = "float32"
	DtypeFloat16 = "float16"
)

// DtypeWidth returns the stored byte width of one element of dtype.
func DtypeWidth(dtype string) (int, error) {
	switch dtype {
	case DtypeFloat32:
		return 4, nil
	case DtypeFloat16:
		return 2, nil
	default:
		return 0, errors.Errorf("unsupported dtype %q", dtype)
	}
}

// DecodeWeights decodes one weight group from its concatenated shard bytes.
// Weights are stored back to back in declaration order, little-endian.
func DecodeWeights(group WeightGroup, data []byte) (map[string]*inference.Tensor, error) {
	out := make(map[string]*inference.Tensor, len(group.Weights))

	offset := 0
	for _, w := range group.Weights {
		width, err := DtypeWidth(w.Dtype)
		if err != nil {
			return nil, errors.Wrapf(err, "weight %q", w.Name)
		}

		n := inference.ShapeSize(w.Shape)
		end := offset + n*width
		if end > len(data) {
			return nil, errors.Errorf("weight %q needs bytes [%d, %d) but shards hold %d", w.Name, offset, end, len(data))
		}

		values := make([]float32, n)
		raw := data[offset:end]
		switch w.Dtype {
		case DtypeFloat32:
			for i := range values {
				values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
		case DtypeFloat16:
			for i := range values {
				values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
			}
		}

		t, err := inference.NewTensor(w.Name, w.Shape, values)
		if err != nil {
			return nil, err
		}
		if _, dup := out[w.Name]; dup {
			return nil, errors.Errorf("weight %q declared twice", w.Name)
		}
		out[w.Name] = t
		offset = end
	}

	if offset != len(data) {
		return nil, errors.Errorf("weight group has %d trailing bytes", len(data)-offset)
	}

	return out, nil
}

// EncodeWeights is the inverse of DecodeWeights. It is used to write test fixtures
// and by tools that export models for this runtime.
func EncodeWeights(group WeightGroup, weights map[string][]float32) ([]byte, error) {
	var buf []byte
	for _, w := range group.Weights {
		values, ok := weights[w.Name]
		if !ok {
			return nil, errors.Errorf("no values for weight %q", w.Name)
		}
		if len(values) != inference.ShapeSize(w.Shape) {
			return nil, errors.Errorf("weight %q: shape %v needs %d values, got %d",
				w.Name, w.Shape, inference.ShapeSize(w.Shape), len(values))
		}

		switch w.Dtype {
		case DtypeFloat32:
			for _, v := range values {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
			}
		case DtypeFloat16:
			for _, v := range values {
				buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v).Bits())
			}
		default:
			return nil, errors.Errorf("unsupported dtype %q", w.Dtype)
		}
	}
	return buf, nil
}
