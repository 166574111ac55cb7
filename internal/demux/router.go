// Package demux scatters the outputs of one inference call into guest buffers.
//
// Outputs arrive in no particular order. Each is matched to its destination by node
// name when the runtime names it, and otherwise by its element count, which is unique
// per output kind for a given board layout.
package demux

import (
	"go.uber.org/zap"

	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/internal/wasm"
	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// Kind is a fixed-purpose output.
type Kind int

const (
	KindValue Kind = iota
	KindMiscValue
	KindOwnership
	KindBonusBelief
	KindScoreBelief
	KindPolicy

	NumKinds = protocol.NumOutputs
)

// Kinds lists every output kind in guest argument order.
var Kinds = [NumKinds]Kind{KindValue, KindMiscValue, KindOwnership, KindBonusBelief, KindScoreBelief, KindPolicy}

var kindNames = [NumKinds]string{"value", "miscvalue", "ownership", "bonusbelief", "scorebelief", "policy"}

var tensorNames = [NumKinds]string{
	protocol.OutputValueName,
	protocol.OutputMiscValueName,
	protocol.OutputOwnershipName,
	protocol.OutputBonusBeliefName,
	protocol.OutputScoreBeliefName,
	protocol.OutputPolicyName,
}

func (k Kind) String() string {
	if k < 0 || int(k) >= NumKinds {
		return "unknown"
	}
	return kindNames[k]
}

// TensorName returns the graph node name of the output.
func (k Kind) TensorName() string {
	if k < 0 || int(k) >= NumKinds {
		return ""
	}
	return tensorNames[k]
}

// Layout is the board geometry the network was built for.
type Layout struct {
	BoardX int `mapstructure:"board_x"`
	BoardY int `mapstructure:"board_y"`
}

// DefaultLayout is the 19x19 board.
func DefaultLayout() Layout {
	return Layout{BoardX: 19, BoardY: 19}
}

// RowCounts returns the per-row element count of each output kind.
func (l Layout) RowCounts() [NumKinds]int {
	return protocol.OutputRowCounts(l.BoardX, l.BoardY)
}

// Destinations holds the guest offset of each output buffer, indexed by Kind.
type Destinations [NumKinds]uint32

// Report describes what one Route call did.
type Report struct {
	Written [NumKinds]bool
	Dropped int
}

// Missing returns the kinds no tensor was routed to.
func (r Report) Missing() []Kind {
	var missing []Kind
	for _, k := range Kinds {
		if !r.Written[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

// Router routes output tensors to destination buffers.
type Router struct {
	rowCounts [NumKinds]int
	byName    map[string]Kind
	strict    bool
	logger    *zap.Logger
}

// NewRouter creates a router for layout. It fails when two output kinds would share
// an element count, since size-based routing could not tell them apart.
func NewRouter(layout Layout, logger *zap.Logger, strict bool) (*Router, error) {
	if layout.BoardX <= 0 || layout.BoardY <= 0 {
		return nil, &LayoutError{Layout: layout, Message: "board dimensions must be positive"}
	}

	counts := layout.RowCounts()
	seen := make(map[int]Kind, NumKinds)
	for _, k := range Kinds {
		if other, dup := seen[counts[k]]; dup {
			return nil, &SizeCollisionError{Size: counts[k], First: other, Second: k}
		}
		seen[counts[k]] = k
	}

	byName := make(map[string]Kind, NumKinds)
	for _, k := range Kinds {
		byName[k.TensorName()] = k
	}

	return &Router{
		rowCounts: counts,
		byName:    byName,
		strict:    strict,
		logger:    logger.With(zap.String("component", "result-demux")),
	}, nil
}

// Expected returns the element count of kind for a batch.
func (r *Router) Expected(kind Kind, batch int) int {
	return r.rowCounts[kind] * batch
}

// Classify finds the destination kind of t.
// ok is false when the tensor matches no output.
func (r *Router) Classify(t *inference.Tensor, batch int) (kind Kind, ok bool, err error) {
	size := t.Size()

	if k, named := r.byName[t.Name]; named {
		if size != r.Expected(k, batch) {
			return k, false, &ShapeMismatchError{Name: t.Name, Kind: k, Size: size, Expected: r.Expected(k, batch)}
		}
		return k, true, nil
	}

	for _, k := range Kinds {
		if size == r.Expected(k, batch) {
			return k, true, nil
		}
	}
	return 0, false, nil
}

// Route writes each result into its destination in mem.
//
// Unmatched tensors are dropped unless the router is strict. A failure part way
// through may leave earlier destinations written.
func (r *Router) Route(mem *wasm.Memory, batch int, results []*inference.Tensor, dests Destinations) (Report, error) {
	var report Report

	for _, t := range results {
		if t == nil {
			return report, &MalformedResultError{Message: "nil tensor in result list"}
		}

		kind, ok, err := r.Classify(t, batch)
		if err != nil {
			return report, err
		}
		if !ok {
			if r.strict {
				return report, &UnmatchedTensorError{Name: t.Name, Size: t.Size()}
			}
			report.Dropped++
			r.logger.Debug("Dropping unmatched output",
				zap.String("name", t.Name),
				zap.Int("size", t.Size()),
			)
			continue
		}

		if report.Written[kind] && r.strict {
			return report, &DuplicateOutputError{Kind: kind}
		}

		view, err := mem.Float32s(dests[kind], t.Size())
		if err != nil {
			return report, err
		}
		view.CopyFrom(t.DataSync())
		report.Written[kind] = true
	}

	return report, nil
}
