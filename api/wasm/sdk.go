// Package wasm is the guest side of the nnbridge host imports.
//
// Guests built with GOOS=wasip1 GOARCH=wasm call the functions in this package
// as if they were blocking. The host suspends the guest while it switches
// backends, loads models and runs inference, then resumes it with the result.
//
// Everything outside the wasm build is plain data handling so it can be
// tested on the host.
package wasm

import (
	"fmt"

	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// Board is the geometry the loaded network was built for.
type Board struct {
	X, Y int
}

// Standard is the 19x19 board.
var Standard = Board{X: 19, Y: 19}

// Cells returns the number of intersections.
func (b Board) Cells() int {
	return b.X * b.Y
}

// Request is one inference batch in the network's input layout.
type Request struct {
	Batch int
	// Spatial holds Batch x Cells x SpatialChannels features.
	Spatial []float32
	// Global holds Batch x GlobalChannels features.
	Global []float32
}

// NewRequest allocates zeroed inputs for batch rows.
func NewRequest(board Board, batch int) *Request {
	return &Request{
		Batch:   batch,
		Spatial: make([]float32, batch*board.Cells()*protocol.SpatialChannels),
		Global:  make([]float32, batch*protocol.GlobalChannels),
	}
}

// Validate checks the input lengths against board.
func (r *Request) Validate(board Board) error {
	if r.Batch <= 0 {
		return fmt.Errorf("batch must be positive, got %d", r.Batch)
	}
	if want := r.Batch * board.Cells() * protocol.SpatialChannels; len(r.Spatial) != want {
		return fmt.Errorf("spatial input holds %d values, want %d", len(r.Spatial), want)
	}
	if want := r.Batch * protocol.GlobalChannels; len(r.Global) != want {
		return fmt.Errorf("global input holds %d values, want %d", len(r.Global), want)
	}
	return nil
}

// Outputs receives the six network outputs of a batch.
type Outputs struct {
	Value       []float32
	MiscValue   []float32
	Ownership   []float32
	BonusBelief []float32
	ScoreBelief []float32
	Policy      []float32
}

// NewOutputs allocates output buffers for batch rows.
func NewOutputs(board Board, batch int) *Outputs {
	var bufs [protocol.NumOutputs][]float32
	for i, n := range protocol.OutputRowCounts(board.X, board.Y) {
		bufs[i] = make([]float32, batch*n)
	}
	return &Outputs{
		Value:       bufs[0],
		MiscValue:   bufs[1],
		Ownership:   bufs[2],
		BonusBelief: bufs[3],
		ScoreBelief: bufs[4],
		Policy:      bufs[5],
	}
}

// Buffers returns the buffers in guest argument order.
func (o *Outputs) Buffers() [protocol.NumOutputs][]float32 {
	return [protocol.NumOutputs][]float32{o.Value, o.MiscValue, o.Ownership, o.BonusBelief, o.ScoreBelief, o.Policy}
}

// Validate checks every buffer can hold batch rows. The host writes past the end
// of a short buffer, so this must pass before Predict.
func (o *Outputs) Validate(board Board, batch int) error {
	names := [protocol.NumOutputs]string{"value", "misc value", "ownership", "bonus belief", "score belief", "policy"}
	counts := protocol.OutputRowCounts(board.X, board.Y)
	for i, buf := range o.Buffers() {
		if want := batch * counts[i]; len(buf) < want {
			return fmt.Errorf("%s buffer holds %d values, want %d", names[i], len(buf), want)
		}
	}
	return nil
}

// Args are the launch arguments the host passes a guest.
type Args struct {
	Mode          string
	Config        string
	ModelLocation string
}

// ParseArgs reads os.Args as built by the host: name, optional mode, then
// -config and -model pairs.
func ParseArgs(argv []string) (Args, error) {
	var a Args
	if len(argv) == 0 {
		return a, nil
	}

	rest := argv[1:]
	if len(rest) > 0 && rest[0] != "" && rest[0][0] != '-' {
		a.Mode, rest = rest[0], rest[1:]
	}

	for len(rest) > 0 {
		if len(rest) < 2 {
			return a, fmt.Errorf("flag %s needs a value", rest[0])
		}
		switch rest[0] {
		case "-config":
			a.Config = rest[1]
		case "-model":
			a.ModelLocation = rest[1]
		default:
			return a, fmt.Errorf("unknown flag %s", rest[0])
		}
		rest = rest[2:]
	}
	return a, nil
}
