package protocol

// NumOutputs is the number of network outputs, in guest argument order:
// value, misc value, ownership, bonus belief, score belief, policy.
const NumOutputs = 6

// Score belief and bonus belief distributions extend this far past the board.
const (
	BonusBeliefRadius = 30
	ScoreBeliefExtra  = 60
)

// OutputRowCounts returns the per-row element count of each output in guest
// argument order. For 19x19 these are 3, 6, 361, 61, 842 and 724.
func OutputRowCounts(boardX, boardY int) [NumOutputs]int {
	cells := boardX * boardY
	return [NumOutputs]int{
		3,
		6,
		cells,
		2*BonusBeliefRadius + 1,
		2 * (cells + ScoreBeliefExtra),
		2 * (cells + 1),
	}
}
