package protocol

// Shared types for the host/guest bridge.
// This package is imported by both the host packages and the guest SDK in api/wasm,
// so it must stay free of host-only dependencies.

// SchemaVersion is the input/output tensor layout version the bridge serves.
// Guests compare it against their own expectation before issuing inference calls.
const SchemaVersion = 5

// Tensor names used by the network graph.
const (
	InputSpatialName = "swa_model/bin_inputs"
	InputGlobalName  = "swa_model/global_inputs"

	OutputValueName       = "swa_model/value_output"
	OutputMiscValueName   = "swa_model/miscvalues_output"
	OutputOwnershipName   = "swa_model/ownership_output"
	OutputBonusBeliefName = "swa_model/bonusbelief_output"
	OutputScoreBeliefName = "swa_model/scorebelief_output"
	OutputPolicyName      = "swa_model/policy_output"
)

// Feature channel counts for SchemaVersion.
const (
	SpatialChannels = 22
	GlobalChannels  = 14
)

// BackendID identifies a compute backend as seen by the guest.
type BackendID int32

const (
	// BackendUnknown is reported when the runtime is on a backend the bridge does not know.
	BackendUnknown BackendID = -1
	// BackendAuto asks the bridge to pick a backend. It is never reported as current.
	BackendAuto BackendID = 0
	BackendCPU  BackendID = 1
	// BackendAccelerated is the graphics-style accelerated backend.
	BackendAccelerated BackendID = 2
)

// Valid reports whether b may be requested by a guest.
func (b BackendID) Valid() bool {
	return b == BackendAuto || b == BackendCPU || b == BackendAccelerated
}

func (b BackendID) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendCPU:
		return "cpu"
	case BackendAccelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// Status is the integer returned across the suspend boundary.
// Success is 1 and every failure is <= 0, so guests that compare against 1
// keep working when detailed statuses are enabled.
type Status int32

const (
	StatusFailure   Status = 0
	StatusSuccess   Status = 1
	StatusBusy      Status = -1
	StatusTimeout   Status = -2
	StatusCancelled Status = -3
	StatusInvalid   Status = -4
)

// OK reports whether s is a success status.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// Collapse folds every failure kind into StatusFailure.
func (s Status) Collapse() Status {
	if s == StatusSuccess {
		return StatusSuccess
	}
	return StatusFailure
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusBusy:
		return "busy"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ReadyState is the tri-state signal sent to the host console.
type ReadyState int32

const (
	ReadyStateNotReady   ReadyState = 0
	ReadyStateReady      ReadyState = 1
	ReadyStateLoadFailed ReadyState = -1
)

func (r ReadyState) String() string {
	switch r {
	case ReadyStateReady:
		return "ready"
	case ReadyStateNotReady:
		return "not-ready"
	case ReadyStateLoadFailed:
		return "load-failed"
	default:
		return "unknown"
	}
}

// LogLevel is the level passed by guests to log_message.
type LogLevel uint32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)
