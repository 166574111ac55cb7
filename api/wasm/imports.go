//go:build wasm

package wasm

import (
	"unsafe"

	"github.com/woxQAQ/nnbridge/pkg/protocol"
)

// Host imports. Pointers are offsets into the guest's linear memory, which the
// host reads and writes in place.

//go:wasmimport env get_backend
func getBackend() int32

//go:wasmimport env set_backend
func setBackend(backend int32) int32

//go:wasmimport env download_model
func downloadModel(ptr unsafe.Pointer, length uint32) int32

//go:wasmimport env remove_model
func removeModel()

//go:wasmimport env predict
func predict(batch int32, input unsafe.Pointer, inputLength, inputChannels int32,
	globalInput unsafe.Pointer, globalChannels int32,
	values, miscValues, ownerships, bonusBeliefs, scoreBeliefs, policies unsafe.Pointer) int32

//go:wasmimport env get_model_version
func getModelVersion() int32

//go:wasmimport env notify_status
func notifyStatus(status int32)

//go:wasmimport env log_message
func logMessage(level uint32, ptr unsafe.Pointer, length uint32)

// Backend returns the active backend.
func Backend() protocol.BackendID {
	return protocol.BackendID(getBackend())
}

// SetBackend switches backends and blocks until the host has switched.
func SetBackend(id protocol.BackendID) protocol.Status {
	return protocol.Status(setBackend(int32(id)))
}

// DownloadModel loads the model at location and blocks until it is ready.
func DownloadModel(location string) protocol.Status {
	if location == "" {
		return protocol.StatusInvalid
	}
	return protocol.Status(downloadModel(unsafe.Pointer(unsafe.StringData(location)), uint32(len(location))))
}

// RemoveModel releases the loaded model.
func RemoveModel() {
	removeModel()
}

// ModelVersion returns the tensor layout version the host serves.
func ModelVersion() int32 {
	return getModelVersion()
}

// NotifyStatus reports the engine's ready state to the host console.
func NotifyStatus(state protocol.ReadyState) {
	notifyStatus(int32(state))
}

// Log writes msg to the host log.
func Log(level protocol.LogLevel, msg string) {
	if msg == "" {
		return
	}
	logMessage(uint32(level), unsafe.Pointer(unsafe.StringData(msg)), uint32(len(msg)))
}

// Predict runs req and blocks until out holds the results.
// Invalid buffers are rejected here rather than handed to the host.
func Predict(board Board, req *Request, out *Outputs) protocol.Status {
	if req.Validate(board) != nil || out.Validate(board, req.Batch) != nil {
		return protocol.StatusInvalid
	}

	bufs := out.Buffers()
	return protocol.Status(predict(
		int32(req.Batch),
		unsafe.Pointer(unsafe.SliceData(req.Spatial)), int32(board.Cells()), protocol.SpatialChannels,
		unsafe.Pointer(unsafe.SliceData(req.Global)), protocol.GlobalChannels,
		unsafe.Pointer(unsafe.SliceData(bufs[0])),
		unsafe.Pointer(unsafe.SliceData(bufs[1])),
		unsafe.Pointer(unsafe.SliceData(bufs[2])),
		unsafe.Pointer(unsafe.SliceData(bufs[3])),
		unsafe.Pointer(unsafe.SliceData(bufs[4])),
		unsafe.Pointer(unsafe.SliceData(bufs[5])),
	))
}
