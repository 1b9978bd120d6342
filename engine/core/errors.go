package core

import (
	"errors"
)

// Usage errors: the caller broke the render system contract. They are fatal
// to the operation that reported them.
var (
	ErrNoActiveEncoder    = errors.New("no encoder open: render pass was not begun")
	ErrNoPipelineBound    = errors.New("no pipeline state object bound")
	ErrWrongPipelineKind  = errors.New("pipeline state object kind does not match the encoder")
	ErrUnknownPipeline    = errors.New("pipeline state object was never registered")
	ErrStateNotCached     = errors.New("state descriptor is not cached")
	ErrAutoParamsTooLarge = errors.New("auto-parameter reservation exceeds the maximum buffer size")
	ErrEncoderAlreadyOpen = errors.New("an encoder is already open")
	ErrFrameNotBegun      = errors.New("frame was not begun")
	ErrInvalidRenderPass  = errors.New("invalid render pass descriptor")
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrNoIndirectBuffer   = errors.New("no indirect buffer bound")
	ErrNoVertexData       = errors.New("no vertex array object or render operation bound")
	ErrSlotOutOfRange     = errors.New("binding slot out of range")
)

// Device errors: the native layer failed. The frame is aborted and the
// caches are invalidated.
var (
	ErrDeviceLost     = errors.New("device lost")
	ErrDeviceStalled  = errors.New("device stalled")
	ErrObjectCreation = errors.New("native object creation failed")
	ErrFrameAborted   = errors.New("frame aborted")
)

var usageErrors = []error{
	ErrNoActiveEncoder, ErrNoPipelineBound, ErrWrongPipelineKind, ErrUnknownPipeline,
	ErrStateNotCached, ErrAutoParamsTooLarge, ErrEncoderAlreadyOpen, ErrFrameNotBegun,
	ErrInvalidRenderPass, ErrUnsupportedCommand, ErrNoIndirectBuffer, ErrNoVertexData,
	ErrSlotOutOfRange,
}

var deviceErrors = []error{
	ErrDeviceLost, ErrDeviceStalled, ErrObjectCreation, ErrFrameAborted,
}

// IsUsageError reports whether err is (or wraps) a contract violation.
func IsUsageError(err error) bool {
	for _, e := range usageErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsDeviceError reports whether err is (or wraps) a native device failure.
func IsDeviceError(err error) bool {
	for _, e := range deviceErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
