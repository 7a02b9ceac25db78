package playout

import (
	"errors"
	"sync"
)

// ErrFallbackToCPU indicates the GPU accelerator cannot handle this
// draw. The kernel transparently falls back to the CPU path.
var ErrFallbackToCPU = errors.New("playout: falling back to CPU compositing")

// AcceleratedOp describes operation types for GPU capability checking.
type AcceleratedOp uint32

const (
	// AccelComposite represents a keyed, blended quad draw into a
	// composition buffer.
	AccelComposite AcceleratedOp = 1 << iota

	// AccelReadback represents asynchronous frame readback.
	AccelReadback
)

// AccelTarget provides pixel buffer access for accelerator output. Data
// is premultiplied RGBA, 4 bytes per pixel (or a single channel for key
// buffers), laid out row by row with the given Stride.
type AccelTarget struct {
	Data          []byte
	Width, Height int
	Stride        int
	Channels      int
}

// AccelDraw describes one quad draw for the accelerator. The source has
// already been sampled and scaled to premultiplied RGBA at FillRect
// resolution; the accelerator performs field masking, keying and
// blending.
type AccelDraw struct {
	Source AccelTarget

	// FillRect is the target rectangle in pixels (x, y, w, h).
	FillRect [4]int

	// ClipRect is the scissor rectangle in pixels (x, y, w, h).
	ClipRect [4]int

	FieldMode FieldMode
	BlendMode BlendMode
	Keyer     Keyer
	Opacity   float64

	// LocalKey and LayerKey are optional single-channel masks at target
	// resolution. Nil Data means no mask.
	LocalKey AccelTarget
	LayerKey AccelTarget
}

// Accelerator is an optional GPU compositing provider.
//
// When registered via RegisterAccelerator, the draw kernel tries GPU
// compositing first for supported operations. If the accelerator
// returns ErrFallbackToCPU or any error, the draw transparently falls
// back to the deterministic CPU path.
//
// Implementations are provided by GPU backend packages. Users opt in
// via blank import:
//
//	import _ "github.com/openplayout/playout/gpu"
type Accelerator interface {
	// Name returns the accelerator name (e.g. "wgpu").
	Name() string

	// Init initializes GPU resources. Called once during registration.
	Init() error

	// Close releases GPU resources.
	Close()

	// CanAccelerate reports whether the accelerator supports the given
	// operation. This is a fast check used to skip the GPU entirely.
	CanAccelerate(op AcceleratedOp) bool

	// Composite performs one draw into the target buffer.
	// Returns ErrFallbackToCPU if the draw cannot be GPU-accelerated.
	Composite(target AccelTarget, draw AccelDraw) error
}

// DeviceProviderAware is an optional interface for accelerators that
// can share a GPU device with an external provider (e.g. a gogpu
// application). When SetDeviceProvider is called, the accelerator
// reuses the provided device instead of creating its own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	accelMu sync.RWMutex
	accel   Accelerator
)

// RegisterAccelerator registers a GPU accelerator for optional GPU
// compositing.
//
// Only one accelerator can be registered; subsequent calls replace the
// previous one. Init is called during registration and a failing Init
// leaves the previous accelerator in place.
func RegisterAccelerator(a Accelerator) error {
	if a == nil {
		return errors.New("playout: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	propagateLogger(a, Logger())
	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// GetAccelerator returns the currently registered accelerator, or nil.
func GetAccelerator() Accelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// SetAcceleratorDeviceProvider passes a device provider to the
// registered accelerator, enabling GPU device sharing. No-op if no
// accelerator is registered or it does not support sharing.
func SetAcceleratorDeviceProvider(provider any) error {
	a := GetAccelerator()
	if a == nil {
		return nil
	}
	if dpa, ok := a.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
