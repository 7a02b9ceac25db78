//go:build !nogpu

// Package gpu registers the wgpu composite accelerator for
// hardware-accelerated compositing.
//
// Import this package to let the image kernel offload keyed, blended
// quad draws to a WebGPU compute pipeline. If no GPU can be brought up
// (no Vulkan available), the accelerator is still registered but
// reports no capability, so compositing stays on the deterministic CPU
// path. Registration is skipped with a warning only when the compositing
// shader fails validation.
//
// Usage:
//
//	import _ "github.com/openplayout/playout/gpu"
package gpu

import (
	"github.com/openplayout/playout"
	"github.com/openplayout/playout/backend/wgpu"
)

func init() {
	if err := playout.RegisterAccelerator(wgpu.New()); err != nil {
		playout.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// SetDeviceProvider configures the accelerator to use a shared GPU
// device from an external provider (e.g. a gogpu application). The
// provider should be a gpucontext.DeviceProvider that also exposes
// HAL access.
func SetDeviceProvider(provider any) error {
	return playout.SetAcceleratorDeviceProvider(provider)
}
