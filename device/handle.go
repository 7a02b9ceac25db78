// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Handle provides GPU device access from the host application.
//
// The device RECEIVES a GPU handle from the host, it does not create
// one. This lets a playout server share one GPU device between all
// channels and with any embedding application. When no handle is
// provided the device runs its deterministic CPU compositing path; a
// registered accelerator may still attach via its own provider.
//
// Handle is an alias for gpucontext.DeviceProvider, keeping the device
// package compatible with the gpucontext ecosystem.
type Handle = gpucontext.DeviceProvider

// NullHandle is a Handle with nil implementations, used for CPU-only
// compositing where no GPU is available.
type NullHandle struct{}

// Device returns nil for the null handle.
func (NullHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null handle.
func (NullHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null handle.
func (NullHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null handle.
func (NullHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns unknown adapter metadata for the null handle.
func (NullHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
}

// Ensure NullHandle implements Handle.
var _ Handle = NullHandle{}
