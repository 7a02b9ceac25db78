// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// Texture is a 2D compositing surface owned by the device: four
// channels of premultiplied RGBA for color buffers, one channel for key
// masks.
//
// Textures are reference counted. Retain and Release may be called from
// any goroutine; releasing the last reference migrates the free onto
// the device worker, which returns the surface to the pool. All pixel
// access (Data, Clear) is confined to the device worker.
type Texture struct {
	dev      *Device
	width    int
	height   int
	channels int
	data     []byte
	refs     atomic.Int32

	// idle counts pool sweeps since last use; pool-internal.
	idle int
}

func newTexture(dev *Device, width, height, channels int) *Texture {
	t := &Texture{
		dev:      dev,
		width:    width,
		height:   height,
		channels: channels,
		data:     make([]byte, width*height*channels),
	}
	t.refs.Store(1)
	return t
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.height }

// Channels returns the number of byte channels per pixel.
func (t *Texture) Channels() int { return t.channels }

// Stride returns the number of bytes per row.
func (t *Texture) Stride() int { return t.width * t.channels }

// Size returns the total byte size of the surface.
func (t *Texture) Size() int { return len(t.data) }

// Format returns the texture pixel format.
func (t *Texture) Format() gputypes.TextureFormat {
	if t.channels == 1 {
		return gputypes.TextureFormatR8Unorm
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// Data returns the backing pixel storage, row-major with Stride bytes
// per row. Device-worker confined.
func (t *Texture) Data() []byte { return t.data }

// Clear zeroes the surface. Device-worker confined.
func (t *Texture) Clear() {
	clear(t.data)
}

// Retain increments the reference count and returns t for chaining.
func (t *Texture) Retain() *Texture {
	t.refs.Add(1)
	return t
}

// Release drops one reference. The last release returns the surface to
// the device pool; when called off the device worker the free is
// migrated onto it.
func (t *Texture) Release() {
	if t == nil {
		return
	}
	if t.refs.Add(-1) != 0 {
		return
	}
	t.dev.free(t)
}
