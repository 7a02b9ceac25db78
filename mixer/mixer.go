// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package mixer implements the image mixer of the compositing core.
//
// During a tick, producers drive the mixer through a tree walk:
//
//	BeginLayer(blendMode)
//	  Push(transform) ... Visit(frame) ... Pop()   // any nesting
//	EndLayer()
//	(repeat)
//	Render(format)   returns a future of packed BGRA bytes
//
// Visit starts plane uploads immediately; Render hands the accumulated
// layers to the per-frame composition algorithm on the device worker.
// All mixer state is mutated only on the channel executor.
package mixer

import (
	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
)

// Mixer is the stateful per-channel front end of the compositor.
// Not safe for concurrent use; every method runs on the channel
// executor.
type Mixer struct {
	dev      *device.Device
	renderer *renderer

	transformStack []playout.Transform
	layers         []layer
}

// New creates a mixer composing on the given device.
func New(dev *device.Device) *Mixer {
	playout.Logger().Info("mixer: initialized")
	return &Mixer{
		dev:            dev,
		renderer:       newRenderer(dev),
		transformStack: []playout.Transform{playout.IdentityTransform()},
	}
}

// BeginLayer appends a new empty layer with the given blend mode.
// Subsequent visits land in this layer.
func (m *Mixer) BeginLayer(blendMode playout.BlendMode) {
	m.layers = append(m.layers, layer{blendMode: blendMode})
}

// Push composes the given frame transform onto the top of the
// transform stack.
func (m *Mixer) Push(t playout.FrameTransform) {
	top := m.transformStack[len(m.transformStack)-1]
	m.transformStack = append(m.transformStack, top.Mul(t.Image))
}

// Pop drops the top transform. The identity bottom is never popped.
func (m *Mixer) Pop() {
	if len(m.transformStack) <= 1 {
		playout.Logger().Warn("mixer: unbalanced pop")
		return
	}
	m.transformStack = m.transformStack[:len(m.transformStack)-1]
}

// Visit accepts one frame into the current layer under the cumulative
// transform, starting asynchronous plane uploads.
//
// Invalid frames are silently skipped: an invalid pixel format, an
// empty plane list, an empty top-of-stack field mode, or no open
// layer.
func (m *Mixer) Visit(f *playout.Frame) {
	if !f.Valid() {
		return
	}
	top := m.transformStack[len(m.transformStack)-1]
	if top.FieldMode == playout.FieldEmpty {
		return
	}
	if len(m.layers) == 0 {
		return
	}

	it := item{
		desc:      f.Desc,
		fieldMode: f.FieldMode,
		transform: top,
	}
	for n, plane := range f.Desc.Planes {
		stride := plane.Linesize
		if n < len(f.Strides) && f.Strides[n] > 0 {
			stride = f.Strides[n]
		}
		it.textures = append(it.textures,
			m.dev.CopyAsync(f.Data[n], plane.Width, plane.Height, stride, plane.Channels))
	}

	l := &m.layers[len(m.layers)-1]
	l.items = append(l.items, it)
}

// EndLayer marks the end of the current layer. It is a no-op: visits
// made before the next BeginLayer still land in the last layer.
func (m *Mixer) EndLayer() {}

// Render moves the accumulated layers into the renderer and returns
// the readback future for the composited frame. The mixer is left with
// an empty layer list and its transform stack intact.
//
// The returned buffer is always exactly format.Size() bytes; rendering
// failures produce counted diagnostics and zero or partial pixels,
// never an error.
func (m *Mixer) Render(format playout.VideoFormatDesc) *device.Future[[]byte] {
	if len(m.transformStack) != 1 {
		playout.Logger().Warn("mixer: transform stack unbalanced at render",
			"depth", len(m.transformStack))
	}
	layers := m.layers
	m.layers = nil
	return m.renderer.render(layers, format)
}

// Diagnostics returns the renderer's failure counters.
func (m *Mixer) Diagnostics() *Diagnostics { return m.renderer.diag }

// CreateFrame allocates a mutable frame with one host buffer per plane
// of the descriptor, ready for a producer to fill.
func (m *Mixer) CreateFrame(tag any, desc playout.PixelFormatDesc, frameRate float64, fieldMode playout.FieldMode) *playout.MutableFrame {
	data := make([][]byte, len(desc.Planes))
	strides := make([]int, len(desc.Planes))
	for i, p := range desc.Planes {
		data[i] = make([]byte, p.Size)
		strides[i] = p.Linesize
	}
	return &playout.MutableFrame{
		Desc:      desc,
		FieldMode: fieldMode,
		Data:      data,
		Strides:   strides,
		FrameRate: frameRate,
		Tag:       tag,
	}
}

// Depth returns the current transform stack depth. One means balanced.
func (m *Mixer) Depth() int { return len(m.transformStack) }

// PendingItems returns the number of accepted visits not yet rendered.
func (m *Mixer) PendingItems() int {
	n := 0
	for _, l := range m.layers {
		n += len(l.items)
	}
	return n
}
