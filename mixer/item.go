// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package mixer

import (
	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
)

// item is one source image within one layer: the pixel layout, the
// field mode the source was captured with, the cumulative transform at
// visit time, and one upload future per plane.
//
// Plane uploads start at visit time; the renderer awaits them at the
// draw point. Because the device queue is FIFO, every upload scheduled
// during the tick has completed by the time the render task runs.
type item struct {
	desc      playout.PixelFormatDesc
	fieldMode playout.FieldMode
	transform playout.Transform
	textures  []*device.Future[*device.Texture]
}

// layer is an ordered run of items composited with one blend mode.
// Layers stack bottom-to-top within a frame.
type layer struct {
	items     []item
	blendMode playout.BlendMode
}

// releaseTextures drops the renderer's reference on every resolved
// item texture. Unresolved or failed uploads have nothing to release.
func releaseTextures(layers []layer) {
	for _, l := range layers {
		for _, it := range l.items {
			for _, fut := range it.textures {
				select {
				case <-fut.Done():
					if t, err := fut.Await(); err == nil {
						t.Release()
					}
				default:
				}
			}
		}
	}
}

// copyLayers returns a shallow per-item copy of the layer list. Field
// passes mutate item transforms, so each pass works on its own copy
// while sharing the underlying texture futures.
func copyLayers(layers []layer) []layer {
	out := make([]layer, len(layers))
	for i, l := range layers {
		items := make([]item, len(l.items))
		copy(items, l.items)
		out[i] = layer{items: items, blendMode: l.blendMode}
	}
	return out
}
