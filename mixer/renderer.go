// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package mixer

import (
	"sync/atomic"

	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
)

// Diagnostics holds the renderer's failure counters. Composition never
// surfaces errors to the channel executor; failures land here and the
// output buffer is always the declared size.
type Diagnostics struct {
	AllocFailures atomic.Uint64
	DrawFailures  atomic.Uint64
}

// renderer runs the per-frame composition algorithm: it decomposes
// layers × items into a sequence of kernel draws against intermediate
// and final targets, applying field-mode policy and key propagation.
type renderer struct {
	dev    *device.Device
	kernel *kernel
	diag   *Diagnostics
}

func newRenderer(dev *device.Device) *renderer {
	return &renderer{dev: dev, kernel: newKernel(dev), diag: &Diagnostics{}}
}

// render composites the layer list into one packed BGRA frame.
//
// An empty layer list bypasses the device entirely. Otherwise the
// draw buffer is composed on the device worker, once for progressive
// formats or as an upper pass followed by a lower pass on the same
// buffer, and an asynchronous readback future is returned.
func (r *renderer) render(layers []layer, format playout.VideoFormatDesc) *device.Future[[]byte] {
	if len(layers) == 0 {
		return device.Resolved(make([]byte, format.Size()))
	}

	return device.Flatten(device.Invoke(r.dev, func() (*device.Future[[]byte], error) {
		drawBuffer, err := r.dev.CreateTexture(format.Width, format.Height, 4)
		if err != nil {
			r.diag.AllocFailures.Add(1)
			playout.Logger().Error("mixer: draw buffer allocation failed", "err", err)
			releaseTextures(layers)
			return device.Resolved(make([]byte, format.Size())), nil
		}

		if format.FieldMode != playout.FieldProgressive {
			r.draw(copyLayers(layers), drawBuffer, format, playout.FieldUpper)
			r.draw(layers, drawBuffer, format, playout.FieldLower)
		} else {
			r.draw(layers, drawBuffer, format, playout.FieldProgressive)
		}

		releaseTextures(layers)

		readback := device.Invoke(r.dev, func() ([]byte, error) {
			defer drawBuffer.Release()
			return packBGRA(drawBuffer), nil
		})
		return readback, nil
	}))
}

// draw runs one field pass over all layers, threading the rolling
// layer key from each layer to the next.
func (r *renderer) draw(layers []layer, drawBuffer *device.Texture, format playout.VideoFormatDesc, pass playout.FieldMode) {
	var layerKey *device.Texture
	for _, l := range layers {
		next, err := r.drawLayer(l, drawBuffer, layerKey, format, pass)
		if err != nil {
			r.diag.DrawFailures.Add(1)
			playout.Logger().Warn("mixer: draw failed, aborting remaining layers", "err", err)
			layerKey = next
			break
		}
		layerKey = next
	}
	layerKey.Release()
}

// drawLayer composites one layer onto the draw buffer and returns the
// layer key exposed to the next layer.
//
// Normal-blend layers take the fast path and draw straight onto the
// shared buffer. Any other blend mode composes into a per-layer buffer
// first, which is then blended onto the draw buffer as a whole.
func (r *renderer) drawLayer(l layer, drawBuffer, layerKey *device.Texture, format playout.VideoFormatDesc, pass playout.FieldMode) (*device.Texture, error) {
	items := prepareItems(l.items, format, pass)
	if len(items) == 0 {
		return layerKey, nil
	}

	var localKey, localMix *device.Texture

	if l.blendMode != playout.BlendNormal {
		layerDraw, err := r.createMixerBuffer(drawBuffer.Width(), drawBuffer.Height(), 4)
		if err != nil {
			return layerKey, err
		}
		for _, it := range items {
			if err := r.drawItem(it, layerDraw, layerKey, &localKey, &localMix); err != nil {
				layerDraw.Release()
				releaseAll(localKey, localMix)
				return layerKey, err
			}
		}
		if err := r.compositeBuffer(layerDraw, &localMix, playout.BlendNormal); err != nil {
			layerDraw.Release()
			releaseAll(localKey)
			return layerKey, err
		}
		layerDrawSlot := layerDraw
		if err := r.compositeBuffer(drawBuffer, &layerDrawSlot, l.blendMode); err != nil {
			releaseAll(localKey)
			return layerKey, err
		}
	} else {
		for _, it := range items {
			if err := r.drawItem(it, drawBuffer, layerKey, &localKey, &localMix); err != nil {
				releaseAll(localKey, localMix)
				return layerKey, err
			}
		}
		if err := r.compositeBuffer(drawBuffer, &localMix, playout.BlendNormal); err != nil {
			releaseAll(localKey)
			return layerKey, err
		}
	}

	// The key this layer produced becomes the next layer's layer key;
	// the previous one stops propagating here.
	layerKey.Release()
	return localKey, nil
}

// drawItem dispatches one item by its transform flags.
//
// Key items write the local key mask and produce no color. Mix items
// accumulate additively into the mix buffer, gated by the keys. Plain
// items first flush any accumulated mix, then draw with linear keying.
// The local key is consumed by the first item that uses it.
func (r *renderer) drawItem(it item, target, layerKey *device.Texture, localKey, localMix **device.Texture) error {
	textures := make([]*device.Texture, 0, len(it.textures))
	for _, fut := range it.textures {
		t, err := fut.Await()
		if err != nil {
			return err
		}
		textures = append(textures, t)
	}

	p := drawParams{
		desc:      it.desc,
		textures:  textures,
		transform: it.transform,
	}

	switch {
	case it.transform.IsKey:
		if *localKey == nil {
			k, err := r.createMixerBuffer(target.Width(), target.Height(), 1)
			if err != nil {
				return err
			}
			*localKey = k
		}
		p.background = *localKey
		return r.kernel.draw(p)

	case it.transform.IsMix:
		if *localMix == nil {
			m, err := r.createMixerBuffer(target.Width(), target.Height(), 4)
			if err != nil {
				return err
			}
			*localMix = m
		}
		p.background = *localMix
		p.localKey = consume(localKey)
		p.layerKey = layerKey
		p.keyer = playout.KeyerAdditive
		err := r.kernel.draw(p)
		p.localKey.Release()
		return err

	default:
		if err := r.compositeBuffer(target, localMix, playout.BlendNormal); err != nil {
			return err
		}
		p.background = target
		p.localKey = consume(localKey)
		p.layerKey = layerKey
		err := r.kernel.draw(p)
		p.localKey.Release()
		return err
	}
}

// compositeBuffer draws *slot over the target with the given blend
// mode, full-frame and progressive, then releases and clears the slot.
// A nil slot is a no-op.
func (r *renderer) compositeBuffer(target *device.Texture, slot **device.Texture, mode playout.BlendMode) error {
	src := consume(slot)
	if src == nil {
		return nil
	}
	err := r.kernel.draw(drawParams{
		presampled: src,
		transform:  playout.IdentityTransform(),
		blendMode:  mode,
		background: target,
	})
	src.Release()
	return err
}

// createMixerBuffer returns a cleared pooled surface.
func (r *renderer) createMixerBuffer(width, height, channels int) (*device.Texture, error) {
	t, err := r.dev.CreateTexture(width, height, channels)
	if err != nil {
		r.diag.AllocFailures.Add(1)
		return nil, err
	}
	return t, nil
}

// prepareItems applies the per-pass field-mode rewriting rules in
// order: NTSC DV compensation, field-order correction, field masking,
// empty-item removal, and first-field still removal.
func prepareItems(items []item, format playout.VideoFormatDesc, pass playout.FieldMode) []item {
	h := float64(format.Height)
	out := make([]item, 0, len(items))

	for _, it := range items {
		// 480 active lines means NTSC DV material: nudge and shrink
		// vertically to correct the active-line bias.
		if len(it.desc.Planes) > 0 && it.desc.Planes[0].Height == 480 {
			it.transform.FillTranslation[1] += 2.0 / h
			it.transform.FillScale[1] = 1.0 - 6.0/h
		}

		// Fix field order when the item and the format disagree.
		if it.fieldMode == playout.FieldLower && format.FieldMode == playout.FieldUpper {
			it.transform.FillTranslation[1] += 1.0 / h
		} else if it.fieldMode == playout.FieldUpper && format.FieldMode == playout.FieldLower {
			it.transform.FillTranslation[1] -= 1.0 / h
		}

		it.transform.FieldMode &= pass
		if it.transform.FieldMode == playout.FieldEmpty {
			continue
		}

		// Stills render only on the last field of an interlaced frame.
		if it.transform.IsStill && it.transform.FieldMode == format.FieldMode {
			continue
		}

		out = append(out, it)
	}
	return out
}

// consume moves a texture out of its slot.
func consume(slot **device.Texture) *device.Texture {
	t := *slot
	*slot = nil
	return t
}

// releaseAll releases any non-nil textures.
func releaseAll(ts ...*device.Texture) {
	for _, t := range ts {
		t.Release()
	}
}

// packBGRA reads the premultiplied RGBA draw buffer out as packed BGRA
// host bytes in top-down row order.
func packBGRA(t *device.Texture) []byte {
	src := t.Data()
	out := make([]byte, len(src))
	for i := 0; i < len(src); i += 4 {
		out[i+0] = src[i+2]
		out[i+1] = src[i+1]
		out[i+2] = src[i+0]
		out[i+3] = src[i+3]
	}
	return out
}
