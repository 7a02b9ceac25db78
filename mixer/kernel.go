// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package mixer

import (
	"errors"
	"image"
	stddraw "image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
	"github.com/openplayout/playout/internal/blend"
)

// drawParams describes one quad draw for the kernel.
//
// Either desc+textures (a decoded frame) or presampled (an
// intermediate composition buffer) provides the source. background is
// the render target; localKey and layerKey are optional single-channel
// masks at target resolution.
type drawParams struct {
	desc     playout.PixelFormatDesc
	textures []*device.Texture

	presampled *device.Texture

	transform playout.Transform
	blendMode playout.BlendMode
	keyer     playout.Keyer

	background *device.Texture
	localKey   *device.Texture
	layerKey   *device.Texture
}

// kernel is the stateless draw primitive: given source planes, a
// transform, a keying mode, a blend mode and a target surface, it
// rasterizes one quad with the matching program. All state lives in
// the parameters; the kernel itself only caches decode programs.
//
// Runs on the device worker.
type kernel struct {
	dev      *device.Device
	programs map[uint64]*program
}

func newKernel(dev *device.Device) *kernel {
	return &kernel{dev: dev, programs: make(map[uint64]*program)}
}

// draw rasterizes one quad into p.background.
func (k *kernel) draw(p drawParams) error {
	if p.transform.Opacity <= 0 || p.transform.FieldMode == playout.FieldEmpty {
		return nil
	}

	src, err := k.sample(p)
	if err != nil {
		return err
	}

	bg := p.background
	w, h := bg.Width(), bg.Height()

	// Fill rect from the unit-square transform; negative scale flips.
	x0, x1, flipX := axisRange(p.transform.FillTranslation[0], p.transform.FillScale[0], w)
	y0, y1, flipY := axisRange(p.transform.FillTranslation[1], p.transform.FillScale[1], h)
	fw, fh := x1-x0, y1-y0
	if fw <= 0 || fh <= 0 {
		return nil
	}

	// Scissor: clip rect intersected with the target bounds.
	cx0, cx1, _ := axisRange(p.transform.ClipTranslation[0], p.transform.ClipScale[0], w)
	cy0, cy1, _ := axisRange(p.transform.ClipTranslation[1], p.transform.ClipScale[1], h)
	lx0, lx1 := max(x0, cx0, 0), min(x1, cx1, w)
	ly0, ly1 := max(y0, cy0, 0), min(y1, cy1, h)
	if lx0 >= lx1 || ly0 >= ly1 {
		return nil
	}

	scaled := scaleSource(src, fw, fh)

	// Flipped or color-adjusted draws stay on the CPU path; the
	// accelerator receives the source already scaled to the fill rect.
	if bg.Channels() == 4 && !flipX && !flipY && p.transform.ColorNeutral() {
		if err := k.accelerate(p, scaled, [4]int{x0, y0, fw, fh}, [4]int{lx0, ly0, lx1 - lx0, ly1 - ly0}); err == nil {
			return nil
		}
	}

	opacity := clampByte(p.transform.Opacity * 255)
	adjust := !p.transform.ColorNeutral()
	blendFn := blend.ForMode(p.blendMode)
	if p.keyer == playout.KeyerAdditive {
		blendFn = blend.AddSaturate
	}

	var localKey, layerKey []byte
	if p.localKey != nil {
		localKey = p.localKey.Data()
	}
	if p.layerKey != nil {
		layerKey = p.layerKey.Data()
	}

	dst := bg.Data()
	keyTarget := bg.Channels() == 1

	for y := ly0; y < ly1; y++ {
		if !p.transform.FieldMode.DrawsRow(y) {
			continue
		}
		sy := y - y0
		if flipY {
			sy = fh - 1 - sy
		}
		srcRow := scaled.Pix[sy*scaled.Stride:]
		for x := lx0; x < lx1; x++ {
			sx := x - x0
			if flipX {
				sx = fw - 1 - sx
			}
			o := sx * 4
			sr, sg, sb, sa := srcRow[o], srcRow[o+1], srcRow[o+2], srcRow[o+3]

			if adjust {
				sr, sg, sb = adjustColor(sr, sg, sb, sa, p.transform)
			}
			if opacity != 255 {
				sr = mulByte(sr, opacity)
				sg = mulByte(sg, opacity)
				sb = mulByte(sb, opacity)
				sa = mulByte(sa, opacity)
			}
			if localKey != nil {
				kb := localKey[y*w+x]
				sr, sg, sb, sa = mulByte(sr, kb), mulByte(sg, kb), mulByte(sb, kb), mulByte(sa, kb)
			}
			if layerKey != nil {
				kb := layerKey[y*w+x]
				sr, sg, sb, sa = mulByte(sr, kb), mulByte(sg, kb), mulByte(sb, kb), mulByte(sa, kb)
			}

			if keyTarget {
				di := y*w + x
				kv := blend.Luma(sr, sg, sb)
				dst[di] = satAddByte(kv, mulByte(dst[di], 255-sa))
				continue
			}

			di := (y*w + x) * 4
			dr, dg, db, da := dst[di], dst[di+1], dst[di+2], dst[di+3]
			r, g, b, a := blendFn(sr, sg, sb, sa, dr, dg, db, da)
			dst[di], dst[di+1], dst[di+2], dst[di+3] = r, g, b, a
		}
	}
	return nil
}

// accelerate attempts the draw on the registered GPU accelerator.
// Any error keeps the CPU path authoritative.
func (k *kernel) accelerate(p drawParams, src *image.RGBA, fill, clip [4]int) error {
	a := playout.GetAccelerator()
	if a == nil || !a.CanAccelerate(playout.AccelComposite) {
		return playout.ErrFallbackToCPU
	}

	bg := p.background
	draw := playout.AccelDraw{
		Source: playout.AccelTarget{
			Data:     src.Pix,
			Width:    src.Rect.Dx(),
			Height:   src.Rect.Dy(),
			Stride:   src.Stride,
			Channels: 4,
		},
		FillRect:  fill,
		ClipRect:  clip,
		FieldMode: p.transform.FieldMode,
		BlendMode: p.blendMode,
		Keyer:     p.keyer,
		Opacity:   p.transform.Opacity,
	}
	if p.localKey != nil {
		draw.LocalKey = accelTarget(p.localKey)
	}
	if p.layerKey != nil {
		draw.LayerKey = accelTarget(p.layerKey)
	}

	err := a.Composite(accelTarget(bg), draw)
	if err != nil && !errors.Is(err, playout.ErrFallbackToCPU) {
		playout.Logger().Debug("mixer: accelerator draw failed", "accelerator", a.Name(), "err", err)
	}
	return err
}

func accelTarget(t *device.Texture) playout.AccelTarget {
	return playout.AccelTarget{
		Data:     t.Data(),
		Width:    t.Width(),
		Height:   t.Height(),
		Stride:   t.Stride(),
		Channels: t.Channels(),
	}
}

// sample decodes the draw source into premultiplied RGBA at source
// resolution. Composition buffers pass through without copying.
func (k *kernel) sample(p drawParams) (*image.RGBA, error) {
	if p.presampled != nil {
		t := p.presampled
		return &image.RGBA{
			Pix:    t.Data(),
			Stride: t.Stride(),
			Rect:   image.Rect(0, 0, t.Width(), t.Height()),
		}, nil
	}

	prog, err := k.programFor(p.desc)
	if err != nil {
		return nil, err
	}
	if len(p.textures) < len(p.desc.Planes) {
		return nil, errors.New("mixer: missing source planes")
	}

	pl := p.desc.Planes[0]
	out := image.NewRGBA(image.Rect(0, 0, pl.Width, pl.Height))

	switch {
	case p.desc.Format.Packed():
		src := p.textures[0].Data()
		sw := prog.swizzle
		n := pl.Width * pl.Height * 4
		for i := 0; i < n; i += 4 {
			out.Pix[i+0] = src[i+sw[0]]
			out.Pix[i+1] = src[i+sw[1]]
			out.Pix[i+2] = src[i+sw[2]]
			out.Pix[i+3] = src[i+sw[3]]
		}
	case p.desc.Format == playout.PixelYCbCr:
		yc := planarImage(p.desc, p.textures, prog.ratio)
		stddraw.Draw(out, out.Rect, yc, image.Point{}, stddraw.Src)
	case p.desc.Format == playout.PixelYCbCrA:
		if len(p.textures) < 4 {
			return nil, errors.New("mixer: ycbcra frame without alpha plane")
		}
		yc := planarImage(p.desc, p.textures, prog.ratio)
		nycbcra := &image.NYCbCrA{
			YCbCr:   *yc,
			A:       p.textures[3].Data(),
			AStride: p.desc.Planes[3].Width,
		}
		stddraw.Draw(out, out.Rect, nycbcra, image.Point{}, stddraw.Src)
	default:
		return nil, errors.New("mixer: unsampleable format")
	}
	return out, nil
}

// planarImage wraps uploaded Y/Cb/Cr planes as an image.YCbCr without
// copying.
func planarImage(desc playout.PixelFormatDesc, textures []*device.Texture, ratio image.YCbCrSubsampleRatio) *image.YCbCr {
	y, c := desc.Planes[0], desc.Planes[1]
	return &image.YCbCr{
		Y:              textures[0].Data(),
		Cb:             textures[1].Data(),
		Cr:             textures[2].Data(),
		YStride:        y.Width,
		CStride:        c.Width,
		SubsampleRatio: ratio,
		Rect:           image.Rect(0, 0, y.Width, y.Height),
	}
}

// scaleSource resizes the sampled source to the fill rect. A same-size
// fill passes through untouched, keeping 1:1 draws byte-exact.
func scaleSource(src *image.RGBA, fw, fh int) *image.RGBA {
	if src.Rect.Dx() == fw && src.Rect.Dy() == fh {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst
}

// axisRange maps a unit-interval translation+scale onto [0, size) pixel
// coordinates, normalizing negative scale into a flip.
func axisRange(translation, scale float64, size int) (lo, hi int, flip bool) {
	a := translation * float64(size)
	b := (translation + scale) * float64(size)
	if b < a {
		a, b = b, a
		flip = true
	}
	return int(math.Round(a)), int(math.Round(b)), flip
}

// adjustColor runs the float color pipeline on one pixel:
// levels, then brightness, then saturation, then contrast.
func adjustColor(r, g, b, a byte, t playout.Transform) (byte, byte, byte) {
	if a == 0 {
		return r, g, b
	}
	af := float64(a) / 255
	rf := float64(r) / 255 / af
	gf := float64(g) / 255 / af
	bf := float64(b) / 255 / af

	lv := t.Levels
	apply := func(v float64) float64 {
		if in := lv.MaxInput - lv.MinInput; in != 0 {
			v = (v - lv.MinInput) / in
		}
		v = clamp01(v)
		if lv.Gamma > 0 && lv.Gamma != 1 {
			v = math.Pow(v, 1/lv.Gamma)
		}
		v = lv.MinOutput + v*(lv.MaxOutput-lv.MinOutput)
		return v * t.Brightness
	}
	rf, gf, bf = apply(rf), apply(gf), apply(bf)

	if t.Saturation != 1 {
		l := 0.2126*rf + 0.7152*gf + 0.0722*bf
		rf = l + (rf-l)*t.Saturation
		gf = l + (gf-l)*t.Saturation
		bf = l + (bf-l)*t.Saturation
	}
	if t.Contrast != 1 {
		rf = (rf-0.5)*t.Contrast + 0.5
		gf = (gf-0.5)*t.Contrast + 0.5
		bf = (bf-0.5)*t.Contrast + 0.5
	}

	return clampByte(clamp01(rf) * af * 255),
		clampByte(clamp01(gf) * af * 255),
		clampByte(clamp01(bf) * af * 255)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}

func mulByte(a, b byte) byte {
	return byte((uint16(a)*uint16(b) + 127) / 255)
}

func satAddByte(a, b byte) byte {
	s := uint16(a) + uint16(b)
	if s > 255 {
		return 255
	}
	return byte(s)
}
