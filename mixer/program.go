// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package mixer

import (
	"fmt"
	"image"

	"github.com/openplayout/playout"
)

// program is the cached decode plan for one pixel layout: how to turn
// the uploaded planes of a frame into premultiplied RGBA source pixels.
// Programs are the CPU analogue of the fragment shaders the original
// selected per pixel layout, and are cached under the same 32-bit
// descriptor hash (widened with the format tag, which the hash alone
// does not distinguish for packed variants).
type program struct {
	format playout.PixelFormat

	// swizzle maps destination R,G,B,A to source byte offsets within a
	// packed pixel. Unused for planar formats.
	swizzle [4]int

	// ratio is the chroma subsampling of planar sources.
	ratio image.YCbCrSubsampleRatio
}

// programKey widens the descriptor hash with the format tag.
func programKey(desc playout.PixelFormatDesc) uint64 {
	return uint64(desc.Hash())<<8 | uint64(desc.Format)
}

// programFor resolves (and caches) the decode plan for a descriptor.
// Device-worker confined, so the cache map needs no locking.
func (k *kernel) programFor(desc playout.PixelFormatDesc) (*program, error) {
	key := programKey(desc)
	if p, ok := k.programs[key]; ok {
		return p, nil
	}

	p := &program{format: desc.Format}
	switch desc.Format {
	case playout.PixelBGRA:
		p.swizzle = [4]int{2, 1, 0, 3}
	case playout.PixelRGBA:
		p.swizzle = [4]int{0, 1, 2, 3}
	case playout.PixelARGB:
		p.swizzle = [4]int{1, 2, 3, 0}
	case playout.PixelABGR:
		p.swizzle = [4]int{3, 2, 1, 0}
	case playout.PixelYCbCr, playout.PixelYCbCrA:
		if len(desc.Planes) < 3 {
			return nil, fmt.Errorf("mixer: %s frame with %d planes", desc.Format, len(desc.Planes))
		}
		ratio, err := subsampleRatio(desc.Planes[0], desc.Planes[1])
		if err != nil {
			return nil, err
		}
		p.ratio = ratio
	default:
		return nil, fmt.Errorf("mixer: cannot sample %s", desc.Format)
	}

	k.programs[key] = p
	return p, nil
}

// subsampleRatio derives the chroma layout from the luma and chroma
// plane dimensions. Ratios must be powers of two no greater than four.
func subsampleRatio(y, c playout.Plane) (image.YCbCrSubsampleRatio, error) {
	if c.Width == 0 || c.Height == 0 {
		return 0, fmt.Errorf("mixer: empty chroma plane")
	}
	rx := y.Width / c.Width
	ry := y.Height / c.Height
	switch [2]int{rx, ry} {
	case [2]int{1, 1}:
		return image.YCbCrSubsampleRatio444, nil
	case [2]int{2, 1}:
		return image.YCbCrSubsampleRatio422, nil
	case [2]int{2, 2}:
		return image.YCbCrSubsampleRatio420, nil
	case [2]int{1, 2}:
		return image.YCbCrSubsampleRatio440, nil
	case [2]int{4, 1}:
		return image.YCbCrSubsampleRatio411, nil
	case [2]int{4, 2}:
		return image.YCbCrSubsampleRatio410, nil
	}
	return 0, fmt.Errorf("mixer: unsupported chroma subsampling %d:%d", rx, ry)
}
