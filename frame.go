// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package playout

// Frame is an immutable decoded frame as handed to the mixer by a
// producer: a pixel format descriptor plus one host byte array per
// plane, and the pass-through audio for the same tick.
//
// Plane data may carry a stride larger than Width*Channels; the extra
// bytes are padding and are never read past the declared width.
type Frame struct {
	Desc      PixelFormatDesc
	FieldMode FieldMode

	// Data holds one byte slice per plane in Desc.Planes order.
	Data [][]byte

	// Strides holds the bytes-per-row of each plane's Data slice.
	Strides []int

	// Audio is the interleaved audio payload for this frame. The mixer
	// does not interpret it; it travels alongside the video.
	Audio []int32

	FrameRate float64

	// Tag identifies the producer instance that built the frame.
	Tag any
}

// Valid reports whether the frame carries drawable image data.
func (f *Frame) Valid() bool {
	return f != nil && f.Desc.Valid() && len(f.Data) >= len(f.Desc.Planes)
}

// MutableFrame is a producer-side frame under construction. Plane
// buffers are allocated by Mixer.CreateFrame; Const freezes the frame
// for submission.
type MutableFrame struct {
	Desc      PixelFormatDesc
	FieldMode FieldMode
	Data      [][]byte
	Strides   []int
	Audio     []int32
	FrameRate float64
	Tag       any
}

// Const returns the immutable view of the frame. The plane buffers are
// shared, not copied; the producer must not write after Const.
func (f *MutableFrame) Const() *Frame {
	return &Frame{
		Desc:      f.Desc,
		FieldMode: f.FieldMode,
		Data:      f.Data,
		Strides:   f.Strides,
		Audio:     f.Audio,
		FrameRate: f.FrameRate,
		Tag:       f.Tag,
	}
}
