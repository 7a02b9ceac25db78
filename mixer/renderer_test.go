// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package mixer

import (
	"bytes"
	"testing"

	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
)

func TestRenderSolidColorPassThrough(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	in := [4]byte{0xFF, 0x00, 0x00, 0xFF}
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, in))
	m.EndLayer()

	out := renderOnce(t, m, format)
	for i := 0; i < len(out); i += 4 {
		if got := [4]byte(out[i : i+4]); got != in {
			t.Fatalf("pixel %d = % X, want % X", i/4, got, in)
		}
	}
}

func TestRenderEmptyIsZeroWithoutDevice(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(4, 4, playout.FieldProgressive)

	out := renderOnce(t, m, format)
	if !bytes.Equal(out, make([]byte, format.Size())) {
		t.Error("render with no layers should be all zero")
	}

	stats, err := dev.GetStats().Await()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Allocations != 0 {
		t.Errorf("allocations = %d, want 0 (GPU bypass)", stats.Allocations)
	}
}

func TestRenderEmptyLayerContributesNothing(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	m.BeginLayer(playout.BlendMultiply)
	m.EndLayer()
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, [4]byte{0x10, 0x20, 0x30, 0xFF}))
	m.EndLayer()

	out := renderOnce(t, m, format)
	if got := pixelAt(out, 2, 0, 0); got != [4]byte{0x10, 0x20, 0x30, 0xFF} {
		t.Errorf("pixel = % X", got)
	}
}

func TestKeyGatesMixes(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	key := playout.IdentityFrameTransform()
	key.Image.IsKey = true
	mix := playout.IdentityFrameTransform()
	mix.Image.IsMix = true

	// Key on pixels 0 and 2 (row-major), off on 1 and 3. The key is
	// re-populated before the second mix, so both are gated.
	pattern := []bool{true, false, true, false}
	red := [4]byte{0x00, 0x00, 0xFF, 0xFF}
	green := [4]byte{0x00, 0xFF, 0x00, 0xFF}

	m.BeginLayer(playout.BlendNormal)
	m.Push(key)
	m.Visit(keyFrame(2, 2, pattern))
	m.Pop()
	m.Push(mix)
	m.Visit(solidFrame(2, 2, red))
	m.Pop()
	m.Push(key)
	m.Visit(keyFrame(2, 2, pattern))
	m.Pop()
	m.Push(mix)
	m.Visit(solidFrame(2, 2, green))
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	yellow := [4]byte{0x00, 0xFF, 0xFF, 0xFF}
	black := [4]byte{0x00, 0x00, 0x00, 0x00}
	for i, want := range [][4]byte{yellow, black, yellow, black} {
		if got := pixelAt(out, 2, i%2, i/2); got != want {
			t.Errorf("pixel %d = % X, want % X", i, got, want)
		}
	}
}

func TestLocalKeyConsumedByFirstUse(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	key := playout.IdentityFrameTransform()
	key.Image.IsKey = true
	mix := playout.IdentityFrameTransform()
	mix.Image.IsMix = true

	pattern := []bool{true, false, true, false}

	// The first mix consumes the key; the second mix sees none and
	// lands ungated everywhere.
	m.BeginLayer(playout.BlendNormal)
	m.Push(key)
	m.Visit(keyFrame(2, 2, pattern))
	m.Pop()
	m.Push(mix)
	m.Visit(solidFrame(2, 2, [4]byte{0x00, 0x00, 0xFF, 0xFF})) // red
	m.Pop()
	m.Push(mix)
	m.Visit(solidFrame(2, 2, [4]byte{0x00, 0xFF, 0x00, 0xFF})) // green
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	yellow := [4]byte{0x00, 0xFF, 0xFF, 0xFF}
	green := [4]byte{0x00, 0xFF, 0x00, 0xFF}
	if got := pixelAt(out, 2, 0, 0); got != yellow {
		t.Errorf("keyed pixel = % X, want % X", got, yellow)
	}
	if got := pixelAt(out, 2, 1, 0); got != green {
		t.Errorf("unkeyed pixel = % X, want % X (key already consumed)", got, green)
	}
}

func TestLayerBlendMultiply(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	gray := [4]byte{0x80, 0x80, 0x80, 0xFF}
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, gray))
	m.EndLayer()
	m.BeginLayer(playout.BlendMultiply)
	m.Visit(solidFrame(2, 2, gray))
	m.EndLayer()

	out := renderOnce(t, m, format)
	want := [4]byte{0x40, 0x40, 0x40, 0xFF}
	for i := 0; i < 4; i++ {
		if got := pixelAt(out, 2, i%2, i/2); got != want {
			t.Errorf("pixel %d = % X, want % X", i, got, want)
		}
	}
}

func TestEmptyFieldModeRendersZero(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	empty := playout.IdentityFrameTransform()
	empty.Image.FieldMode = playout.FieldEmpty

	m.BeginLayer(playout.BlendNormal)
	m.Push(empty)
	m.Visit(solidFrame(2, 2, [4]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	if !bytes.Equal(out, make([]byte, format.Size())) {
		t.Error("visit under empty field mode must contribute nothing")
	}
}

func TestInterlacedStillRendersOnSecondFieldOnly(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	// Upper-field-first interlaced format: the upper pass runs first,
	// so the still is dropped there and lands on the lower (odd) rows.
	format := testFormat(4, 4, playout.FieldUpper)

	still := playout.IdentityFrameTransform()
	still.Image.IsStill = true

	m.BeginLayer(playout.BlendNormal)
	m.Push(still)
	m.Visit(solidFrame(4, 4, [4]byte{0xAA, 0xBB, 0xCC, 0xFF}))
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			got := pixelAt(out, 4, x, y)
			if y%2 == 0 {
				if got != [4]byte{} {
					t.Errorf("upper row %d = % X, want zero", y, got)
				}
			} else {
				if got != [4]byte{0xAA, 0xBB, 0xCC, 0xFF} {
					t.Errorf("lower row %d = % X, want still", y, got)
				}
			}
		}
	}
}

func TestLayerKeyPropagatesExactlyOneLayer(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	key := playout.IdentityFrameTransform()
	key.Image.IsKey = true
	pattern := []bool{true, false, true, false}

	red := [4]byte{0x00, 0x00, 0xFF, 0xFF}
	green := [4]byte{0x00, 0xFF, 0x00, 0xFF}

	// Layer 0 produces only a key. Layer 1's fill is gated by it.
	// Layer 2 must not see layer 0's key: its fill covers everything,
	// including the pixels layer 1 left black.
	m.BeginLayer(playout.BlendNormal)
	m.Push(key)
	m.Visit(keyFrame(2, 2, pattern))
	m.Pop()
	m.EndLayer()
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, red))
	m.EndLayer()
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, green))
	m.EndLayer()

	out := renderOnce(t, m, format)
	for i := 0; i < 4; i++ {
		if got := pixelAt(out, 2, i%2, i/2); got != green {
			t.Errorf("pixel %d = % X, want % X (layer 2 unkeyed)", i, got, green)
		}
	}
}

func TestLayerKeyGatesNextLayer(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	key := playout.IdentityFrameTransform()
	key.Image.IsKey = true
	pattern := []bool{true, false, true, false}
	red := [4]byte{0x00, 0x00, 0xFF, 0xFF}

	m.BeginLayer(playout.BlendNormal)
	m.Push(key)
	m.Visit(keyFrame(2, 2, pattern))
	m.Pop()
	m.EndLayer()
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, red))
	m.EndLayer()

	out := renderOnce(t, m, format)
	if got := pixelAt(out, 2, 0, 0); got != red {
		t.Errorf("keyed pixel = % X, want red", got)
	}
	if got := pixelAt(out, 2, 1, 0); got != ([4]byte{}) {
		t.Errorf("unkeyed pixel = % X, want zero", got)
	}
}

func TestProgressiveSourceSurvivesInterlacedComposition(t *testing.T) {
	dev := device.New()
	defer dev.Close()

	in := [4]byte{0x12, 0x34, 0x56, 0xFF}

	mProg := New(dev)
	mProg.BeginLayer(playout.BlendNormal)
	mProg.Visit(solidFrame(4, 4, in))
	prog := renderOnce(t, mProg, testFormat(4, 4, playout.FieldProgressive))

	mInt := New(dev)
	mInt.BeginLayer(playout.BlendNormal)
	mInt.Visit(solidFrame(4, 4, in))
	interlaced := renderOnce(t, mInt, testFormat(4, 4, playout.FieldUpper))

	// The upper pass writes even rows, the lower pass odd rows; for a
	// progressive source the two-field composition equals the
	// progressive render.
	if !bytes.Equal(prog, interlaced) {
		t.Error("upper+lower field composition should equal progressive render")
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	dev := device.New()
	defer dev.Close()

	build := func(m *Mixer) {
		key := playout.IdentityFrameTransform()
		key.Image.IsKey = true
		mix := playout.IdentityFrameTransform()
		mix.Image.IsMix = true

		m.BeginLayer(playout.BlendNormal)
		m.Push(key)
		m.Visit(keyFrame(2, 2, []bool{true, true, false, false}))
		m.Pop()
		m.Push(mix)
		m.Visit(solidFrame(2, 2, [4]byte{0x00, 0x00, 0xFF, 0xFF}))
		m.Pop()
		m.EndLayer()
		m.BeginLayer(playout.BlendScreen)
		m.Visit(solidFrame(2, 2, [4]byte{0x40, 0x40, 0x40, 0xFF}))
		m.EndLayer()
	}

	format := testFormat(2, 2, playout.FieldProgressive)
	m := New(dev)
	build(m)
	first := renderOnce(t, m, format)
	build(m)
	second := renderOnce(t, m, format)
	if !bytes.Equal(first, second) {
		t.Error("identical layer lists must render byte-identical frames")
	}
}

func TestPoolAllocationsFlatAcrossTicks(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(8, 8, playout.FieldUpper)

	tick := func() {
		m.BeginLayer(playout.BlendNormal)
		m.Visit(solidFrame(8, 8, [4]byte{1, 2, 3, 0xFF}))
		m.EndLayer()
		renderOnce(t, m, format)
	}

	tick()
	tick()
	after2, err := dev.GetStats().Await()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		tick()
	}
	after12, err := dev.GetStats().Await()
	if err != nil {
		t.Fatal(err)
	}
	if after12.Allocations != after2.Allocations {
		t.Errorf("allocations grew from %d to %d across identical ticks",
			after2.Allocations, after12.Allocations)
	}
}

func TestDrawFailureEmitsDeclaredSize(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	// Bottom layer draws fine; the second layer's frame declares an
	// impossible chroma subsampling, which fails at the draw point.
	m.BeginLayer(playout.BlendNormal)
	m.Visit(solidFrame(2, 2, [4]byte{0x11, 0x22, 0x33, 0xFF}))
	m.EndLayer()

	bad := &playout.Frame{
		Desc: playout.PixelFormatDesc{
			Format: playout.PixelYCbCr,
			Planes: []playout.Plane{
				playout.NewPlane(6, 6, 1),
				playout.NewPlane(2, 2, 1), // 3:1 ratio is not a power of two
				playout.NewPlane(2, 2, 1),
			},
		},
		FieldMode: playout.FieldProgressive,
		Data:      [][]byte{make([]byte, 36), make([]byte, 4), make([]byte, 4)},
	}
	m.BeginLayer(playout.BlendNormal)
	m.Visit(bad)
	m.EndLayer()

	out := renderOnce(t, m, format)
	// Last good output: the bottom layer survived.
	if got := pixelAt(out, 2, 0, 0); got != [4]byte{0x11, 0x22, 0x33, 0xFF} {
		t.Errorf("pixel = % X, want bottom layer", got)
	}
	if m.Diagnostics().DrawFailures.Load() == 0 {
		t.Error("draw failure should be counted")
	}
}

func TestOpacityZeroShortCircuits(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 2, playout.FieldProgressive)

	invisible := playout.IdentityFrameTransform()
	invisible.Image.Opacity = 0

	m.BeginLayer(playout.BlendNormal)
	m.Push(invisible)
	m.Visit(solidFrame(2, 2, [4]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	if !bytes.Equal(out, make([]byte, format.Size())) {
		t.Error("zero-opacity item must not draw")
	}
}

func TestClipScissorsFill(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(4, 4, playout.FieldProgressive)

	clipped := playout.IdentityFrameTransform()
	clipped.Image.ClipTranslation = [2]float64{0, 0}
	clipped.Image.ClipScale = [2]float64{0.5, 1}

	m.BeginLayer(playout.BlendNormal)
	m.Push(clipped)
	m.Visit(solidFrame(4, 4, [4]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			got := pixelAt(out, 4, x, y)
			if x < 2 && got != [4]byte{0xFF, 0xFF, 0xFF, 0xFF} {
				t.Errorf("(%d,%d) = % X, want white inside clip", x, y, got)
			}
			if x >= 2 && got != ([4]byte{}) {
				t.Errorf("(%d,%d) = % X, want zero outside clip", x, y, got)
			}
		}
	}
}

func TestNegativeScaleFlips(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(2, 1, playout.FieldProgressive)

	// Left pixel red, right pixel green.
	desc := playout.PackedDesc(playout.PixelBGRA, 2, 1)
	data := []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0xFF, 0x00, 0xFF}
	frame := &playout.Frame{
		Desc:      desc,
		FieldMode: playout.FieldProgressive,
		Data:      [][]byte{data},
		Strides:   []int{8},
	}

	flip := playout.IdentityFrameTransform()
	flip.Image.FillTranslation = [2]float64{1, 0}
	flip.Image.FillScale = [2]float64{-1, 1}

	m.BeginLayer(playout.BlendNormal)
	m.Push(flip)
	m.Visit(frame)
	m.Pop()
	m.EndLayer()

	out := renderOnce(t, m, format)
	if got := pixelAt(out, 2, 0, 0); got != [4]byte{0x00, 0xFF, 0x00, 0xFF} {
		t.Errorf("left pixel = % X, want green (flipped)", got)
	}
	if got := pixelAt(out, 2, 1, 0); got != [4]byte{0x00, 0x00, 0xFF, 0xFF} {
		t.Errorf("right pixel = % X, want red (flipped)", got)
	}
}

func TestYCbCrGraySource(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	m := New(dev)
	format := testFormat(4, 4, playout.FieldProgressive)

	desc := playout.PixelFormatDesc{
		Format: playout.PixelYCbCr,
		Planes: []playout.Plane{
			playout.NewPlane(4, 4, 1),
			playout.NewPlane(2, 2, 1),
			playout.NewPlane(2, 2, 1),
		},
	}
	y := bytes.Repeat([]byte{0x80}, 16)
	c := bytes.Repeat([]byte{0x80}, 4) // neutral chroma
	frame := &playout.Frame{
		Desc:      desc,
		FieldMode: playout.FieldProgressive,
		Data:      [][]byte{y, c, c},
		Strides:   []int{4, 2, 2},
	}

	m.BeginLayer(playout.BlendNormal)
	m.Visit(frame)
	m.EndLayer()

	out := renderOnce(t, m, format)
	want := [4]byte{0x80, 0x80, 0x80, 0xFF}
	if got := pixelAt(out, 4, 1, 1); got != want {
		t.Errorf("ycbcr gray = % X, want % X", got, want)
	}
}

func TestPackedVariantsSwizzleIdentically(t *testing.T) {
	dev := device.New()
	defer dev.Close()
	format := testFormat(1, 1, playout.FieldProgressive)

	// The same logical color (r=1, g=2, b=3, a=255) in each packed
	// layout must produce identical BGRA output.
	cases := []struct {
		format playout.PixelFormat
		bytes  [4]byte
	}{
		{playout.PixelBGRA, [4]byte{3, 2, 1, 255}},
		{playout.PixelRGBA, [4]byte{1, 2, 3, 255}},
		{playout.PixelARGB, [4]byte{255, 1, 2, 3}},
		{playout.PixelABGR, [4]byte{255, 3, 2, 1}},
	}
	want := []byte{3, 2, 1, 255}
	for _, tc := range cases {
		m := New(dev)
		frame := &playout.Frame{
			Desc:      playout.PackedDesc(tc.format, 1, 1),
			FieldMode: playout.FieldProgressive,
			Data:      [][]byte{tc.bytes[:]},
			Strides:   []int{4},
		}
		m.BeginLayer(playout.BlendNormal)
		m.Visit(frame)
		m.EndLayer()
		out := renderOnce(t, m, format)
		if !bytes.Equal(out, want) {
			t.Errorf("%v output = % X, want % X", tc.format, out, want)
		}
	}
}
