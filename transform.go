// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package playout

// BlendMode selects how a layer (or an in-layer composite) combines
// with the pixels beneath it. Layers are ordered bottom-to-top; Normal
// is plain source-over and takes the renderer's fast path.
type BlendMode uint8

const (
	BlendNormal BlendMode = iota
	BlendLighten
	BlendDarken
	BlendMultiply
	BlendScreen
	BlendOverlay
	BlendHardLight
	BlendSoftLight
	BlendDifference
	BlendExclusion
	BlendColorDodge
	BlendColorBurn
	BlendAdd
	BlendSubtract
	BlendContrast
)

// String returns the blend mode name.
func (m BlendMode) String() string {
	names := [...]string{
		"normal", "lighten", "darken", "multiply", "screen", "overlay",
		"hard_light", "soft_light", "difference", "exclusion",
		"color_dodge", "color_burn", "add", "subtract", "contrast",
	}
	if int(m) < len(names) {
		return names[m]
	}
	return "normal"
}

// Keyer selects how a single-channel mask gates a source.
type Keyer uint8

const (
	// KeyerLinear multiplies the source by the key.
	KeyerLinear Keyer = iota

	// KeyerAdditive adds the keyed source with saturation.
	KeyerAdditive
)

// Levels holds input/output level mapping with gamma, applied per
// channel before the other color adjustments.
type Levels struct {
	MinInput  float64
	MaxInput  float64
	Gamma     float64
	MinOutput float64
	MaxOutput float64
}

// DefaultLevels returns the identity level mapping.
func DefaultLevels() Levels {
	return Levels{MinInput: 0, MaxInput: 1, Gamma: 1, MinOutput: 0, MaxOutput: 1}
}

// Transform is an affine mapping of a source quad into the output frame
// plus the per-item color pipeline and compositing flags.
//
// Fill maps the unit square onto the frame; Clip scissors the result.
// Transforms compose by multiplication: translations add after scaling,
// scalars multiply, field modes intersect.
type Transform struct {
	FillTranslation [2]float64
	FillScale       [2]float64
	ClipTranslation [2]float64
	ClipScale       [2]float64

	Opacity    float64
	Brightness float64
	Contrast   float64
	Saturation float64
	Levels     Levels

	IsKey   bool
	IsMix   bool
	IsStill bool

	FieldMode FieldMode
}

// IdentityTransform returns the identity transform: full-frame fill and
// clip, neutral color pipeline, progressive field mode.
func IdentityTransform() Transform {
	return Transform{
		FillScale:  [2]float64{1, 1},
		ClipScale:  [2]float64{1, 1},
		Opacity:    1,
		Brightness: 1,
		Contrast:   1,
		Saturation: 1,
		Levels:     DefaultLevels(),
		FieldMode:  FieldProgressive,
	}
}

// Mul composes t with o and returns the result: o is applied within the
// space established by t.
func (t Transform) Mul(o Transform) Transform {
	r := t

	r.FillTranslation[0] = t.FillTranslation[0] + o.FillTranslation[0]*t.FillScale[0]
	r.FillTranslation[1] = t.FillTranslation[1] + o.FillTranslation[1]*t.FillScale[1]
	r.FillScale[0] = t.FillScale[0] * o.FillScale[0]
	r.FillScale[1] = t.FillScale[1] * o.FillScale[1]

	r.ClipTranslation[0] = t.ClipTranslation[0] + o.ClipTranslation[0]*t.ClipScale[0]
	r.ClipTranslation[1] = t.ClipTranslation[1] + o.ClipTranslation[1]*t.ClipScale[1]
	r.ClipScale[0] = t.ClipScale[0] * o.ClipScale[0]
	r.ClipScale[1] = t.ClipScale[1] * o.ClipScale[1]

	r.Opacity = t.Opacity * o.Opacity
	r.Brightness = t.Brightness * o.Brightness
	r.Contrast = t.Contrast * o.Contrast
	r.Saturation = t.Saturation * o.Saturation

	r.Levels.MinInput = t.Levels.MinInput + o.Levels.MinInput
	r.Levels.MaxInput = t.Levels.MaxInput * o.Levels.MaxInput
	r.Levels.Gamma = t.Levels.Gamma * o.Levels.Gamma
	r.Levels.MinOutput = t.Levels.MinOutput + o.Levels.MinOutput
	r.Levels.MaxOutput = t.Levels.MaxOutput * o.Levels.MaxOutput

	r.IsKey = t.IsKey || o.IsKey
	r.IsMix = t.IsMix || o.IsMix
	r.IsStill = t.IsStill || o.IsStill

	r.FieldMode = t.FieldMode & o.FieldMode
	return r
}

// ColorNeutral reports whether levels, brightness, contrast and
// saturation are all at their neutral values, letting the kernel skip
// the float color path entirely.
func (t Transform) ColorNeutral() bool {
	return t.Brightness == 1 && t.Contrast == 1 && t.Saturation == 1 &&
		t.Levels == DefaultLevels()
}

// FrameTransform pairs the image transform with the audio gain applied
// to the frame's pass-through audio. Producers push FrameTransforms;
// the mixer composes only the image part.
type FrameTransform struct {
	Image  Transform
	Volume float64
}

// IdentityFrameTransform returns the identity frame transform.
func IdentityFrameTransform() FrameTransform {
	return FrameTransform{Image: IdentityTransform(), Volume: 1}
}
