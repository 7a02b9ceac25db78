package blend

import (
	"math"

	"github.com/openplayout/playout"
)

// Func is the signature of a blend operation. All values are
// premultiplied alpha, 0-255. The three color parameters are
// channel-agnostic: the kernel passes them in whatever byte order the
// surface stores.
type Func func(s1, s2, s3, sa, d1, d2, d3, da byte) (c1, c2, c3, a byte)

// ForMode returns the blend function for a mode. Unknown modes fall
// back to Normal.
func ForMode(mode playout.BlendMode) Func {
	switch mode {
	case playout.BlendNormal:
		return SourceOver
	case playout.BlendLighten:
		return separable(maxByte)
	case playout.BlendDarken:
		return separable(minByte)
	case playout.BlendMultiply:
		return separable(mulDiv255)
	case playout.BlendScreen:
		return separable(screenChan)
	case playout.BlendOverlay:
		return separable(func(s, d byte) byte { return hardLightChan(d, s) })
	case playout.BlendHardLight:
		return separable(hardLightChan)
	case playout.BlendSoftLight:
		return separable(softLightChan)
	case playout.BlendDifference:
		return separable(func(s, d byte) byte {
			if s > d {
				return s - d
			}
			return d - s
		})
	case playout.BlendExclusion:
		return separable(exclusionChan)
	case playout.BlendColorDodge:
		return separable(colorDodgeChan)
	case playout.BlendColorBurn:
		return separable(colorBurnChan)
	case playout.BlendAdd:
		return separable(satAdd)
	case playout.BlendSubtract:
		return separable(func(s, d byte) byte { return satSub(d, s) })
	case playout.BlendContrast:
		return separable(contrastChan)
	default:
		return SourceOver
	}
}

// SourceOver composites source over destination.
// Formula: S + D*(1-Sa)
func SourceOver(s1, s2, s3, sa, d1, d2, d3, da byte) (byte, byte, byte, byte) {
	inv := 255 - sa
	return satAdd(s1, mulDiv255(d1, inv)),
		satAdd(s2, mulDiv255(d2, inv)),
		satAdd(s3, mulDiv255(d3, inv)),
		satAdd(sa, mulDiv255(da, inv))
}

// AddSaturate adds source to destination channel-wise with saturation.
// This is the additive keyer's accumulate step.
func AddSaturate(s1, s2, s3, sa, d1, d2, d3, da byte) (byte, byte, byte, byte) {
	return satAdd(s1, d1), satAdd(s2, d2), satAdd(s3, d3), satAdd(sa, da)
}

// separable lifts a per-channel blend function into a full blend
// following W3C compositing: (1-Sa)*D + (1-Da)*S + Sa*Da*B(Sc, Dc),
// where B operates on unpremultiplied channels.
func separable(blendChan func(s, d byte) byte) Func {
	return func(s1, s2, s3, sa, d1, d2, d3, da byte) (byte, byte, byte, byte) {
		if sa == 0 {
			return d1, d2, d3, da
		}
		if da == 0 {
			return s1, s2, s3, sa
		}

		su1, su2, su3 := unpremul(s1, sa), unpremul(s2, sa), unpremul(s3, sa)
		du1, du2, du3 := unpremul(d1, da), unpremul(d2, da), unpremul(d3, da)

		b1 := blendChan(su1, du1)
		b2 := blendChan(su2, du2)
		b3 := blendChan(su3, du3)

		invSa := 255 - sa
		invDa := 255 - da
		saDa := mulDiv255(sa, da)

		outA := satAdd(sa, mulDiv255(da, invSa))
		out1 := satAdd(satAdd(mulDiv255(d1, invSa), mulDiv255(s1, invDa)), mulDiv255(saDa, b1))
		out2 := satAdd(satAdd(mulDiv255(d2, invSa), mulDiv255(s2, invDa)), mulDiv255(saDa, b2))
		out3 := satAdd(satAdd(mulDiv255(d3, invSa), mulDiv255(s3, invDa)), mulDiv255(saDa, b3))
		return out1, out2, out3, outA
	}
}

// unpremul divides a premultiplied channel by its alpha.
func unpremul(c, a byte) byte {
	if a == 0 {
		return 0
	}
	v := (uint16(c) * 255) / uint16(a)
	if v > 255 {
		return 255
	}
	return byte(v)
}

// screenChan: 1 - (1-S)*(1-D)
func screenChan(s, d byte) byte {
	return 255 - mulDiv255(255-s, 255-d)
}

// hardLightChan: multiply for dark source, screen for bright source.
func hardLightChan(s, d byte) byte {
	if s <= 128 {
		return mulDiv255(2*s, d)
	}
	return 255 - mulDiv255(2*(255-s), 255-d)
}

// softLightChan follows the W3C piecewise definition.
func softLightChan(s, d byte) byte {
	sf := float64(s) / 255
	df := float64(d) / 255

	var v float64
	if sf <= 0.5 {
		v = df - (1-2*sf)*df*(1-df)
	} else {
		var dx float64
		if df <= 0.25 {
			dx = ((16*df-12)*df + 4) * df
		} else {
			dx = math.Sqrt(df)
		}
		v = df + (2*sf-1)*(dx-df)
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return byte(v*255 + 0.5)
}

// exclusionChan: S + D - 2*S*D
func exclusionChan(s, d byte) byte {
	sum := uint16(s) + uint16(d)
	twice := 2 * uint16(mulDiv255(s, d))
	if twice >= sum {
		return 0
	}
	v := sum - twice
	if v > 255 {
		return 255
	}
	return byte(v)
}

// colorDodgeChan: D / (1-S), saturating.
func colorDodgeChan(s, d byte) byte {
	if s == 255 {
		return 255
	}
	v := (uint16(d) * 255) / uint16(255-s)
	if v > 255 {
		return 255
	}
	return byte(v)
}

// colorBurnChan: 1 - (1-D)/S, clamped at 0.
func colorBurnChan(s, d byte) byte {
	if s == 0 {
		return 0
	}
	v := (uint16(255-d) * 255) / uint16(s)
	if v > 255 {
		return 0
	}
	return 255 - byte(v)
}

// contrastChan steepens the destination around mid-gray by the source:
// (D - 0.5)*2S + 0.5, clamped.
func contrastChan(s, d byte) byte {
	v := (int32(d)-128)*2*int32(s)/255 + 128
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
