// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package playout

// FieldMode describes which scanline parity an image contributes to.
//
// It is a two-bit set: the lower bit selects odd scanlines (the lower
// field), the upper bit selects even scanlines (the upper field).
// Progressive material carries both bits. All bitwise combinations are
// meaningful; masking an item against a field pass is a plain AND.
type FieldMode uint8

const (
	// FieldEmpty contributes to no scanlines.
	FieldEmpty FieldMode = 0

	// FieldLower contributes to odd scanlines (the bottom field).
	FieldLower FieldMode = 1

	// FieldUpper contributes to even scanlines (the top field).
	FieldUpper FieldMode = 2

	// FieldProgressive contributes to every scanline.
	FieldProgressive = FieldLower | FieldUpper
)

// And returns the intersection of two field modes.
func (m FieldMode) And(o FieldMode) FieldMode { return m & o }

// Or returns the union of two field modes.
func (m FieldMode) Or(o FieldMode) FieldMode { return m | o }

// Progressive reports whether the mode covers both fields.
func (m FieldMode) Progressive() bool { return m == FieldProgressive }

// DrawsRow reports whether a scanline with index y (0 at the top) is
// written under this field mode.
func (m FieldMode) DrawsRow(y int) bool {
	if y%2 == 0 {
		return m&FieldUpper != 0
	}
	return m&FieldLower != 0
}

// String returns the mode name.
func (m FieldMode) String() string {
	switch m {
	case FieldEmpty:
		return "empty"
	case FieldLower:
		return "lower"
	case FieldUpper:
		return "upper"
	case FieldProgressive:
		return "progressive"
	}
	return "invalid"
}
