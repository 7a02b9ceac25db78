// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package playout

import "time"

// VideoFormat identifies one of the recognized broadcast output
// formats.
type VideoFormat uint8

const (
	FormatInvalid VideoFormat = iota
	FormatPAL
	FormatNTSC
	Format576p2500
	Format720p2500
	Format720p5000
	Format720p5994
	Format720p6000
	Format1080p2397
	Format1080p2400
	Format1080i5000
	Format1080i5994
	Format1080i6000
	Format1080p2500
	Format1080p2997
	Format1080p3000
	Format1080p5000
)

// VideoFormatDesc describes a channel's output raster and cadence.
// It is fixed for the lifetime of a channel mix; changing formats takes
// effect on a tick boundary.
type VideoFormatDesc struct {
	Format VideoFormat

	Width     int
	Height    int
	FieldMode FieldMode

	// TimeScale and Duration define the frame rate as a rational:
	// fps = TimeScale/Duration. An interlaced i50 format runs at 25
	// frames (50 fields) per second.
	TimeScale int
	Duration  int

	// AudioCadence is the repeating frame-to-sample pattern at 48 kHz.
	AudioCadence []int

	Name string
}

// FPS returns the frame rate.
func (d VideoFormatDesc) FPS() float64 {
	if d.Duration == 0 {
		return 0
	}
	return float64(d.TimeScale) / float64(d.Duration)
}

// Interval returns the time between frames.
func (d VideoFormatDesc) Interval() time.Duration {
	if d.TimeScale == 0 {
		return 0
	}
	return time.Duration(int64(d.Duration) * int64(time.Second) / int64(d.TimeScale))
}

// Size returns the packed BGRA output frame size in bytes.
func (d VideoFormatDesc) Size() int { return d.Width * d.Height * 4 }

// Equal reports format equality, defined by the format tag only.
func (d VideoFormatDesc) Equal(o VideoFormatDesc) bool { return d.Format == o.Format }

// Valid reports whether the descriptor names a recognized format.
func (d VideoFormatDesc) Valid() bool { return d.Format != FormatInvalid }

func (d VideoFormatDesc) String() string { return d.Name }

var formatTable = []VideoFormatDesc{
	{FormatPAL, 720, 576, FieldUpper, 25000, 1000, []int{1920}, "PAL"},
	{FormatNTSC, 720, 486, FieldLower, 30000, 1001, []int{1602, 1601, 1602, 1601, 1602}, "NTSC"},
	{Format576p2500, 720, 576, FieldProgressive, 25000, 1000, []int{1920}, "576p2500"},
	{Format720p2500, 1280, 720, FieldProgressive, 25000, 1000, []int{1920}, "720p2500"},
	{Format720p5000, 1280, 720, FieldProgressive, 50000, 1000, []int{960}, "720p5000"},
	{Format720p5994, 1280, 720, FieldProgressive, 60000, 1001, []int{801, 800, 801, 801, 801}, "720p5994"},
	{Format720p6000, 1280, 720, FieldProgressive, 60000, 1000, []int{800}, "720p6000"},
	{Format1080p2397, 1920, 1080, FieldProgressive, 24000, 1001, []int{2002}, "1080p2397"},
	{Format1080p2400, 1920, 1080, FieldProgressive, 24000, 1000, []int{2000}, "1080p2400"},
	{Format1080i5000, 1920, 1080, FieldUpper, 25000, 1000, []int{1920}, "1080i5000"},
	{Format1080i5994, 1920, 1080, FieldUpper, 30000, 1001, []int{1602, 1601, 1602, 1601, 1602}, "1080i5994"},
	{Format1080i6000, 1920, 1080, FieldUpper, 30000, 1000, []int{1600}, "1080i6000"},
	{Format1080p2500, 1920, 1080, FieldProgressive, 25000, 1000, []int{1920}, "1080p2500"},
	{Format1080p2997, 1920, 1080, FieldProgressive, 30000, 1001, []int{1602, 1601, 1602, 1601, 1602}, "1080p2997"},
	{Format1080p3000, 1920, 1080, FieldProgressive, 30000, 1000, []int{1600}, "1080p3000"},
	{Format1080p5000, 1920, 1080, FieldProgressive, 50000, 1000, []int{960}, "1080p5000"},
}

// FormatDesc returns the descriptor for a format tag.
// Unknown tags return an invalid descriptor.
func FormatDesc(format VideoFormat) VideoFormatDesc {
	for _, d := range formatTable {
		if d.Format == format {
			return d
		}
	}
	return VideoFormatDesc{Name: "invalid"}
}

// FormatByName returns the descriptor whose name matches, e.g.
// "1080i5000" or "PAL". The second result is false for unknown names.
func FormatByName(name string) (VideoFormatDesc, bool) {
	for _, d := range formatTable {
		if d.Name == name {
			return d, true
		}
	}
	return VideoFormatDesc{Name: "invalid"}, false
}

// Formats returns all recognized format descriptors in table order.
func Formats() []VideoFormatDesc {
	out := make([]VideoFormatDesc, len(formatTable))
	copy(out, formatTable)
	return out
}
