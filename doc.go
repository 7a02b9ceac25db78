// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package playout provides the real-time video compositing core of a
// broadcast playout engine.
//
// # Overview
//
// Each output channel owns a tree of producers (media decoders,
// generators, overlays) and composites them, frame by frame, into a
// single interlaced or progressive video frame at the cadence dictated
// by the channel's video format (1080i50, 720p5000, PAL, ...).
//
// The root package holds the broadcast data model: field modes, pixel
// format descriptors, video format descriptors, image transforms and
// frames. The subsystems live in subdirectories:
//
//   - device/: the render device, a single worker goroutine that owns
//     all texture state, a texture pool, and asynchronous
//     upload/readback primitives
//   - mixer/: the image mixer, with the per-channel front end, the
//     per-frame composition algorithm and the draw kernel
//   - channel/: the channel executor, one cooperative goroutine per
//     channel driving sample, mix and send on a monotonic frame tick
//
// # Quick Start
//
//	dev := device.New()
//	defer dev.Close()
//
//	format, _ := playout.FormatByName("1080i5000")
//	ch := channel.New(1, format, dev)
//	ch.AddConsumer(0, consumer)
//	ch.AddProducer(producer)
//	ch.Start()
//
// # GPU Acceleration
//
// The compositing kernel is pure Go and deterministic. GPU acceleration
// is optional and enabled by a blank import:
//
//	import _ "github.com/openplayout/playout/gpu"
//
// If GPU initialization fails, composition transparently stays on the
// CPU path.
//
// # Coordinate System
//
// Fill and clip transforms map the unit square onto the output frame:
// origin (0,0) at top-left, X increases right, Y increases down. The
// upper field occupies even scanlines, the lower field odd scanlines.
//
// # Output
//
// Composited frames are packed BGRA, 8 bits per channel, top-down row
// order, exactly VideoFormatDesc.Size() bytes.
package playout
