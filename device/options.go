// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

// Option configures a Device during creation.
//
// Example:
//
//	// CPU compositing with default pool behavior
//	dev := device.New()
//
//	// Shared GPU device from the host application
//	dev := device.New(device.WithHandle(app))
type Option func(*options)

type options struct {
	handle      Handle
	poolMaxIdle int
}

func defaultOptions() options {
	return options{
		handle:      NullHandle{},
		poolMaxIdle: 8,
	}
}

// WithHandle sets the GPU device provider shared by the host
// application. The default is NullHandle (CPU compositing).
func WithHandle(h Handle) Option {
	return func(o *options) {
		if h != nil {
			o.handle = h
		}
	}
}

// WithPoolMaxIdle sets how many sweeps a pooled texture may sit unused
// before it ages out. Zero disables aging; the default is 8.
func WithPoolMaxIdle(n int) Option {
	return func(o *options) { o.poolMaxIdle = n }
}
