// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device implements the render device of the compositing core:
// a single worker goroutine that owns all texture state, a texture pool
// keyed by surface shape, and asynchronous upload/readback primitives.
//
// Every surface mutation (clears, draws, uploads, readbacks) runs on
// the worker; other goroutines schedule tasks with Invoke/BeginInvoke
// and wait on the returned futures. This confinement is what makes the
// compositing pipeline deterministic without locks.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openplayout/playout"
)

// ErrClosed is returned by futures for work scheduled after Close.
var ErrClosed = errors.New("device: closed")

// Device owns the render context. All GPU-analogous state transitions
// happen on its worker goroutine; no other goroutine touches texture
// memory.
type Device struct {
	handle Handle
	pool   *texturePool

	// The task queue is unbounded so the worker itself can enqueue
	// follow-up work (a readback after a composition pass) without
	// ever blocking.
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once

	// allocations counts textures allocated outside the pool; used by
	// tests and pool diagnostics.
	allocations int

	// creates counts CreateTexture calls to pace the idle sweep.
	creates int
}

// sweepEvery is how many texture creates pass between idle sweeps.
const sweepEvery = 1024

// New creates a device and starts its worker.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		handle: o.handle,
		pool:   newTexturePool(o.poolMaxIdle),
	}
	d.cond = sync.NewCond(&d.mu)

	d.wg.Add(1)
	go d.run()

	playout.Logger().Info("device: worker started")
	return d
}

// run is the worker loop. On shutdown the queue is drained before the
// pool is destroyed, so in-flight uploads and readbacks still resolve.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			d.pool.clear()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}

// submit schedules fn onto the worker. Returns false if the device is
// closed.
func (d *Device) submit(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	d.mu.Unlock()
	return true
}

// BeginInvoke schedules fn onto the device worker and returns its
// completion handle.
func (d *Device) BeginInvoke(fn func()) *Future[struct{}] {
	return Invoke(d, func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
}

// Invoke schedules fn onto the device worker of d and returns a future
// for its result.
func Invoke[T any](d *Device, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	ok := d.submit(func() {
		f.complete(fn())
	})
	if !ok {
		var zero T
		f.complete(zero, ErrClosed)
	}
	return f
}

// CreateTexture returns a cleared surface of the given shape, reusing
// a pooled one when available. Device-worker confined: call it from
// inside an Invoke task.
func (d *Device) CreateTexture(width, height, channels int) (*Texture, error) {
	if width <= 0 || height <= 0 || channels < 1 || channels > 4 {
		return nil, fmt.Errorf("device: bad texture shape %dx%dx%d", width, height, channels)
	}
	d.creates++
	if d.creates%sweepEvery == 0 {
		d.pool.sweep()
	}
	if t := d.pool.get(width, height, channels); t != nil {
		t.refs.Store(1)
		t.Clear()
		return t, nil
	}
	d.allocations++
	return newTexture(d, width, height, channels), nil
}

// free returns a surface to the pool, migrating onto the worker when
// called from another goroutine. After Close the surface is simply
// dropped.
func (d *Device) free(t *Texture) {
	d.submit(func() {
		d.pool.put(t)
	})
}

// CopyAsync uploads one image plane into a pooled texture. data is
// row-major with the given stride; stride bytes beyond width*channels
// are padding. The future resolves once the upload task has run on the
// worker; downstream draws sequence behind it on the device queue.
func (d *Device) CopyAsync(data []byte, width, height, stride, channels int) *Future[*Texture] {
	if stride < width*channels {
		return Failed[*Texture](fmt.Errorf("device: stride %d below row size %d", stride, width*channels))
	}
	return Invoke(d, func() (*Texture, error) {
		t, err := d.CreateTexture(width, height, channels)
		if err != nil {
			return nil, err
		}
		row := width * channels
		for y := 0; y < height; y++ {
			src := data[y*stride : y*stride+row]
			copy(t.data[y*row:(y+1)*row], src)
		}
		return t, nil
	})
}

// CopyToHost reads a surface back into freshly allocated host memory,
// resolving with exactly width*height*channels bytes. The texture is
// retained for the duration of the readback.
func (d *Device) CopyToHost(t *Texture) *Future[[]byte] {
	t.Retain()
	return Invoke(d, func() ([]byte, error) {
		defer t.Release()
		out := make([]byte, len(t.data))
		copy(out, t.data)
		return out, nil
	})
}

// GC empties the texture pool, releasing every cached surface. Useful
// under memory pressure; the pool refills from steady-state use.
func (d *Device) GC() *Future[struct{}] {
	return d.BeginInvoke(func() {
		playout.Logger().Debug("device: gc", "pooled", d.pool.size())
		d.pool.clear()
	})
}

// Stats is a point-in-time snapshot of device resource usage.
type Stats struct {
	// Allocations is the number of textures ever allocated outside the
	// pool. Flat allocation counts across identical ticks mean the
	// pool is absorbing the steady state.
	Allocations int

	// Pooled is the number of surfaces currently cached.
	Pooled int
}

// GetStats snapshots resource usage on the worker.
func (d *Device) GetStats() *Future[Stats] {
	return Invoke(d, func() (Stats, error) {
		return Stats{Allocations: d.allocations, Pooled: d.pool.size()}, nil
	})
}

// Handle returns the GPU device provider the device was created with.
func (d *Device) Handle() Handle { return d.handle }

// Close drains pending work, destroys the pool and stops the worker.
// Idempotent.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.cond.Broadcast()
		d.mu.Unlock()
		d.wg.Wait()
		playout.Logger().Info("device: worker stopped")
	})
}
