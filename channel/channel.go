// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package channel implements the per-channel cooperative executor.
//
// Each channel runs one goroutine that drives the tick cycle: sample
// producers into the mixer, render, await the composited frame, fan it
// out to consumers, then sleep until the next tick boundary on a
// monotonic clock. Mutations such as adding consumers or changing the
// video format are dispatched onto the executor and take effect at
// the next tick boundary, never mid-composition.
package channel

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openplayout/playout"
	"github.com/openplayout/playout/device"
	"github.com/openplayout/playout/mixer"
)

// Producer feeds one tick of source material into the mixer: a
// BeginLayer/Push/Visit/Pop/EndLayer walk. Producers are sampled in
// ascending index order, bottom layer first.
type Producer interface {
	Sample(m *mixer.Mixer, format playout.VideoFormatDesc)
}

// Consumer receives composited frames. Send is called on the channel
// executor with the monotonic tick index and exactly format.Size()
// bytes of packed BGRA. A consumer whose Send returns an error is
// removed from the channel.
type Consumer interface {
	Send(tick int64, frame []byte) error
}

// Channel is one playout output: a mixer, a producer tree and a set of
// consumers, driven at the video format's cadence.
type Channel struct {
	index int
	dev   *device.Device
	mix   *mixer.Mixer

	// Executor-owned state; touched only on the run goroutine after
	// Start.
	format    playout.VideoFormatDesc
	producers map[int]Producer
	consumers map[int]Consumer
	lastFrame []byte

	cmds chan func()
	done chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	tick       atomic.Int64
	underflows atomic.Uint64
}

// New creates a channel compositing on the given device. The channel
// does not tick until Start.
func New(index int, format playout.VideoFormatDesc, dev *device.Device) *Channel {
	c := &Channel{
		index:     index,
		dev:       dev,
		mix:       mixer.New(dev),
		format:    format,
		producers: make(map[int]Producer),
		consumers: make(map[int]Consumer),
		cmds:      make(chan func(), 16),
		done:      make(chan struct{}),
	}
	playout.Logger().Info("channel: initialized", "channel", index, "format", format.Name)
	return c
}

// Mixer returns the channel's mixer for direct producer wiring in
// tests and tools. Mixer state must only be touched from Sample.
func (c *Channel) Mixer() *mixer.Mixer { return c.mix }

// Tick returns the number of completed ticks.
func (c *Channel) Tick() int64 { return c.tick.Load() }

// Underflows returns how many ticks overran their deadline waiting on
// the renderer.
func (c *Channel) Underflows() uint64 { return c.underflows.Load() }

// AddProducer installs a producer at the given index from the next
// tick.
func (c *Channel) AddProducer(index int, p Producer) {
	c.dispatch(func() { c.producers[index] = p })
}

// RemoveProducer removes the producer at the given index.
func (c *Channel) RemoveProducer(index int) {
	c.dispatch(func() { delete(c.producers, index) })
}

// AddConsumer installs a consumer at the given index from the next
// tick.
func (c *Channel) AddConsumer(index int, cons Consumer) {
	c.dispatch(func() { c.consumers[index] = cons })
}

// RemoveConsumer removes the consumer at the given index.
func (c *Channel) RemoveConsumer(index int) {
	c.dispatch(func() { delete(c.consumers, index) })
}

// SetVideoFormatDesc switches the channel's output format at the start
// of the next tick, never mid-composition.
func (c *Channel) SetVideoFormatDesc(format playout.VideoFormatDesc) {
	c.dispatch(func() {
		c.format = format
		c.lastFrame = nil
		playout.Logger().Info("channel: format changed", "channel", c.index, "format", format.Name)
	})
}

// dispatch queues fn for execution at the next tick boundary. Before
// Start the command waits for the first drain; after Stop it is never
// applied.
func (c *Channel) dispatch(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Start launches the executor. Idempotent.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// Stop halts the executor: no new ticks are accepted, in-flight work
// is awaited, the goroutine exits, and then the device is closed.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.dev.Close()
		playout.Logger().Info("channel: stopped", "channel", c.index, "ticks", c.tick.Load())
	})
}

func (c *Channel) run() {
	defer c.wg.Done()

	next := time.Now()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.drainCommands()
		format := c.format

		for _, idx := range sortedKeys(c.producers) {
			c.producers[idx].Sample(c.mix, format)
		}

		frame := c.awaitFrame(c.mix.Render(format), format)
		if frame == nil {
			return // shut down mid-tick; pending future already reaped
		}
		c.lastFrame = frame

		tick := c.tick.Add(1) - 1
		c.deliver(tick, frame)

		// Pace to the format interval on the monotonic clock. A
		// channel that has fallen more than one interval behind
		// resynchronizes instead of bursting.
		next = next.Add(format.Interval())
		now := time.Now()
		if sleep := next.Sub(now); sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-c.done:
				return
			}
		} else if -next.Sub(now) > format.Interval() {
			next = now
		}
	}
}

// awaitFrame waits for the renderer, tolerating a slow GPU: a tick
// stuck for more than two frame intervals logs an underflow and
// repeats the last good frame; the stale readback is reaped when it
// arrives. A failed render also repeats the last good frame. Returns
// nil only on shutdown.
func (c *Channel) awaitFrame(fut *device.Future[[]byte], format playout.VideoFormatDesc) []byte {
	deadline := 2 * format.Interval()
	if deadline <= 0 {
		deadline = 80 * time.Millisecond
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-fut.Done():
		frame, err := fut.Await()
		if err != nil || frame == nil {
			if c.lastFrame != nil && len(c.lastFrame) == format.Size() {
				return c.lastFrame
			}
			frame = make([]byte, format.Size())
		}
		return frame
	case <-timer.C:
		c.underflows.Add(1)
		playout.Logger().Warn("channel: tick underflow", "channel", c.index)
		go func() { _, _ = fut.Await() }()
		if c.lastFrame != nil && len(c.lastFrame) == format.Size() {
			return c.lastFrame
		}
		return make([]byte, format.Size())
	case <-c.done:
		_, _ = fut.Await()
		return nil
	}
}

// deliver fans the frame out to consumers in index order, removing any
// that fail.
func (c *Channel) deliver(tick int64, frame []byte) {
	for _, idx := range sortedKeys(c.consumers) {
		if err := c.consumers[idx].Send(tick, frame); err != nil {
			delete(c.consumers, idx)
			playout.Logger().Warn("channel: removed consumer",
				"channel", c.index, "consumer", idx, "err", err)
		}
	}
}

func (c *Channel) drainCommands() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		default:
			return
		}
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// String identifies the channel in logs.
func (c *Channel) String() string {
	return fmt.Sprintf("channel[%d]", c.index)
}
