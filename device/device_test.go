// Copyright 2026 The openplayout Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestInvokeRunsOnWorker(t *testing.T) {
	d := New()
	defer d.Close()

	got, err := Invoke(d, func() (int, error) { return 42, nil }).Await()
	if err != nil {
		t.Fatalf("Invoke error = %v", err)
	}
	if got != 42 {
		t.Errorf("Invoke = %d, want 42", got)
	}
}

func TestInvokeOrderIsFIFO(t *testing.T) {
	d := New()
	defer d.Close()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		d.BeginInvoke(func() { order = append(order, i) })
	}
	if _, err := d.BeginInvoke(func() {}).Await(); err != nil {
		t.Fatalf("await barrier: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d; tasks must run FIFO", i, v)
		}
	}
}

func TestCopyAsyncRoundTrip(t *testing.T) {
	d := New()
	defer d.Close()

	// 2x2 BGRA plane with 4 bytes of row padding.
	stride := 12
	data := make([]byte, stride*2)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	copy(data[0:8], want[0:8])
	copy(data[stride:stride+8], want[8:16])

	tex, err := d.CopyAsync(data, 2, 2, stride, 4).Await()
	if err != nil {
		t.Fatalf("CopyAsync error = %v", err)
	}
	got, err := d.CopyToHost(tex).Await()
	if err != nil {
		t.Fatalf("CopyToHost error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("round trip = %v, want %v", got, want)
	}
	tex.Release()
}

func TestCopyAsyncRejectsShortStride(t *testing.T) {
	d := New()
	defer d.Close()

	if _, err := d.CopyAsync(make([]byte, 16), 2, 2, 4, 4).Await(); err == nil {
		t.Error("stride below row size should fail")
	}
}

func TestCreateTextureShapeChecks(t *testing.T) {
	d := New()
	defer d.Close()

	_, err := Invoke(d, func() (*Texture, error) {
		return d.CreateTexture(0, 4, 4)
	}).Await()
	if err == nil {
		t.Error("zero width should fail")
	}
	_, err = Invoke(d, func() (*Texture, error) {
		return d.CreateTexture(4, 4, 5)
	}).Await()
	if err == nil {
		t.Error("five channels should fail")
	}
}

func TestPoolReuse(t *testing.T) {
	d := New()
	defer d.Close()

	// N create/release cycles of the same shape allocate once.
	for i := 0; i < 20; i++ {
		tex, err := Invoke(d, func() (*Texture, error) {
			return d.CreateTexture(64, 32, 4)
		}).Await()
		if err != nil {
			t.Fatalf("CreateTexture: %v", err)
		}
		tex.Release()
	}
	stats, err := d.GetStats().Await()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Allocations != 1 {
		t.Errorf("allocations = %d, want 1", stats.Allocations)
	}
	if stats.Pooled != 1 {
		t.Errorf("pooled = %d, want 1", stats.Pooled)
	}
}

func TestPoolReuseClearsSurface(t *testing.T) {
	d := New()
	defer d.Close()

	_, err := Invoke(d, func() (struct{}, error) {
		tex, err := d.CreateTexture(4, 4, 4)
		if err != nil {
			return struct{}{}, err
		}
		tex.Data()[0] = 0xAB
		tex.Release()

		again, err := d.CreateTexture(4, 4, 4)
		if err != nil {
			return struct{}{}, err
		}
		defer again.Release()
		if again.Data()[0] != 0 {
			return struct{}{}, errors.New("pooled surface not cleared")
		}
		return struct{}{}, nil
	}).Await()
	if err != nil {
		t.Fatal(err)
	}
}

func TestPoolShapeIsExact(t *testing.T) {
	d := New()
	defer d.Close()

	for _, shape := range [][3]int{{8, 8, 4}, {8, 8, 1}, {16, 8, 4}} {
		shape := shape
		tex, err := Invoke(d, func() (*Texture, error) {
			return d.CreateTexture(shape[0], shape[1], shape[2])
		}).Await()
		if err != nil {
			t.Fatalf("CreateTexture(%v): %v", shape, err)
		}
		tex.Release()
	}
	stats, _ := d.GetStats().Await()
	if stats.Allocations != 3 {
		t.Errorf("allocations = %d, want 3 distinct shapes", stats.Allocations)
	}
}

func TestReleaseFromOtherGoroutine(t *testing.T) {
	d := New()
	defer d.Close()

	tex, err := d.CopyAsync(make([]byte, 16), 2, 2, 8, 4).Await()
	if err != nil {
		t.Fatalf("CopyAsync: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tex.Release()
		close(done)
	}()
	<-done

	// Barrier so the migrated free has landed on the worker.
	if _, err := d.BeginInvoke(func() {}).Await(); err != nil {
		t.Fatal(err)
	}
	stats, _ := d.GetStats().Await()
	if stats.Pooled != 1 {
		t.Errorf("pooled = %d, want 1 after cross-goroutine release", stats.Pooled)
	}
}

func TestRetainDelaysPooling(t *testing.T) {
	d := New()
	defer d.Close()

	tex, err := d.CopyAsync(make([]byte, 16), 2, 2, 8, 4).Await()
	if err != nil {
		t.Fatalf("CopyAsync: %v", err)
	}
	tex.Retain()
	tex.Release()
	d.BeginInvoke(func() {}).Await()
	stats, _ := d.GetStats().Await()
	if stats.Pooled != 0 {
		t.Error("retained texture must not be pooled")
	}

	tex.Release()
	d.BeginInvoke(func() {}).Await()
	stats, _ = d.GetStats().Await()
	if stats.Pooled != 1 {
		t.Error("last release should pool the texture")
	}
}

func TestGCEmptiesPool(t *testing.T) {
	d := New()
	defer d.Close()

	tex, _ := d.CopyAsync(make([]byte, 16), 2, 2, 8, 4).Await()
	tex.Release()
	d.GC().Await()
	stats, _ := d.GetStats().Await()
	if stats.Pooled != 0 {
		t.Errorf("pooled = %d after GC, want 0", stats.Pooled)
	}
}

func TestCloseFailsNewWork(t *testing.T) {
	d := New()
	d.Close()
	d.Close() // idempotent

	if _, err := Invoke(d, func() (int, error) { return 1, nil }).Await(); !errors.Is(err, ErrClosed) {
		t.Errorf("post-close invoke error = %v, want ErrClosed", err)
	}
}

func TestCloseDrainsPending(t *testing.T) {
	d := New()

	futs := make([]*Future[int], 50)
	for i := range futs {
		i := i
		futs[i] = Invoke(d, func() (int, error) {
			time.Sleep(100 * time.Microsecond)
			return i, nil
		})
	}
	d.Close()

	for i, f := range futs {
		v, err := f.Await()
		if err != nil {
			t.Fatalf("fut[%d] error = %v; pending work must drain on close", i, err)
		}
		if v != i {
			t.Fatalf("fut[%d] = %d", i, v)
		}
	}
}

func TestFutureResolvedAndFailed(t *testing.T) {
	if v, err := Resolved(7).Await(); v != 7 || err != nil {
		t.Errorf("Resolved = (%d, %v)", v, err)
	}
	sentinel := errors.New("boom")
	if _, err := Failed[int](sentinel).Await(); !errors.Is(err, sentinel) {
		t.Errorf("Failed error = %v", err)
	}
}

func TestFutureAwaitContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := f.AwaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitContext error = %v, want deadline exceeded", err)
	}
}

func TestFlatten(t *testing.T) {
	d := New()
	defer d.Close()

	f := Flatten(Invoke(d, func() (*Future[string], error) {
		return Invoke(d, func() (string, error) { return "inner", nil }), nil
	}))
	v, err := f.Await()
	if err != nil || v != "inner" {
		t.Errorf("Flatten = (%q, %v)", v, err)
	}
}

func TestTextureFormat(t *testing.T) {
	d := New()
	defer d.Close()

	color, _ := Invoke(d, func() (*Texture, error) { return d.CreateTexture(2, 2, 4) }).Await()
	key, _ := Invoke(d, func() (*Texture, error) { return d.CreateTexture(2, 2, 1) }).Await()
	defer color.Release()
	defer key.Release()

	if color.Format() == key.Format() {
		t.Error("color and key surfaces should report distinct formats")
	}
	if color.Stride() != 8 || key.Stride() != 2 {
		t.Errorf("strides = %d, %d", color.Stride(), key.Stride())
	}
}
