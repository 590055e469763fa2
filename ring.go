// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"context"
	"fmt"
)

// Frame is one fixed capacity Command Frame slot. Whoever holds the pointer
// owns the slot until it is committed or released.
type Frame struct {
	buf []byte
	n   int
}

func (f *Frame) Bytes() []byte {
	return f.buf[:f.n]
}

func (f *Frame) Len() int {
	return f.n
}

// RingQueue is a bounded FIFO of preallocated frames for one producer and
// one consumer. Free slots circulate through free, queued ones through
// filled, so a slot is never referenced by both sides at once.
type RingQueue struct {
	free      chan *Frame
	filled    chan *Frame
	frameSize int
}

func NewRingQueue(slots int, frameSize int) *RingQueue {
	q := &RingQueue{
		free:      make(chan *Frame, slots),
		filled:    make(chan *Frame, slots),
		frameSize: frameSize,
	}

	for i := 0; i < slots; i++ {
		q.free <- &Frame{buf: make([]byte, frameSize)}
	}

	return q
}

// Acquire waits for a free slot.
func (q *RingQueue) Acquire(ctx context.Context) (*Frame, error) {
	select {
	case f := <-q.free:
		f.n = 0
		return f, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit queues an acquired slot behind everything queued before it.
func (q *RingQueue) Commit(f *Frame) {
	q.filled <- f
}

// Push copies data into the next free slot, waiting while the queue is full.
func (q *RingQueue) Push(ctx context.Context, data []byte) error {
	if len(data) > q.frameSize {
		return NewProtocolError(fmt.Sprintf("frame of %d bytes exceeds slot size %d", len(data), q.frameSize), ErrorOverflow)
	}

	f, err := q.Acquire(ctx)
	if err != nil {
		return err
	}

	f.n = copy(f.buf, data)
	q.Commit(f)

	return nil
}

func (q *RingQueue) Pop(ctx context.Context) (*Frame, error) {
	select {
	case f := <-q.filled:
		return f, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *RingQueue) TryPop() (*Frame, bool) {
	select {
	case f := <-q.filled:
		return f, true

	default:
		return nil, false
	}
}

// Release hands a popped slot back to the producer side.
func (q *RingQueue) Release(f *Frame) {
	q.free <- f
}

func (q *RingQueue) Len() int {
	return len(q.filled)
}

func (q *RingQueue) Cap() int {
	return cap(q.filled)
}

func (q *RingQueue) FrameSize() int {
	return q.frameSize
}
