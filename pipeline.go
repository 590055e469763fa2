// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"context"
	"sync/atomic"
)

// Executor runs Command Frames. Processor implements it.
type Executor interface {
	ExecuteCommand(request []byte, response []byte) (int, int)
	Abort()
}

// Pipeline decouples the session goroutine from the worker that owns the
// debug link. Requests and responses travel through two RingQueues; pending
// counts responses that are finished but not yet delivered.
type Pipeline struct {
	exec      Executor
	slots     int
	frameSize int

	mu      mutex
	in      *RingQueue
	out     *RingQueue
	pending int

	resetReq chan chan struct{}
	ready    chan struct{}

	processed atomic.Uint64
}

func NewPipeline(exec Executor, slots int, frameSize int) *Pipeline {
	if slots <= 0 {
		slots = DefaultPacketCount
	}
	if frameSize <= 0 {
		frameSize = DefaultPacketSize
	}

	return &Pipeline{
		exec:      exec,
		slots:     slots,
		frameSize: frameSize,
		in:        NewRingQueue(slots, frameSize),
		out:       NewRingQueue(slots, frameSize),
		resetReq:  make(chan chan struct{}),
		ready:     make(chan struct{}, 1),
	}
}

func (p *Pipeline) queues() (*RingQueue, *RingQueue) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.in, p.out
}

func (p *Pipeline) FrameSize() int {
	return p.frameSize
}

// Pending returns the number of finished responses not yet delivered.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pending
}

func (p *Pipeline) Processed() uint64 {
	return p.processed.Load()
}

// Submit hands one request frame to the worker and waits while the inbound
// queue is full. A transfer abort is applied at once and never queued, as
// it has no response.
func (p *Pipeline) Submit(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return NewProtocolError("empty command frame", ErrorMalformed)
	}

	if frame[0] == cmdTransferAbort {
		logger.Debug("transfer abort requested")
		p.exec.Abort()
		return nil
	}

	in, _ := p.queues()

	return in.Push(ctx, frame)
}

// Run is the worker loop. It returns when ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		in, out := p.queues()

		select {
		case <-ctx.Done():
			return ctx.Err()

		case done := <-p.resetReq:
			p.recreate()
			close(done)

		case f := <-in.filled:
			if err := p.process(ctx, f, in, out); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, f *Frame, in *RingQueue, out *RingQueue) error {
	request := f.Bytes()

	if request[0] == cmdQueueCommands {
		request[0] = cmdExecuteCommands
	}

	var resp *Frame

	select {
	case resp = <-out.free:

	case done := <-p.resetReq:
		// nobody will poll the old queues any more
		in.Release(f)
		p.recreate()
		close(done)
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}

	_, n := p.exec.ExecuteCommand(request, resp.buf)
	resp.n = n

	in.Release(f)
	out.Commit(resp)

	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	p.processed.Add(1)

	select {
	case p.ready <- struct{}{}:
	default:
	}

	return nil
}

func (p *Pipeline) recreate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.in = NewRingQueue(p.slots, p.frameSize)
	p.out = NewRingQueue(p.slots, p.frameSize)
	p.pending = 0

	logger.Debug("command pipeline reset")
}

// Reset flushes and recreates both queues. The worker does it between two
// frames, so no slot it still works on is reclaimed. Reset returns once the
// worker is done or ctx expires.
func (p *Pipeline) Reset(ctx context.Context) error {
	done := make(chan struct{})

	select {
	case p.resetReq <- done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reply delivers the oldest finished response through send. It never waits
// for the worker: ok is false when no response is ready yet.
func (p *Pipeline) Reply(send func([]byte) error) (bool, error) {
	p.mu.Lock()
	pending := p.pending
	out := p.out
	p.mu.Unlock()

	if pending == 0 {
		return false, nil
	}

	f, ok := out.TryPop()
	if !ok {
		return false, nil
	}

	err := send(f.Bytes())
	out.Release(f)

	if err != nil {
		return false, err
	}

	p.mu.Lock()
	p.pending--
	p.mu.Unlock()

	return true, nil
}

// DrainOne drops at most one finished response. Unlink uses it so a stale
// response does not answer a later poll; it cannot tell which request the
// dropped response belonged to.
func (p *Pipeline) DrainOne() bool {
	dropped, _ := p.Reply(func([]byte) error { return nil })

	return dropped
}

// Transact submits frame and waits for its response, for transports that
// answer each request directly.
func (p *Pipeline) Transact(ctx context.Context, frame []byte, send func([]byte) error) error {
	if err := p.Submit(ctx, frame); err != nil {
		return err
	}

	if frame[0] == cmdTransferAbort {
		return nil
	}

	for {
		ok, err := p.Reply(send)
		if ok || err != nil {
			return err
		}

		select {
		case <-p.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
