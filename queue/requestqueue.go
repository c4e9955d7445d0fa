// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package queue

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Element is one unit of work: Out carries the wire head and request
// payload, In is the caller-owned buffer the handler writes its reply
// into.
type Element struct {
	Out []byte
	In  []byte

	n        int
	consumed bool
	done     chan struct{}
}

// N is the number of bytes the handler wrote into In. Valid after Push
// returns.
func (e *Element) N() int { return e.n }

// Consumed reports whether the handler accepted the element. Valid after
// Push returns.
func (e *Element) Consumed() bool { return e.consumed }

// Handler processes one Element the way iommu.Device.HandleRequest does;
// RequestQueue is deliberately shaped to accept that method directly.
type Handler func(out, in []byte) (n int, consumed bool)

// RequestQueue serializes Elements through a single handler goroutine,
// woken by a kick eventfd and signaling completion on a call eventfd -
// the same notify pair vhostuser.Device uses for its kick/call fds, with
// golang.org/x/sys/unix in place of raw syscall numbers.
type RequestQueue struct {
	handle Handler

	kickFD int
	callFD int

	elems chan *Element
	done  chan struct{}
}

// NewRequestQueue creates a RequestQueue backed by a fresh eventfd pair.
// Call Run in its own goroutine to start processing.
func NewRequestQueue(handle Handler) (*RequestQueue, error) {
	kickFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("queue: kick eventfd: %w", err)
	}
	callFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(kickFD)
		return nil, fmt.Errorf("queue: call eventfd: %w", err)
	}
	return &RequestQueue{
		handle: handle,
		kickFD: kickFD,
		callFD: callFD,
		elems:  make(chan *Element, 64),
		done:   make(chan struct{}),
	}, nil
}

// KickFD is the eventfd a producer writes to after enqueueing work; Run
// blocks reading it between elements.
func (q *RequestQueue) KickFD() int { return q.kickFD }

// CallFD is the eventfd Run writes to after every processed element, the
// host-to-guest notification.
func (q *RequestQueue) CallFD() int { return q.callFD }

// Push enqueues one element, kicks the queue, and blocks until it has
// been handled. It is safe to call from multiple goroutines.
func (q *RequestQueue) Push(out, in []byte) (n int, consumed bool) {
	e := &Element{Out: out, In: in, done: make(chan struct{})}
	q.elems <- e
	var kick [8]byte
	kick[0] = 1
	unix.Write(q.kickFD, kick[:])
	<-e.done
	return e.n, e.consumed
}

// Run processes elements until Close is called. It is meant to be
// started as its own goroutine, mirroring vhostuser.Device.kickMe's
// read-handle-notify loop.
func (q *RequestQueue) Run() {
	buf := make([]byte, 8)
	for {
		if _, err := unix.Read(q.kickFD, buf); err != nil {
			select {
			case <-q.done:
				return
			default:
				continue
			}
		}
		for {
			select {
			case e := <-q.elems:
				e.n, e.consumed = q.handle(e.Out, e.In)
				close(e.done)
				var call [8]byte
				call[0] = 1
				unix.Write(q.callFD, call[:])
			default:
				goto drained
			}
		}
	drained:
		select {
		case <-q.done:
			return
		default:
		}
	}
}

// Close stops Run and releases the eventfd pair.
func (q *RequestQueue) Close() error {
	close(q.done)
	var stop [8]byte
	stop[0] = 1
	unix.Write(q.kickFD, stop[:])
	err1 := unix.Close(q.kickFD)
	err2 := unix.Close(q.callFD)
	if err1 != nil {
		return err1
	}
	return err2
}
