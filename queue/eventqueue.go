// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package queue

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/hanwen/virtio-iommu/iommu"
)

// EventQueue is a bounded iommu.FaultQueue backed by a channel, signaled
// by a call eventfd exactly like RequestQueue's completion notify. A
// full queue means the guest hasn't drained faults in time; PushFault
// reports false rather than blocking, so the caller (Device.ReportFault)
// logs and drops instead of stalling the command path.
type EventQueue struct {
	callFD int
	faults chan iommu.Fault
}

// NewEventQueue creates an EventQueue with room for depth pending
// faults.
func NewEventQueue(depth int) (*EventQueue, error) {
	callFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("queue: event call eventfd: %w", err)
	}
	return &EventQueue{
		callFD: callFD,
		faults: make(chan iommu.Fault, depth),
	}, nil
}

// CallFD is the eventfd written every time a fault is queued.
func (q *EventQueue) CallFD() int { return q.callFD }

// PushFault implements iommu.FaultQueue.
func (q *EventQueue) PushFault(f iommu.Fault) bool {
	select {
	case q.faults <- f:
		var call [8]byte
		call[0] = 1
		unix.Write(q.callFD, call[:])
		return true
	default:
		return false
	}
}

// Pop returns the next queued fault, or false if the queue is empty.
// Called by the transport after observing CallFD readable.
func (q *EventQueue) Pop() (iommu.Fault, bool) {
	select {
	case f := <-q.faults:
		return f, true
	default:
		return iommu.Fault{}, false
	}
}

// Close releases the call eventfd.
func (q *EventQueue) Close() error {
	return unix.Close(q.callFD)
}
