// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

// FaultQueue is the event-queue side the Fault Reporter pushes into. A
// real transport backs this with descriptor-chain buffers (see the
// queue package); PushFault reports whether a buffer was available.
// Implementations must not block: if no descriptor is ready, return
// false and the reporter logs once and drops the record, per spec.
type FaultQueue interface {
	PushFault(Fault) bool
}

// ReportFault constructs a fault record and pushes it to the event
// queue. If no FaultQueue is configured, or the queue has no buffer
// available, the fault is logged once and dropped; it never fails the
// command path that triggered it.
func (d *Device) ReportFault(reason uint8, flags uint32, endpoint uint32, address uint64) {
	f := Fault{
		Reason:   reason,
		Flags:    flags,
		Endpoint: endpoint,
		Address:  address,
	}

	if d.events == nil || !d.events.PushFault(f) {
		d.logf("iommu: no buffer available in event queue to report fault reason=%d endpoint=%d address=%#x", reason, endpoint, address)
	}
}
