// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package queue

import (
	"testing"

	"github.com/hanwen/virtio-iommu/iommu"
)

func TestEventQueuePushAndPop(t *testing.T) {
	q, err := NewEventQueue(4)
	if err != nil {
		t.Fatalf("NewEventQueue: %v", err)
	}
	defer q.Close()

	f := iommu.Fault{Reason: iommu.FaultMapping, Endpoint: 3, Address: 0x1000}
	if !q.PushFault(f) {
		t.Fatal("PushFault reported no room in an empty queue")
	}

	got, ok := q.Pop()
	if !ok {
		t.Fatal("Pop found nothing after a successful PushFault")
	}
	if got != f {
		t.Errorf("Pop returned %#v, want %#v", got, f)
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop found a second fault after draining the only one pushed")
	}
}

func TestEventQueuePushFullReportsFalse(t *testing.T) {
	q, err := NewEventQueue(1)
	if err != nil {
		t.Fatalf("NewEventQueue: %v", err)
	}
	defer q.Close()

	if !q.PushFault(iommu.Fault{Endpoint: 1}) {
		t.Fatal("first PushFault into a depth-1 queue reported no room")
	}
	if q.PushFault(iommu.Fault{Endpoint: 2}) {
		t.Fatal("PushFault into a full queue reported success")
	}
}
