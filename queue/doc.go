// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package queue is a minimal request/event queue transport for driving an
// iommu.Device. It stands in for the virtio descriptor-chain ring: a real
// transport maps guest memory and walks a vring the way vhostuser.Device
// does, but the ring layout itself is out of scope here, so an Element
// carries two flat byte slices instead of a descriptor chain.
//
// Queued work is signaled with an eventfd pair, the same kick/call
// convention a virtio transport uses to cross the guest/host boundary
// without polling.
package queue
