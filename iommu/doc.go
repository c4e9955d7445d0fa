// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iommu implements the core of a paravirtualized IOMMU device:
// the domain/endpoint/mapping data model, the interval-keyed mapping
// table, the command state machine that mutates it, the translation
// function consulted on every DMA access, and the notifier fan-out that
// keeps address-space observers coherent with mapping changes.
//
// The package does not own a transport. It is driven by a command
// processor (see Device.HandleRequest) fed descriptor-chain buffers by
// a caller — see the sibling queue package for a minimal virtqueue-style
// stand-in used by this repository's tests and example.
package iommu
