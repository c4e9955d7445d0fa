// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

// Domain is an I/O address space: one interval map of translations plus
// the set of endpoints currently attached to it. The original C
// implementation reference-counts the mappings tree across attached
// endpoints; here ownership simply stays with the Domain and attached
// endpoints hold a pointer to it, so no refcount is needed (see
// DESIGN.md).
type Domain struct {
	ID        uint32
	Mappings  IntervalMap
	Endpoints map[uint32]bool
}

func newDomain(id uint32) *Domain {
	return &Domain{ID: id, Endpoints: make(map[uint32]bool)}
}

// Endpoint is a DMA-capable device instance. A nil Domain means
// unattached.
type Endpoint struct {
	ID     uint32
	Domain *Domain
}

// domainTable maps domain id to Domain record, created lazily.
type domainTable struct {
	byID map[uint32]*Domain
}

func newDomainTable() *domainTable {
	return &domainTable{byID: make(map[uint32]*Domain)}
}

func (t *domainTable) lookup(id uint32) *Domain {
	return t.byID[id]
}

func (t *domainTable) getOrCreate(id uint32) *Domain {
	d := t.byID[id]
	if d == nil {
		d = newDomain(id)
		t.byID[id] = d
	}
	return d
}

// endpointTable maps endpoint id to Endpoint record, created lazily.
type endpointTable struct {
	byID map[uint32]*Endpoint
}

func newEndpointTable() *endpointTable {
	return &endpointTable{byID: make(map[uint32]*Endpoint)}
}

func (t *endpointTable) lookup(id uint32) *Endpoint {
	return t.byID[id]
}

func (t *endpointTable) getOrCreate(id uint32) *Endpoint {
	e := t.byID[id]
	if e == nil {
		e = &Endpoint{ID: id}
		t.byID[id] = e
	}
	return e
}
