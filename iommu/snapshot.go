// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// snapshotVersion is the only version this codec writes or accepts.
const snapshotVersion = 1

// Payload section tags, written ahead of each top-level section: Load
// expects the domains section followed by the endpoints section, and any
// other tag is rejected with an error rather than silently misparsed.
const (
	sectionDomains   = 1
	sectionEndpoints = 2
)

// Save serializes the Domain Table (ordered by id) and the Endpoint
// Table (ordered by id) to w. For each domain: its id, its interval map
// as ordered (low, high, phys, flags) tuples, and the list of attached
// endpoint ids. For each endpoint: its id only, no back-reference.
func (d *Device) Save(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	le := binary.LittleEndian

	binary.Write(&buf, le, uint32(snapshotVersion))

	binary.Write(&buf, le, uint32(sectionDomains))
	domainIDs := sortedDomainIDs(d.domains.byID)
	binary.Write(&buf, le, uint32(len(domainIDs)))
	for _, id := range domainIDs {
		dom := d.domains.byID[id]
		binary.Write(&buf, le, dom.ID)

		binary.Write(&buf, le, uint32(dom.Mappings.Len()))
		dom.Mappings.Foreach(func(iv Interval, m Mapping) {
			binary.Write(&buf, le, iv.Low)
			binary.Write(&buf, le, iv.High)
			binary.Write(&buf, le, m.PhysAddr)
			binary.Write(&buf, le, m.Flags)
		})

		epIDs := sortedKeys(dom.Endpoints)
		binary.Write(&buf, le, uint32(len(epIDs)))
		for _, eid := range epIDs {
			binary.Write(&buf, le, eid)
		}
	}

	binary.Write(&buf, le, uint32(sectionEndpoints))
	endpointIDs := sortedEndpointIDs(d.endpoints.byID)
	binary.Write(&buf, le, uint32(len(endpointIDs)))
	for _, id := range endpointIDs {
		binary.Write(&buf, le, id)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Load replaces the Device's Domain Table and Endpoint Table with the
// contents read from r. It recreates empty domains and endpoints, then
// runs the post-load fix-up pass: for every endpoint, find the domain
// whose endpoint set contains its id and set endpoint.Domain
// accordingly, so that every endpoint ends up with at most one domain
// and every domain's endpoint set is canonical.
//
// Subscriptions are not part of the persisted state and are dropped; a
// transport is expected to re-register its notifiers after a restore.
func (d *Device) Load(r io.Reader) error {
	le := binary.LittleEndian

	var version uint32
	if err := binary.Read(r, le, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("iommu: snapshot version %d not supported (want %d)", version, snapshotVersion)
	}

	var tag uint32
	if err := binary.Read(r, le, &tag); err != nil {
		return err
	}
	if tag != sectionDomains {
		return fmt.Errorf("iommu: unknown snapshot section %d", tag)
	}

	var numDomains uint32
	if err := binary.Read(r, le, &numDomains); err != nil {
		return err
	}

	domains := newDomainTable()
	for i := uint32(0); i < numDomains; i++ {
		var id uint32
		if err := binary.Read(r, le, &id); err != nil {
			return err
		}
		dom := newDomain(id)

		var numMappings uint32
		if err := binary.Read(r, le, &numMappings); err != nil {
			return err
		}
		for j := uint32(0); j < numMappings; j++ {
			var low, high, phys uint64
			var flags uint32
			if err := binary.Read(r, le, &low); err != nil {
				return err
			}
			if err := binary.Read(r, le, &high); err != nil {
				return err
			}
			if err := binary.Read(r, le, &phys); err != nil {
				return err
			}
			if err := binary.Read(r, le, &flags); err != nil {
				return err
			}
			dom.Mappings.Insert(Interval{Low: low, High: high}, Mapping{PhysAddr: phys, Flags: flags})
		}

		var numEndpoints uint32
		if err := binary.Read(r, le, &numEndpoints); err != nil {
			return err
		}
		for k := uint32(0); k < numEndpoints; k++ {
			var eid uint32
			if err := binary.Read(r, le, &eid); err != nil {
				return err
			}
			dom.Endpoints[eid] = true
		}

		domains.byID[id] = dom
	}

	if err := binary.Read(r, le, &tag); err != nil {
		return err
	}
	if tag != sectionEndpoints {
		return fmt.Errorf("iommu: unknown snapshot section %d", tag)
	}

	var numEndpoints uint32
	if err := binary.Read(r, le, &numEndpoints); err != nil {
		return err
	}
	endpoints := newEndpointTable()
	for i := uint32(0); i < numEndpoints; i++ {
		var id uint32
		if err := binary.Read(r, le, &id); err != nil {
			return err
		}
		endpoints.byID[id] = &Endpoint{ID: id}
	}

	// Fix-up pass: every endpoint finds the one domain (if any) whose
	// endpoint set names it.
	for _, ep := range endpoints.byID {
		for _, dom := range domains.byID {
			if dom.Endpoints[ep.ID] {
				ep.Domain = dom
				break
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.domains = domains
	d.endpoints = endpoints
	d.notifiers = newNotifierRegistry()
	return nil
}

func sortedKeys(m map[uint32]bool) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedDomainIDs(m map[uint32]*Domain) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedEndpointIDs(m map[uint32]*Endpoint) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
