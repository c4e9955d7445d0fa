// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import "encoding/binary"

// HandleRequest processes one descriptor-chain element: out carries the
// wire head followed by the typed request payload, in receives the
// property blob (PROBE only) followed by the status tail.
//
// It returns the number of bytes written to in and whether the element
// was consumed. A false return means the buffers were too small for
// head/tail and the caller must detach the element without consuming it
// (a transport-level bus error), matching virtio-iommu's behaviour on a
// malformed descriptor chain.
func (d *Device) HandleRequest(out, in []byte) (n int, consumed bool) {
	if len(out) < headSize || len(in) < tailSize {
		return 0, false
	}

	reqType := out[0]
	payload := out[headSize:]

	d.mu.Lock()
	defer d.mu.Unlock()

	var status Status
	switch reqType {
	case ReqAttach:
		status = d.handleAttach(payload)
	case ReqDetach:
		status = d.handleDetach(payload)
	case ReqMap:
		status = d.handleMap(payload)
	case ReqUnmap:
		status = d.handleUnmap(payload)
	case ReqProbe:
		status, n = d.handleProbe(payload, in)
	default:
		status = StatusUNSUPP
	}

	if n+tailSize > len(in) {
		// the in-buffer was sized for the blob we just wrote but not
		// the tail: nothing sane to do but report a device error at
		// the start of the buffer we do have.
		in[0] = byte(StatusDEVERR)
		return 1, true
	}

	writeTail(in[n:], status)
	return n + tailSize, true
}

func writeTail(buf []byte, status Status) {
	buf[0] = byte(status)
	buf[1], buf[2], buf[3] = 0, 0, 0
}

func (d *Device) handleAttach(payload []byte) Status {
	if len(payload) < attachLen {
		return StatusDEVERR
	}
	domainID := binary.LittleEndian.Uint32(payload[0:4])
	endpointID := binary.LittleEndian.Uint32(payload[4:8])

	ep := d.endpoints.getOrCreate(endpointID)
	if ep.Domain != nil {
		d.detachEndpointFromDomain(ep)
	}

	dom := d.domains.getOrCreate(domainID)
	dom.Endpoints[endpointID] = true
	ep.Domain = dom

	d.notifiers.Replay(endpointID, dom)
	return StatusOK
}

func (d *Device) handleDetach(payload []byte) Status {
	if len(payload) < detachLen {
		return StatusDEVERR
	}
	endpointID := binary.LittleEndian.Uint32(payload[4:8])

	ep := d.endpoints.lookup(endpointID)
	if ep == nil {
		return StatusNOENT
	}
	if ep.Domain == nil {
		return StatusINVAL
	}
	d.detachEndpointFromDomain(ep)
	return StatusOK
}

// detachEndpointFromDomain performs the release/unlink sequence shared
// by DETACH and by ATTACH rebinding an already-attached endpoint:
// replay UNMAP to ep's notifiers, drop ep from the domain's
// back-reference set, clear ep.Domain.
func (d *Device) detachEndpointFromDomain(ep *Endpoint) {
	dom := ep.Domain
	d.notifiers.replayUnmap(ep.ID, dom)
	delete(dom.Endpoints, ep.ID)
	ep.Domain = nil
}

func (d *Device) handleMap(payload []byte) Status {
	if len(payload) < mapLen {
		return StatusDEVERR
	}
	domainID := binary.LittleEndian.Uint32(payload[0:4])
	virtStart := binary.LittleEndian.Uint64(payload[4:12])
	virtEnd := binary.LittleEndian.Uint64(payload[12:20])
	physStart := binary.LittleEndian.Uint64(payload[20:28])
	flags := binary.LittleEndian.Uint32(payload[28:32])

	dom := d.domains.lookup(domainID)
	if dom == nil {
		return StatusNOENT
	}

	key := Interval{Low: virtStart, High: virtEnd}
	mapping := Mapping{PhysAddr: physStart, Flags: flags}
	if !dom.Mappings.Insert(key, mapping) {
		return StatusINVAL
	}

	d.notifiers.notifyMap(dom, virtStart, mapping, size(key))
	return StatusOK
}

func (d *Device) handleUnmap(payload []byte) Status {
	if len(payload) < unmapLen {
		return StatusDEVERR
	}
	domainID := binary.LittleEndian.Uint32(payload[0:4])
	virtStart := binary.LittleEndian.Uint64(payload[4:12])
	virtEnd := binary.LittleEndian.Uint64(payload[12:20])

	dom := d.domains.lookup(domainID)
	if dom == nil {
		d.logf("iommu: unmap: no domain %d", domainID)
		return StatusNOENT
	}

	query := Interval{Low: virtStart, High: virtEnd}
	for {
		key, _, found := dom.Mappings.LookupExtended(query)
		if !found {
			return StatusOK
		}

		if query.Low <= key.Low && query.High >= key.High {
			dom.Mappings.Remove(key)
			d.notifiers.notifyUnmap(dom, key.Low, size(key))
			continue
		}

		d.logf("iommu: unmap: domain=%d unmap [%#x,%#x] forbidden as it would split existing mapping [%#x,%#x]",
			domainID, query.Low, query.High, key.Low, key.High)
		return StatusRANGE
	}
}

func (d *Device) handleProbe(payload, in []byte) (Status, int) {
	if len(payload) < probeLen {
		return StatusDEVERR, 0
	}

	limit := int(d.cfg.ProbeSize)
	need := len(d.cfg.ReservedRegions)*probePropLen + probePropLen
	if need > limit || need > len(in) {
		return StatusINVAL, 0
	}

	off := 0
	for _, r := range d.cfg.ReservedRegions {
		binary.LittleEndian.PutUint16(in[off:], probeTypeResvMem)
		binary.LittleEndian.PutUint16(in[off+2:], probePropLen-4)
		binary.LittleEndian.PutUint64(in[off+4:], uint64(r.Type))
		binary.LittleEndian.PutUint64(in[off+12:], r.Low)
		binary.LittleEndian.PutUint64(in[off+20:], r.High)
		off += probePropLen
	}

	// NONE terminator: an all-zero property record, written
	// unconditionally even when there were zero reserved regions.
	for i := 0; i < probePropLen; i++ {
		in[off+i] = 0
	}
	off += probePropLen

	return StatusOK, off
}
