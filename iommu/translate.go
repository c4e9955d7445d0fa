// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import "math/bits"

// TranslationResult is returned for every DMA access. Perm == 0 means
// the access was denied (and, unless it hit a reserved MSI region
// without ever reaching the fault-worthy cases, a Fault was reported).
type TranslationResult struct {
	IOVA           uint64
	TranslatedAddr uint64
	AddrMask       uint64
	Perm           AccessFlags
}

// addrMaskFor derives the device-wide address mask from the configured
// page size mask: (1 << ctz(pageSizeMask)) - 1. Translate calls it on
// every access; the mask is not stored per mapping.
func addrMaskFor(pageSizeMask uint64) uint64 {
	return (uint64(1) << bits.TrailingZeros64(pageSizeMask)) - 1
}

// Translate is the per-DMA-access entry point: given an endpoint id, an
// I/O virtual address and the access being attempted, it returns a
// translated address and the granted permission, or denies the access
// (Perm == 0) after reporting a fault.
func (d *Device) Translate(endpoint uint32, iova uint64, access AccessFlags) TranslationResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := TranslationResult{
		IOVA:           iova,
		TranslatedAddr: iova,
		AddrMask:       addrMaskFor(d.cfg.PageSizeMask),
	}
	bypass := d.cfg.Features&FeatureBypass != 0

	ep := d.endpoints.lookup(endpoint)
	if ep == nil {
		if bypass {
			result.Perm = access
			return result
		}
		d.ReportFault(FaultUnknown, 0, endpoint, 0)
		return result
	}

	for _, r := range d.cfg.ReservedRegions {
		if iova < r.Low || iova > r.High {
			continue
		}
		if r.Type == ReservedMSI {
			result.Perm = access
			return result
		}
		d.ReportFault(FaultMapping, 0, endpoint, iova)
		return result
	}

	if ep.Domain == nil {
		if bypass {
			result.Perm = access
			return result
		}
		d.ReportFault(FaultDomain, 0, endpoint, 0)
		return result
	}

	key, mapping, found := ep.Domain.Mappings.Lookup(iova)
	if !found {
		d.ReportFault(FaultMapping, 0, endpoint, iova)
		return result
	}

	var flags uint32
	if access&AccessRead != 0 && mapping.Flags&MapFlagRead == 0 {
		flags |= FaultFlagRead
	}
	if access&AccessWrite != 0 && mapping.Flags&MapFlagWrite == 0 {
		flags |= FaultFlagWrite
	}
	if flags != 0 {
		flags |= FaultFlagAddress
		d.ReportFault(FaultMapping, flags, endpoint, iova)
		return result
	}

	result.TranslatedAddr = iova - key.Low + mapping.PhysAddr
	result.Perm = access
	return result
}
