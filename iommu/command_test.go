// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"encoding/binary"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

func attachRequest(domain, endpoint uint32) []byte {
	out := make([]byte, headSize+attachLen)
	out[0] = ReqAttach
	binary.LittleEndian.PutUint32(out[headSize:], domain)
	binary.LittleEndian.PutUint32(out[headSize+4:], endpoint)
	return out
}

func mapRequest(domain uint32, low, high, phys uint64, flags uint32) []byte {
	out := make([]byte, headSize+mapLen)
	out[0] = ReqMap
	p := out[headSize:]
	binary.LittleEndian.PutUint32(p[0:], domain)
	binary.LittleEndian.PutUint64(p[4:], low)
	binary.LittleEndian.PutUint64(p[12:], high)
	binary.LittleEndian.PutUint64(p[20:], phys)
	binary.LittleEndian.PutUint32(p[28:], flags)
	return out
}

func unmapRequest(domain uint32, low, high uint64) []byte {
	out := make([]byte, headSize+unmapLen)
	out[0] = ReqUnmap
	p := out[headSize:]
	binary.LittleEndian.PutUint32(p[0:], domain)
	binary.LittleEndian.PutUint64(p[4:], low)
	binary.LittleEndian.PutUint64(p[12:], high)
	return out
}

func detachRequest(domain, endpoint uint32) []byte {
	out := make([]byte, headSize+detachLen)
	out[0] = ReqDetach
	binary.LittleEndian.PutUint32(out[headSize:], domain)
	binary.LittleEndian.PutUint32(out[headSize+4:], endpoint)
	return out
}

func doRequest(t *testing.T, d *Device, out []byte, inLen int) (Status, []byte) {
	t.Helper()
	in := make([]byte, inLen)
	n, consumed := d.HandleRequest(out, in)
	if !consumed {
		t.Fatalf("HandleRequest did not consume the element")
	}
	if n == 0 || n > len(in) {
		t.Fatalf("HandleRequest returned n=%d for a %d-byte buffer", n, len(in))
	}
	return Status(in[n-tailSize]), in[:n]
}

func TestHandleAttachThenMapThenTranslate(t *testing.T) {
	d := NewDevice(Config{}, nil)

	if st, _ := doRequest(t, d, attachRequest(1, 7), tailSize); !st.Ok() {
		t.Fatalf("ATTACH status = %s", st)
	}
	if st, _ := doRequest(t, d, mapRequest(1, 0x1000, 0x1fff, 0x80001000, MapFlagRead), tailSize); !st.Ok() {
		t.Fatalf("MAP status = %s", st)
	}

	res := d.Translate(7, 0x1800, AccessRead)
	if res.Perm != AccessRead || res.TranslatedAddr != 0x80001800 {
		t.Fatalf("Translate after ATTACH+MAP = %#v", res)
	}
}

func TestHandleMapUnknownDomain(t *testing.T) {
	d := NewDevice(Config{}, nil)
	st, _ := doRequest(t, d, mapRequest(42, 0x1000, 0x1fff, 0x1000, MapFlagRead), tailSize)
	if st != StatusNOENT {
		t.Fatalf("MAP against unknown domain status = %s, want NOENT", st)
	}
}

func TestHandleMapOverlapRejected(t *testing.T) {
	d := NewDevice(Config{}, nil)
	doRequest(t, d, attachRequest(1, 7), tailSize)
	if st, _ := doRequest(t, d, mapRequest(1, 0x1000, 0x1fff, 0x1000, MapFlagRead), tailSize); !st.Ok() {
		t.Fatalf("first MAP status = %s", st)
	}
	st, _ := doRequest(t, d, mapRequest(1, 0x1800, 0x27ff, 0x2000, MapFlagRead), tailSize)
	if st != StatusINVAL {
		t.Fatalf("overlapping MAP status = %s, want INVAL", st)
	}
}

func TestHandleUnmapSplitForbidden(t *testing.T) {
	d := NewDevice(Config{}, nil)
	doRequest(t, d, attachRequest(1, 7), tailSize)
	doRequest(t, d, mapRequest(1, 0x1000, 0x2fff, 0x1000, MapFlagRead), tailSize)

	// requests only half of the mapped range: would split it.
	st, _ := doRequest(t, d, unmapRequest(1, 0x1000, 0x1fff), tailSize)
	if st != StatusRANGE {
		t.Fatalf("splitting UNMAP status = %s, want RANGE", st)
	}

	// the mapping must still be in effect since the split was refused.
	res := d.Translate(7, 0x1000, AccessRead)
	if res.Perm != AccessRead {
		t.Fatal("splitting UNMAP removed the mapping despite returning RANGE")
	}
}

func TestHandleUnmapFullRangeOK(t *testing.T) {
	d := NewDevice(Config{}, nil)
	doRequest(t, d, attachRequest(1, 7), tailSize)
	doRequest(t, d, mapRequest(1, 0x1000, 0x1fff, 0x1000, MapFlagRead), tailSize)

	st, _ := doRequest(t, d, unmapRequest(1, 0x1000, 0x1fff), tailSize)
	if !st.Ok() {
		t.Fatalf("UNMAP of the exact mapped range status = %s", st)
	}

	res := d.Translate(7, 0x1000, AccessRead)
	if res.Perm != 0 {
		t.Fatal("mapping still translates after a full UNMAP")
	}
}

func TestHandleDetachUnknownEndpoint(t *testing.T) {
	d := NewDevice(Config{}, nil)
	st, _ := doRequest(t, d, detachRequest(0, 9), tailSize)
	if st != StatusNOENT {
		t.Fatalf("DETACH of unknown endpoint status = %s, want NOENT", st)
	}
}

func TestHandleDetachUnattached(t *testing.T) {
	d := NewDevice(Config{}, nil)
	d.endpoints.getOrCreate(9)
	st, _ := doRequest(t, d, detachRequest(0, 9), tailSize)
	if st != StatusINVAL {
		t.Fatalf("DETACH of unattached endpoint status = %s, want INVAL", st)
	}
}

func TestHandleProbeWritesReservedRegionsAndTerminator(t *testing.T) {
	d := NewDevice(Config{
		ReservedRegions: []ReservedRegion{
			{Low: 0xfee00000, High: 0xfeefffff, Type: ReservedMSI},
		},
	}, nil)

	out := make([]byte, headSize+probeLen)
	out[0] = ReqProbe
	binary.LittleEndian.PutUint32(out[headSize:], 1)

	in := make([]byte, 512)
	n, consumed := d.HandleRequest(out, in)
	if !consumed {
		t.Fatal("PROBE was not consumed")
	}

	st := Status(in[n-tailSize])
	if !st.Ok() {
		t.Fatalf("PROBE status = %s", st)
	}

	blobLen := n - tailSize
	if blobLen != 2*probePropLen {
		t.Fatalf("PROBE blob length = %d, want %d (one region + terminator)", blobLen, 2*probePropLen)
	}

	propType := binary.LittleEndian.Uint16(in[0:])
	if propType != probeTypeResvMem {
		t.Errorf("first property type = %d, want %d", propType, probeTypeResvMem)
	}
	low := binary.LittleEndian.Uint64(in[12:])
	high := binary.LittleEndian.Uint64(in[20:])
	if low != 0xfee00000 || high != 0xfeefffff {
		t.Errorf("first property range = [%#x,%#x]", low, high)
	}

	term := in[probePropLen : 2*probePropLen]
	for i, b := range term {
		if b != 0 {
			t.Fatalf("terminator byte %d = %#x, want 0", i, b)
		}
	}
}

func TestHandleRequestTooSmallOutNotConsumed(t *testing.T) {
	d := NewDevice(Config{}, nil)
	in := make([]byte, tailSize)
	_, consumed := d.HandleRequest(nil, in)
	if consumed {
		t.Fatal("HandleRequest consumed an element with no head")
	}
}

// TestConcurrentRequestsSerialize exercises HandleRequest from multiple
// goroutines at once: every call must still observe a consistent domain
// table, which only holds if the device mutex actually serializes them.
func TestConcurrentRequestsSerialize(t *testing.T) {
	d := NewDevice(Config{}, nil)

	requestStatus := func(out []byte) (Status, error) {
		in := make([]byte, tailSize)
		n, consumed := d.HandleRequest(out, in)
		if !consumed || n != tailSize {
			return 0, fmt.Errorf("HandleRequest: consumed=%v n=%d", consumed, n)
		}
		return Status(in[0]), nil
	}

	var g errgroup.Group
	for i := uint32(0); i < 16; i++ {
		ep := i + 1
		g.Go(func() error {
			if st, err := requestStatus(attachRequest(1, ep)); err != nil {
				return err
			} else if !st.Ok() {
				return fmt.Errorf("ATTACH endpoint %d: status %s", ep, st)
			}
			low, high := uint64(ep)*0x10000, uint64(ep)*0x10000+0xffff
			if st, err := requestStatus(mapRequest(1, low, high, low, MapFlagRead)); err != nil {
				return err
			} else if !st.Ok() {
				return fmt.Errorf("MAP endpoint %d: status %s", ep, st)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	dom := d.domains.lookup(1)
	if dom == nil {
		t.Fatal("domain 1 missing after concurrent ATTACH calls")
	}
	if len(dom.Endpoints) != 16 {
		t.Fatalf("domain has %d endpoints, want 16", len(dom.Endpoints))
	}
	if dom.Mappings.Len() != 16 {
		t.Fatalf("domain has %d mappings, want 16", dom.Mappings.Len())
	}
}
