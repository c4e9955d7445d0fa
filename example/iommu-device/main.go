// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A minimal driver for iommu.Device: wires a RequestQueue and an
// EventQueue to a Device and issues a fixed ATTACH/MAP/UNMAP/PROBE
// sequence against it. ATTACH, MAP and UNMAP statuses are logged only
// when they are not OK, or always with -debug; the translation result
// and the PROBE status are always logged.
package main

import (
	"encoding/binary"
	"flag"
	"log"

	"github.com/hanwen/virtio-iommu/iommu"
	"github.com/hanwen/virtio-iommu/queue"
)

func main() {
	debug := flag.Bool("debug", false, "log every request and its status")
	flag.Parse()

	events, err := queue.NewEventQueue(16)
	if err != nil {
		log.Fatalf("NewEventQueue: %v", err)
	}
	defer events.Close()

	dev := iommu.NewDevice(iommu.Config{
		ReservedRegions: []iommu.ReservedRegion{
			{Low: 0xfee00000, High: 0xfeefffff, Type: iommu.ReservedMSI},
		},
		Logger: log.Default(),
	}, events)

	rq, err := queue.NewRequestQueue(dev.HandleRequest)
	if err != nil {
		log.Fatalf("NewRequestQueue: %v", err)
	}
	defer rq.Close()
	go rq.Run()

	const domainID, endpointID = 1, 7

	attach := make([]byte, 4+16)
	attach[0] = iommu.ReqAttach
	binary.LittleEndian.PutUint32(attach[4:], domainID)
	binary.LittleEndian.PutUint32(attach[8:], endpointID)
	status(rq, "ATTACH", attach, 4, *debug)

	m := make([]byte, 4+32)
	m[0] = iommu.ReqMap
	binary.LittleEndian.PutUint32(m[4:], domainID)
	binary.LittleEndian.PutUint64(m[8:], 0x1000)
	binary.LittleEndian.PutUint64(m[16:], 0x1fff)
	binary.LittleEndian.PutUint64(m[24:], 0x80001000)
	binary.LittleEndian.PutUint32(m[32:], iommu.MapFlagRead|iommu.MapFlagWrite)
	status(rq, "MAP", m, 4, *debug)

	res := dev.Translate(endpointID, 0x1042, iommu.AccessRead)
	log.Printf("translate 0x1042 -> phys=%#x perm=%d", res.TranslatedAddr, res.Perm)

	u := make([]byte, 4+24)
	u[0] = iommu.ReqUnmap
	binary.LittleEndian.PutUint32(u[4:], domainID)
	binary.LittleEndian.PutUint64(u[8:], 0x1000)
	binary.LittleEndian.PutUint64(u[16:], 0x1fff)
	status(rq, "UNMAP", u, 4, *debug)

	p := make([]byte, 4+68)
	p[0] = iommu.ReqProbe
	binary.LittleEndian.PutUint32(p[4:], endpointID)
	in := make([]byte, dev.Config().ProbeSize)
	n, consumed := rq.Push(p, in)
	log.Printf("PROBE consumed=%v wrote=%d status=%s", consumed, n, iommu.Status(in[n-4]))
}

func status(rq *queue.RequestQueue, name string, out []byte, tailLen int, debug bool) {
	in := make([]byte, tailLen)
	n, consumed := rq.Push(out, in)
	st := iommu.Status(in[0])
	if debug {
		log.Printf("%s: consumed=%v n=%d status=%s", name, consumed, n, st)
	} else if !st.Ok() {
		log.Printf("%s: status=%s", name, st)
	}
}
