// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

// Sink receives MAP/UNMAP events for the address space of the endpoint it
// is subscribed to. Implementations must not re-enter the core: a sink
// that needs to call back into the Device must buffer and dispatch
// asynchronously, since fan-out runs under the device mutex.
type Sink interface {
	Map(iova, phys, size uint64)
	Unmap(iova, size uint64)
}

// Subscription is the handle returned by Register; pass it to Unregister
// to stop receiving events.
type Subscription struct {
	endpoint uint32
	sink     Sink
}

// notifierRegistry is the set of subscribers, each bound to one endpoint
// id. Registration is a NONE -> active transition (append); unregistering
// is active -> NONE (remove).
type notifierRegistry struct {
	subs map[uint32][]*Subscription
}

func newNotifierRegistry() *notifierRegistry {
	return &notifierRegistry{subs: make(map[uint32][]*Subscription)}
}

func (r *notifierRegistry) Register(endpoint uint32, sink Sink) *Subscription {
	s := &Subscription{endpoint: endpoint, sink: sink}
	r.subs[endpoint] = append(r.subs[endpoint], s)
	return s
}

func (r *notifierRegistry) Unregister(s *Subscription) {
	list := r.subs[s.endpoint]
	for i, x := range list {
		if x == s {
			r.subs[s.endpoint] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func size(iv Interval) uint64 {
	return iv.High - iv.Low + 1
}

// notifyMap fans a newly-inserted mapping out to every notifier
// subscribed to an endpoint currently attached to d.
func (r *notifierRegistry) notifyMap(d *Domain, low uint64, m Mapping, sz uint64) {
	for ep := range d.Endpoints {
		for _, s := range r.subs[ep] {
			s.sink.Map(low, m.PhysAddr, sz)
		}
	}
}

// notifyUnmap fans a removed mapping's extent out the same way.
func (r *notifierRegistry) notifyUnmap(d *Domain, low, sz uint64) {
	for ep := range d.Endpoints {
		for _, s := range r.subs[ep] {
			s.sink.Unmap(low, sz)
		}
	}
}

// Replay emits a MAP event for every current mapping of d, to the
// notifiers subscribed to endpoint only. Used by ATTACH to restore IOTLB
// state after (re)binding, and exposed as the subscriber-driven replay
// primitive.
func (r *notifierRegistry) Replay(endpoint uint32, d *Domain) {
	subs := r.subs[endpoint]
	if len(subs) == 0 || d == nil {
		return
	}
	d.Mappings.Foreach(func(iv Interval, m Mapping) {
		sz := size(iv)
		for _, s := range subs {
			s.sink.Map(iv.Low, m.PhysAddr, sz)
		}
	})
}

// replayUnmap emits an UNMAP event for every current mapping of d, to the
// notifiers subscribed to endpoint only. Used by DETACH.
func (r *notifierRegistry) replayUnmap(endpoint uint32, d *Domain) {
	subs := r.subs[endpoint]
	if len(subs) == 0 || d == nil {
		return
	}
	d.Mappings.Foreach(func(iv Interval, m Mapping) {
		sz := size(iv)
		for _, s := range subs {
			s.sink.Unmap(iv.Low, sz)
		}
	})
}

// Remap emits UNMAP followed by MAP for each current mapping of
// endpoint's domain, one mapping at a time: the subscriber-driven
// refresh path.
func (r *notifierRegistry) Remap(endpoint uint32, d *Domain) {
	subs := r.subs[endpoint]
	if len(subs) == 0 || d == nil {
		return
	}
	d.Mappings.Foreach(func(iv Interval, m Mapping) {
		sz := size(iv)
		for _, s := range subs {
			s.sink.Unmap(iv.Low, sz)
		}
		for _, s := range subs {
			s.sink.Map(iv.Low, m.PhysAddr, sz)
		}
	})
}
