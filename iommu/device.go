// Copyright 2024 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import "sync"

// Logger is the subset of *log.Logger used by this package. A nil Logger
// is valid and discards all output, the same convention fuse.Logger
// callers rely on.
type Logger interface {
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

// Config configures a Device at construction time. Zero-value fields are
// resolved to defaults by NewDevice.
type Config struct {
	// PageSizeMask mirrors the host page mask; AddrMask on every
	// translation is derived from it. Defaults to a 4KiB page (0xfff
	// complement, i.e. mask 0xfffffffffffff000).
	PageSizeMask uint64

	// ProbeSize bounds the property blob PROBE may write. Defaults to
	// 512.
	ProbeSize uint32

	// DomainRangeEnd is advertised configuration only; the core does
	// not enforce it. Defaults to 32.
	DomainRangeEnd uint32

	// ReservedRegions is fixed device configuration consulted by the
	// Translator and reported by PROBE.
	ReservedRegions []ReservedRegion

	// Features is the negotiated feature bitmask. Defaults to every
	// bit this package implements.
	Features uint64

	// Logger receives one line per guest-error condition. Nil
	// discards.
	Logger Logger
}

func (c *Config) setDefaults() {
	if c.PageSizeMask == 0 {
		c.PageSizeMask = ^uint64(0xfff)
	}
	if c.ProbeSize == 0 {
		c.ProbeSize = 512
	}
	if c.DomainRangeEnd == 0 {
		c.DomainRangeEnd = 32
	}
	if c.Features == 0 {
		c.Features = allDefaultFeatures
	}
}

// Device is the IOMMU core: the domain/endpoint tables, the interval
// maps they own, and the notifier registry, all protected by a single
// mutex. There is no lock hierarchy; every exported operation acquires
// mu for its entire critical section.
type Device struct {
	mu sync.Mutex

	cfg       Config
	domains   *domainTable
	endpoints *endpointTable
	notifiers *notifierRegistry

	// events receives fault records; nil means faults are logged and
	// dropped (see ReportFault).
	events FaultQueue
}

// NewDevice creates a Device from cfg, resolving zero-value fields to
// their defaults. events may be nil.
func NewDevice(cfg Config, events FaultQueue) *Device {
	cfg.setDefaults()
	return &Device{
		cfg:       cfg,
		domains:   newDomainTable(),
		endpoints: newEndpointTable(),
		notifiers: newNotifierRegistry(),
		events:    events,
	}
}

func (d *Device) logf(format string, args ...interface{}) {
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}

// Config returns the device's current configuration.
func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// NegotiatedFeatures returns the feature bitmask in effect.
func (d *Device) NegotiatedFeatures() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Features
}

// Register subscribes sink to events for endpoint's current and future
// domain. See notifierRegistry.
func (d *Device) Register(endpoint uint32, sink Sink) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifiers.Register(endpoint, sink)
}

// Unregister removes a subscription previously returned by Register.
func (d *Device) Unregister(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers.Unregister(s)
}

// Replay emits a MAP event for every mapping of endpoint's current
// domain to the notifiers subscribed to it. A no-op if endpoint is
// unknown or unattached.
func (d *Device) Replay(endpoint uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep := d.endpoints.lookup(endpoint)
	if ep == nil || ep.Domain == nil {
		return
	}
	d.notifiers.Replay(endpoint, ep.Domain)
}

// Remap emits UNMAP followed by MAP for every mapping of endpoint's
// current domain, one mapping at a time: the subscriber-driven refresh
// path.
func (d *Device) Remap(endpoint uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep := d.endpoints.lookup(endpoint)
	if ep == nil || ep.Domain == nil {
		return
	}
	d.notifiers.Remap(endpoint, ep.Domain)
}

// Reset and SetStatus are hooks reserved for the transport layer: on the
// original device these callbacks are effectively no-ops (the reset
// trace point fires but no state is torn down; tables live until the
// device object itself is replaced by a deserialized snapshot, see
// Device.Load). Kept as explicit methods so a transport can wire them
// without reaching into the core's internals.
func (d *Device) Reset()            {}
func (d *Device) SetStatus(_ uint32) {}
