package seotest

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultVitalsWindow is how long beacons are collected during an audit.
const DefaultVitalsWindow = 3 * time.Second

// Core Web Vitals metric names accepted in beacons.
const (
	MetricLCP  = "LCP"
	MetricFCP  = "FCP"
	MetricCLS  = "CLS"
	MetricTTFB = "TTFB"
)

// Beacon is one vitals sample posted by a page. Times are in milliseconds.
type Beacon struct {
	Page   string  `json:"page" binding:"required"`
	Metric string  `json:"metric" binding:"required"`
	Value  float64 `json:"value"`
}

// Vitals are the samples gathered for a page. Nil means not observed.
type Vitals struct {
	LCP  *float64 `json:"lcp,omitempty"`
	FCP  *float64 `json:"fcp,omitempty"`
	CLS  *float64 `json:"cls,omitempty"`
	TTFB *float64 `json:"ttfb,omitempty"`
}

type subscription struct {
	page string
	ch   chan Beacon
}

// VitalsHub fans beacons out to the samplings waiting on their page.
type VitalsHub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func NewVitalsHub() *VitalsHub {
	return &VitalsHub{subs: make(map[*subscription]struct{})}
}

func normalizePage(page string) string {
	return strings.TrimRight(page, "/")
}

// Publish delivers b to every sampling of its page and returns how many
// received it. A sampling whose buffer is full misses the beacon.
func (h *VitalsHub) Publish(b Beacon) int {
	page := normalizePage(b.Page)
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for sub := range h.subs {
		if sub.page != page {
			continue
		}
		select {
		case sub.ch <- b:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *VitalsHub) subscribe(page string) *subscription {
	sub := &subscription{page: normalizePage(page), ch: make(chan Beacon, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *VitalsHub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// VitalsSampler collects beacons for a fixed window.
type VitalsSampler struct {
	hub    *VitalsHub
	window time.Duration
}

func NewVitalsSampler(hub *VitalsHub, window time.Duration) *VitalsSampler {
	if window <= 0 {
		window = DefaultVitalsWindow
	}
	return &VitalsSampler{hub: hub, window: window}
}

// Sampling is a running collection window.
type Sampling struct {
	hub   *VitalsHub
	sub   *subscription
	timer *time.Timer
}

// Begin opens a collection window for page.
func (s *VitalsSampler) Begin(page string) *Sampling {
	return &Sampling{
		hub:   s.hub,
		sub:   s.hub.subscribe(page),
		timer: time.NewTimer(s.window),
	}
}

// Wait blocks until the window closes or ctx is done and returns what was
// collected. LCP keeps the latest sample, FCP the first, CLS the sum of
// layout shifts and TTFB the latest.
func (sm *Sampling) Wait(ctx context.Context) Vitals {
	defer sm.hub.unsubscribe(sm.sub)
	defer sm.timer.Stop()

	var v Vitals
	for {
		select {
		case b := <-sm.sub.ch:
			v.add(b)
		case <-sm.timer.C:
			sm.drain(&v)
			return v
		case <-ctx.Done():
			sm.drain(&v)
			return v
		}
	}
}

func (sm *Sampling) drain(v *Vitals) {
	for {
		select {
		case b := <-sm.sub.ch:
			v.add(b)
		default:
			return
		}
	}
}

func (v *Vitals) add(b Beacon) {
	value := b.Value
	switch strings.ToUpper(b.Metric) {
	case MetricLCP:
		v.LCP = &value
	case MetricFCP:
		if v.FCP == nil {
			v.FCP = &value
		}
	case MetricCLS:
		if v.CLS == nil {
			v.CLS = &value
		} else {
			sum := *v.CLS + value
			v.CLS = &sum
		}
	case MetricTTFB:
		v.TTFB = &value
	}
}
