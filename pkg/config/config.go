// Package config is the engine's input boundary: the Qbv-relevant subset of
// the ieee802-dot1q-sched gate-parameter-table plus port capabilities and
// engine options, decoded from YAML. The upstream management layer owns the
// full YANG tree; only these fields cross into the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/opentsn/qbv-engine/pkg/admission"
	"github.com/opentsn/qbv-engine/pkg/schedule"
	"github.com/opentsn/qbv-engine/pkg/timeline"
)

// PTPTime mirrors the YANG ptp-time grouping used for admin-base-time.
type PTPTime struct {
	Seconds     int64  `json:"seconds"`
	Nanoseconds uint32 `json:"nanoseconds,omitempty"`
}

// Time converts to an absolute instant.
func (t PTPTime) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanoseconds)).UTC()
}

// RationalTime mirrors the YANG rational grouping used for admin-cycle-time:
// a fraction of a second.
type RationalTime struct {
	Numerator   uint32 `json:"numerator"`
	Denominator uint32 `json:"denominator"`
}

// Duration converts the fraction to a duration, truncating sub-nanosecond
// remainders.
func (r RationalTime) Duration() (time.Duration, error) {
	if r.Denominator == 0 {
		return 0, fmt.Errorf("cycle time denominator is zero")
	}
	ns := uint64(r.Numerator) * uint64(time.Second) / uint64(r.Denominator)
	return time.Duration(ns), nil
}

// GateControlEntry is one admin-control-list row.
type GateControlEntry struct {
	GateStatesValue   uint8  `json:"gateStatesValue"`
	TimeIntervalValue uint32 `json:"timeIntervalValue"` // nanoseconds
}

// GateParameterTable is the admin half of the YANG gate-parameter-table.
type GateParameterTable struct {
	GateEnabled             bool               `json:"gateEnabled"`
	AdminBaseTime           PTPTime            `json:"adminBaseTime"`
	AdminCycleTime          RationalTime       `json:"adminCycleTime"`
	AdminCycleTimeExtension uint32             `json:"adminCycleTimeExtension,omitempty"` // nanoseconds
	AdminControlList        []GateControlEntry `json:"adminControlList"`
}

// ToSchedule builds the engine's schedule value for the given port. Shape
// violations surface as *schedule.MalformedError.
func (t *GateParameterTable) ToSchedule(port schedule.PortID) (*schedule.GateSchedule, error) {
	cycle, err := t.AdminCycleTime.Duration()
	if err != nil {
		return nil, &schedule.MalformedError{Field: "admin-cycle-time", Reason: err.Error()}
	}
	entries := make([]schedule.ControlEntry, 0, len(t.AdminControlList))
	for _, e := range t.AdminControlList {
		entries = append(entries, schedule.ControlEntry{
			Gates:    schedule.GateStates(e.GateStatesValue),
			Interval: time.Duration(e.TimeIntervalValue) * time.Nanosecond,
		})
	}
	return schedule.New(port, cycle,
		time.Duration(t.AdminCycleTimeExtension)*time.Nanosecond,
		t.AdminBaseTime.Time(), entries)
}

// PortConfig carries one port's capability leaves and its admin gate table.
type PortConfig struct {
	Name          string              `json:"name"`
	Queues        uint8               `json:"queues,omitempty"`
	MinIntervalNs uint32              `json:"minIntervalNs,omitempty"`
	MaxGCLLength  int                 `json:"maxGclLength,omitempty"`
	Backend       string              `json:"backend,omitempty"`
	GateTable     *GateParameterTable `json:"gateParameterTable,omitempty"`
}

// capability defaults for ports that omit the leaves
const (
	DefaultQueues        = 8
	DefaultMinIntervalNs = 1
	DefaultMaxGCLLength  = 1024
)

// Capability returns the port descriptor with defaults applied.
func (p *PortConfig) Capability() schedule.Port {
	port := schedule.Port{
		ID:           schedule.PortID(p.Name),
		Queues:       p.Queues,
		MinInterval:  time.Duration(p.MinIntervalNs) * time.Nanosecond,
		MaxGCLLength: p.MaxGCLLength,
	}
	if port.Queues == 0 {
		port.Queues = DefaultQueues
	}
	if port.MinInterval <= 0 {
		port.MinInterval = DefaultMinIntervalNs * time.Nanosecond
	}
	if port.MaxGCLLength == 0 {
		port.MaxGCLLength = DefaultMaxGCLLength
	}
	return port
}

// GuardBandConfig selects queues needing close protection.
type GuardBandConfig struct {
	DurationNs uint32  `json:"durationNs,omitempty"`
	Queues     []uint8 `json:"queues,omitempty"`
}

// EngineOptions tune admission and compilation.
type EngineOptions struct {
	MinLeadTimeNs        uint64           `json:"minLeadTimeNs,omitempty"`
	AckTimeoutNs         uint64           `json:"ackTimeoutNs,omitempty"`
	AllowImmediate       bool             `json:"allowImmediate,omitempty"`
	OverlapPolicy        string           `json:"overlapPolicy,omitempty"` // "replace" (default) or "reject"
	MaxExtensionFraction float64          `json:"maxExtensionFraction,omitempty"`
	GuardBand            *GuardBandConfig `json:"guardBand,omitempty"`
}

// Config is the engine's whole file-based configuration.
type Config struct {
	Ports  []PortConfig  `json:"ports"`
	Engine EngineOptions `json:"engine,omitempty"`
}

// Load decodes a Config from YAML bytes.
func Load(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if len(cfg.Ports) == 0 {
		return nil, fmt.Errorf("engine config declares no ports")
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Ports {
		if p.Name == "" {
			return nil, fmt.Errorf("port with empty name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate port %q", p.Name)
		}
		seen[p.Name] = true
	}
	if op := cfg.Engine.OverlapPolicy; op != "" && op != "replace" && op != "reject" {
		return nil, fmt.Errorf("unknown overlap policy %q", op)
	}
	return cfg, nil
}

// Read loads a Config from a file.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}
	return Load(data)
}

// AdmissionOptions maps the file options onto the controller's knobs.
func (e EngineOptions) AdmissionOptions() admission.Options {
	opts := admission.Options{
		MinLeadTime:    time.Duration(e.MinLeadTimeNs) * time.Nanosecond,
		AllowImmediate: e.AllowImmediate,
	}
	if e.OverlapPolicy == "reject" {
		opts.OverlapPolicy = admission.OverlapReject
	}
	return opts
}

// AckTimeout returns the backend acknowledgment deadline, zero when unset
// (the dispatcher then applies its own default).
func (e EngineOptions) AckTimeout() time.Duration {
	return time.Duration(e.AckTimeoutNs) * time.Nanosecond
}

// Validator returns the capability validator with the configured extension
// bound.
func (e EngineOptions) Validator() schedule.Validator {
	return schedule.Validator{MaxExtensionFraction: e.MaxExtensionFraction}
}

// GuardBandSpec converts the configured guard band to compiler input; the
// zero value disables guarding.
func (e EngineOptions) GuardBandSpec() timeline.GuardBand {
	if e.GuardBand == nil {
		return timeline.GuardBand{}
	}
	var mask schedule.GateStates
	for _, q := range e.GuardBand.Queues {
		if q < 8 {
			mask |= 1 << q
		}
	}
	return timeline.GuardBand{
		Duration: time.Duration(e.GuardBand.DurationNs) * time.Nanosecond,
		Queues:   mask,
	}
}
