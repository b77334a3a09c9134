// Package models contains the domain types shared between the sync agent and
// the snapshot consumer.
package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Severity levels follow the remote API's 0-5 scale, 5 being the most severe.
const (
	SeverityNotClassified = 0
	SeverityInformation   = 1
	SeverityWarning       = 2
	SeverityAverage       = 3
	SeverityHigh          = 4
	SeverityDisaster      = 5
)

// DefaultResultCap limits how many alerts a published snapshot carries.
const DefaultResultCap = 20

var severityNames = map[int]string{
	SeverityNotClassified: "not classified",
	SeverityInformation:   "information",
	SeverityWarning:       "warning",
	SeverityAverage:       "average",
	SeverityHigh:          "high",
	SeverityDisaster:      "disaster",
}

// SeverityName returns the human-readable name of a severity level.
func SeverityName(level int) string {
	if name, ok := severityNames[level]; ok {
		return name
	}
	return "unknown"
}

// Alert is a normalized problem record. ID is the remote event identity, not
// the trigger identity; only the event identity is stable for acknowledgement.
type Alert struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Severity     int       `json:"severity"`
	OccurredAt   time.Time `json:"occurredAt"`
	Acknowledged bool      `json:"acknowledged"`
}

// SeveritySet is the set of enabled severity levels for a view.
type SeveritySet map[int]bool

// NewSeveritySet builds a set from the given levels.
func NewSeveritySet(levels ...int) SeveritySet {
	s := make(SeveritySet, len(levels))
	for _, l := range levels {
		s[l] = true
	}
	return s
}

// ParseSeveritySet parses a comma-separated list of levels ("3,4,5").
// Unknown or out-of-range entries are ignored.
func ParseSeveritySet(raw string) SeveritySet {
	s := make(SeveritySet)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		level, err := strconv.Atoi(part)
		if err != nil || level < SeverityNotClassified || level > SeverityDisaster {
			continue
		}
		s[level] = true
	}
	return s
}

// Contains reports whether the level is enabled. An empty set matches nothing.
func (s SeveritySet) Contains(level int) bool {
	return s[level]
}

// Levels returns the enabled levels in ascending order.
func (s SeveritySet) Levels() []int {
	levels := make([]int, 0, len(s))
	for l := range s {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

// String renders the set as a comma-joined ascending list, e.g. "4,5".
func (s SeveritySet) String() string {
	levels := s.Levels()
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}

// Clone returns an independent copy of the set.
func (s SeveritySet) Clone() SeveritySet {
	c := make(SeveritySet, len(s))
	for l, on := range s {
		c[l] = on
	}
	return c
}

// Snapshot is the complete published state consumed by the separate
// presentation process. It is always written whole; consumers never see
// incremental mutation.
type Snapshot struct {
	Alerts              []Alert   `json:"alerts"`
	UnacknowledgedCount int       `json:"unacknowledgedCount"`
	LastUpdate          time.Time `json:"lastUpdate"`
	ServerIdentity      string    `json:"serverIdentity"`
	Authenticated       bool      `json:"authenticated"`
	SummaryText         string    `json:"summaryText,omitempty"`
	ActiveFilter        []int     `json:"activeFilter"`
	SortPreference      string    `json:"sortPreference,omitempty"`
	ResultCap           int       `json:"resultCap"`
}

// AgentState names the session lifecycle states.
type AgentState string

const (
	StateLoggedOut      AgentState = "logged_out"
	StateAuthenticating AgentState = "authenticating"
	StateAuthenticated  AgentState = "authenticated"
	StateRefreshing     AgentState = "refreshing"
)

// AgentStatus is the side-channel status record that lets the consumer
// distinguish "loading" from "error" without touching the snapshot itself.
type AgentStatus struct {
	State         AgentState `json:"state"`
	CycleInFlight bool       `json:"cycleInFlight"`
	LastCycle     time.Time  `json:"lastCycle,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}
