package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// WorkerID identifies one process in the fleet, e.g. "web.3".
type WorkerID string

// Role returns the part of the id before the last dot ("web" for "web.3").
func (id WorkerID) Role() string {
	s := string(id)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Index returns the numeric suffix of the id, or -1 when there is none.
func (id WorkerID) Index() int {
	s := string(id)
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return -1
	}
	return n
}

// SortWorkerIDs orders ids by role, then numerically by index, so web.2 sorts before web.10.
func SortWorkerIDs(ids []WorkerID) {
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := ids[i].Role(), ids[j].Role()
		if ri != rj {
			return ri < rj
		}
		xi, xj := ids[i].Index(), ids[j].Index()
		if xi != xj {
			return xi < xj
		}
		return ids[i] < ids[j]
	})
}

// WorkerState is the lifecycle state reported by the fleet inventory.
type WorkerState string

// StateUp is the only state in which a worker can be considered active.
const StateUp WorkerState = "up"

// WorkerSnapshot is one inventory record, taken once per run.
type WorkerSnapshot struct {
	ID     WorkerID
	State  WorkerState
	Uptime time.Duration
}

// IsUp reports whether the worker is running.
func (s WorkerSnapshot) IsUp() bool {
	return s.State == StateUp
}

// Verdict is the classification of one active worker.
type Verdict struct {
	Worker  WorkerID `json:"worker"`
	Samples int      `json:"samples"`
	Average float64  `json:"average"`
	Slow    bool     `json:"is_slow"`
}
