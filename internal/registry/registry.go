// Package registry owns the ordered set of backends and their mutable
// state. It is the only shared mutable state in the balancer: every
// mutation goes through a single exclusive lock, and every reader either
// holds that lock briefly or works from a Snapshot copied out under it.
//
// Grounded on the teacher's proxy.Pool (Srskip-shadowgate), generalized
// from a round-robin backend list to the insertion-ordered address map
// the spec requires.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/srskip/inferlb/internal/backend"
)

// Snapshot is a read-only copy of a Backend taken under the Registry
// lock, carrying just the fields the selector needs. Model/active sets
// are always present as key-sets; Details are only populated when the
// snapshot was taken with includeDetails=true.
type Snapshot struct {
	Addr          string
	Name          string
	Health        backend.Health
	Reliability   backend.Reliability
	Busy          bool
	Models        map[string]struct{}
	Actives       map[string]struct{}
	ModelDetails  map[string]json.RawMessage
	ActiveDetails map[string]json.RawMessage
}

// Registry is the insertion-ordered mapping from backend address to
// Backend state.
type Registry struct {
	mu       sync.Mutex
	order    []string
	backends map[string]*backend.Backend
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{backends: make(map[string]*backend.Backend)}
}

// Add inserts a new backend, or renames an existing one at the same
// address without touching its live state. Matches the original's
// add_server "update_or_insert" behaviour (original_source/src/state.rs).
func (r *Registry) Add(addr, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[addr]; ok {
		b.Name = name
		return
	}
	r.backends[addr] = backend.New(name)
	r.order = append(r.order, addr)
}

// Len reports the number of registered backends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Addrs returns the backend addresses in insertion order.
func (r *Registry) Addrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot copies out the current state of every backend, in insertion
// order. When includeDetails is false, the detail payloads are omitted
// to keep the copy cheap — selection never reads them.
func (r *Registry) Snapshot(includeDetails bool) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.order))
	for _, addr := range r.order {
		b := r.backends[addr]
		s := Snapshot{
			Addr:        addr,
			Name:        b.Name,
			Health:      b.Health,
			Reliability: b.Reliability,
			Busy:        b.Busy,
			Models:      keySet(b.Models),
			Actives:     keySet(b.Actives),
		}
		if includeDetails {
			s.ModelDetails = cloneDetails(b.Models)
			s.ActiveDetails = cloneDetails(b.Actives)
		}
		out = append(out, s)
	}
	return out
}

func keySet(m map[string]json.RawMessage) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func cloneDetails(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarkHealth sets the health state for addr directly (used by inventory
// sync: Healthy(1.0) on success, Dead on failure). Returns the resulting
// Health so callers can report it to metrics without a second, racy
// lookup under a separate lock acquisition.
func (r *Registry) MarkHealth(addr string, h backend.Health) backend.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[addr]; ok {
		b.Health = h
	}
	return h
}

// SetInventory replaces a backend's model catalogue and active-model
// set, and marks it Healthy(1.0). Called only on inventory sync success.
// Returns the resulting Health for the same reason as MarkHealth.
func (r *Registry) SetInventory(addr string, models, actives map[string]json.RawMessage) backend.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[addr]
	if !ok {
		return backend.Healthy(1.0)
	}
	b.Models = models
	b.Actives = actives
	b.Health = backend.Healthy(1.0)
	return b.Health
}

// MarkMoreHealthy applies a race-win (best) or race-participation
// (non-best) outcome to addr's health score, returning the resulting
// Health.
func (r *Registry) MarkMoreHealthy(addr string, best bool) backend.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[addr]
	if !ok {
		return backend.Health{}
	}
	b.Health = b.Health.MoreHealthy(best)
	return b.Health
}

// MarkLessHealthy applies a race-failure outcome to addr's health score,
// returning the resulting Health.
func (r *Registry) MarkLessHealthy(addr string) backend.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[addr]
	if !ok {
		return backend.Health{}
	}
	b.Health = b.Health.LessHealthy()
	return b.Health
}

// MarkReliability sets addr's reliability ledger state directly, used by
// the second-chance-cycle flip in the sequential selector
// (SecondChanceGiven -> Unreliable before a 3rd+ attempt).
func (r *Registry) MarkReliability(addr string, rel backend.Reliability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[addr]; ok {
		b.Reliability = rel
	}
}

// PromoteReliability applies the success-path transition (see
// backend.Reliability.OnSuccess) to addr, used on stream-tail success.
func (r *Registry) PromoteReliability(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[addr]; ok {
		b.Reliability = b.Reliability.OnSuccess()
	}
}

// DemoteReliability applies the failure-path transition (see
// backend.Reliability.OnFailure) to addr.
func (r *Registry) DemoteReliability(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[addr]; ok {
		b.Reliability = b.Reliability.OnFailure()
	}
}

// TrySetBusy atomically reserves addr for the sequential dispatcher: it
// returns true and marks the backend busy only if it was idle.
func (r *Registry) TrySetBusy(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[addr]
	if !ok || b.Busy {
		return false
	}
	b.Busy = true
	return true
}

// SetBusy releases (or, in principle, forces) the busy flag for addr.
// Every sequential-dispatch exit path — success, error, or client
// disconnect — must call SetBusy(addr, false) exactly once.
func (r *Registry) SetBusy(addr string, busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[addr]; ok {
		b.Busy = busy
	}
}

// MergedModels unions the last-known model catalogue across every
// backend that has ever synced successfully, deduplicated by name
// (keeping whichever backend's detail payload was seen last — matching
// the original's handle_tags merge semantics).
func (r *Registry) MergedModels() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for _, addr := range r.order {
		for name, detail := range r.backends[addr].Models {
			out[name] = detail
		}
	}
	return out
}
