// Package demand keeps the last reported heat demand of every TRV.
package demand

import "sync"

// Register maps TRV identifiers to their last reported heat demand.
// Absent identifiers count as no demand.
type Register struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewRegister конструктор.
func NewRegister() *Register {
	return &Register{values: map[string]bool{}}
}

// Set overwrites the demand of id.
func (r *Register) Set(id string, heating bool) {
	r.mu.Lock()
	r.values[id] = heating
	r.mu.Unlock()
}

// Aggregate reports whether any TRV demands heat.
func (r *Register) Aggregate() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.values {
		if v {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the register.
func (r *Register) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
