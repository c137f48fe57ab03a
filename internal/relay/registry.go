package relay

import "sync"

// Registry is the directory of currently connected roles.
// Entries keep insertion order and are unique by Role.Equal; Unknown is never stored.
type Registry struct {
	mu    sync.RWMutex // shared reads, exclusive writes, never held across socket I/O
	roles []Role
}

// constructor for Registry
func NewRegistry() *Registry {
	return &Registry{roles: make([]Role, 0)}
}

// Add inserts role and reports whether it was inserted.
// Unknown and already-present roles are rejected without mutation.
func (r *Registry) Add(role Role) bool {
	if role.Kind() == KindUnknown {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// check and insert under the same write lock so two handshakes
	// for the same role cannot both succeed
	if r.indexOf(role) >= 0 {
		return false
	}
	r.roles = append(r.roles, role)
	return true
}

// Remove deletes the first entry equal to role and reports whether one was found.
func (r *Registry) Remove(role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(role)
	if i < 0 {
		return false
	}
	r.roles = append(r.roles[:i], r.roles[i+1:]...)
	return true
}

// Contains reports whether an equal role is registered.
func (r *Registry) Contains(role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOf(role) >= 0
}

// Count returns the number of registered roles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}

// List returns a snapshot copy in insertion order.
func (r *Registry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, len(r.roles))
	copy(roles, r.roles)
	return roles
}

// ListControllers returns the names of registered controllers in registry order.
func (r *Registry) ListControllers() []string {
	return r.namesOf(KindController)
}

// ListReceivers returns the names of registered receivers in registry order.
func (r *Registry) ListReceivers() []string {
	return r.namesOf(KindReceiver)
}

func (r *Registry) namesOf(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roles))
	for _, role := range r.roles {
		if role.Kind() == kind {
			names = append(names, role.name)
		}
	}
	return names
}

// caller must hold mu
func (r *Registry) indexOf(role Role) int {
	for i, existing := range r.roles {
		if existing.Equal(role) {
			return i
		}
	}
	return -1
}
