package rotator

import (
	"sync"

	"github.com/prilive-com/relaygo/api"
)

// Change describes the credential now in effect.
type Change struct {
	Credential api.Credential
	Index      int  // -1 when Empty
	Empty      bool // the last credential was removed
}

// Rotator is an ordered set of credentials with a cursor.
// Secrets are unique after trimming. The cursor is in [0, Len) while the set is non-empty.
type Rotator struct {
	mu        sync.RWMutex
	creds     []api.Credential
	cursor    int
	listeners []func(Change)
}

// New creates a Rotator seeded with creds. Duplicates and empty secrets are skipped.
func New(creds ...api.Credential) *Rotator {
	r := &Rotator{}
	for _, c := range creds {
		r.add(c)
	}
	return r
}

// OnChange registers fn to run whenever the current credential changes.
// Listeners run on the caller's goroutine after the lock is released.
func (r *Rotator) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Add appends cred. It returns false if the secret is empty or already present.
func (r *Rotator) Add(cred api.Credential) bool {
	r.mu.Lock()
	before, hadCurrent := r.currentLocked()
	added := r.add(cred)
	change, changed := r.changeSince(before, hadCurrent)
	listeners := r.listeners
	r.mu.Unlock()

	if added && changed {
		notify(listeners, change)
	}
	return added
}

func (r *Rotator) add(cred api.Credential) bool {
	cred.Secret = cred.Secret.Trimmed()
	if cred.IsZero() {
		return false
	}
	for _, c := range r.creds {
		if c.Same(cred) {
			return false
		}
	}
	r.creds = append(r.creds, cred)
	return true
}

// Remove deletes the credential at index. It returns false for an out-of-range index.
// The cursor keeps its position and wraps to 0 if it falls off the end.
func (r *Rotator) Remove(index int) bool {
	r.mu.Lock()
	if index < 0 || index >= len(r.creds) {
		r.mu.Unlock()
		return false
	}
	before, hadCurrent := r.currentLocked()
	r.removeAt(index)
	change, changed := r.changeSince(before, hadCurrent)
	listeners := r.listeners
	r.mu.Unlock()

	if changed {
		notify(listeners, change)
	}
	return true
}

// RemoveSecret deletes the credential holding secret, if any.
func (r *Rotator) RemoveSecret(secret api.Secret) bool {
	r.mu.RLock()
	index := r.indexOf(secret)
	r.mu.RUnlock()
	if index < 0 {
		return false
	}
	return r.Remove(index)
}

func (r *Rotator) indexOf(secret api.Secret) int {
	target := api.Credential{Secret: secret}
	for i, c := range r.creds {
		if c.Same(target) {
			return i
		}
	}
	return -1
}

func (r *Rotator) removeAt(index int) {
	r.creds = append(r.creds[:index:index], r.creds[index+1:]...)
	if r.cursor >= len(r.creds) {
		r.cursor = 0
	}
}

// Current returns the credential under the cursor. ok is false when the set is empty.
func (r *Rotator) Current() (api.Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentLocked()
}

func (r *Rotator) currentLocked() (api.Credential, bool) {
	if len(r.creds) == 0 {
		return api.Credential{}, false
	}
	return r.creds[r.cursor], true
}

// Advance moves the cursor to the next credential, wrapping at the end, and
// returns it. It is a no-op returning false on an empty set.
// Listeners are notified on every successful advance, even with one credential.
func (r *Rotator) Advance() (api.Credential, bool) {
	r.mu.Lock()
	if len(r.creds) == 0 {
		r.mu.Unlock()
		return api.Credential{}, false
	}
	r.cursor = (r.cursor + 1) % len(r.creds)
	cred := r.creds[r.cursor]
	change := Change{Credential: cred, Index: r.cursor}
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, change)
	return cred, true
}

// Len returns the number of credentials.
func (r *Rotator) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.creds)
}

// Index returns the cursor, or -1 when the set is empty.
func (r *Rotator) Index() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.creds) == 0 {
		return -1
	}
	return r.cursor
}

// Credentials returns a snapshot of the set in order.
func (r *Rotator) Credentials() []api.Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.Credential, len(r.creds))
	copy(out, r.creds)
	return out
}

// changeSince reports the current state if it differs from before.
// Must be called with r.mu held.
func (r *Rotator) changeSince(before api.Credential, hadCurrent bool) (Change, bool) {
	now, ok := r.currentLocked()
	switch {
	case !ok && !hadCurrent:
		return Change{}, false
	case !ok:
		return Change{Index: -1, Empty: true}, true
	case hadCurrent && now.Same(before):
		return Change{}, false
	}
	return Change{Credential: now, Index: r.cursor}, true
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
