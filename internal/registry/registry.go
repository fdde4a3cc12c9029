package registry

import (
	"fmt"
	"maps"
	"sync"
)

// State is the persisted shape of the registry. Commands maps a name to the
// shell command registered for it; Running maps a name to the pid of its
// currently executing instance.
type State struct {
	Commands map[string]string `json:"commands"`
	Running  map[string]int    `json:"running"`
}

// NewState returns an empty state with both maps allocated.
func NewState() State {
	return State{Commands: map[string]string{}, Running: map[string]int{}}
}

// Clone deep-copies the state.
func (s State) Clone() State {
	c := NewState()
	maps.Copy(c.Commands, s.Commands)
	maps.Copy(c.Running, s.Running)
	return c
}

// Saver persists registry state. SaveSnapshot receives the full state,
// SaveCommands only the command definitions.
type Saver interface {
	SaveSnapshot(State) error
	SaveCommands(map[string]string) error
}

// Registry owns the name->command and name->pid maps behind a single mutex.
// The maps are only reachable through a Tx inside Do.
type Registry struct {
	mu    sync.Mutex
	state State
	saver Saver
}

// New builds a registry from a loaded state. saver may be nil, in which case
// nothing is persisted.
func New(initial State, saver Saver) *Registry {
	st := initial.Clone()
	return &Registry{state: st, saver: saver}
}

// Do runs fn as one critical section. Changes made through the Tx are
// flushed to the saver before the lock is released: the snapshot after any
// mutation, the command definitions after a change to them. A persistence
// failure is returned even when fn succeeded; the in-memory change stays.
func (r *Registry) Do(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{st: &r.state}
	err := fn(tx)
	tx.st = nil
	if !tx.dirty && !tx.commandsDirty {
		return err
	}
	if perr := r.flushLocked(tx.commandsDirty); perr != nil {
		if err != nil {
			return fmt.Errorf("%w (and persist: %v)", err, perr)
		}
		return perr
	}
	return err
}

// Save flushes the current state unconditionally (snapshot only).
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(false)
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

func (r *Registry) flushLocked(commands bool) error {
	if r.saver == nil {
		return nil
	}
	if err := r.saver.SaveSnapshot(r.state.Clone()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if commands {
		if err := r.saver.SaveCommands(maps.Clone(r.state.Commands)); err != nil {
			return fmt.Errorf("save commands: %w", err)
		}
	}
	return nil
}

// Tx is the view of the registry handed to Do. It must not be retained
// after Do returns.
type Tx struct {
	st            *State
	dirty         bool
	commandsDirty bool
}

func (tx *Tx) Command(name string) (string, bool) {
	c, ok := tx.st.Commands[name]
	return c, ok
}

// SetCommand upserts a command definition.
func (tx *Tx) SetCommand(name, command string) {
	tx.st.Commands[name] = command
	tx.dirty = true
	tx.commandsDirty = true
}

// RemoveCommand deletes a definition. Removing an absent name still marks
// the transaction dirty so the unchanged state is written again.
func (tx *Tx) RemoveCommand(name string) {
	delete(tx.st.Commands, name)
	tx.dirty = true
	tx.commandsDirty = true
}

// Commands returns a copy of all definitions.
func (tx *Tx) Commands() map[string]string { return maps.Clone(tx.st.Commands) }

// PID returns the pid tracked for name, if any.
func (tx *Tx) PID(name string) (int, bool) {
	pid, ok := tx.st.Running[name]
	return pid, ok
}

// Track records name as running under pid, replacing any previous entry.
func (tx *Tx) Track(name string, pid int) {
	tx.st.Running[name] = pid
	tx.dirty = true
}

// Untrack removes name from the running set only when it is still tracked
// under pid. It reports whether the entry was removed.
func (tx *Tx) Untrack(name string, pid int) bool {
	cur, ok := tx.st.Running[name]
	if !ok || cur != pid {
		return false
	}
	delete(tx.st.Running, name)
	tx.dirty = true
	return true
}

// RunningCount returns the number of tracked instances.
func (tx *Tx) RunningCount() int { return len(tx.st.Running) }
