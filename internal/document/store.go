package document

import "sync"

// Mutator edits a sheet snapshot in place.
type Mutator func(*SpecSheet)

// Store holds the canonical in-memory sheet for an editing session and is
// the single source of truth while the session is open. All mutation goes
// through Update, which applies the mutator to a snapshot and swaps the
// stored snapshot atomically.
//
// Update is reentrant-safe: a mutator submitted from within a reaction to
// a previous Update (the derivation pass writing a computed value back)
// queues behind the running pass and is applied after it completes, so
// nothing is dropped and single-writer semantics hold.
type Store struct {
	mu       sync.Mutex
	sheet    SpecSheet
	applying bool
	queue    []Mutator
}

// NewStore creates a store seeded with the given sheet.
func NewStore(sheet SpecSheet) *Store {
	return &Store{sheet: sheet}
}

// Get returns a deep copy of the current sheet.
func (st *Store) Get() SpecSheet {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sheet.Clone()
}

// Update applies the mutator and returns the resulting sheet. Reentrant
// calls are queued and applied in order before Update returns to the
// outermost caller; queued mutators observe the outer mutator's writes.
func (st *Store) Update(fn Mutator) SpecSheet {
	st.mu.Lock()
	if st.applying {
		st.queue = append(st.queue, fn)
		cur := st.sheet.Clone()
		st.mu.Unlock()
		return cur
	}
	st.applying = true
	snapshot := st.sheet.Clone()
	st.mu.Unlock()

	fn(&snapshot)

	st.mu.Lock()
	st.sheet = snapshot
	// Drain mutators queued by reentrant calls. Each runs against the
	// latest snapshot and replaces it atomically.
	for len(st.queue) > 0 {
		next := st.queue[0]
		st.queue = st.queue[1:]
		working := st.sheet.Clone()
		st.mu.Unlock()
		next(&working)
		st.mu.Lock()
		st.sheet = working
	}
	st.applying = false
	result := st.sheet.Clone()
	st.mu.Unlock()
	return result
}
