// Package historysync keeps a client's view of a room consistent when
// messages arrive both from live broadcasts and from history fetches.
// Every message is identified by its store id, which is shared by both
// sources, so a message is shown at most once no matter how it arrived.
package historysync

import (
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const DefaultSeenSize = 4096

// Reconciler tracks the ids already shown for one room and the cursor used
// for the next incremental fetch. Ids at or below the cursor live in a
// bounded LRU set; ids seen live above the cursor are held until a merge
// passes them, since the next fetch can still return them.
type Reconciler struct {
	mu     sync.Mutex
	seen   *lru.Cache
	ahead  map[int64]struct{}
	cursor int64
}

// NewReconciler remembers up to size ids at or below the cursor. Only those
// ids are evicted, and a fetch never returns them again.
func NewReconciler(size int) (*Reconciler, error) {
	if size <= 0 {
		size = DefaultSeenSize
	}

	seen, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create seen set: %w", err)
	}

	return &Reconciler{seen: seen, ahead: make(map[int64]struct{})}, nil
}

// Cursor returns the highest id merged from history.
func (r *Reconciler) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Seen reports whether id has already been shown.
func (r *Reconciler) Seen(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seenLocked(id)
}

func (r *Reconciler) seenLocked(id int64) bool {
	if _, ok := r.ahead[id]; ok {
		return true
	}
	return r.seen.Contains(id)
}

// Merge returns the messages of a history page that have not been shown yet,
// oldest first, and advances the cursor past the page.
func (r *Reconciler) Merge(msgs []types.Message) []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := slices.Clone(msgs)
	slices.SortFunc(sorted, func(a, b types.Message) int {
		switch {
		case a.Id < b.Id:
			return -1
		case a.Id > b.Id:
			return 1
		}
		return 0
	})

	fresh := make([]types.Message, 0, len(sorted))
	for _, m := range sorted {
		if m.Id <= 0 {
			continue
		}
		if m.Id > r.cursor {
			r.cursor = m.Id
		}
		if r.seenLocked(m.Id) {
			continue
		}
		r.seen.Add(m.Id, struct{}{})
		fresh = append(fresh, m)
	}

	passed := make([]int64, 0, len(r.ahead))
	for id := range r.ahead {
		if id <= r.cursor {
			passed = append(passed, id)
		}
	}
	slices.Sort(passed)
	for _, id := range passed {
		delete(r.ahead, id)
		r.seen.Add(id, struct{}{})
	}

	return fresh
}

// Observe reports whether a live event should be shown. Events without an
// id were never stored and cannot be replayed by a fetch, so they are always
// shown. The cursor is left alone: a live event says nothing about whether
// earlier messages were missed.
func (r *Reconciler) Observe(evt types.MessageEvent) bool {
	if evt.MessageId == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := *evt.MessageId
	if r.seenLocked(id) {
		return false
	}

	if id > r.cursor {
		r.ahead[id] = struct{}{}
	} else {
		r.seen.Add(id, struct{}{})
	}
	return true
}
