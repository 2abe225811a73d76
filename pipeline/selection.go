package pipeline

import (
	"sort"
	"sync"
)

// SelectionChange identifies what happened to a selection.
type SelectionChange int

const (
	Selected SelectionChange = iota
	Unselected
	Cleared
)

func (c SelectionChange) String() string {
	switch c {
	case Selected:
		return "selected"
	case Unselected:
		return "unselected"
	case Cleared:
		return "cleared"
	}
	return "unknown"
}

// SelectionEvent is delivered to subscribers after every change.
type SelectionEvent struct {
	Change     SelectionChange
	ActivityID string
	Count      int
}

// Selection is the set of activity ids chosen for export. It is safe for
// concurrent use; subscribers are called outside the lock.
type Selection struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	subs   map[int]func(SelectionEvent)
	nextID int
}

func NewSelection(ids ...string) *Selection {
	s := &Selection{
		ids:  make(map[string]struct{}, len(ids)),
		subs: make(map[int]func(SelectionEvent)),
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Select adds id and reports whether the selection changed.
func (s *Selection) Select(id string) bool {
	s.mu.Lock()
	if _, ok := s.ids[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.ids[id] = struct{}{}
	ev := SelectionEvent{Change: Selected, ActivityID: id, Count: len(s.ids)}
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, ev)
	return true
}

// Unselect removes id and reports whether the selection changed.
func (s *Selection) Unselect(id string) bool {
	s.mu.Lock()
	if _, ok := s.ids[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.ids, id)
	ev := SelectionEvent{Change: Unselected, ActivityID: id, Count: len(s.ids)}
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, ev)
	return true
}

// Clear removes every id.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.ids = make(map[string]struct{})
	subs := s.subscribers()
	s.mu.Unlock()
	notify(subs, SelectionEvent{Change: Cleared})
}

// Snapshot returns the selected ids in sorted order.
func (s *Selection) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Selection) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Selection) Subscribe(fn func(SelectionEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Selection) subscribers() []func(SelectionEvent) {
	if len(s.subs) == 0 {
		return nil
	}
	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]func(SelectionEvent), 0, len(keys))
	for _, k := range keys {
		out = append(out, s.subs[k])
	}
	return out
}

func notify(subs []func(SelectionEvent), ev SelectionEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}
