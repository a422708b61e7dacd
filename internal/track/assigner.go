// Package track assigns stable, named timeline lanes to events.
package track

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arkilian/nsys2chrome/pkg/types"
)

// Names holds the display names an export declares. Every map is optional.
type Names struct {
	// Processes maps pid to process name
	Processes map[int64]string

	// Threads maps ThreadKey(pid, tid) to thread name
	Threads map[types.TrackKey]string

	// Devices maps device id to GPU model name
	Devices map[int64]string
}

// Assigner maps raw track keys to tracks. One assigner serves one
// conversion; it is safe for concurrent use.
type Assigner struct {
	names    Names
	tidNames map[int64]string

	mu     sync.RWMutex
	byKey  map[types.TrackKey]*types.Track
	tracks []*types.Track
}

// New creates an assigner resolving names from names.
func New(names Names) *Assigner {
	a := &Assigner{
		names:    names,
		tidNames: make(map[int64]string),
		byKey:    make(map[types.TrackKey]*types.Track),
	}

	// Annotation lanes only know the tid; take the name of the lowest pid.
	keys := make([]types.TrackKey, 0, len(names.Threads))
	for k := range names.Threads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, k := range keys {
		if _, ok := a.tidNames[k.B]; !ok {
			a.tidNames[k.B] = names.Threads[k]
		}
	}
	return a
}

// Assign creates tracks for every unseen key in events, in sorted key order,
// and stamps TrackID on each event.
func (a *Assigner) Assign(events []types.NormalizedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[types.TrackKey]bool)
	var fresh []types.TrackKey
	add := func(k types.TrackKey) {
		if _, ok := a.byKey[k]; ok || seen[k] {
			return
		}
		seen[k] = true
		fresh = append(fresh, k)
	}
	for i := range events {
		add(events[i].Key.Parent())
		add(events[i].Key)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Less(fresh[j]) })
	for _, k := range fresh {
		a.create(k)
	}

	for i := range events {
		events[i].TrackID = a.byKey[events[i].Key].ID
	}
}

// Lookup returns the track for key, creating it (and its group) on first use.
func (a *Assigner) Lookup(key types.TrackKey) types.Track {
	a.mu.RLock()
	if t, ok := a.byKey[key]; ok {
		a.mu.RUnlock()
		return *t
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.byKey[key]; ok {
		return *t
	}
	if parent := key.Parent(); parent != key {
		if _, ok := a.byKey[parent]; !ok {
			a.create(parent)
		}
	}
	return *a.create(key)
}

// Tracks returns every track ordered by id.
func (a *Assigner) Tracks() []types.Track {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Track, len(a.tracks))
	for i, t := range a.tracks {
		out[i] = *t
	}
	return out
}

// create must be called with mu held; the key's group must already exist
// unless the key is a group itself.
func (a *Assigner) create(key types.TrackKey) *types.Track {
	t := &types.Track{
		ID:   len(a.tracks) + 1,
		Key:  key,
		Name: a.name(key),
	}
	t.ParentID = t.ID
	if parent := key.Parent(); parent != key {
		if p, ok := a.byKey[parent]; ok {
			t.ParentID = p.ID
		}
	}
	a.byKey[key] = t
	a.tracks = append(a.tracks, t)
	return t
}

func (a *Assigner) name(key types.TrackKey) string {
	switch key.Kind {
	case types.KindProcess:
		if n := a.names.Processes[key.A]; n != "" {
			return n
		}
		return fmt.Sprintf("Process %d", key.A)
	case types.KindThread:
		if n := a.names.Threads[key]; n != "" {
			return n
		}
		return fmt.Sprintf("Thread %d", key.B)
	case types.KindDevice:
		if n := a.names.Devices[key.A]; n != "" {
			return fmt.Sprintf("GPU %d (%s)", key.A, n)
		}
		return fmt.Sprintf("GPU %d", key.A)
	case types.KindStream:
		return fmt.Sprintf("GPU %d Stream %d", key.A, key.B)
	case types.KindAnnotationLane:
		thread := a.tidNames[key.B]
		if thread == "" {
			thread = fmt.Sprintf("Thread %d", key.B)
		}
		return fmt.Sprintf("NVTX %s (GPU %d)", thread, key.A)
	default:
		return key.String()
	}
}
