package tracks

import (
	"math"
	"sort"
)

// EvictionCandidate is the view of a tracked object an EvictionPolicy sees.
type EvictionCandidate struct {
	ID                  int64
	FramesSinceLastSeen int
}

// EvictionPolicy picks which objects to drop when the store is full. It must
// return at least one ID from candidates.
type EvictionPolicy func(candidates []EvictionCandidate) []int64

// OldestFraction evicts the given share of candidates, rounded up and never
// fewer than one. Objects unseen for longest go first; ties go to the
// smaller ID.
func OldestFraction(fraction float64) EvictionPolicy {
	return func(candidates []EvictionCandidate) []int64 {
		if len(candidates) == 0 {
			return nil
		}
		n := int(math.Ceil(fraction * float64(len(candidates))))
		if n < 1 {
			n = 1
		}
		if n > len(candidates) {
			n = len(candidates)
		}

		sorted := append([]EvictionCandidate(nil), candidates...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].FramesSinceLastSeen != sorted[j].FramesSinceLastSeen {
				return sorted[i].FramesSinceLastSeen > sorted[j].FramesSinceLastSeen
			}
			return sorted[i].ID < sorted[j].ID
		})

		ids := make([]int64, n)
		for i := 0; i < n; i++ {
			ids[i] = sorted[i].ID
		}
		return ids
	}
}

// Store is a fixed-capacity arena of tracked objects. Slots are reused
// through a free list and iteration is always in ascending ID order.
type Store struct {
	capacity int
	policy   EvictionPolicy

	slots []*TrackedObject
	free  []int
	byID  map[int64]int
	order []int64 // ascending; IDs are assigned monotonically so inserts append
}

// NewStore creates a Store holding at most capacity objects.
func NewStore(capacity int, policy EvictionPolicy) *Store {
	if capacity < 1 {
		capacity = 1
	}
	if policy == nil {
		policy = OldestFraction(0.2)
	}
	s := &Store{
		capacity: capacity,
		policy:   policy,
		slots:    make([]*TrackedObject, capacity),
		free:     make([]int, 0, capacity),
		byID:     make(map[int64]int, capacity),
		order:    make([]int64, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	return s
}

// Len returns the number of stored objects.
func (s *Store) Len() int { return len(s.order) }

// Cap returns the maximum number of stored objects.
func (s *Store) Cap() int { return s.capacity }

// Get returns the object with id, or nil.
func (s *Store) Get(id int64) *TrackedObject {
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.slots[idx]
}

// Insert adds obj, evicting per the policy first when the store is full.
// obj.ID must be greater than every ID already stored. The evicted objects
// are returned.
func (s *Store) Insert(obj *TrackedObject) []TrackedObject {
	var evicted []TrackedObject
	if len(s.free) == 0 {
		candidates := make([]EvictionCandidate, 0, len(s.order))
		for _, id := range s.order {
			o := s.slots[s.byID[id]]
			candidates = append(candidates, EvictionCandidate{ID: id, FramesSinceLastSeen: o.FramesSinceLastSeen})
		}
		for _, id := range s.policy(candidates) {
			if o := s.Remove(id); o != nil {
				evicted = append(evicted, *o)
			}
		}
		if len(s.free) == 0 {
			// Policy returned nothing usable; fall back to the oldest ID.
			if o := s.Remove(s.order[0]); o != nil {
				evicted = append(evicted, *o)
			}
		}
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.slots[idx] = obj
	s.byID[obj.ID] = idx
	s.order = append(s.order, obj.ID)
	return evicted
}

// Remove deletes the object with id and returns it, or nil when absent.
func (s *Store) Remove(id int64) *TrackedObject {
	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	obj := s.slots[idx]
	s.slots[idx] = nil
	delete(s.byID, id)
	s.free = append(s.free, idx)

	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= id })
	if pos < len(s.order) && s.order[pos] == id {
		s.order = append(s.order[:pos], s.order[pos+1:]...)
	}
	return obj
}

// Each calls fn for every object in ascending ID order. fn must not insert
// or remove objects.
func (s *Store) Each(fn func(*TrackedObject)) {
	for _, id := range s.order {
		fn(s.slots[s.byID[id]])
	}
}

// Clear removes every object.
func (s *Store) Clear() {
	for _, id := range append([]int64(nil), s.order...) {
		s.Remove(id)
	}
}
