package repositories

// idSet is a set of swap ids backed by a slice plus a position map, so that
// insert and remove are O(1). Removal moves the last element into the freed
// slot, so order is insertion order only until the first removal.
type idSet struct {
	ids []uint64
	pos map[uint64]int
}

func newIDSet() *idSet {
	return &idSet{pos: make(map[uint64]int)}
}

func (s *idSet) add(id uint64) bool {
	if _, ok := s.pos[id]; ok {
		return false
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
	return true
}

func (s *idSet) remove(id uint64) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	last := len(s.ids) - 1
	if i != last {
		moved := s.ids[last]
		s.ids[i] = moved
		s.pos[moved] = i
	}
	s.ids = s.ids[:last]
	delete(s.pos, id)
	return true
}

func (s *idSet) has(id uint64) bool {
	_, ok := s.pos[id]
	return ok
}

func (s *idSet) len() int {
	return len(s.ids)
}

func (s *idSet) list() []uint64 {
	out := make([]uint64, len(s.ids))
	copy(out, s.ids)
	return out
}
