package scheduler

import "sync"

// slots is a resizable counting semaphore bounding how many jobs may be
// in Downloading state at once. A plain buffered channel will not do
// because the ceiling is adjustable at runtime.
type slots struct {
	mu     sync.Mutex
	active int
	max    int
}

func newSlots(max int) *slots {
	return &slots{max: max}
}

func (s *slots) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.max {
		return false
	}
	s.active++
	return true
}

func (s *slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

// SetMax adjusts the ceiling. Shrinking below the current active count
// does not interrupt running downloads; the pool just stops acquiring
// until enough slots drain.
func (s *slots) SetMax(max int) {
	if max < 1 {
		max = 1
	}
	s.mu.Lock()
	s.max = max
	s.mu.Unlock()
}

func (s *slots) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *slots) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}
