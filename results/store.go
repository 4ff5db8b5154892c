package results

import "sync"

// Store maps prompt ids to their terminal Job. The first Job merged for an id wins;
// later deliveries for the same id are ignored.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Merge records job under id and reports whether it was accepted. It is a no-op when
// id is already present.
func (s *Store) Merge(id string, job *Job) bool {
	if id == "" || job == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return false
	}
	s.jobs[id] = job
	s.order = append(s.order, id)
	return true
}

func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns the jobs newest first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.jobs[s.order[i]])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Reset drops every recorded job and returns them, oldest first.
func (s *Store) Reset() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := make([]*Job, 0, len(s.order))
	for _, id := range s.order {
		dropped = append(dropped, s.jobs[id])
	}
	s.jobs = make(map[string]*Job)
	s.order = nil
	return dropped
}
