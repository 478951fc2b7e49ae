package probe

import "sync"

// State counts the probes a scene has served. It is shared by every
// connection joined to the scene.
type State struct {
	mutex  sync.Mutex
	served uint64
}

func (s *State) CountProbe() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.served++
}

func (s *State) Served() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.served
}
