package actor

import (
	"github.com/sourcegraph/conc"
)

// System supervises the goroutines that run actor loops.
type System struct {
	wg conc.WaitGroup
}

// NewSystem creates an empty actor system.
func NewSystem() *System {
	return &System{}
}

// Spawn runs loop on a new supervised goroutine.
func (s *System) Spawn(loop func()) {
	s.wg.Go(loop)
}

// Wait blocks until every spawned loop has returned. A panic that escaped
// a loop is returned as an error.
func (s *System) Wait() error {
	if r := s.wg.WaitAndRecover(); r != nil {
		return r.AsError()
	}
	return nil
}
