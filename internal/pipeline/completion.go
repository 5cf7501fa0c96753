package pipeline

import "sync"

// Completion is the shared streaming -> complete token handed to every stage.
// It transitions exactly once and never reverts.
type Completion struct {
	once sync.Once
	done chan struct{}
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Signal marks the run complete. It reports whether this call performed the
// transition.
func (c *Completion) Signal() bool {
	fired := false
	c.once.Do(func() {
		close(c.done)
		fired = true
	})
	return fired
}

func (c *Completion) IsComplete() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the run is complete.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}
