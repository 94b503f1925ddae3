package audioengine

import (
	"sync"
	"time"
)

// RepeatTask fires step after an initial delay and then at a fixed
// interval until stopped. The caller runs the first step itself.
type RepeatTask struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

func StartRepeat(delay, every time.Duration, step func()) *RepeatTask {
	r := &RepeatTask{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(r.done)

		first := time.NewTimer(delay)
		defer first.Stop()
		select {
		case <-r.stop:
			return
		case <-first.C:
		}

		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			step()
			select {
			case <-r.stop:
				return
			case <-tick.C:
			}
		}
	}()
	return r
}

// Stop cancels future steps. Safe to call more than once.
func (r *RepeatTask) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.stop) })
}

// Done is closed once the task goroutine has exited.
func (r *RepeatTask) Done() <-chan struct{} { return r.done }
