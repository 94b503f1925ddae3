package audioengine

import (
	"log"

	"stemquina/pkg/spec"
)

// beginCountIn enters COUNTING and schedules the click sequence. Each
// sequence carries a generation so a stale one can never start audio.
func (e *Engine) beginCountIn(target float64) {
	e.counting = true
	e.countGen++
	gen := e.countGen
	e.emitType(EventState)

	e.async(func() { e.runCountIn(gen, target) })
}

func (e *Engine) cancelCountIn() {
	if e.counting {
		e.counting = false
		e.countGen++
	}
}

// runCountIn runs off the control loop. Cancellation is observed before
// each click.
func (e *Engine) runCountIn(gen int, target float64) {
	e.lock()
	ctx := e.ctx
	e.unlock()

	for i := 0; i < spec.CountInBeats; i++ {
		e.lock()
		live := e.counting && e.countGen == gen
		if live {
			ev := e.event(EventCount)
			ev.Count = spec.CountInBeats - i
			e.emit(ev)
		}
		e.unlock()
		if !live {
			return
		}

		e.out.Click()
		if !e.wait(ctx, spec.CountInSpacing) {
			return
		}
	}

	e.Post(func() {
		if !e.counting || e.countGen != gen {
			return
		}
		e.counting = false
		if err := e.startAudio(target); err != nil {
			log.Printf("[Error] count-in start: %v", err)
		}
	})
}
