package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Slice-granularity timers for the main loop.
 *
 * Description:	The outer select loop calls Tick once per scheduler
 *		slice.  SLICES_PER_SEC slices make one wall-clock
 *		second, which also upper-bounds the channel hop rate.
 *
 *		Timers count down in slices.  A recurring timer
 *		reloads after firing; a one-shot timer is removed.
 *
 *---------------------------------------------------------------*/

import "time"

const SLICES_PER_SEC = 10

// Duration of one scheduler slice.
const SLICE_DURATION = time.Second / SLICES_PER_SEC

type timer_event_t struct {
	id        int
	countdown int /* Slices until fire. */
	reload    int
	recurring bool
	cb        func()
}

type TimerTracker struct {
	next_id int
	events  []*timer_event_t
}

func NewTimerTracker() *TimerTracker {
	return &TimerTracker{next_id: 1}
}

// RegisterTimer schedules cb to run after the given number of slices.
// Returns a handle for RemoveTimer.
func (tt *TimerTracker) RegisterTimer(slices int, recurring bool, cb func()) int {
	if slices < 1 {
		slices = 1
	}

	var ev = &timer_event_t{
		id:        tt.next_id,
		countdown: slices,
		reload:    slices,
		recurring: recurring,
		cb:        cb,
	}

	tt.next_id++
	tt.events = append(tt.events, ev)

	return ev.id
}

func (tt *TimerTracker) RemoveTimer(id int) {
	for i, ev := range tt.events {
		if ev.id == id {
			tt.events = append(tt.events[:i], tt.events[i+1:]...)
			return
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        Tick
 *
 * Purpose:     Advance all timers by one slice, firing those that
 *		reach zero.
 *
 * Description:	Fired callbacks may register or remove timers; we
 *		iterate over a snapshot so the list can change under
 *		us without skipping anyone.
 *
 *--------------------------------------------------------------------*/

func (tt *TimerTracker) Tick() {
	var snapshot = make([]*timer_event_t, len(tt.events))
	copy(snapshot, tt.events)

	for _, ev := range snapshot {
		ev.countdown--

		if ev.countdown > 0 {
			continue
		}

		if ev.recurring {
			ev.countdown = ev.reload
		} else {
			tt.RemoveTimer(ev.id)
		}

		ev.cb()
	}
}
