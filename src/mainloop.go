package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	The outer I/O loop shared by the server and the
 *		capture helper.
 *
 * Description:	Single threaded and cooperative: merge every pollable
 *		subsystem's descriptors into one read set, select with
 *		a timeout bounded by the next scheduler slice, service
 *		whatever is ready, then tick the slice timers.  Setting
 *		the spindown flag makes the merge and poll steps
 *		no-ops so the loop falls out cleanly.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"golang.org/x/sys/unix"
)

/*-------------------------------------------------------------------
 *
 * Name:        RunLoop
 *
 * Purpose:     Run merge/select/poll/tick until spindown.
 *
 * Description:	No step blocks longer than one slice; the select
 *		timeout is whatever remains of the current slice so
 *		timer ticks stay on cadence even under heavy capture
 *		traffic.
 *
 *--------------------------------------------------------------------*/

func (core *core_state_t) RunLoop() {
	var next_tick = time.Now().Add(SLICE_DURATION)

	for !core.Spindown {
		var rset unix.FdSet
		rset.Zero()

		var max = 0

		for _, p := range core.pollables {
			max = p.MergeSet(max, &rset)
		}

		var wait = time.Until(next_tick)
		if wait < 0 {
			wait = 0
		}

		var tv = unix.NsecToTimeval(wait.Nanoseconds())

		var n, selectErr = unix.Select(max+1, &rset, nil, nil, &tv)

		if selectErr != nil && selectErr != unix.EINTR {
			core.msg("Main loop select failed: "+selectErr.Error(), MSG_FATAL)
			return
		}

		if n > 0 {
			for _, p := range core.pollables {
				p.Poll(&rset)
			}
		}

		for !time.Now().Before(next_tick) {
			core.Timers.Tick()
			next_tick = next_tick.Add(SLICE_DURATION)
		}
	}
}
