package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Shared state for one process instance of the engine.
 *
 * Description:	One core_state_t is built at startup and threaded
 *		through every subsystem.  Both halves of the privilege
 *		split (server and capture helper) build their own.
 *
 *		Spindown tells the pollable subsystems to stop doing
 *		capture work so the outer loop can exit cleanly.
 *		Fatal is latched by configuration-time failures; the
 *		main is expected to check it after setup calls.
 *
 *---------------------------------------------------------------*/

import (
	"os"

	"golang.org/x/sys/unix"
)

// Anything that wants descriptors watched by the main loop.
type Pollable interface {
	// MergeSet adds live descriptors to the read set and returns
	// the new maximum descriptor.
	MergeSet(in_max int, rset *unix.FdSet) int

	// Poll services whichever of its descriptors are ready.
	Poll(rset *unix.FdSet) int
}

type core_state_t struct {
	Conf     *ConfigFile
	Bus      *MessageBus
	Timers   *TimerTracker
	Chain    *PacketChain
	Argv     []string
	Euid     int /* From geteuid, overridable in tests. */
	Spindown bool
	Fatal    bool

	pollables []Pollable
}

func new_core_state(argv []string) *core_state_t {
	var core = new(core_state_t)

	core.Bus = NewMessageBus()
	core.Timers = NewTimerTracker()
	core.Chain = NewPacketChain()
	core.Argv = argv
	core.Euid = os.Geteuid()

	return core
}

// NewCoreState is the exported constructor used by the cmd mains.
func NewCoreState(argv []string) *core_state_t {
	return new_core_state(argv)
}

func (core *core_state_t) msg(text string, flags int) {
	core.Bus.Send(text, flags)

	if flags&MSG_FATAL != 0 {
		core.Fatal = true
	}
}

func (core *core_state_t) RegisterPollable(p Pollable) {
	core.pollables = append(core.pollables, p)
}

func (core *core_state_t) RemovePollable(p Pollable) {
	for i, x := range core.pollables {
		if x == p {
			core.pollables = append(core.pollables[:i], core.pollables[i+1:]...)
			return
		}
	}
}
