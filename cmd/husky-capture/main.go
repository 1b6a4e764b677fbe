package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the privileged capture helper.
 *
 * Description:	Spawned by the server with its end of the control
 *		socketpair inherited as a fixed descriptor.  It holds
 *		no configuration of its own: channel lists and source
 *		definitions arrive over the control channel, it opens
 *		the descriptors (it is the root half of the privilege
 *		split) and streams captured frames back.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	husky "github.com/doismellburning/husky/src"
)

func main() {
	var debug = pflag.BoolP("debug", "d", false, "Print debug traffic.")
	var showVersion = pflag.BoolP("version", "v", false, "Print version and exit.")
	pflag.Parse()

	if *showVersion {
		husky.PrintVersion(*debug)
		os.Exit(0)
	}

	var core = husky.NewCoreState(os.Args)
	core.Bus.SetDebug(*debug)

	var tracker = husky.NewSourceTracker(core)
	husky.RegisterDefaultSourceTypes(tracker)

	var ipc = husky.NewIPCRemote(core, husky.ROLE_HELPER)
	tracker.RegisterIPC(ipc, true)
	core.RegisterPollable(ipc)

	if attachErr := ipc.AttachFD(husky.IPC_HELPER_FD); attachErr != nil {
		fmt.Fprintf(os.Stderr, "Not attached to a capture server (fd %d): %s\n",
			husky.IPC_HELPER_FD, attachErr)
		fmt.Fprintf(os.Stderr, "This helper is spawned by the server, not run by hand.\n")
		os.Exit(1)
	}

	var sigch = make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigch
		core.Spindown = true
	}()

	core.RunLoop()
}
