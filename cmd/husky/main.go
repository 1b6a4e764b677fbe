package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the unprivileged capture server.
 *
 * Description:	Loads the config, brings up the source tracker, and
 *		(when not running as root) spawns the privileged
 *		capture helper so root-only interfaces can still be
 *		opened.  Everything after setup happens in the shared
 *		merge/select/poll/tick loop.
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
	var configFileName = pflag.StringP("config-file", "f", "husky.conf", "Configuration file name.")
	var helperBinary = pflag.String("helper-binary", "husky-capture", "Path to the privileged capture helper.")
	var noHelper = pflag.Bool("no-root-helper", false, "Never spawn the privileged capture helper.")
	var zeroconf = pflag.Bool("zeroconf", false, "Announce the viewer service over DNS-SD.")
	var viewerPort = pflag.Int("viewer-port", 2501, "TCP port remote viewers connect to.")
	var debug = pflag.BoolP("debug", "d", false, "Print debug traffic.")
	var showVersion = pflag.BoolP("version", "v", false, "Print version and exit.")

	/* -c and -C belong to the source tracker's configuration
	 * intake; let them through. */
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	pflag.Parse()

	if *showVersion {
		husky.PrintVersion(*debug)
		os.Exit(0)
	}

	var core = husky.NewCoreState(os.Args)
	core.Bus.SetDebug(*debug)

	var conf, confErr = husky.LoadConfigFile(*configFileName)
	if confErr != nil {
		fmt.Fprintf(os.Stderr, "Could not read config file %s: %s\n", *configFileName, confErr)
		os.Exit(1)
	}

	core.Conf = conf

	var tracker = husky.NewSourceTracker(core)
	husky.RegisterDefaultSourceTypes(tracker)

	var ipc = husky.NewIPCRemote(core, husky.ROLE_SERVER)
	tracker.RegisterIPC(ipc, false)
	core.RegisterPollable(ipc)

	if !*noHelper && os.Geteuid() != 0 {
		if spawnErr := ipc.SpawnHelper(*helperBinary, nil); spawnErr != nil {
			fmt.Fprintf(os.Stderr, "Could not spawn capture helper: %s\n", spawnErr)
			fmt.Fprintf(os.Stderr, "Root-only capture sources will fail to open.\n")
		}
	}

	if loadErr := tracker.LoadConfiguration(); loadErr != nil || core.Fatal {
		os.Exit(1)
	}

	tracker.SyncIPC()

	tracker.StartSource(0)

	if core.Fatal {
		os.Exit(1)
	}

	if *zeroconf {
		husky.AnnounceViewer(core, conf.FetchOpt("servicename"), *viewerPort)
	}

	var sigch = make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigch
		core.Spindown = true
	}()

	core.RunLoop()

	ipc.Detach()
}
