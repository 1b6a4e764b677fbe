package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Track every capture source the process owns: their
 *		drivers, channel assignments, hop scheduling, and the
 *		privilege-split bookkeeping that lets root-only
 *		sources run in the capture helper while the server
 *		stays unprivileged.
 *
 * Description:	The tracker runs on both sides of the privilege
 *		split.  The server side owns configuration intake and
 *		the hop scheduler; the helper side owns the actual
 *		descriptors.  Sources, channel lists, and channel
 *		changes flow server-to-helper over the control
 *		channel; captured frames and status reports flow back.
 *
 *		Everything is single threaded and cooperative: the
 *		main loop merges descriptors, selects, polls, and
 *		ticks the slice timer that drives channel hopping.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// Consecutive channel-set failures tolerated before a source is shut
// down and marked errored.
const MAX_CONSEC_CHAN_ERR = 5

/* Observer events delivered to registered callbacks. */
const (
	SOURCE_EVT_ADDED = iota
	SOURCE_EVT_REMOVED
	SOURCE_EVT_HOP_ENABLED
	SOURCE_EVT_HOP_DISABLED
	SOURCE_EVT_CHANNELLIST_CHANGED
	SOURCE_EVT_HOP_DWELL_CHANGED
)

type source_event_fn func(src *capture_source_t, event int)

// One live capture source.
type capture_source_t struct {
	source_id   uint16
	source_line string /* Verbatim user definition. */
	iface       string
	name        string /* Operator-facing name, defaults to iface. */

	proto  *proto_type_t
	driver CaptureDriver

	channel      uint32 /* Locked or most recently tuned channel. */
	channel_list uint16 /* 0 means no list. */
	channel_ptr  *channel_list_t

	mode          int /* CHANMODE_LOCKED / _HOP / _DWELL */
	channel_rate  int /* Channels per second target in hop mode. */
	channel_dwell int /* Seconds per channel in dwell mode. */
	channel_split bool

	channel_position int
	rate_timer       int /* Countdowns in scheduler slices, signed: */
	dwell_timer      int /* a fresh 0 fires on the next tick. */

	tm_hop_start time.Time
	tm_hop_time  time.Duration /* Last full pass over the list. */

	consec_channel_err int
	num_packets        uint64

	error      bool
	local_only bool /* Never mirrored over IPC. */
}

type SourceTracker struct {
	core *core_state_t

	ipc               *IPCRemote
	running_as_helper bool

	next_source_id  uint16
	next_channel_id uint16

	sources    map[uint16]*capture_source_t
	source_seq []*capture_source_t /* Insertion order. */
	chanlists  map[uint16]*channel_list_t
	protos     []*proto_type_t
	callbacks  []source_event_fn

	default_channel_rate  int
	default_channel_dwell int

	timer_id       int
	link_component int

	/* Command ids agreed with the peer by registration order. */
	cmd_sync     uint32
	cmd_add      uint32
	cmd_addchan  uint32
	cmd_chanset  uint32
	cmd_run      uint32
	cmd_remove   uint32
	cmd_report   uint32
	cmd_frame    uint32
}

func NewSourceTracker(core *core_state_t) *SourceTracker {
	var st = &SourceTracker{
		core:                 core,
		next_source_id:       1,
		next_channel_id:      1,
		sources:              make(map[uint16]*capture_source_t),
		chanlists:            make(map[uint16]*channel_list_t),
		default_channel_rate: 5,
	}

	st.link_component = core.Chain.RegisterComponent("LINKFRAME")
	core.Chain.RegisterHandler(CHAINPOS_POSTCAP, -100, st.chain_handler)

	core.RegisterPollable(st)

	st.timer_id = core.Timers.RegisterTimer(1, true, st.ChannelTick)

	return st
}

/*-------------------------------------------------------------------
 *
 * Name:        RegisterIPC
 *
 * Purpose:     Attach the control channel and register the command
 *		set on it.
 *
 * Inputs:	ipc		- The control channel, either role.
 *		as_helper	- True in the capture helper process.
 *
 * Description:	Both sides must call this with the same registration
 *		order, which is what keeps the numeric command ids in
 *		agreement without negotiating them.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) RegisterIPC(ipc *IPCRemote, as_helper bool) {
	st.ipc = ipc
	st.running_as_helper = as_helper

	st.cmd_sync = ipc.RegisterCommand("SYNCCOMPLETE", st.ipc_sync_complete)
	st.cmd_add = ipc.RegisterCommand("SOURCEADD", st.ipc_source_add)
	st.cmd_addchan = ipc.RegisterCommand("SOURCEADDCHAN", st.ipc_add_channellist)
	st.cmd_chanset = ipc.RegisterCommand("SOURCESETCHAN", st.ipc_channel_set)
	st.cmd_run = ipc.RegisterCommand("SOURCERUN", st.ipc_source_run)
	st.cmd_remove = ipc.RegisterCommand("SOURCEREMOVE", st.ipc_source_remove)
	st.cmd_report = ipc.RegisterCommand("SOURCEREPORT", st.ipc_source_report)
	st.cmd_frame = ipc.RegisterCommand("SOURCEFRAME", st.ipc_source_frame)
}

func (st *SourceTracker) RegisterSourceCallback(cb source_event_fn) {
	st.callbacks = append(st.callbacks, cb)
}

func (st *SourceTracker) fire_callbacks(src *capture_source_t, event int) {
	for _, cb := range st.callbacks {
		cb(src, event)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        AddSource
 *
 * Purpose:     Create a capture source from its definition line.
 *
 * Inputs:	source_line	- "iface" or "iface:opt=val,...".
 *		strong		- Caller-supplied driver, or nil to
 *				  build one from the type registry.
 *				  Caller-supplied drivers are local
 *				  only and never cross the IPC link.
 *
 * Returns:	New source id, or 0 on failure.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) AddSource(source_line string, strong CaptureDriver) uint16 {
	var iface = source_line
	var optstr = ""

	if before, after, found := strings.Cut(source_line, ":"); found {
		iface = before
		optstr = after
	}

	var opts, optsOk = string_to_opts(optstr)
	if !optsOk {
		st.core.msg("Invalid options list for source '"+iface+"', expected "+
			"ncsource=interface[,option=value]+", MSG_ERROR)
		return 0
	}

	var src = &capture_source_t{
		source_line:   source_line,
		iface:         iface,
		driver:        strong,
		local_only:    strong != nil,
		channel_split: true,
		channel_rate:  -1,
		channel_dwell: -1,
	}

	/* Resolve the type: explicit type=... wins, otherwise probe. */
	var typename = fetch_opt("type", opts)

	if strong == nil && typename != "" && typename != "auto" {
		src.proto = st.find_proto(typename)

		if src.proto == nil {
			st.core.msg("Invalid type '"+typename+"' for source '"+iface+"'; unknown, "+
				"or support is not compiled into this build.", MSG_ERROR)
			return 0
		}
	}

	if strong == nil && src.proto == nil {
		src.proto = st.autotype_probe(iface)

		if src.proto == nil {
			st.core.msg("Failed to find a type for auto-type source '"+iface+"', "+
				"add a type=... option to the source definition", MSG_ERROR)
			return 0
		}

		st.core.msg("Matched source type '"+src.proto.type_tag+"' for auto-type source '"+
			iface+"'", MSG_INFO)
		opts = replace_all_opts("type", src.proto.type_tag, opts)
	}

	if strong != nil {
		src.proto = st.find_proto(strong.Type())

		if parseErr := strong.ParseOptions(opts); parseErr != nil {
			st.core.msg("Source '"+iface+"' rejected its options: "+parseErr.Error(), MSG_ERROR)
			return 0
		}
	}

	/* Resolve the channel list.  "n/a" is a legal sentinel meaning
	 * the source has no list at all. */
	var chanlistname = fetch_opt("channellist", opts)

	if chanlistname == "" {
		if src.proto != nil {
			chanlistname = src.proto.default_channellist
			st.core.msg("Using default channel list '"+chanlistname+"' on source '"+
				iface+"'", MSG_INFO)
		} else {
			chanlistname = "n/a"
		}
	} else {
		st.core.msg("Using channel list '"+chanlistname+"' on source '"+
			iface+"' instead of the default", MSG_INFO)
	}

	if !strings.EqualFold(chanlistname, "n/a") {
		var chlist = st.FindChannelListByName(chanlistname)

		if chlist == nil {
			st.core.msg("Missing channel list '"+chanlistname+"' for source '"+iface+
				"'.  Make sure the config contains a channellist="+chanlistname+" line",
				MSG_ERROR)
			return 0
		}

		src.channel_list = chlist.id
		src.channel_ptr = chlist
	}

	/* Build the driver now that the type is known. */
	if src.driver == nil {
		var driver, factoryErr = src.proto.factory(st.core, iface, opts)
		if factoryErr != nil {
			st.core.msg("Failed to create source '"+iface+"': "+factoryErr.Error(), MSG_ERROR)
			return 0
		}

		src.driver = driver
	}

	src.name = fetch_opt("name", opts)
	if src.name == "" {
		src.name = iface
	}

	if mode_ok := st.decide_channel_mode(src, opts); !mode_ok {
		return 0
	}

	src.source_id = st.next_source_id
	st.next_source_id++

	st.sources[src.source_id] = src
	st.source_seq = append(st.source_seq, src)

	st.send_ipc_source_add(src)

	st.fire_callbacks(src, SOURCE_EVT_ADDED)

	return src.source_id
}

/* Work out Locked/Hop/Dwell and the associated numbers from the
 * option bag, the driver capabilities, and the config defaults. */
func (st *SourceTracker) decide_channel_mode(src *capture_source_t, opts []opt_pair) bool {
	var iface = src.iface

	if !src.driver.ChannelCapable() {
		st.core.msg("Disabling channel hopping on source '"+iface+"' because it is not "+
			"capable of setting the channel.", MSG_INFO)
		src.mode = CHANMODE_LOCKED
		src.channel = 0
		src.channel_rate = 0
		src.channel_dwell = 0

		return true
	}

	var hopopt = fetch_opt("hop", opts)

	if hopopt != "" && hopopt != "true" {
		st.core.msg("Disabling channel hopping on source '"+iface+"' because the source "+
			"options include hop=false", MSG_INFO)

		var chstr = fetch_opt("channel", opts)

		if chstr == "" {
			st.core.msg("Source '"+iface+"' has channel hopping disabled but no channel= "+
				"in the source options, specify a channel", MSG_ERROR)
			return false
		}

		var ch, chErr = strconv.ParseUint(chstr, 10, 32)
		if chErr != nil {
			st.core.msg("Invalid channel for source '"+iface+"', expected channel number "+
				"or frequency", MSG_ERROR)
			return false
		}

		src.mode = CHANMODE_LOCKED
		src.channel = uint32(ch)
		src.channel_rate = 0
		src.channel_dwell = 0

		st.core.msg("Source '"+iface+"' will be locked to channel "+chstr, MSG_INFO)

		return true
	}

	if fetch_opt("channel", opts) != "" {
		st.core.msg("Ignoring channel= option for source '"+iface+"' because the source "+
			"is channel hopping.  Set hop=false to lock to the specified channel", MSG_INFO)
	}

	/* Hopping one way or the other; needs a real channel list. */
	if src.channel_list == 0 {
		st.core.msg("Source '"+iface+"' wants to hop but has no channel list", MSG_ERROR)
		return false
	}

	if dwellstr := fetch_opt("dwell", opts); dwellstr != "" {
		var dwell, dwellErr = strconv.Atoi(dwellstr)
		if dwellErr != nil {
			st.core.msg("Invalid dwell time for source '"+iface+"', expected seconds to "+
				"spend on each channel", MSG_ERROR)
			return false
		}

		src.channel_dwell = dwell
		st.core.msg("Source '"+iface+"' will dwell on each channel "+dwellstr+" second(s)",
			MSG_INFO)
	}

	if velstr := fetch_opt("velocity", opts); velstr != "" {
		var rate, rateErr = strconv.Atoi(velstr)
		if rateErr != nil {
			st.core.msg("Invalid hop rate for source '"+iface+"', expected channels per "+
				"second", MSG_ERROR)
			return false
		}

		src.channel_rate = rate

		if src.channel_dwell > 0 {
			st.core.msg("Conflicting options for source '"+iface+"': cannot use both "+
				"dwell and velocity on the same source, dwell will be ignored and the "+
				"hop rate used.", MSG_ERROR)
			src.channel_dwell = 0
		}

		st.core.msg("Source '"+iface+"' will attempt to hop at "+velstr+
			" channel(s) per second.", MSG_INFO)
	}

	/* Fall back to the config-wide defaults for whatever is unset. */
	if src.channel_dwell < 0 {
		src.channel_dwell = st.default_channel_dwell
	}
	if src.channel_rate < 0 {
		src.channel_rate = st.default_channel_rate
	}

	if src.channel_rate > SLICES_PER_SEC {
		st.core.msg(fmt.Sprintf("Channel rate for source '%s' specified as %d but the "+
			"scheduler allows at most %d hops per second, using the maximum.",
			iface, src.channel_rate, SLICES_PER_SEC), MSG_ERROR)
		src.channel_rate = SLICES_PER_SEC
	}

	/* Dwell and rate are mutually exclusive per source.  An explicit
	 * velocity= already cleared any dwell above; a rate that only came
	 * from the config default gives way to a dwell. */
	if src.channel_dwell > 0 && src.channel_rate > 0 && fetch_opt("velocity", opts) == "" {
		src.channel_rate = 0
	}

	if src.channel_dwell > 0 && src.channel_rate == 0 {
		src.mode = CHANMODE_DWELL
	} else {
		src.mode = CHANMODE_HOP
		src.channel_dwell = 0
	}

	if splitopt := fetch_opt("split", opts); splitopt != "" && splitopt != "true" {
		st.core.msg("Disabling channel list splitting on source '"+iface+"'; it will hop "+
			"without balancing offsets against other sources on the same list", MSG_INFO)
		src.channel_split = false
	}

	return true
}

/*-------------------------------------------------------------------
 *
 * Name:        RemoveSource
 *
 * Purpose:     Destroy a source: close the driver (unless already
 *		errored), advertise the removal, notify observers.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) RemoveSource(id uint16) int {
	var src, known = st.sources[id]
	if !known {
		st.core.msg(fmt.Sprintf("Cannot remove unknown source id %d", id), MSG_ERROR)
		return 0
	}

	delete(st.sources, id)

	for i, x := range st.source_seq {
		if x.source_id == id {
			st.source_seq = append(st.source_seq[:i], st.source_seq[i+1:]...)
			break
		}
	}

	if !src.error && src.driver != nil {
		src.driver.Close()
	}

	st.send_ipc_remove(src)

	st.fire_callbacks(src, SOURCE_EVT_REMOVED)

	return 1
}

func (st *SourceTracker) FetchSource(id uint16) *capture_source_t {
	return st.sources[id]
}

func (st *SourceTracker) FindSourceByUUID(uuid string) *capture_source_t {
	for _, src := range st.source_seq {
		if src.driver != nil && src.driver.UUID() == uuid {
			return src
		}
	}

	return nil
}

func (st *SourceTracker) FindSourceByDriver(driver CaptureDriver) *capture_source_t {
	for _, src := range st.source_seq {
		if src.driver == driver {
			return src
		}
	}

	return nil
}

// AddLiveSource adds and immediately starts a source; used for
// runtime additions after configuration time.
func (st *SourceTracker) AddLiveSource(source_line string, strong CaptureDriver) int {
	var id = st.AddSource(source_line, strong)
	if id == 0 {
		return -1
	}

	st.StartSource(id)

	return 1
}

/*-------------------------------------------------------------------
 *
 * Name:        StartSource
 *
 * Purpose:     Bring a source (or, with id 0, every source) up:
 *		enable monitor mode and open the descriptor, or defer
 *		to the capture helper when root is needed and we don't
 *		have it.
 *
 * Returns:	0 on success (including deferral), negative counts of
 *		failures otherwise.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) StartSource(id uint16) int {
	if id == 0 {
		var failures = 0

		for _, src := range st.source_seq {
			if st.StartSource(src.source_id) < 0 {
				failures--
			}
		}

		return failures
	}

	var src, known = st.sources[id]
	if !known {
		st.core.msg(fmt.Sprintf("StartSource called with unknown source id %d", id), MSG_ERROR)
		return -1
	}

	var requires_root = src.proto != nil && src.proto.requires_root

	if st.core.Euid != 0 && requires_root && st.running_as_helper {
		st.core.msg("Capture helper needs root to open source '"+src.iface+
			"' but is not running as root.  Something is wrong.", MSG_ERROR)
		return -1
	}

	if st.core.Euid != 0 && requires_root {
		st.core.msg("Deferring opening of source '"+src.iface+"' to the capture helper",
			MSG_INFO)
		st.send_ipc_run(src, true)
		return 0
	}

	src.driver.SetSourceID(src.source_id)

	if monErr := src.driver.EnableMonitor(); monErr != nil {
		st.core.msg("Failed to enable monitor mode on source '"+src.iface+"': "+
			monErr.Error(), MSG_ERROR)
		src.error = true
		st.send_ipc_report(src)
		return -1
	}

	if openErr := src.driver.Open(); openErr != nil {
		st.core.msg("Failed to open source '"+src.iface+"': "+openErr.Error(), MSG_ERROR)
		src.error = true
		st.send_ipc_report(src)
		return -1
	}

	src.tm_hop_start = time.Now()

	st.send_ipc_report(src)

	return 0
}

// StopSource closes a source's descriptor without removing it from
// the table; a later SOURCERUN(start) can bring it back.
func (st *SourceTracker) StopSource(id uint16) int {
	var src, known = st.sources[id]
	if !known {
		st.core.msg(fmt.Sprintf("StopSource called with unknown source id %d", id), MSG_ERROR)
		return -1
	}

	if src.driver != nil && !src.error && src.driver.Descriptor() >= 0 {
		src.driver.Close()
	}

	st.send_ipc_report(src)

	return 0
}

/*
 * Pollable plumbing: the union of live capture descriptors joins the
 * host loop's read set.  Sources linked over IPC hold unopened
 * drivers and report a negative descriptor, so they fall out here
 * naturally.
 */

func (st *SourceTracker) MergeSet(in_max int, rset *unix.FdSet) int {
	if st.core.Spindown {
		return in_max
	}

	var max = in_max

	for _, src := range st.source_seq {
		if src.driver == nil || src.error {
			continue
		}

		var capd = src.driver.Descriptor()

		if capd < 0 {
			continue
		}

		rset.Set(capd)

		if capd > max {
			max = capd
		}
	}

	return max
}

func (st *SourceTracker) Poll(rset *unix.FdSet) int {
	if st.core.Spindown {
		return 0
	}

	var handled = 0

	for _, src := range st.source_seq {
		if src.driver == nil {
			continue
		}

		var capd = src.driver.Descriptor()

		if capd >= 0 && rset.IsSet(capd) {
			handled += src.driver.Poll()
		}
	}

	return handled
}

/*-------------------------------------------------------------------
 *
 * Name:        ChannelTick
 *
 * Purpose:     One scheduler slice: advance every hopping source's
 *		countdown and move the ones that expire to their next
 *		channel.
 *
 * Description:	Hop mode reloads the countdown as
 *
 *			dwell_weight * (SLICES_PER_SEC - rate)
 *
 *		so a higher rate shrinks every step and a heavier
 *		per-channel weight stretches that one channel.  Dwell
 *		mode reloads as
 *
 *			dwell_weight * (SLICES_PER_SEC * dwell_seconds)
 *
 *		When the cursor wraps past the end of the list we
 *		emit a status report carrying how long the full pass
 *		took; that report doubles as the liveness heartbeat.
 *
 *		Countdowns are signed and decremented before the
 *		check, so a fresh countdown of zero fires on the very
 *		next tick.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) ChannelTick() {
	for _, src := range st.source_seq {
		if src.driver == nil || src.channel_ptr == nil || src.mode == CHANMODE_LOCKED {
			continue
		}

		if src.driver.Descriptor() < 0 {
			continue
		}

		var push_report = false

		switch src.mode {
		case CHANMODE_HOP:
			src.rate_timer--

			if src.rate_timer > 0 {
				continue
			}

			if src.channel_position >= len(src.channel_ptr.channels) {
				src.channel_position = 0
				push_report = true
			}

			src.rate_timer = int(src.channel_ptr.channels[src.channel_position].dwell) *
				(SLICES_PER_SEC - src.channel_rate)

		case CHANMODE_DWELL:
			src.dwell_timer--

			if src.dwell_timer > 0 {
				continue
			}

			if src.channel_position >= len(src.channel_ptr.channels) {
				src.channel_position = 0
				push_report = true
			}

			src.dwell_timer = int(src.channel_ptr.channels[src.channel_position].dwell) *
				(SLICES_PER_SEC * src.channel_dwell)
		}

		if push_report {
			var now = time.Now()

			src.tm_hop_time = now.Sub(src.tm_hop_start)
			src.tm_hop_start = now

			st.send_ipc_report(src)
		}

		src.channel = src.channel_ptr.channels[src.channel_position].channel

		if chanErr := src.driver.SetChannel(src.channel); chanErr != nil {
			src.consec_channel_err++

			if src.consec_channel_err > MAX_CONSEC_CHAN_ERR {
				st.core.msg("Source '"+src.iface+"' has had too many consecutive channel "+
					"set errors and will be shut down.", MSG_ERROR)
				src.driver.Close()
				src.error = true
				st.send_ipc_report(src)
			}
		} else {
			src.consec_channel_err = 0
			src.channel_position++
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        ScheduleSplits
 *
 * Purpose:     Stagger the starting positions of sources sharing a
 *		channel list so their instantaneous coverage spreads
 *		across the band instead of clumping.
 *
 * Description:	For each list with two or more hopping, split-enabled
 *		users, offset = len / (users + 1) and user k starts at
 *		k * offset, insertion order.  Mismatched rates or
 *		dwells among the sharers get a warning since they will
 *		drift apart over time.
 *
 *		Runs at configuration-complete time from
 *		LoadConfiguration.  A later AddSource or AddLiveSource
 *		does not re-run it.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) ScheduleSplits() {
	var counts = make(map[uint16]int)

	for _, src := range st.source_seq {
		if src.mode == CHANMODE_LOCKED || !src.channel_split || src.channel_list == 0 {
			continue
		}

		counts[src.channel_list]++
	}

	for chanid, users := range counts {
		if users < 2 {
			continue
		}

		var chlist = st.chanlists[chanid]
		if chlist == nil || len(chlist.channels) == 0 {
			continue
		}

		/* Warn about sharers that will drift. */
		var chrate, chdwell = -1, -1

		for _, src := range st.source_seq {
			if src.channel_list != chanid || src.mode == CHANMODE_LOCKED || !src.channel_split {
				continue
			}

			if chrate < 0 {
				chrate = src.channel_rate
			}
			if chdwell < 0 {
				chdwell = src.channel_dwell
			}

			var warntype = ""
			if chrate != src.channel_rate {
				warntype = "hop rate"
			}
			if chdwell != src.channel_dwell {
				warntype = "dwell time"
			}

			if warntype != "" {
				st.core.msg("Mismatched "+warntype+" for source '"+src.iface+"' splitting "+
					"channel list "+chlist.name+".  Mismatched values will cause split "+
					"hopping to drift over time.", MSG_ERROR)
			}
		}

		var offset = len(chlist.channels) / (users + 1)
		var offnum = 0

		for _, src := range st.source_seq {
			if src.channel_list != chanid || src.mode == CHANMODE_LOCKED || !src.channel_split {
				continue
			}

			src.channel_position = offnum * offset
			offnum++

			st.send_ipc_chanset(src)
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        LoadConfiguration
 *
 * Purpose:     Configuration intake: defaults, command line capture
 *		options, channel lists, and source definitions.
 *
 * Returns:	nil, or an error after latching the fatal condition.
 *		Runtime failures after this point degrade gracefully;
 *		configuration failures do not.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) LoadConfiguration() error {
	st.default_channel_rate = 5
	st.default_channel_dwell = 0

	if st.core.Conf == nil {
		st.core.msg("Source tracker configuration loading called before the config file "+
			"was read", MSG_FATAL)
		return fmt.Errorf("no config loaded")
	}

	if v := st.core.Conf.FetchOpt("channelvelocity"); v != "" {
		var rate, rateErr = strconv.Atoi(v)
		if rateErr != nil {
			st.core.msg("Invalid channelvelocity=... in the config file, expected a number "+
				"of channels per second.", MSG_FATAL)
			return fmt.Errorf("invalid channelvelocity %q", v)
		}

		st.default_channel_rate = rate
	}

	if v := st.core.Conf.FetchOpt("channeldwell"); v != "" {
		var dwell, dwellErr = strconv.Atoi(v)
		if dwellErr != nil {
			st.core.msg("Invalid channeldwell=... in the config file, expected a number of "+
				"seconds per channel.", MSG_FATAL)
			return fmt.Errorf("invalid channeldwell %q", v)
		}

		st.default_channel_dwell = dwell
	}

	switch {
	case st.default_channel_dwell != 0:
		st.core.msg(fmt.Sprintf("Sources will dwell on each channel for %d seconds unless "+
			"overridden by source options.", st.default_channel_dwell), MSG_INFO)
	case st.default_channel_rate != 0:
		st.core.msg(fmt.Sprintf("Sources will attempt to hop at %d channels per second "+
			"unless overridden by source options", st.default_channel_rate), MSG_INFO)
	default:
		st.core.msg("No default channel dwell or hop rate specified, hopping at 5 channels "+
			"per second.", MSG_INFO)
		st.default_channel_rate = 5
	}

	/* Capture options can come in on the command line with the
	 * same syntax as the config file. */
	var flags = pflag.NewFlagSet("capture-sources", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true

	var cli_sources = flags.StringArrayP("capture-source", "c", nil,
		"Specify a new packet capture source (identical syntax to the config file)")
	var cli_enabled = flags.StringP("enable-capture-sources", "C", "",
		"Enable capture sources (comma-separated list of names or interfaces)")

	if len(st.core.Argv) > 1 {
		if parseErr := flags.Parse(st.core.Argv[1:]); parseErr != nil {
			st.core.msg("Failed to parse capture source options: "+parseErr.Error(), MSG_FATAL)
			return parseErr
		}
	}

	var named_sources = *cli_enabled
	var src_lines = *cli_sources

	if named_sources == "" && len(src_lines) == 0 {
		st.core.msg("No specific sources named on the command line, sources will be read "+
			"from the config file", MSG_INFO)
		named_sources = st.core.Conf.FetchOpt("enablesources")
		src_lines = st.core.Conf.FetchOptVec("ncsource")
	} else if len(src_lines) == 0 {
		st.core.msg("Reading sources from the config file but only enabling sources named "+
			"on the command line", MSG_INFO)
		src_lines = st.core.Conf.FetchOptVec("ncsource")
	}

	if len(src_lines) == 0 {
		st.core.msg("No capture sources defined; add ncsource=... lines to the config or "+
			"use the -c option.", MSG_FATAL)
		return fmt.Errorf("no capture sources")
	}

	var chan_specs = st.core.Conf.FetchOptVec("channellist")

	if len(chan_specs) == 0 {
		chan_specs = default_channel_lists(st.core)

		if len(chan_specs) == 0 {
			st.core.msg("No channel lists defined and no built-in presets available; add "+
				"channellist=... lines to the config.", MSG_FATAL)
			return fmt.Errorf("no channel lists")
		}

		st.core.msg("No channel lists in the config, using built-in presets", MSG_INFO)
	}

	for _, spec := range chan_specs {
		if st.AddChannelList(spec) == 0 {
			st.core.msg("Failed to add channel list '"+spec+"', check your syntax", MSG_FATAL)
			return fmt.Errorf("bad channel list %q", spec)
		}
	}

	/* The enable filter: when non-empty, only matching sources from
	 * the config are brought in. */
	var enabled = mapset.NewSet()

	for _, n := range strings.Split(named_sources, ",") {
		if n != "" {
			enabled.Add(strings.ToLower(strings.TrimSpace(n)))
		}
	}

	for _, line := range src_lines {
		if enabled.Cardinality() > 0 && !st.source_line_enabled(line, enabled) {
			st.core.msg("Source '"+line+"' not in the enabled sources list, skipping", MSG_INFO)
			continue
		}

		if st.AddSource(line, nil) == 0 {
			st.core.msg("Failed to add source '"+line+"', check your syntax", MSG_FATAL)
			return fmt.Errorf("bad source %q", line)
		}
	}

	if len(st.source_seq) == 0 {
		st.core.msg("All defined capture sources were filtered out, nothing to capture "+
			"from.", MSG_FATAL)
		return fmt.Errorf("no enabled sources")
	}

	st.ScheduleSplits()

	return nil
}

/* Filter match on the interface or the name= option. */
func (st *SourceTracker) source_line_enabled(line string, enabled mapset.Set) bool {
	var iface = line
	var optstr = ""

	if before, after, found := strings.Cut(line, ":"); found {
		iface = before
		optstr = after
	}

	if enabled.Contains(strings.ToLower(iface)) {
		return true
	}

	if opts, ok := string_to_opts(optstr); ok {
		if name := fetch_opt("name", opts); name != "" {
			return enabled.Contains(strings.ToLower(name))
		}
	}

	return false
}

/*
 * Runtime channel control, keyed by source UUID since that's what
 * remote viewers hold.  Local bookkeeping plus a SOURCESETCHAN frame;
 * on a purely local source the frame send is a no-op.
 */

func (st *SourceTracker) SetSourceHopping(uuid string, hopping bool, channel uint32) int {
	var src = st.FindSourceByUUID(uuid)

	if src == nil {
		st.core.msg("No capture source with UUID "+uuid+" in channel/hopping change request",
			MSG_ERROR)
		return -1
	}

	if hopping {
		src.mode = CHANMODE_HOP
		src.channel_position = 0
		src.rate_timer = 0
	} else {
		src.mode = CHANMODE_LOCKED
		src.channel = channel
	}

	st.send_ipc_chanset(src)

	if hopping {
		st.fire_callbacks(src, SOURCE_EVT_HOP_ENABLED)
	} else {
		st.fire_callbacks(src, SOURCE_EVT_HOP_DISABLED)
	}

	return 1
}

func (st *SourceTracker) SetSourceChannelList(uuid string, spec string) int {
	var src = st.FindSourceByUUID(uuid)

	if src == nil {
		st.core.msg("No capture source with UUID "+uuid+" to change channel list", MSG_ERROR)
		return -1
	}

	var new_id = st.AddChannelList(spec)
	if new_id == 0 {
		st.core.msg("Failed to change source '"+src.iface+"' channel list: the provided "+
			"definition is not valid", MSG_ERROR)
		return -1
	}

	src.channel_list = new_id
	src.channel_ptr = st.chanlists[new_id]
	src.channel_position = 0

	st.send_ipc_chanset(src)

	st.fire_callbacks(src, SOURCE_EVT_CHANNELLIST_CHANGED)

	return 1
}

func (st *SourceTracker) SetSourceHopDwell(uuid string, rate int, dwell int) int {
	var src = st.FindSourceByUUID(uuid)

	if src == nil {
		st.core.msg("No capture source with UUID "+uuid+" in hop/dwell change request",
			MSG_ERROR)
		return -1
	}

	if rate > SLICES_PER_SEC {
		st.core.msg(fmt.Sprintf("Requested hop rate %d is above the scheduler ceiling of "+
			"%d, using the maximum.", rate, SLICES_PER_SEC), MSG_ERROR)
		rate = SLICES_PER_SEC
	}

	src.channel_rate = rate
	src.channel_dwell = dwell

	if src.mode != CHANMODE_LOCKED {
		if dwell > 0 && rate == 0 {
			src.mode = CHANMODE_DWELL
		} else {
			src.mode = CHANMODE_HOP
			src.channel_dwell = 0
		}
	}

	st.send_ipc_chanset(src)

	st.fire_callbacks(src, SOURCE_EVT_HOP_DWELL_CHANGED)

	return 1
}

/*
 * Read-only snapshot for remote viewers.
 */

type SourceCard struct {
	Interface   string
	Type        string
	Username    string
	Channel     uint32
	UUID        string
	Packets     uint64
	Hop         bool
	Velocity    int
	Dwell       int
	HopElapsed  time.Duration
	ChannelList string
}

func (st *SourceTracker) SourceCards() []SourceCard {
	var cards = make([]SourceCard, 0, len(st.source_seq))

	for _, src := range st.source_seq {
		var card = SourceCard{
			Interface:  src.iface,
			Username:   src.name,
			Channel:    src.channel,
			Packets:    src.num_packets,
			Hop:        src.mode != CHANMODE_LOCKED,
			Velocity:   src.channel_rate,
			Dwell:      src.channel_dwell,
			HopElapsed: src.tm_hop_time,
		}

		if src.driver != nil {
			card.Type = src.driver.Type()
			card.UUID = src.driver.UUID()
		}

		if src.channel_ptr != nil {
			card.ChannelList = src.channel_ptr.name
		}

		cards = append(cards, card)
	}

	return cards
}
