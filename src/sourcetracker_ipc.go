package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Source tracker <-> control channel plumbing.
 *
 * Description:	The senders run on the server side and advertise
 *		configuration to the capture helper; the report and
 *		frame senders run on the helper side only.  Handlers
 *		are gated the same way, so one registration table
 *		serves both processes and a frame that lands on the
 *		wrong side is silently dropped.
 *
 *		Ordering contract: every channel list referenced by a
 *		source add is advertised before (or in the same batch
 *		as) the add itself; the helper rejects adds naming an
 *		unknown list.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"
	"time"
)

/* True when this side may emit server-to-helper configuration. */
func (st *SourceTracker) ipc_sender_ok() bool {
	return !st.running_as_helper && st.ipc != nil && st.ipc.Attached()
}

/* True when this side may emit helper-to-server telemetry. */
func (st *SourceTracker) ipc_reporter_ok() bool {
	return st.running_as_helper && st.ipc != nil && st.ipc.Attached()
}

/*
 * Senders, server to helper.
 */

func (st *SourceTracker) send_ipc_channellist(chlist *channel_list_t) {
	if !st.ipc_sender_ok() {
		return
	}

	var msg ipc_source_add_chanlist_t

	msg.ChanlistID = chlist.id

	var n = len(chlist.channels)
	if n > IPC_MAX_CHANNELS {
		st.core.msg(fmt.Sprintf("Channel list '%s' has %d channels, only the first %d "+
			"will cross the control channel", chlist.name, n, IPC_MAX_CHANNELS), MSG_ERROR)
		n = IPC_MAX_CHANNELS
	}

	msg.NumChannels = uint16(n)

	for i := 0; i < n; i++ {
		msg.Channels[i] = chlist.channels[i].channel
		msg.Dwells[i] = chlist.channels[i].dwell
	}

	st.ipc.SendFrame(st.cmd_addchan, ipc_encode(&msg))
}

func (st *SourceTracker) send_ipc_source_add(src *capture_source_t) {
	if !st.ipc_sender_ok() || src.local_only {
		return
	}

	var msg ipc_source_add_t

	msg.SourceID = src.source_id
	put_padded(msg.Type[:], src.driver.Type())
	put_padded(msg.SourceLine[:], src.source_line)
	msg.ChanlistID = src.channel_list
	msg.Channel = src.channel
	msg.Mode = uint32(src.mode)
	msg.Rate = int32(src.channel_rate)
	msg.Dwell = int32(src.channel_dwell)
	msg.Position = int32(src.channel_position)

	st.ipc.SendFrame(st.cmd_add, ipc_encode(&msg))
}

func (st *SourceTracker) send_ipc_chanset(src *capture_source_t) {
	if !st.ipc_sender_ok() || src.local_only {
		return
	}

	var msg ipc_source_chanset_t

	msg.SourceID = src.source_id
	msg.ChanlistID = src.channel_list
	msg.Channel = src.channel
	msg.Mode = uint32(src.mode)
	msg.Rate = int32(src.channel_rate)
	msg.Dwell = int32(src.channel_dwell)
	if src.channel_split {
		msg.Split = 1
	}

	st.ipc.SendFrame(st.cmd_chanset, ipc_encode(&msg))
}

func (st *SourceTracker) send_ipc_run(src *capture_source_t, start bool) {
	if !st.ipc_sender_ok() || src.local_only {
		return
	}

	var msg ipc_source_run_t

	msg.SourceID = src.source_id
	if start {
		msg.Start = 1
	}

	st.ipc.SendFrame(st.cmd_run, ipc_encode(&msg))
}

func (st *SourceTracker) send_ipc_remove(src *capture_source_t) {
	if !st.ipc_sender_ok() || src.local_only {
		return
	}

	var msg ipc_source_remove_t

	msg.SourceID = src.source_id

	st.ipc.SendFrame(st.cmd_remove, ipc_encode(&msg))
}

/*
 * Senders, helper to server.
 */

func (st *SourceTracker) send_ipc_report(src *capture_source_t) {
	if !st.ipc_reporter_ok() {
		return
	}

	var msg ipc_source_report_t

	msg.SourceID = src.source_id
	msg.ChanlistID = src.channel_list
	msg.Capabilities = 0

	if src.driver != nil && src.driver.Descriptor() >= 0 {
		msg.Flags |= IPC_REPORT_FLAG_RUNNING
	}

	if src.error {
		msg.Flags |= IPC_REPORT_FLAG_ERROR
	}

	msg.HopSec, msg.HopUsec = duration_to_sec_usec(src.tm_hop_time)

	st.ipc.SendFrame(st.cmd_report, ipc_encode(&msg))
}

func (st *SourceTracker) send_ipc_frame(src_id uint16, ts time.Time, dlt uint32, data []byte) {
	if !st.ipc_reporter_ok() {
		return
	}

	var hdr ipc_source_frame_t

	hdr.SourceID = src_id
	hdr.TvSec = uint32(ts.Unix())
	hdr.TvUsec = uint32(ts.Nanosecond() / 1000)
	hdr.DLT = dlt

	st.ipc.SendFrame(st.cmd_frame, encode_source_frame(&hdr, data))
}

/*-------------------------------------------------------------------
 *
 * Name:        SyncIPC
 *
 * Purpose:     Push the whole configuration to a freshly attached
 *		capture helper: every channel list, then every
 *		non-local source, then the sync marker.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) SyncIPC() {
	if !st.ipc_sender_ok() {
		return
	}

	/* Lists strictly before sources, ids ascending for determinism. */
	for id := uint16(1); id < st.next_channel_id; id++ {
		if chlist := st.chanlists[id]; chlist != nil {
			st.send_ipc_channellist(chlist)
		}
	}

	for _, src := range st.source_seq {
		st.send_ipc_source_add(src)
	}

	st.ipc.SendFrame(st.cmd_sync, nil)
}

/*
 * Handlers.  Return 0 without comment for frames addressed to the
 * other side; that's what lets one table run on both ends.
 */

func (st *SourceTracker) ipc_sync_complete(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	/* Initial registration is done; report status for the fleet. */
	for _, src := range st.source_seq {
		st.send_ipc_report(src)
	}

	return 1
}

func (st *SourceTracker) ipc_add_channellist(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	var msg ipc_source_add_chanlist_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	var n = int(msg.NumChannels)
	if n > IPC_MAX_CHANNELS {
		n = IPC_MAX_CHANNELS
	}

	var channels = make([]channel_entry_t, 0, n)
	for i := 0; i < n; i++ {
		channels = append(channels, channel_entry_t{
			channel: msg.Channels[i],
			dwell:   msg.Dwells[i],
		})
	}

	st.upsert_channel_list(msg.ChanlistID, fmt.Sprintf("ipc-%d", msg.ChanlistID), channels)

	return 1
}

func (st *SourceTracker) ipc_source_add(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	var msg ipc_source_add_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	/* A re-advertised source (the server replays everything after a
	 * helper attach) just refreshes the channel bookkeeping. */
	if existing, known := st.sources[msg.SourceID]; known {
		existing.channel = msg.Channel
		existing.channel_list = msg.ChanlistID
		existing.channel_ptr = st.chanlists[msg.ChanlistID]
		existing.mode = int(msg.Mode)
		existing.channel_rate = int(msg.Rate)
		existing.channel_dwell = int(msg.Dwell)
		existing.channel_position = int(msg.Position)
		return 1
	}

	var source_line = get_padded(msg.SourceLine[:])
	var typename = get_padded(msg.Type[:])

	var iface = source_line
	var optstr = ""

	if before, after, found := strings.Cut(source_line, ":"); found {
		iface = before
		optstr = after
	}

	var src = &capture_source_t{
		source_id:        msg.SourceID,
		source_line:      source_line,
		iface:            iface,
		name:             iface,
		channel:          msg.Channel,
		channel_list:     msg.ChanlistID,
		mode:             int(msg.Mode),
		channel_rate:     int(msg.Rate),
		channel_dwell:    int(msg.Dwell),
		channel_position: int(msg.Position),
		channel_split:    true,
	}

	var opts, optsOk = string_to_opts(optstr)
	if !optsOk {
		st.core.msg("Control channel source add with a bad options list for '"+iface+"'",
			MSG_ERROR)
		src.error = true
		st.send_ipc_report(src)
		return 0
	}

	src.proto = st.find_proto(typename)

	if src.proto == nil {
		st.core.msg("Control channel source add with unknown type '"+typename+"'", MSG_ERROR)
		src.error = true
		st.send_ipc_report(src)
		return 0
	}

	/* Ordering contract: the list must already be here. */
	if src.channel_list != 0 {
		src.channel_ptr = st.chanlists[src.channel_list]

		if src.channel_ptr == nil {
			st.core.msg("Control channel source add references channel list id "+
				fmt.Sprintf("%d", src.channel_list)+" which was never advertised; make sure "+
				"all code sends channel list updates first", MSG_ERROR)
			src.error = true
			st.send_ipc_report(src)
			return 0
		}
	}

	var driver, factoryErr = src.proto.factory(st.core, iface, opts)
	if factoryErr != nil {
		st.core.msg("Failed to create helper-side source '"+iface+"': "+factoryErr.Error(),
			MSG_ERROR)
		src.error = true
		st.send_ipc_report(src)
		return 0
	}

	src.driver = driver

	st.sources[src.source_id] = src
	st.source_seq = append(st.source_seq, src)

	if msg.SourceID >= st.next_source_id {
		st.next_source_id = msg.SourceID + 1
	}

	return 1
}

func (st *SourceTracker) ipc_channel_set(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	var msg ipc_source_chanset_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	var src, known = st.sources[msg.SourceID]
	if !known {
		st.core.msg("Control channel set for an unknown source id, something is wrong",
			MSG_ERROR)
		return 0
	}

	if msg.ChanlistID != 0 && st.chanlists[msg.ChanlistID] == nil {
		st.core.msg("Control channel set references an unknown channel list id, something "+
			"is wrong", MSG_ERROR)
	}

	if msg.ChanlistID == 0 {
		src.channel = msg.Channel
	} else {
		src.channel = 0
		src.channel_list = msg.ChanlistID
		src.channel_ptr = st.chanlists[msg.ChanlistID]
	}

	src.channel_position = 0
	src.mode = int(msg.Mode)
	src.channel_dwell = int(msg.Dwell)
	src.channel_rate = int(msg.Channel) /* Historical field mapping; peers rely on it. */
	src.channel_split = msg.Split != 0

	return 1
}

func (st *SourceTracker) ipc_source_run(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	var msg ipc_source_run_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	if msg.Start != 0 {
		st.StartSource(msg.SourceID)
	} else {
		st.StopSource(msg.SourceID)
	}

	return 1
}

func (st *SourceTracker) ipc_source_remove(data []byte) int {
	if !st.running_as_helper {
		return 0
	}

	var msg ipc_source_remove_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	if _, known := st.sources[msg.SourceID]; !known {
		st.core.msg("Control channel remove for an unknown source id, something is wrong",
			MSG_ERROR)
		return 0
	}

	return st.RemoveSource(msg.SourceID)
}

func (st *SourceTracker) ipc_source_report(data []byte) int {
	if st.running_as_helper {
		return 0
	}

	var msg ipc_source_report_t

	if decErr := ipc_decode(data, &msg); decErr != nil {
		return 0
	}

	var src, known = st.sources[msg.SourceID]
	if !known {
		st.core.msg("Status report for an unknown source id, something is wrong", MSG_ERROR)
		return 0
	}

	src.tm_hop_time = time.Duration(msg.HopSec)*time.Second +
		time.Duration(msg.HopUsec)*time.Microsecond

	src.error = msg.Flags&IPC_REPORT_FLAG_ERROR != 0

	return 1
}

func (st *SourceTracker) ipc_source_frame(data []byte) int {
	if st.running_as_helper {
		return 0
	}

	var hdr, payload, decErr = decode_source_frame(data)
	if decErr != nil {
		return 0
	}

	if _, known := st.sources[hdr.SourceID]; !known {
		st.core.msg("Captured frame for an unknown source id, something is wrong", MSG_ERROR)
		return 0
	}

	var p = st.core.Chain.GeneratePacket()

	p.Ts = time.Unix(int64(hdr.TvSec), int64(hdr.TvUsec)*1000)
	p.Insert(st.link_component, &link_frame_t{
		dlt:       hdr.DLT,
		source_id: hdr.SourceID,
		data:      payload,
	})

	st.core.Chain.ProcessPacket(p)

	return 1
}

/*-------------------------------------------------------------------
 *
 * Name:        chain_handler
 *
 * Purpose:     Post-capture hook.  On the helper side, captured
 *		frames get shipped across the privilege boundary; on
 *		the server side the back-reference is resolved and the
 *		per-source counters kept.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) chain_handler(p *Packet) {
	var lf, ok = p.Fetch(st.link_component).(*link_frame_t)
	if !ok || lf == nil {
		return
	}

	var src = st.sources[lf.source_id]

	if src == nil {
		st.core.msg("Captured frame with no matching source record, dropping it, something "+
			"is wrong", MSG_ERROR)
		return
	}

	src.num_packets++

	if st.running_as_helper {
		st.send_ipc_frame(lf.source_id, p.Ts, lf.dlt, lf.data)
	}
}
