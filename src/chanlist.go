package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Named channel lists for the hop scheduler.
 *
 * Description:	A channel list is an ordered sequence of channel
 *		entries, each a channel number (or MHz frequency, the
 *		driver decides) with a dwell weight saying how many
 *		scheduler slices the entry occupies relative to its
 *		siblings.
 *
 *		Lists are registered under a lowercased unique name
 *		and an id allocated from 1; id 0 always means
 *		"none/invalid".  The server advertises every list to
 *		the capture helper before any source can reference it.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
	"strings"
)

type channel_entry_t struct {
	channel uint32 /* Channel number or frequency in MHz. */
	dwell   uint32 /* Scheduler slices this entry occupies, >= 1. */
}

type channel_list_t struct {
	id       uint16
	name     string /* Lowercased, unique. */
	channels []channel_entry_t
}

/* Parse the "<name>:<ch>[:<dwell>],..." grammar.  Used by both the
 * config file channellist= lines and the runtime list-change request. */
func parse_channel_list(spec string) (string, []channel_entry_t, error) {
	var name, body, found = strings.Cut(spec, ":")

	if !found || name == "" {
		return "", nil, fmt.Errorf("expected 'channellist=<name>:{<ch>[:<dwell>],}+'")
	}

	var channels []channel_entry_t

	for _, tok := range strings.Split(body, ",") {
		if tok == "" {
			return "", nil, fmt.Errorf("empty entry in channel list %q", name)
		}

		var chstr, dwellstr, has_dwell = strings.Cut(tok, ":")

		var ch, chErr = strconv.ParseUint(chstr, 10, 32)
		if chErr != nil {
			return "", nil, fmt.Errorf("channel list %q: expected channel number or mhz frequency, got %q", name, chstr)
		}

		var entry = channel_entry_t{channel: uint32(ch), dwell: 1}

		if has_dwell {
			var dwell, dwellErr = strconv.ParseUint(dwellstr, 10, 32)
			if dwellErr != nil || dwell < 1 {
				return "", nil, fmt.Errorf("channel list %q: expected a dwell weight as a number, got %q", name, dwellstr)
			}

			entry.dwell = uint32(dwell)
		}

		channels = append(channels, entry)
	}

	if len(channels) == 0 {
		return "", nil, fmt.Errorf("channel list %q has no channels", name)
	}

	return strings.ToLower(name), channels, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        AddChannelList
 *
 * Purpose:     Register a channel list from its config-file spec.
 *
 * Inputs:	spec	- "<name>:<ch>[:<dwell>],..."
 *
 * Returns:	New list id, or 0 on parse failure or duplicate name.
 *
 * Description:	A successful add is advertised over IPC immediately
 *		so the capture helper always holds the definition
 *		before any source referencing it arrives.
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) AddChannelList(spec string) uint16 {
	var name, channels, parseErr = parse_channel_list(spec)
	if parseErr != nil {
		st.core.msg("Invalid channel list: "+parseErr.Error(), MSG_ERROR)
		return 0
	}

	if st.FindChannelListByName(name) != nil {
		st.core.msg("Channel list '"+name+"' already defined, ignoring duplicate.", MSG_ERROR)
		return 0
	}

	for _, ch := range channels {
		if ch.dwell > 5 {
			st.core.msg(fmt.Sprintf("Dwell weight %d on channel %d in list '%s' is over 5 periods, "+
				"this might indicate a typo in the channel config.", ch.dwell, ch.channel, name), MSG_ERROR)
		}
	}

	var chlist = &channel_list_t{
		id:       st.next_channel_id,
		name:     name,
		channels: channels,
	}

	st.next_channel_id++
	st.chanlists[chlist.id] = chlist

	st.send_ipc_channellist(chlist)

	return chlist.id
}

func (st *SourceTracker) FetchChannelList(id uint16) *channel_list_t {
	return st.chanlists[id]
}

func (st *SourceTracker) FindChannelListByName(name string) *channel_list_t {
	name = strings.ToLower(name)

	for _, chlist := range st.chanlists {
		if chlist.name == name {
			return chlist
		}
	}

	return nil
}

/* Upsert from the authoritative side of the IPC link.  A known id has
 * its channel sequence replaced in place, which keeps sources pointing
 * at the list valid across the swap. */
func (st *SourceTracker) upsert_channel_list(id uint16, name string, channels []channel_entry_t) {
	var chlist, known = st.chanlists[id]

	if known {
		chlist.channels = channels
		if name != "" {
			chlist.name = name
		}
		return
	}

	chlist = &channel_list_t{id: id, name: name, channels: channels}
	st.chanlists[id] = chlist

	if id >= st.next_channel_id {
		st.next_channel_id = id + 1
	}
}
