package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Capture source that replays a pcap savefile.
 *
 * Description:	Useful for development and for feeding recorded
 *		captures through the full processing chain.  One
 *		record is drained per poll, so replay speed is bounded
 *		by the main loop rather than dumping the whole file in
 *		one go.
 *
 *		The classic savefile format: a 24 byte global header
 *		whose magic tells us byte order and timestamp unit,
 *		then 16 byte record headers, each followed by the
 *		captured bytes.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-uuid"
)

const PCAP_MAGIC = 0xa1b2c3d4
const PCAP_MAGIC_SWAPPED = 0xd4c3b2a1
const PCAP_MAGIC_NANO = 0xa1b23c4d

const PCAP_GLOBAL_HEADER_LEN = 24
const PCAP_RECORD_HEADER_LEN = 16

type pcapfile_source_t struct {
	core *core_state_t

	path      string
	fp        *os.File
	uuid      string
	source_id uint16

	order binary.ByteOrder
	nanos bool
	dlt   uint32

	link_component int
}

/* Probe: a readable regular file starting with a pcap magic. */
func probe_pcapfile(iface string) bool {
	var fp, openErr = os.Open(iface)
	if openErr != nil {
		return false
	}
	defer fp.Close()

	var magic [4]byte

	if _, readErr := io.ReadFull(fp, magic[:]); readErr != nil {
		return false
	}

	switch binary.LittleEndian.Uint32(magic[:]) {
	case PCAP_MAGIC, PCAP_MAGIC_NANO:
		return true
	}

	switch binary.BigEndian.Uint32(magic[:]) {
	case PCAP_MAGIC, PCAP_MAGIC_NANO:
		return true
	}

	return false
}

func new_pcapfile_source(core *core_state_t, iface string, opts []opt_pair) (CaptureDriver, error) {
	var id, uuidErr = uuid.GenerateUUID()
	if uuidErr != nil {
		return nil, uuidErr
	}

	var src = &pcapfile_source_t{
		core:           core,
		path:           iface,
		uuid:           id,
		link_component: core.Chain.RegisterComponent("LINKFRAME"),
	}

	return src, nil
}

func (ps *pcapfile_source_t) Descriptor() int {
	if ps.fp == nil {
		return -1
	}

	return int(ps.fp.Fd())
}

func (ps *pcapfile_source_t) EnableMonitor() error {
	return nil /* Nothing to put into monitor mode. */
}

func (ps *pcapfile_source_t) Open() error {
	var fp, openErr = os.Open(ps.path)
	if openErr != nil {
		return openErr
	}

	var hdr [PCAP_GLOBAL_HEADER_LEN]byte

	if _, readErr := io.ReadFull(fp, hdr[:]); readErr != nil {
		fp.Close()
		return fmt.Errorf("reading pcap header: %w", readErr)
	}

	switch binary.LittleEndian.Uint32(hdr[0:4]) {
	case PCAP_MAGIC:
		ps.order = binary.LittleEndian
	case PCAP_MAGIC_NANO:
		ps.order = binary.LittleEndian
		ps.nanos = true
	default:
		switch binary.BigEndian.Uint32(hdr[0:4]) {
		case PCAP_MAGIC:
			ps.order = binary.BigEndian
		case PCAP_MAGIC_NANO:
			ps.order = binary.BigEndian
			ps.nanos = true
		default:
			fp.Close()
			return fmt.Errorf("%s is not a pcap savefile", ps.path)
		}
	}

	ps.dlt = ps.order.Uint32(hdr[20:24])
	ps.fp = fp

	return nil
}

func (ps *pcapfile_source_t) Close() error {
	if ps.fp == nil {
		return nil
	}

	var closeErr = ps.fp.Close()
	ps.fp = nil

	return closeErr
}

func (ps *pcapfile_source_t) SetChannel(ch uint32) error {
	return fmt.Errorf("pcap savefile cannot set a channel")
}

/*-------------------------------------------------------------------
 *
 * Name:        Poll
 *
 * Purpose:     Read the next record and feed it into the packet
 *		chain.  End of file closes the source quietly; replay
 *		is done.
 *
 *--------------------------------------------------------------------*/

func (ps *pcapfile_source_t) Poll() int {
	if ps.fp == nil {
		return 0
	}

	var rechdr [PCAP_RECORD_HEADER_LEN]byte

	if _, readErr := io.ReadFull(ps.fp, rechdr[:]); readErr != nil {
		if readErr != io.EOF {
			ps.core.msg("Error reading pcap record from "+ps.path+": "+readErr.Error(),
				MSG_ERROR)
		} else {
			ps.core.msg("Finished replaying "+ps.path, MSG_INFO)
		}

		ps.Close()
		return 0
	}

	var ts_sec = ps.order.Uint32(rechdr[0:4])
	var ts_frac = ps.order.Uint32(rechdr[4:8])
	var incl_len = ps.order.Uint32(rechdr[8:12])

	if incl_len > 256*1024 {
		ps.core.msg(fmt.Sprintf("Corrupt pcap record in %s claims %d bytes, stopping replay",
			ps.path, incl_len), MSG_ERROR)
		ps.Close()
		return 0
	}

	var data = make([]byte, incl_len)

	if _, readErr := io.ReadFull(ps.fp, data); readErr != nil {
		ps.core.msg("Truncated pcap record in "+ps.path+", stopping replay", MSG_ERROR)
		ps.Close()
		return 0
	}

	var ts time.Time
	if ps.nanos {
		ts = time.Unix(int64(ts_sec), int64(ts_frac))
	} else {
		ts = time.Unix(int64(ts_sec), int64(ts_frac)*1000)
	}

	var p = ps.core.Chain.GeneratePacket()

	p.Ts = ts
	p.Insert(ps.link_component, &link_frame_t{
		dlt:       ps.dlt,
		source_id: ps.source_id,
		data:      data,
	})

	ps.core.Chain.ProcessPacket(p)

	return 1
}

func (ps *pcapfile_source_t) UUID() string {
	return ps.uuid
}

func (ps *pcapfile_source_t) Interface() string {
	return ps.path
}

func (ps *pcapfile_source_t) Type() string {
	return "pcapfile"
}

func (ps *pcapfile_source_t) ChannelCapable() bool {
	return false
}

func (ps *pcapfile_source_t) ParseOptions(opts []opt_pair) error {
	return nil /* Everything we care about is in the path. */
}

func (ps *pcapfile_source_t) SetSourceID(id uint16) {
	ps.source_id = id
}
