package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Typed records carried by the control channel between
 *		the server and the capture helper.
 *
 * Description:	Each command's payload is a fixed width struct, packed
 *		with encoding/binary in host byte order (both ends are
 *		the same process family, so there is nothing to swap).
 *		The receive side copies out into these records before
 *		use; a frame shorter than its declared struct fails to
 *		decode and the handler drops it.
 *
 *		The frame payload record (captured frames crossing the
 *		privilege boundary) is the one variable length case:
 *		fixed header then the raw capture bytes.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const IPC_MAX_CHANNELS = 256

const IPC_TYPE_LEN = 64
const IPC_SOURCELINE_LEN = 4096

/* Channel management modes.  On the wire and in the source table. */
const (
	CHANMODE_LOCKED = 0
	CHANMODE_HOP    = 1
	CHANMODE_DWELL  = 2
)

/* Status flags in the source report record. */
const (
	IPC_REPORT_FLAG_NONE    = 0
	IPC_REPORT_FLAG_RUNNING = 1
	IPC_REPORT_FLAG_ERROR   = 2
)

type ipc_source_add_t struct {
	SourceID   uint16
	Type       [IPC_TYPE_LEN]byte
	SourceLine [IPC_SOURCELINE_LEN]byte
	ChanlistID uint16
	Channel    uint32
	Mode       uint32
	Rate       int32
	Dwell      int32
	Position   int32
}

type ipc_source_add_chanlist_t struct {
	ChanlistID  uint16
	NumChannels uint16
	Channels    [IPC_MAX_CHANNELS]uint32
	Dwells      [IPC_MAX_CHANNELS]uint32
}

type ipc_source_chanset_t struct {
	SourceID   uint16
	ChanlistID uint16 /* 0 means lock to Channel instead of a list. */
	Channel    uint32
	Mode       uint32
	Rate       int32
	Dwell      int32
	Split      uint8
}

type ipc_source_run_t struct {
	SourceID uint16
	Start    uint8
}

type ipc_source_remove_t struct {
	SourceID uint16
}

type ipc_source_report_t struct {
	SourceID     uint16
	ChanlistID   uint16
	Capabilities uint32
	Flags        uint32
	HopSec       uint32
	HopUsec      uint32
}

type ipc_source_frame_t struct {
	SourceID uint16
	TvSec    uint32
	TvUsec   uint32
	DLT      uint32
	PktLen   uint32
}

/* Pack/unpack plumbing.  binary.Write on a pointer-free fixed width
 * struct cannot fail against a bytes.Buffer; anything else here is a
 * programming error, hence the panic. */

func ipc_encode(v any) []byte {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.NativeEndian, v); err != nil {
		panic(err)
	}

	return buf.Bytes()
}

func ipc_decode(data []byte, v any) error {
	var want = binary.Size(v)

	if want < 0 {
		return fmt.Errorf("not a fixed width record: %T", v)
	}

	if len(data) < want {
		return fmt.Errorf("short frame: %d bytes for %T, want %d", len(data), v, want)
	}

	return binary.Read(bytes.NewReader(data[:want]), binary.NativeEndian, v)
}

/* Fixed width string fields: NUL padded, silently truncated. */

func put_padded(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}

	copy(dst, s)

	// Always leave room for a terminator so the other end can't
	// read an unterminated 4096 byte line.
	dst[len(dst)-1] = 0
}

func get_padded(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}

	return string(src)
}

/* The frame payload record: fixed header, then PktLen raw bytes. */

func encode_source_frame(hdr *ipc_source_frame_t, data []byte) []byte {
	hdr.PktLen = uint32(len(data))

	var out = ipc_encode(hdr)

	return append(out, data...)
}

func decode_source_frame(data []byte) (*ipc_source_frame_t, []byte, error) {
	var hdr ipc_source_frame_t

	if err := ipc_decode(data, &hdr); err != nil {
		return nil, nil, err
	}

	var fixed = binary.Size(&hdr)

	if len(data) < fixed+int(hdr.PktLen) {
		return nil, nil, fmt.Errorf("frame record truncated: have %d payload bytes, want %d",
			len(data)-fixed, hdr.PktLen)
	}

	var payload = make([]byte, hdr.PktLen)
	copy(payload, data[fixed:fixed+int(hdr.PktLen)])

	return &hdr, payload, nil
}
