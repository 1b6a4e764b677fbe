package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Capture source for Linux wireless interfaces.
 *
 * Description:	Monitor mode and channel changes go through the
 *		wireless extensions ioctls, capture through a raw
 *		AF_PACKET socket bound to the interface.  Chipset
 *		specific behavior lives in the kernel drivers; this is
 *		the generic path that works for anything exposing
 *		wireless extensions.
 *
 *		The autotype probe asks udev whether the named netdev
 *		is a wireless device, so plain "ncsource=wlan0" works
 *		without a type= option.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"net"
	"unsafe"

	"github.com/hashicorp/go-uuid"
	"github.com/jochenvg/go-udev"
	"golang.org/x/sys/unix"
)

/* Wireless extensions ioctls. */
const SIOCSIWMODE = 0x8B06
const SIOCSIWFREQ = 0x8B04

const IW_MODE_MONITOR = 6

const IFNAMSIZ = 16

/* Radiotap framing, what monitor mode hands us. */
const DLT_IEEE802_11_RADIO = 127

const ETH_P_ALL = 0x0003

type linuxwifi_source_t struct {
	core *core_state_t

	iface     string
	fd        int
	uuid      string
	source_id uint16

	link_component int
}

/* Probe: is this netdev a wireless device, per udev? */
func probe_linuxwifi(iface string) bool {
	var u udev.Udev

	var dev = u.NewDeviceFromSubsystemSysname("net", iface)
	if dev == nil {
		return false
	}

	if dev.Devtype() == "wlan" || dev.PropertyValue("DEVTYPE") == "wlan" {
		return true
	}

	/* Older stacks don't set DEVTYPE but do link the phy. */
	return dev.SysattrValue("phy80211/name") != ""
}

func new_linuxwifi_source(core *core_state_t, iface string, opts []opt_pair) (CaptureDriver, error) {
	var id, uuidErr = uuid.GenerateUUID()
	if uuidErr != nil {
		return nil, uuidErr
	}

	var src = &linuxwifi_source_t{
		core:           core,
		iface:          iface,
		fd:             -1,
		uuid:           id,
		link_component: core.Chain.RegisterComponent("LINKFRAME"),
	}

	return src, nil
}

func (ws *linuxwifi_source_t) Descriptor() int {
	return ws.fd
}

/* One iwreq: interface name, then 16 bytes of request payload. */
type iwreq_t struct {
	ifname [IFNAMSIZ]byte
	data   [16]byte
}

func (ws *linuxwifi_source_t) wext_ioctl(request uintptr, req *iwreq_t) error {
	copy(req.ifname[:IFNAMSIZ-1], ws.iface)

	/* Any old socket will carry a wireless extensions ioctl. */
	var sock, sockErr = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if sockErr != nil {
		return sockErr
	}
	defer unix.Close(sock)

	var _, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(sock), request,
		uintptr(unsafe.Pointer(req)))

	if errno != 0 {
		return errno
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:        EnableMonitor
 *
 * Purpose:     Put the interface into monitor mode so we see raw
 *		802.11 frames with radiotap headers.
 *
 *--------------------------------------------------------------------*/

func (ws *linuxwifi_source_t) EnableMonitor() error {
	var req iwreq_t

	*(*uint32)(unsafe.Pointer(&req.data[0])) = IW_MODE_MONITOR

	if ioctlErr := ws.wext_ioctl(SIOCSIWMODE, &req); ioctlErr != nil {
		return fmt.Errorf("set monitor mode on %s: %w", ws.iface, ioctlErr)
	}

	return nil
}

func (ws *linuxwifi_source_t) Open() error {
	var netif, ifErr = net.InterfaceByName(ws.iface)
	if ifErr != nil {
		return fmt.Errorf("lookup %s: %w", ws.iface, ifErr)
	}

	var proto = int(htons(ETH_P_ALL))

	var fd, sockErr = unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK, proto)
	if sockErr != nil {
		return fmt.Errorf("packet socket for %s: %w", ws.iface, sockErr)
	}

	var sll = &unix.SockaddrLinklayer{
		Protocol: htons(ETH_P_ALL),
		Ifindex:  netif.Index,
	}

	if bindErr := unix.Bind(fd, sll); bindErr != nil {
		unix.Close(fd)
		return fmt.Errorf("bind packet socket to %s: %w", ws.iface, bindErr)
	}

	ws.fd = fd

	return nil
}

func (ws *linuxwifi_source_t) Close() error {
	if ws.fd < 0 {
		return nil
	}

	var closeErr = unix.Close(ws.fd)
	ws.fd = -1

	return closeErr
}

/*-------------------------------------------------------------------
 *
 * Name:        SetChannel
 *
 * Purpose:     Tune the interface.  Values below 1000 are taken as
 *		channel indexes, anything larger as a frequency in
 *		MHz; the kernel sorts out the rest.
 *
 *--------------------------------------------------------------------*/

func (ws *linuxwifi_source_t) SetChannel(ch uint32) error {
	var req iwreq_t

	/* struct iw_freq: mantissa, exponent, index, flags. */
	if ch < 1000 {
		*(*int32)(unsafe.Pointer(&req.data[0])) = int32(ch)
		*(*int16)(unsafe.Pointer(&req.data[4])) = 0
	} else {
		*(*int32)(unsafe.Pointer(&req.data[0])) = int32(ch)
		*(*int16)(unsafe.Pointer(&req.data[4])) = 6
	}

	if ioctlErr := ws.wext_ioctl(SIOCSIWFREQ, &req); ioctlErr != nil {
		return fmt.Errorf("set channel %d on %s: %w", ch, ws.iface, ioctlErr)
	}

	return nil
}

func (ws *linuxwifi_source_t) Poll() int {
	if ws.fd < 0 {
		return 0
	}

	var buf [65536]byte

	var n, _, recvErr = unix.Recvfrom(ws.fd, buf[:], 0)

	if recvErr != nil {
		if recvErr == unix.EAGAIN || recvErr == unix.EINTR {
			return 0
		}

		ws.core.msg("Read error on "+ws.iface+": "+recvErr.Error(), MSG_ERROR)
		return 0
	}

	if n <= 0 {
		return 0
	}

	var data = make([]byte, n)
	copy(data, buf[:n])

	var p = ws.core.Chain.GeneratePacket()

	p.Insert(ws.link_component, &link_frame_t{
		dlt:       DLT_IEEE802_11_RADIO,
		source_id: ws.source_id,
		data:      data,
	})

	ws.core.Chain.ProcessPacket(p)

	return 1
}

func (ws *linuxwifi_source_t) UUID() string {
	return ws.uuid
}

func (ws *linuxwifi_source_t) Interface() string {
	return ws.iface
}

func (ws *linuxwifi_source_t) Type() string {
	return "linuxwifi"
}

func (ws *linuxwifi_source_t) ChannelCapable() bool {
	return true
}

func (ws *linuxwifi_source_t) ParseOptions(opts []opt_pair) error {
	return nil
}

func (ws *linuxwifi_source_t) SetSourceID(id uint16) {
	ws.source_id = id
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// RegisterDefaultSourceTypes registers the source types this build
// ships with.  Registration order matters: the autotype probe walks
// it front to back.
func RegisterDefaultSourceTypes(st *SourceTracker) {
	st.RegisterSourceType("linuxwifi", probe_linuxwifi, new_linuxwifi_source, "IEEE80211b", true)
	st.RegisterSourceType("pcapfile", probe_pcapfile, new_pcapfile_source, "n/a", false)
}
