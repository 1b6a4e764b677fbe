package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Control channel between the unprivileged server and
 *		the root capture helper.
 *
 * Description:	One socketpair, length-prefixed frames:
 *
 *			cmdnum   u32   command id
 *			ack      u32   reserved, always 0 for now
 *			data_len u32   payload length
 *			data     ...   command specific record
 *
 *		Command ids are allocated by registration order, so
 *		both ends register the same command names in the same
 *		order and the ids agree without ever being exchanged.
 *
 *		Handlers are role-gated: a handler that receives a
 *		frame addressed to the other side returns 0 and the
 *		frame is dropped.  That lets the same handler table run
 *		unchanged on both sides of the privilege split.
 *
 *		Writes may land short on a full socket buffer; the
 *		remainder stays queued here and drains opportunistically
 *		on every send and every poll.  Callers see a reliable
 *		ordered bridge.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

const (
	ROLE_SERVER = 0
	ROLE_HELPER = 1
)

const IPC_FRAME_HEADER_LEN = 12

// Ceiling on one frame's payload.  Far above the biggest legitimate
// record (a full size captured frame), so anything larger means the
// stream has desynced.
const IPC_MAX_FRAME_DATA = 1 << 20

/* The helper inherits its end of the socketpair as this descriptor. */
const IPC_HELPER_FD = 3

// Returns nonzero when the frame was consumed.  Zero means "not for
// this side" or "malformed"; either way the frame is dropped.
type ipc_handler_fn func(data []byte) int

type ipc_command_t struct {
	name    string
	handler ipc_handler_fn
}

type IPCRemote struct {
	core *core_state_t
	role int

	fd       int
	commands []ipc_command_t /* Command id is index + 1. */

	wbuf []byte /* Pending partial writes. */
	rbuf []byte /* Partial inbound frame accumulation. */

	drop_count int /* Structural drops, for rate-limited warnings. */

	child *exec.Cmd
}

func NewIPCRemote(core *core_state_t, role int) *IPCRemote {
	return &IPCRemote{core: core, role: role, fd: -1}
}

func (ipc *IPCRemote) Role() int {
	return ipc.role
}

func (ipc *IPCRemote) Attached() bool {
	return ipc.fd >= 0
}

/*-------------------------------------------------------------------
 *
 * Name:        RegisterCommand
 *
 * Purpose:     Allocate the next command id for a named command.
 *
 * Description:	Registration order IS the id assignment, so every
 *		subsystem must register its commands in the same order
 *		on both sides.  Re-registering a name replaces the
 *		handler and keeps the id stable.
 *
 * Returns:	The command id (1 based; 0 is never a valid id).
 *
 *--------------------------------------------------------------------*/

func (ipc *IPCRemote) RegisterCommand(name string, handler ipc_handler_fn) uint32 {
	for i := range ipc.commands {
		if ipc.commands[i].name == name {
			ipc.commands[i].handler = handler
			return uint32(i + 1)
		}
	}

	ipc.commands = append(ipc.commands, ipc_command_t{name: name, handler: handler})

	return uint32(len(ipc.commands))
}

// AttachFD takes ownership of one end of the control socketpair.
func (ipc *IPCRemote) AttachFD(fd int) error {
	if setErr := unix.SetNonblock(fd, true); setErr != nil {
		return fmt.Errorf("ipc: set nonblock: %w", setErr)
	}

	ipc.fd = fd

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:        SpawnHelper
 *
 * Purpose:     Launch the privileged capture helper with its end of
 *		the control channel as an inherited descriptor.
 *
 * Inputs:	binary	- Helper executable path.
 *		args	- Extra arguments.
 *
 *--------------------------------------------------------------------*/

func (ipc *IPCRemote) SpawnHelper(binary string, args []string) error {
	var fds, pairErr = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if pairErr != nil {
		return fmt.Errorf("ipc: socketpair: %w", pairErr)
	}

	var childEnd = os.NewFile(uintptr(fds[1]), "husky-ipc")

	ipc.child = exec.Command(binary, args...)
	ipc.child.Stdout = os.Stdout
	ipc.child.Stderr = os.Stderr
	ipc.child.ExtraFiles = []*os.File{childEnd} /* Becomes IPC_HELPER_FD. */

	if startErr := ipc.child.Start(); startErr != nil {
		childEnd.Close()
		unix.Close(fds[0])
		return fmt.Errorf("ipc: spawn %s: %w", binary, startErr)
	}

	childEnd.Close()

	return ipc.AttachFD(fds[0])
}

// Detach closes the channel and reaps the helper if we spawned one.
// A helper without its server has nothing left to do, so losing the
// channel on that side spins the process down.
func (ipc *IPCRemote) Detach() {
	if ipc.fd >= 0 {
		unix.Close(ipc.fd)
		ipc.fd = -1

		if ipc.role == ROLE_HELPER {
			ipc.core.Spindown = true
		}
	}

	if ipc.child != nil {
		ipc.child.Wait()
		ipc.child = nil
	}

	ipc.wbuf = nil
	ipc.rbuf = nil
}

/*-------------------------------------------------------------------
 *
 * Name:        SendFrame
 *
 * Purpose:     Queue one frame for transmission and push as much of
 *		the queue as the socket will take right now.
 *
 *--------------------------------------------------------------------*/

func (ipc *IPCRemote) SendFrame(cmdnum uint32, data []byte) error {
	if ipc.fd < 0 {
		return fmt.Errorf("ipc: not attached")
	}

	if cmdnum == 0 || int(cmdnum) > len(ipc.commands) {
		return fmt.Errorf("ipc: unknown command id %d", cmdnum)
	}

	var hdr [IPC_FRAME_HEADER_LEN]byte
	binary.NativeEndian.PutUint32(hdr[0:4], cmdnum)
	binary.NativeEndian.PutUint32(hdr[4:8], 0)
	binary.NativeEndian.PutUint32(hdr[8:12], uint32(len(data)))

	ipc.wbuf = append(ipc.wbuf, hdr[:]...)
	ipc.wbuf = append(ipc.wbuf, data...)

	ipc.drain_writes()

	return nil
}

func (ipc *IPCRemote) drain_writes() {
	for len(ipc.wbuf) > 0 && ipc.fd >= 0 {
		var n, writeErr = unix.Write(ipc.fd, ipc.wbuf)

		if n > 0 {
			ipc.wbuf = ipc.wbuf[n:]
		}

		if writeErr != nil {
			if writeErr == unix.EAGAIN || writeErr == unix.EINTR {
				return
			}

			ipc.core.msg("IPC channel write failed: "+writeErr.Error(), MSG_ERROR)
			ipc.Detach()
			return
		}
	}
}

/* Structural garbage is dropped silently, but repeated garbage gets a
 * rate-limited warning so a desync doesn't go completely unseen. */
func (ipc *IPCRemote) drop_frame(reason string) {
	ipc.drop_count++

	if ipc.drop_count == 1 || ipc.drop_count%100 == 0 {
		ipc.core.msg(fmt.Sprintf("IPC dropped %d frame(s), most recently: %s",
			ipc.drop_count, reason), MSG_ERROR)
	}
}

func (ipc *IPCRemote) dispatch(cmdnum uint32, data []byte) {
	if cmdnum == 0 || int(cmdnum) > len(ipc.commands) {
		ipc.drop_frame(fmt.Sprintf("unknown command id %d", cmdnum))
		return
	}

	var cmd = &ipc.commands[cmdnum-1]

	if cmd.handler == nil {
		ipc.drop_frame("command '" + cmd.name + "' has no handler")
		return
	}

	/* A zero return is normal on the side a command isn't meant
	 * for; no accounting. */
	cmd.handler(data)
}

/*
 * Pollable plumbing.  The control channel descriptor joins the main
 * loop's read set like any capture descriptor.
 */

func (ipc *IPCRemote) MergeSet(in_max int, rset *unix.FdSet) int {
	if ipc.core.Spindown || ipc.fd < 0 {
		return in_max
	}

	rset.Set(ipc.fd)

	if ipc.fd > in_max {
		return ipc.fd
	}

	return in_max
}

func (ipc *IPCRemote) Poll(rset *unix.FdSet) int {
	if ipc.core.Spindown || ipc.fd < 0 {
		return 0
	}

	ipc.drain_writes()

	if ipc.fd < 0 || !rset.IsSet(ipc.fd) {
		return 0
	}

	var chunk [65536]byte

	var n, readErr = unix.Read(ipc.fd, chunk[:])

	if readErr != nil {
		if readErr == unix.EAGAIN || readErr == unix.EINTR {
			return 0
		}

		ipc.core.msg("IPC channel read failed: "+readErr.Error(), MSG_ERROR)
		ipc.Detach()
		return -1
	}

	if n == 0 {
		ipc.core.msg("IPC peer closed the control channel", MSG_ERROR)
		ipc.Detach()
		return -1
	}

	ipc.rbuf = append(ipc.rbuf, chunk[:n]...)

	var handled = 0

	for len(ipc.rbuf) >= IPC_FRAME_HEADER_LEN {
		var cmdnum = binary.NativeEndian.Uint32(ipc.rbuf[0:4])
		var datalen = binary.NativeEndian.Uint32(ipc.rbuf[8:12])

		if datalen > IPC_MAX_FRAME_DATA {
			ipc.core.msg(fmt.Sprintf("IPC stream desynced (frame claims %d bytes), dropping channel",
				datalen), MSG_ERROR)
			ipc.Detach()
			return -1
		}

		if len(ipc.rbuf) < IPC_FRAME_HEADER_LEN+int(datalen) {
			break /* Wait for the rest. */
		}

		var data = ipc.rbuf[IPC_FRAME_HEADER_LEN : IPC_FRAME_HEADER_LEN+datalen]
		ipc.dispatch(cmdnum, data)
		handled++

		ipc.rbuf = ipc.rbuf[IPC_FRAME_HEADER_LEN+datalen:]
	}

	if len(ipc.rbuf) == 0 {
		ipc.rbuf = nil
	}

	return handled
}
