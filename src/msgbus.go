package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	In-process message bus for user-visible diagnostics.
 *
 * Description:	Everything the core wants to tell the operator goes
 *		through here with a severity flag.  The bus renders each
 *		message through a charmbracelet logger and also fans it
 *		out to registered clients (the text UI, remote viewer
 *		connections) so they can display it their own way.
 *
 *		A FATAL message additionally latches the process-wide
 *		fatal condition; the caller is expected to notice and
 *		unwind.  See core_state_t.
 *
 *---------------------------------------------------------------*/

import (
	"os"

	"github.com/charmbracelet/log"
)

const (
	MSG_INFO  = 1
	MSG_ERROR = 2
	MSG_FATAL = 4
	MSG_DEBUG = 8
	MSG_LOCAL = 16 /* Never forwarded to remote viewer clients. */
)

type msgbus_client_fn func(msg string, flags int)

type MessageBus struct {
	logger  *log.Logger
	clients []msgbus_client_fn
}

func NewMessageBus() *MessageBus {
	var mb = new(MessageBus)

	mb.logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	return mb
}

// SetDebug turns on rendering of MSG_DEBUG traffic, which is
// suppressed by default.
func (mb *MessageBus) SetDebug(debug bool) {
	if debug {
		mb.logger.SetLevel(log.DebugLevel)
	} else {
		mb.logger.SetLevel(log.InfoLevel)
	}
}

func (mb *MessageBus) RegisterClient(cb msgbus_client_fn) {
	mb.clients = append(mb.clients, cb)
}

/*-------------------------------------------------------------------
 *
 * Name:        Send
 *
 * Purpose:     Post one message to the operator and all bus clients.
 *
 * Inputs:	msg	- Message text, no trailing newline.
 *		flags	- MSG_* severity and routing flags.
 *
 *--------------------------------------------------------------------*/

func (mb *MessageBus) Send(msg string, flags int) {
	switch {
	case flags&MSG_FATAL != 0:
		mb.logger.Error(msg, "fatal", true)
	case flags&MSG_ERROR != 0:
		mb.logger.Error(msg)
	case flags&MSG_DEBUG != 0:
		mb.logger.Debug(msg)
	default:
		mb.logger.Info(msg)
	}

	for _, cb := range mb.clients {
		cb(msg, flags)
	}
}
