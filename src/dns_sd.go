package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the viewer service using DNS-SD.
 *
 * Description:	Remote viewers would rather discover a running capture
 *		server on the local network than type in addresses and
 *		ports.  This uses the pure-Go github.com/brutella/dnssd
 *		package so no system daemon or C library is needed.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brutella/dnssd"
)

const DNS_SD_SERVICE = "_husky._tcp"

/* Default service name to publish: "Husky on <hostname>", or just
 * "Husky" if the hostname cannot be obtained. */
func dns_sd_default_service_name() string {
	var hostname, hostnameErr = os.Hostname()
	if hostnameErr != nil {
		return "Husky"
	}

	// on some systems, an FQDN is returned; remove domain part
	hostname, _, _ = strings.Cut(hostname, ".")

	return "Husky on " + hostname
}

// AnnounceViewer publishes the viewer service; name "" picks the
// hostname-based default.
func AnnounceViewer(core *core_state_t, name string, port int) {
	if name == "" {
		name = dns_sd_default_service_name()
	}

	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNS_SD_SERVICE,
		Port: port,
	}

	var sv, svErr = dnssd.NewService(cfg)
	if svErr != nil {
		core.msg("DNS-SD: Failed to create service: "+svErr.Error(), MSG_ERROR)

		return
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		core.msg("DNS-SD: Failed to create responder: "+rpErr.Error(), MSG_ERROR)

		return
	}

	var _, addErr = rp.Add(sv)
	if addErr != nil {
		core.msg("DNS-SD: Failed to add service: "+addErr.Error(), MSG_ERROR)

		return
	}

	core.msg(fmt.Sprintf("DNS-SD: Announcing viewer service on port %d as '%s'", port, name),
		MSG_INFO)

	go func() {
		var respondErr = rp.Respond(context.Background())
		if respondErr != nil {
			core.msg("DNS-SD: Responder error: "+respondErr.Error(), MSG_ERROR)
		}
	}()
}
