package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Catalog of capture source types.
 *
 * Description:	Source variants are not a class hierarchy; each type
 *		registers a capability record at startup and live
 *		sources hold an opaque driver handle created by the
 *		record's factory.  The probe lets "type=auto" (or no
 *		type at all) resolve to the first registered type that
 *		recognises the interface.
 *
 *---------------------------------------------------------------*/

import "strings"

// The opaque per-source capture object.  On the unprivileged side of
// the privilege split the driver exists but is never opened, so
// Descriptor stays negative there.
type CaptureDriver interface {
	Descriptor() int
	EnableMonitor() error
	Open() error
	Close() error
	SetChannel(ch uint32) error

	// Poll drains one readable event from the descriptor and emits
	// into the packet chain.  Returns the number of frames handled.
	Poll() int

	UUID() string
	Interface() string
	Type() string
	ChannelCapable() bool

	// ParseOptions lets the driver consume source-line options the
	// core does not understand.
	ParseOptions(opts []opt_pair) error

	// SetSourceID tells the driver its table id for frame tagging.
	SetSourceID(id uint16)
}

type probe_fn func(iface string) bool

type factory_fn func(core *core_state_t, iface string, opts []opt_pair) (CaptureDriver, error)

type proto_type_t struct {
	type_tag            string /* Lowercased. */
	probe               probe_fn
	factory             factory_fn
	default_channellist string
	requires_root       bool
}

/*-------------------------------------------------------------------
 *
 * Name:        RegisterSourceType
 *
 * Purpose:     Register one capture source type.
 *
 * Inputs:	type_tag	- Type name as used in type=... options.
 *		probe		- Interface recogniser for auto typing.
 *		factory		- Driver constructor.
 *		default_channellist - List name used when the source
 *				  line names none.  "n/a" means the
 *				  type needs no list at all.
 *		requires_root	- Open must happen in the root helper.
 *
 * Returns:	1 on success, 0 for a duplicate type tag (first
 *		registration wins).
 *
 *--------------------------------------------------------------------*/

func (st *SourceTracker) RegisterSourceType(type_tag string, probe probe_fn, factory factory_fn,
	default_channellist string, requires_root bool) int {
	var tag = strings.ToLower(type_tag)

	for _, proto := range st.protos {
		if proto.type_tag == tag {
			st.core.msg("Capture source type '"+type_tag+"' already registered, ignoring.", MSG_ERROR)
			return 0
		}
	}

	st.protos = append(st.protos, &proto_type_t{
		type_tag:            tag,
		probe:               probe,
		factory:             factory,
		default_channellist: default_channellist,
		requires_root:       requires_root,
	})

	return 1
}

/* Resolve an explicit type=... option. */
func (st *SourceTracker) find_proto(type_tag string) *proto_type_t {
	var tag = strings.ToLower(type_tag)

	for _, proto := range st.protos {
		if proto.type_tag == tag {
			return proto
		}
	}

	return nil
}

/* First registered type whose probe accepts the interface. */
func (st *SourceTracker) autotype_probe(iface string) *proto_type_t {
	for _, proto := range st.protos {
		if proto.probe != nil && proto.probe(iface) {
			return proto
		}
	}

	return nil
}

// ProtoTypes returns the registered type tags, registration order.
func (st *SourceTracker) ProtoTypes() []string {
	var tags = make([]string, 0, len(st.protos))
	for _, proto := range st.protos {
		tags = append(tags, proto.type_tag)
	}

	return tags
}
