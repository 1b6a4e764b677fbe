package husky

/*------------------------------------------------------------------
 *
 * Purpose:   	Entry point of the packet processing chain.
 *
 * Description:	Captured frames are handed off here and flow through
 *		registered handlers in chain position order.  The
 *		capture core only ever touches the post-capture
 *		position; everything downstream belongs to the
 *		analysis side of the house.
 *
 *		A frame carries the 16 bit id of its originating
 *		source rather than a pointer, so handlers resolve the
 *		back-reference through the source table and a frame
 *		that outlives its source is simply dropped there.
 *
 *---------------------------------------------------------------*/

import (
	"sort"
	"time"
)

const (
	CHAINPOS_POSTCAP = iota
	CHAINPOS_DECODE
	CHAINPOS_TRACKER
	CHAINPOS_LOGGING
)

// One captured frame working its way down the chain.
type Packet struct {
	Ts time.Time

	components map[int]any
}

// Link-layer frame component: the raw capture plus enough context to
// demangle it later.
type link_frame_t struct {
	dlt       uint32
	source_id uint16 /* Back-reference, resolved via the source table. */
	data      []byte
}

type chain_handler_t struct {
	pos      int
	priority int
	cb       func(p *Packet)
}

type PacketChain struct {
	next_component int
	components     map[string]int
	handlers       []chain_handler_t
}

func NewPacketChain() *PacketChain {
	return &PacketChain{
		next_component: 1,
		components:     make(map[string]int),
	}
}

// RegisterComponent names a packet component slot.  Registering the
// same name twice returns the same id.
func (pc *PacketChain) RegisterComponent(name string) int {
	if id, ok := pc.components[name]; ok {
		return id
	}

	var id = pc.next_component
	pc.next_component++
	pc.components[name] = id

	return id
}

// RegisterHandler inserts cb at the given chain position; lower
// priority runs first within a position.
func (pc *PacketChain) RegisterHandler(pos int, priority int, cb func(p *Packet)) {
	pc.handlers = append(pc.handlers, chain_handler_t{pos: pos, priority: priority, cb: cb})

	sort.SliceStable(pc.handlers, func(i, j int) bool {
		if pc.handlers[i].pos != pc.handlers[j].pos {
			return pc.handlers[i].pos < pc.handlers[j].pos
		}
		return pc.handlers[i].priority < pc.handlers[j].priority
	})
}

func (pc *PacketChain) GeneratePacket() *Packet {
	return &Packet{
		Ts:         time.Now(),
		components: make(map[int]any),
	}
}

func (p *Packet) Insert(component int, data any) {
	p.components[component] = data
}

func (p *Packet) Fetch(component int) any {
	return p.components[component]
}

// ProcessPacket runs one frame through every handler in order.  The
// chain owns the packet from here on.
func (pc *PacketChain) ProcessPacket(p *Packet) {
	for _, h := range pc.handlers {
		h.cb(p)
	}
}
