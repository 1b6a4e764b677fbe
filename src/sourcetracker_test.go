package husky

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"pgregory.net/rapid"
)

/*
 * A scriptable driver so the scheduler and privilege plumbing can be
 * exercised without touching real interfaces.
 */

var fake_fd_counter = 100

type fake_driver_t struct {
	iface string
	typ   string
	uuid  string

	fd      int
	open_fd int

	capable     bool
	fail_enable bool
	fail_open   bool
	fail_chan   bool

	monitor_on bool
	closed     bool
	source_id  uint16

	chan_calls  []uint32
	parsed_opts []opt_pair
}

func new_fake_driver(iface string, typ string, capable bool) *fake_driver_t {
	fake_fd_counter++

	var d = &fake_driver_t{
		iface:   iface,
		typ:     typ,
		fd:      -1,
		open_fd: fake_fd_counter,
		capable: capable,
	}

	d.uuid, _ = uuid.GenerateUUID()

	return d
}

func (d *fake_driver_t) Descriptor() int { return d.fd }

func (d *fake_driver_t) EnableMonitor() error {
	if d.fail_enable {
		return fmt.Errorf("monitor mode refused")
	}

	d.monitor_on = true

	return nil
}

func (d *fake_driver_t) Open() error {
	if d.fail_open {
		return fmt.Errorf("open refused")
	}

	d.fd = d.open_fd

	return nil
}

func (d *fake_driver_t) Close() error {
	d.fd = -1
	d.closed = true

	return nil
}

func (d *fake_driver_t) SetChannel(ch uint32) error {
	if d.fail_chan {
		return fmt.Errorf("channel set refused")
	}

	d.chan_calls = append(d.chan_calls, ch)

	return nil
}

func (d *fake_driver_t) Poll() int { return 0 }

func (d *fake_driver_t) UUID() string         { return d.uuid }
func (d *fake_driver_t) Interface() string    { return d.iface }
func (d *fake_driver_t) Type() string         { return d.typ }
func (d *fake_driver_t) ChannelCapable() bool { return d.capable }

func (d *fake_driver_t) ParseOptions(opts []opt_pair) error {
	d.parsed_opts = opts
	return nil
}

func (d *fake_driver_t) SetSourceID(id uint16) { d.source_id = id }

type fake_proto_reg_t struct {
	capable bool
	created []*fake_driver_t
}

func register_fake(st *SourceTracker, tag string, capable bool, requires_root bool,
	default_list string) *fake_proto_reg_t {
	var reg = &fake_proto_reg_t{capable: capable}

	st.RegisterSourceType(tag,
		func(iface string) bool { return strings.HasPrefix(iface, tag) },
		func(core *core_state_t, iface string, opts []opt_pair) (CaptureDriver, error) {
			var d = new_fake_driver(iface, tag, reg.capable)
			reg.created = append(reg.created, d)
			return d, nil
		},
		default_list, requires_root)

	return reg
}

/*
 * Basic add/remove bookkeeping.
 */

func TestAddSource_AssignsIdsAndFiresEvents(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var events []int
	st.RegisterSourceCallback(func(src *capture_source_t, event int) {
		events = append(events, event)
	})

	var id = st.AddSource("fake0:type=fake", nil)

	require.Equal(t, uint16(1), id)
	assert.Equal(t, []int{SOURCE_EVT_ADDED}, events)

	var src = st.FetchSource(id)
	require.NotNil(t, src)
	assert.Equal(t, "fake0", src.iface)
	assert.Equal(t, CHANMODE_HOP, src.mode)
	assert.False(t, src.local_only)

	st.RemoveSource(id)

	assert.Nil(t, st.FetchSource(id))
	assert.Equal(t, []int{SOURCE_EVT_ADDED, SOURCE_EVT_REMOVED}, events)
}

func TestSourceIdsNeverReused(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var a = st.AddSource("fake0:type=fake", nil)
	var b = st.AddSource("fake1:type=fake", nil)
	var c = st.AddSource("fake2:type=fake", nil)

	st.RemoveSource(b)

	var d = st.AddSource("fake3:type=fake", nil)

	assert.Equal(t, uint16(1), a)
	assert.Equal(t, uint16(2), b)
	assert.Equal(t, uint16(3), c)
	assert.Equal(t, uint16(4), d, "removed ids must not be handed out again")
}

func TestAddSource_UnknownTypeRejected(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	assert.Zero(t, st.AddSource("fake0:type=nosuch", nil))
}

func TestAddSource_MissingChannelListRejected(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	// No channel list registered at all.

	assert.Zero(t, st.AddSource("fake0:type=fake", nil))
}

func TestAddSource_BadOptionsRejected(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	assert.Zero(t, st.AddSource("fake0:hop", nil))
}

func TestFindSourceByUUIDAndDriver(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake", nil)
	var d = reg.created[0]

	assert.Equal(t, id, st.FindSourceByUUID(d.uuid).source_id)
	assert.Equal(t, id, st.FindSourceByDriver(d).source_id)
	assert.Nil(t, st.FindSourceByUUID("not-a-uuid"))
}

/*
 * Channel mode decisions.
 */

func TestModeDecision_LockedWantsChannel(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	assert.Zero(t, st.AddSource("fake0:type=fake,hop=false", nil),
		"hop=false with no channel= is an error")

	var id = st.AddSource("fake1:type=fake,hop=false,channel=6", nil)
	require.NotZero(t, id)

	var src = st.FetchSource(id)
	assert.Equal(t, CHANMODE_LOCKED, src.mode)
	assert.Equal(t, uint32(6), src.channel)
	assert.Zero(t, src.channel_rate)
	assert.Zero(t, src.channel_dwell)
}

func TestModeDecision_NotCapableForcesLocked(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fixed", false, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fixed0:type=fixed,velocity=5", nil)
	require.NotZero(t, id)

	assert.Equal(t, CHANMODE_LOCKED, st.FetchSource(id).mode)
}

func TestModeDecision_DwellAndVelocityExclusive(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,velocity=3,dwell=2", nil)
	require.NotZero(t, id)

	var src = st.FetchSource(id)
	assert.Equal(t, CHANMODE_HOP, src.mode, "velocity wins over dwell")
	assert.Equal(t, 3, src.channel_rate)
	assert.Zero(t, src.channel_dwell)
}

func TestModeDecision_DwellOnly(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,dwell=2", nil)
	require.NotZero(t, id)

	var src = st.FetchSource(id)
	assert.Equal(t, CHANMODE_DWELL, src.mode)
	assert.Equal(t, 2, src.channel_dwell)
	assert.Zero(t, src.channel_rate)
}

func TestModeDecision_RateClamped(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,velocity=30", nil)
	require.NotZero(t, id)

	assert.Equal(t, SLICES_PER_SEC, st.FetchSource(id).channel_rate)
}

/*
 * S1: basic hop.  rate=3 reloads the countdown as 1*(10-3)=7 slices,
 * so hops land on ticks 1, 8, 15 and the wrap on tick 22.
 */

func TestScenarioBasicHop(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("IEEE80211b:1,6,11")

	var id = st.AddSource("fake0:type=fake,channellist=IEEE80211b,velocity=3", nil)
	require.NotZero(t, id)
	require.Zero(t, st.StartSource(id))

	var src = st.FetchSource(id)
	var d = reg.created[0]

	for i := 0; i < 21; i++ {
		st.ChannelTick()
	}

	assert.Equal(t, []uint32{1, 6, 11}, d.chan_calls, "three hops in 21 ticks")
	assert.Equal(t, 3, src.channel_position)
	assert.Zero(t, src.tm_hop_time, "no wrap yet")

	st.ChannelTick()

	assert.Equal(t, []uint32{1, 6, 11, 1}, d.chan_calls)
	assert.Equal(t, 1, src.channel_position, "cursor wrapped and advanced")
	assert.Greater(t, int64(src.tm_hop_time), int64(0), "wrap records the pass duration")
}

/*
 * S2: dwell weighting.  Weights 1,3,1 with dwell=1 reload as 10, 30,
 * 10 slices, so a 51 tick run visits 1,6,11,1 and wraps once.
 */

func TestScenarioDwellWeighting(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "w")
	st.AddChannelList("W:1:1,6:3,11:1")

	var id = st.AddSource("fake0:type=fake,channellist=W,dwell=1", nil)
	require.NotZero(t, id)
	require.Zero(t, st.StartSource(id))

	var src = st.FetchSource(id)
	require.Equal(t, CHANMODE_DWELL, src.mode)

	var d = reg.created[0]

	for i := 0; i < 50; i++ {
		st.ChannelTick()
	}

	assert.Equal(t, []uint32{1, 6, 11}, d.chan_calls)

	st.ChannelTick()

	assert.Equal(t, []uint32{1, 6, 11, 1}, d.chan_calls, "one full pass plus the wrap")
	assert.Greater(t, int64(src.tm_hop_time), int64(0))
}

/*
 * S3: split offsets.  Two sharers on 12 channels start at 0 and 4; a
 * third re-split moves them to 0, 3, 6.
 */

func TestScenarioSplitOffsets(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "twelve")
	st.AddChannelList("twelve:1,2,3,4,5,6,7,8,9,10,11,12")

	var a = st.AddSource("fake0:type=fake", nil)
	var b = st.AddSource("fake1:type=fake", nil)
	require.NotZero(t, a)
	require.NotZero(t, b)

	st.ScheduleSplits()

	assert.Equal(t, 0, st.FetchSource(a).channel_position)
	assert.Equal(t, 4, st.FetchSource(b).channel_position)

	var c = st.AddSource("fake2:type=fake", nil)
	require.NotZero(t, c)

	st.ScheduleSplits()

	assert.Equal(t, 0, st.FetchSource(a).channel_position)
	assert.Equal(t, 3, st.FetchSource(b).channel_position)
	assert.Equal(t, 6, st.FetchSource(c).channel_position)
}

func TestSplitSkipsOptedOutSources(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "fake", true, false, "twelve")
	st.AddChannelList("twelve:1,2,3,4,5,6,7,8,9,10,11,12")

	var a = st.AddSource("fake0:type=fake", nil)
	var b = st.AddSource("fake1:type=fake,split=false", nil)
	var c = st.AddSource("fake2:type=fake", nil)

	st.ScheduleSplits()

	// Only a and c share; offset is 12/3=4.
	assert.Equal(t, 0, st.FetchSource(a).channel_position)
	assert.Equal(t, 0, st.FetchSource(b).channel_position)
	assert.Equal(t, 4, st.FetchSource(c).channel_position)
}

/*
 * S4: type autoprobe, registration order wins.
 */

func TestScenarioTypeAutoprobe(t *testing.T) {
	var _, st = new_test_tracker()
	register_fake(st, "wlan", false, false, "n/a")
	register_fake(st, "en", false, false, "n/a")

	var a = st.AddSource("wlan0", nil)
	require.NotZero(t, a)
	assert.Equal(t, "wlan", st.FetchSource(a).driver.Type())

	var b = st.AddSource("en1:type=auto", nil)
	require.NotZero(t, b)
	assert.Equal(t, "en", st.FetchSource(b).driver.Type())

	assert.Zero(t, st.AddSource("foo0", nil), "nothing probes foo0")
}

/*
 * S6: error containment.  One failing open leaves the rest of the
 * fleet capturing and hopping.
 */

func TestScenarioErrorContainment(t *testing.T) {
	var core, st = new_test_tracker()
	core.Euid = 0

	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var a = st.AddSource("fake0:type=fake", nil)
	var b = st.AddSource("fake1:type=fake", nil)
	var c = st.AddSource("fake2:type=fake", nil)

	reg.created[1].fail_open = true

	assert.Equal(t, -1, st.StartSource(0), "one failure counted")

	assert.False(t, st.FetchSource(a).error)
	assert.True(t, st.FetchSource(b).error)
	assert.False(t, st.FetchSource(c).error)

	var rset unix.FdSet
	rset.Zero()

	var max = st.MergeSet(0, &rset)

	assert.True(t, rset.IsSet(reg.created[0].fd))
	assert.True(t, rset.IsSet(reg.created[2].fd))
	assert.Equal(t, reg.created[2].fd, max)

	st.ChannelTick()

	assert.NotEmpty(t, reg.created[0].chan_calls)
	assert.NotEmpty(t, reg.created[2].chan_calls)
	assert.Empty(t, reg.created[1].chan_calls)
}

func TestRepeatedChannelErrorsShutSourceDown(t *testing.T) {
	var core, st = new_test_tracker()
	core.Euid = 0

	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,velocity=10", nil)
	require.Zero(t, st.StartSource(id))

	var d = reg.created[0]
	d.fail_chan = true

	/* velocity=10 fires every tick; MAX_CONSEC_CHAN_ERR+1 failures
	 * close the source. */
	for i := 0; i <= MAX_CONSEC_CHAN_ERR; i++ {
		st.ChannelTick()
	}

	var src = st.FetchSource(id)

	assert.True(t, src.error)
	assert.True(t, d.closed)
	assert.Equal(t, -1, d.fd)

	var rset unix.FdSet
	rset.Zero()
	assert.Zero(t, st.MergeSet(0, &rset), "errored source leaves the poll set")
}

func TestChannelErrorRecoveryResetsCount(t *testing.T) {
	var core, st = new_test_tracker()
	core.Euid = 0

	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,velocity=10", nil)
	require.Zero(t, st.StartSource(id))

	var d = reg.created[0]
	var src = st.FetchSource(id)

	d.fail_chan = true
	st.ChannelTick()
	st.ChannelTick()
	assert.Equal(t, 2, src.consec_channel_err)

	d.fail_chan = false
	st.ChannelTick()

	assert.Zero(t, src.consec_channel_err)
	assert.False(t, src.error)
}

/*
 * Spindown makes the poll integration inert.
 */

func TestSpindownStopsCaptureWork(t *testing.T) {
	var core, st = new_test_tracker()
	core.Euid = 0

	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake", nil)
	require.Zero(t, st.StartSource(id))

	core.Spindown = true

	var rset unix.FdSet
	rset.Zero()

	assert.Equal(t, 5, st.MergeSet(5, &rset), "merge returns max unchanged during spindown")
	assert.False(t, rset.IsSet(reg.created[0].fd))

	rset.Set(reg.created[0].fd)
	assert.Zero(t, st.Poll(&rset))
}

/*
 * Universal invariants under random hop configurations.
 */

func TestHopWrapInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var _, st = new_test_tracker()
		register_fake(st, "fake", true, false, "band")

		var length = rapid.IntRange(1, 8).Draw(t, "length")
		var entries = make([]string, 0, length)

		for i := 0; i < length; i++ {
			var weight = rapid.IntRange(1, 3).Draw(t, fmt.Sprintf("weight%d", i))
			entries = append(entries, fmt.Sprintf("%d:%d", i+1, weight))
		}

		var spec = "band:" + strings.Join(entries, ",")
		if st.AddChannelList(spec) == 0 {
			t.Fatalf("channel list %q did not parse", spec)
		}

		var rate = rapid.IntRange(0, 12).Draw(t, "rate")

		var id = st.AddSource(fmt.Sprintf("fake0:type=fake,velocity=%d", rate), nil)
		if id == 0 {
			t.Fatalf("source add failed")
		}

		var src = st.FetchSource(id)
		src.driver.(*fake_driver_t).fd = 100 /* Pretend it is open. */

		if src.channel_rate > SLICES_PER_SEC {
			t.Fatalf("stored rate %d above the slice ceiling", src.channel_rate)
		}

		var ticks = rapid.IntRange(0, 200).Draw(t, "ticks")

		for i := 0; i < ticks; i++ {
			st.ChannelTick()

			if src.channel_position < 0 || src.channel_position > length {
				t.Fatalf("cursor %d escaped [0, %d]", src.channel_position, length)
			}
		}
	})
}

func TestModeExclusionInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var _, st = new_test_tracker()
		register_fake(st, "fake", true, false, "band")
		st.AddChannelList("band:1,6,11")

		var opts = []string{"type=fake"}

		if rapid.Bool().Draw(t, "with_velocity") {
			opts = append(opts, fmt.Sprintf("velocity=%d", rapid.IntRange(1, 12).Draw(t, "velocity")))
		}
		if rapid.Bool().Draw(t, "with_dwell") {
			opts = append(opts, fmt.Sprintf("dwell=%d", rapid.IntRange(1, 5).Draw(t, "dwell")))
		}

		var id = st.AddSource("fake0:"+strings.Join(opts, ","), nil)
		if id == 0 {
			t.Fatalf("source add failed")
		}

		var src = st.FetchSource(id)

		switch src.mode {
		case CHANMODE_HOP:
			if src.channel_dwell != 0 {
				t.Fatalf("hop mode with dwell %d", src.channel_dwell)
			}
		case CHANMODE_DWELL:
			if src.channel_rate != 0 {
				t.Fatalf("dwell mode with rate %d", src.channel_rate)
			}
		default:
			t.Fatalf("unexpected mode %d", src.mode)
		}

		if src.channel_rate > SLICES_PER_SEC {
			t.Fatalf("rate %d above ceiling", src.channel_rate)
		}
	})
}

/*
 * Runtime channel control by UUID.
 */

func TestSetSourceHopping(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake", nil)
	var src = st.FetchSource(id)

	var events []int
	st.RegisterSourceCallback(func(s *capture_source_t, event int) {
		events = append(events, event)
	})

	require.Equal(t, 1, st.SetSourceHopping(reg.created[0].uuid, false, 11))

	assert.Equal(t, CHANMODE_LOCKED, src.mode)
	assert.Equal(t, uint32(11), src.channel)
	assert.Equal(t, []int{SOURCE_EVT_HOP_DISABLED}, events)

	require.Equal(t, 1, st.SetSourceHopping(reg.created[0].uuid, true, 0))

	assert.Equal(t, CHANMODE_HOP, src.mode)
	assert.Equal(t, []int{SOURCE_EVT_HOP_DISABLED, SOURCE_EVT_HOP_ENABLED}, events)

	assert.Equal(t, -1, st.SetSourceHopping("unknown-uuid", true, 0))
}

func TestSetSourceChannelList(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake", nil)
	var src = st.FetchSource(id)
	src.channel_position = 2

	var events []int
	st.RegisterSourceCallback(func(s *capture_source_t, event int) {
		events = append(events, event)
	})

	require.Equal(t, 1, st.SetSourceChannelList(reg.created[0].uuid, "fiveghz:36,40,44"))

	assert.Equal(t, "fiveghz", src.channel_ptr.name)
	assert.Zero(t, src.channel_position)
	assert.Equal(t, []int{SOURCE_EVT_CHANNELLIST_CHANGED}, events)

	assert.Equal(t, -1, st.SetSourceChannelList(reg.created[0].uuid, "garbage"),
		"a bad list leaves the source unchanged")
	assert.Equal(t, "fiveghz", src.channel_ptr.name)
}

func TestSetSourceHopDwell(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake", nil)
	var src = st.FetchSource(id)

	require.Equal(t, 1, st.SetSourceHopDwell(reg.created[0].uuid, 0, 3))

	assert.Equal(t, CHANMODE_DWELL, src.mode)
	assert.Equal(t, 3, src.channel_dwell)

	require.Equal(t, 1, st.SetSourceHopDwell(reg.created[0].uuid, 5, 0))

	assert.Equal(t, CHANMODE_HOP, src.mode)
	assert.Equal(t, 5, src.channel_rate)
	assert.Zero(t, src.channel_dwell)
}

/*
 * Viewer snapshot.
 */

func TestSourceCards(t *testing.T) {
	var _, st = new_test_tracker()
	var reg = register_fake(st, "fake", true, false, "band")
	st.AddChannelList("band:1,6,11")

	var id = st.AddSource("fake0:type=fake,name=Roof,velocity=3", nil)
	require.NotZero(t, id)

	var cards = st.SourceCards()

	require.Len(t, cards, 1)
	assert.Equal(t, "fake0", cards[0].Interface)
	assert.Equal(t, "fake", cards[0].Type)
	assert.Equal(t, "Roof", cards[0].Username)
	assert.Equal(t, reg.created[0].uuid, cards[0].UUID)
	assert.True(t, cards[0].Hop)
	assert.Equal(t, 3, cards[0].Velocity)
	assert.Equal(t, "band", cards[0].ChannelList)
}
