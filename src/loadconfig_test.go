package husky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
 * Configuration intake: defaults, filters, and failure latching.
 */

func TestLoadConfiguration(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channelvelocity=3",
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake",
		"ncsource=fake1:type=fake,hop=false,channel=6",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	require.NoError(t, st.LoadConfiguration())
	assert.False(t, core.Fatal)

	assert.Len(t, st.source_seq, 2)
	assert.Equal(t, 3, st.default_channel_rate)
	assert.Equal(t, 3, st.FetchSource(1).channel_rate, "default rate applies")
	assert.Equal(t, CHANMODE_LOCKED, st.FetchSource(2).mode)
}

func TestLoadConfiguration_DefaultDwell(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channeldwell=2",
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	require.NoError(t, st.LoadConfiguration())

	var src = st.FetchSource(1)
	assert.Equal(t, CHANMODE_DWELL, src.mode)
	assert.Equal(t, 2, src.channel_dwell)
	assert.Zero(t, src.channel_rate)
}

func TestLoadConfiguration_NoSourcesIsFatal(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channellist=band:1,6,11",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	assert.Error(t, st.LoadConfiguration())
	assert.True(t, core.Fatal)
}

func TestLoadConfiguration_BadSourceIsFatal(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channellist=band:1,6,11",
		"ncsource=fake0:type=nosuchtype",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	assert.Error(t, st.LoadConfiguration())
	assert.True(t, core.Fatal)
}

func TestLoadConfiguration_BadVelocityIsFatal(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channelvelocity=fast",
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	assert.Error(t, st.LoadConfiguration())
	assert.True(t, core.Fatal)
}

func TestLoadConfiguration_PresetFallback(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"ncsource=fake0:type=fake",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "IEEE80211b")

	require.NoError(t, st.LoadConfiguration())

	require.NotNil(t, st.FindChannelListByName("ieee80211b"),
		"built-in presets fill in when the config has no lists")
	assert.Equal(t, "ieee80211b", st.FetchSource(1).channel_ptr.name)
}

func TestLoadConfiguration_EnableFilterFromConfig(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"enablesources=alpha",
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake",
		"ncsource=fake1:type=fake,name=Alpha",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	require.NoError(t, st.LoadConfiguration())

	require.Len(t, st.source_seq, 1)
	assert.Equal(t, "fake1", st.source_seq[0].iface, "only the named source survives")
}

func TestLoadConfiguration_EnableFilterFromCommandLine(t *testing.T) {
	var core = new_core_state([]string{"huskytest", "-C", "fake0"})
	core.Conf = NewConfigFromLines([]string{
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake",
		"ncsource=fake1:type=fake",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	require.NoError(t, st.LoadConfiguration())

	require.Len(t, st.source_seq, 1)
	assert.Equal(t, "fake0", st.source_seq[0].iface)
}

func TestLoadConfiguration_CommandLineSources(t *testing.T) {
	var core = new_core_state([]string{
		"huskytest", "-c", "fake7:type=fake,hop=false,channel=11",
	})
	core.Conf = NewConfigFromLines([]string{
		"channellist=band:1,6,11",
		"ncsource=fake0:type=fake", /* Ignored: the command line won. */
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "band")

	require.NoError(t, st.LoadConfiguration())

	require.Len(t, st.source_seq, 1)
	assert.Equal(t, "fake7", st.source_seq[0].iface)
}

func TestLoadConfiguration_SplitAssignedAtConfigComplete(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})
	core.Conf = NewConfigFromLines([]string{
		"channellist=twelve:1,2,3,4,5,6,7,8,9,10,11,12",
		"ncsource=fake0:type=fake",
		"ncsource=fake1:type=fake",
	})

	var st = NewSourceTracker(core)
	register_fake(st, "fake", true, false, "twelve")

	require.NoError(t, st.LoadConfiguration())

	assert.Equal(t, 0, st.source_seq[0].channel_position)
	assert.Equal(t, 4, st.source_seq[1].channel_position)
}
