package husky

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write_test_pcap(t *testing.T, records [][]byte) string {
	t.Helper()

	var buf []byte

	var hdr [PCAP_GLOBAL_HEADER_LEN]byte
	binary.LittleEndian.PutUint32(hdr[0:4], PCAP_MAGIC)
	binary.LittleEndian.PutUint16(hdr[4:6], 2)  /* version major */
	binary.LittleEndian.PutUint16(hdr[6:8], 4)  /* version minor */
	binary.LittleEndian.PutUint32(hdr[16:20], 65535)
	binary.LittleEndian.PutUint32(hdr[20:24], DLT_IEEE802_11_RADIO)

	buf = append(buf, hdr[:]...)

	for i, rec := range records {
		var rechdr [PCAP_RECORD_HEADER_LEN]byte
		binary.LittleEndian.PutUint32(rechdr[0:4], uint32(1000+i))
		binary.LittleEndian.PutUint32(rechdr[4:8], uint32(i))
		binary.LittleEndian.PutUint32(rechdr[8:12], uint32(len(rec)))
		binary.LittleEndian.PutUint32(rechdr[12:16], uint32(len(rec)))

		buf = append(buf, rechdr[:]...)
		buf = append(buf, rec...)
	}

	var path = filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	return path
}

func TestPcapfileProbe(t *testing.T) {
	var path = write_test_pcap(t, nil)

	assert.True(t, probe_pcapfile(path))
	assert.False(t, probe_pcapfile(filepath.Join(t.TempDir(), "missing.pcap")))

	var garbage = filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not a capture"), 0o644))
	assert.False(t, probe_pcapfile(garbage))
}

func TestPcapfileReplay(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})

	var path = write_test_pcap(t, [][]byte{
		{0xaa, 0xbb},
		{0xcc, 0xdd, 0xee},
	})

	var driver, newErr = new_pcapfile_source(core, path, nil)
	require.NoError(t, newErr)

	driver.SetSourceID(7)

	assert.False(t, driver.ChannelCapable())
	assert.Equal(t, -1, driver.Descriptor())
	assert.Error(t, driver.SetChannel(6))

	require.NoError(t, driver.EnableMonitor())
	require.NoError(t, driver.Open())
	assert.GreaterOrEqual(t, driver.Descriptor(), 0)

	var got []*link_frame_t
	var comp = core.Chain.RegisterComponent("LINKFRAME")

	core.Chain.RegisterHandler(CHAINPOS_POSTCAP, 0, func(p *Packet) {
		if lf, ok := p.Fetch(comp).(*link_frame_t); ok {
			got = append(got, lf)
		}
	})

	assert.Equal(t, 1, driver.Poll())
	assert.Equal(t, 1, driver.Poll())

	/* End of file closes the source. */
	assert.Zero(t, driver.Poll())
	assert.Equal(t, -1, driver.Descriptor())

	require.Len(t, got, 2)
	assert.Equal(t, []byte{0xaa, 0xbb}, got[0].data)
	assert.Equal(t, []byte{0xcc, 0xdd, 0xee}, got[1].data)
	assert.Equal(t, uint16(7), got[0].source_id)
	assert.Equal(t, uint32(DLT_IEEE802_11_RADIO), got[0].dlt)
}

func TestPcapfileOpenRejectsGarbage(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})

	var garbage = filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 64), 0o644))

	var driver, newErr = new_pcapfile_source(core, garbage, nil)
	require.NoError(t, newErr)

	assert.Error(t, driver.Open())
	assert.Equal(t, -1, driver.Descriptor())
}

func TestPcapfileTruncatedRecordStopsReplay(t *testing.T) {
	var core = new_core_state([]string{"huskytest"})

	var path = write_test_pcap(t, [][]byte{{0x01, 0x02, 0x03}})

	/* Chop the last payload byte off. */
	var data, readErr = os.ReadFile(path)
	require.NoError(t, readErr)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))

	var driver, _ = new_pcapfile_source(core, path, nil)
	require.NoError(t, driver.Open())

	assert.Zero(t, driver.Poll())
	assert.Equal(t, -1, driver.Descriptor())
}
