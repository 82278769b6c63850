package servercore

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsTaskWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.xml")

	core := &Core{
		rtspSessions: newRTSPRegistry(),
		rtpSessions:  newRTPRegistry(),
		admission:    NewAdmission(0, 0),
	}
	core.admission.ReserveBandwidth(2048)

	st := newStatsTask(core, path, 0)
	require.NoError(t, st.write())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got statusPlist
	require.NoError(t, xml.Unmarshal(data, &got))
	require.Equal(t, uint64(2048), got.BandwidthBPS)

	// No leftover temp file from the rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParentDir(t *testing.T) {
	require.Equal(t, "/var/run", parentDir("/var/run/status.xml"))
	require.Equal(t, ".", parentDir("status.xml"))
}
