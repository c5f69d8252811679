package journal

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palletizer-control/internal/config"
	"palletizer-control/internal/protocol"
)

func envelope(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.PacketControlWord, protocol.KindRequest, protocol.ControlWordRequest{SerialNumber: "SN-1", Command: protocol.CmdOperationStop})
	require.NoError(t, err)
	env.ID = "id-1"
	return env
}

func TestJournalWritesBothFormats(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(config.JournalConfig{Dir: dir, FileType: "both", MaxQueueSize: 10}, nil)
	require.NoError(t, err)
	j.now = func() time.Time { return time.Date(2024, 3, 9, 7, 0, 0, 0, time.UTC) }

	j.Tap("out", envelope(t), 88)
	j.Tap("in", envelope(t), 90)
	j.Close()
	j.Close()

	f, err := os.Open(filepath.Join(dir, "traffic.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var recs []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, "out", recs[0].Direction)
	assert.Equal(t, protocol.PacketControlWord, recs[0].Name)
	assert.Equal(t, "id-1", recs[0].ID)
	assert.Equal(t, 88, recs[0].Bytes)
	assert.JSONEq(t, `{"serial_number":"SN-1","command":7,"job":""}`, string(recs[0].Payload))

	cf, err := os.Open(filepath.Join(dir, "traffic.csv"))
	require.NoError(t, err)
	defer cf.Close()
	rows, err := csv.NewReader(cf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "in", rows[2][1])
	assert.Equal(t, "90", rows[2][5])
}

func TestJournalCSVHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		j, err := Open(config.JournalConfig{Dir: dir, FileType: "csv"}, nil)
		require.NoError(t, err)
		j.Tap("in", envelope(t), 1)
		j.Close()
	}
	cf, err := os.Open(filepath.Join(dir, "traffic.csv"))
	require.NoError(t, err)
	defer cf.Close()
	rows, err := csv.NewReader(cf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	_, err = os.Stat(filepath.Join(dir, "traffic.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestJournalRejectsUnknownType(t *testing.T) {
	_, err := Open(config.JournalConfig{Dir: t.TempDir(), FileType: "xml"}, nil)
	assert.Error(t, err)
}

func TestHandleDropsWhenFull(t *testing.T) {
	j := &Journal{q: make(chan Record, 1)}
	require.NoError(t, j.Handle(Record{Name: "a"}))
	assert.ErrorIs(t, j.Handle(Record{Name: "b"}), ErrQueueFull)
}
