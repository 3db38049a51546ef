package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/decode"
)

func testStore(t *testing.T) *MessageStore {
	t.Helper()
	store, err := NewMessageStore(filepath.Join(t.TempDir(), "test.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func aprsMsg(src string) decode.Message {
	return decode.NewAprsMessage(decode.AprsPacket{
		SrcCall:    src,
		DestCall:   "APRS",
		Info:       ">test",
		PacketType: "Status",
		CrcOk:      true,
	})
}

func TestInsertAndRecentAprs(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Insert(aprsMsg("N0CALL-1")))
	require.NoError(t, store.Insert(aprsMsg("N0CALL-2")))

	pkts, err := store.RecentAprs(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Equal(t, "N0CALL-1", pkts[0].SrcCall, "oldest first")
	assert.Equal(t, "N0CALL-2", pkts[1].SrcCall)
}

func TestRecentAprsHonoursCutoff(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Insert(aprsMsg("N0CALL")))

	pkts, err := store.RecentAprs(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pkts)
}

func TestPruneKeepsCap(t *testing.T) {
	store, err := NewMessageStore(filepath.Join(t.TempDir(), "cap.db"), 5)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Insert(aprsMsg("N0CALL")))
	}
	n, err := store.Count(decode.KindAprs)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecentByKind(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Insert(aprsMsg("N0CALL")))
	require.NoError(t, store.Insert(decode.NewCwMessage(decode.CwEvent{Text: "CQ", Wpm: 20, ToneHz: 700})))

	msgs, err := store.Recent(decode.KindCw, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "CQ", msgs[0].Cw.Text)
}

func TestClear(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Insert(aprsMsg("N0CALL")))
	require.NoError(t, store.Clear())
	n, err := store.Count(decode.KindAprs)
	require.NoError(t, err)
	assert.Zero(t, n)
}
