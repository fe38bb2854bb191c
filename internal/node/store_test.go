package node

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sharding-experiment/slotvault/internal/custody"
	"github.com/sharding-experiment/slotvault/internal/protocol"
	"github.com/sharding-experiment/slotvault/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Height: 7,
		State: custody.State{
			Holdings: []registry.Holding{
				{Slot: 0, Asset: common.HexToAddress("0x1001"), Custodian: common.HexToAddress("0xa0"), Value: protocol.MustParseUnits("0.2")},
				{Slot: 1, Asset: common.HexToAddress("0x1002"), Custodian: common.HexToAddress("0xb0"), Value: protocol.MustParseUnits("2.1")},
			},
			Profit: protocol.MustParseUnits("1.9"),
			Stranded: []protocol.Release{{
				ID:        "rel-1",
				Asset:     common.HexToAddress("0x1003"),
				Recipient: common.HexToAddress("0xb1"),
				Value:     uint256.NewInt(10),
				Reason:    protocol.ReasonBounced,
			}},
		},
	}
}

func TestStateStore_Memory(t *testing.T) {
	s, err := NewStateStore("")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no snapshot")

	require.NoError(t, s.Save(sampleSnapshot()))
	snap, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), snap.Height)
	require.Len(t, snap.State.Holdings, 2)
	assert.Equal(t, common.HexToAddress("0x1002"), snap.State.Holdings[1].Asset)
	assert.Equal(t, "1.9", protocol.FormatUnits(snap.State.Profit))
	require.Len(t, snap.State.Stranded, 1)
	assert.Equal(t, "rel-1", snap.State.Stranded[0].ID)
}

func TestStateStore_SaveReplaces(t *testing.T) {
	s, err := NewStateStore("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(sampleSnapshot()))
	require.NoError(t, s.Save(Snapshot{Height: 8, State: custody.State{Profit: new(uint256.Int)}}))

	snap, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8), snap.Height)
	assert.Empty(t, snap.State.Holdings)
}

func TestStateStore_LevelDBReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	s, err := NewStateStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleSnapshot()))
	require.NoError(t, s.Close())

	reopened, err := NewStateStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	snap, ok, err := reopened.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), snap.Height)
	assert.Len(t, snap.State.Holdings, 2)
}

func TestStateStore_Closed(t *testing.T) {
	s, err := NewStateStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "Close is idempotent")

	assert.Error(t, s.Save(sampleSnapshot()))
	_, _, err = s.Load()
	assert.Error(t, err)
}
