package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmitAndRecent(t *testing.T) {
	log := NewLog(zap.NewNop())
	walletAddr := common.HexToAddress("0x1234")

	assert.Empty(t, log.Recent(0))

	first := log.Emit(TypeTransfer, walletAddr, Transfer{To: common.HexToAddress("0xaa")})
	second := log.Emit(TypeRefund, walletAddr, nil)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, TypeTransfer, first.Type)
	assert.Equal(t, walletAddr, first.Wallet)

	// Oldest first, full log when n is zero or too large.
	records := log.Recent(0)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)

	records = log.Recent(10)
	assert.Len(t, records, 2)

	// A positive n returns only the most recent records.
	records = log.Recent(1)
	require.Len(t, records, 1)
	assert.Equal(t, second.ID, records[0].ID)
}

func TestLogBoundedCapacity(t *testing.T) {
	log := NewLog(nil)
	log.capacity = 3
	walletAddr := common.HexToAddress("0x1234")

	var last Record
	for i := 0; i < 10; i++ {
		last = log.Emit(TypeTransactionExecuted, walletAddr, nil)
	}

	records := log.Recent(0)
	require.Len(t, records, 3)
	assert.Equal(t, last.ID, records[2].ID)
}

func TestEmitUsesClock(t *testing.T) {
	log := NewLog(nil)
	at := time.Unix(1_700_000_000, 0)
	log.clock = func() time.Time { return at }

	record := log.Emit(TypeApproved, common.HexToAddress("0x1234"), nil)
	assert.True(t, record.At.Equal(at))
}
