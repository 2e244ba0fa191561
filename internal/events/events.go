// Package events records the engine's observable outcomes in emission
// order, for external indexers and the REST surface. Each record is also
// mirrored to the structured log.
package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an event kind.
type Type string

const (
	TypeTransactionExecuted     Type = "transaction_executed"
	TypeRefund                  Type = "refund"
	TypeLimitChanged            Type = "limit_changed"
	TypePendingTransferCreated  Type = "pending_transfer_created"
	TypePendingTransferExecuted Type = "pending_transfer_executed"
	TypePendingTransferCanceled Type = "pending_transfer_canceled"
	TypeTransfer                Type = "transfer"
	TypeApproved                Type = "approved"
	TypeCalledContract          Type = "called_contract"
	TypeAddedToWhitelist        Type = "added_to_whitelist"
	TypeRemovedFromWhitelist    Type = "removed_from_whitelist"
)

// Record is one emitted event. Payload shapes are per-type structs with
// hexutil JSON encoding so the REST surface serves them verbatim.
type Record struct {
	ID      uuid.UUID      `json:"id"`
	Type    Type           `json:"type"`
	Wallet  common.Address `json:"wallet"`
	At      time.Time      `json:"at"`
	Payload interface{}    `json:"payload"`
}

// TransactionExecuted reports the outcome of a relayed call.
type TransactionExecuted struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"return_data"`
	SignHash   common.Hash   `json:"sign_hash"`
}

// Refund reports a relayer reimbursement.
type Refund struct {
	RefundAddress common.Address `json:"refund_address"`
	RefundToken   common.Address `json:"refund_token"`
	Amount        *hexutil.Big   `json:"amount"`
}

// LimitChanged reports a deferred limit change.
type LimitChanged struct {
	NewLimit    *hexutil.Big `json:"new_limit"`
	ChangeAfter int64        `json:"change_after"`
}

// PendingTransfer reports an escrow transition.
type PendingTransfer struct {
	TransferID   common.Hash    `json:"transfer_id"`
	Token        common.Address `json:"token"`
	To           common.Address `json:"to"`
	Amount       *hexutil.Big   `json:"amount"`
	ExecuteAfter int64          `json:"execute_after,omitempty"`
}

// Transfer reports value leaving the wallet.
type Transfer struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *hexutil.Big   `json:"amount"`
	Data   hexutil.Bytes  `json:"data,omitempty"`
}

// CalledContract reports an arbitrary authorized invocation.
type CalledContract struct {
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
}

// Whitelist reports a whitelist mutation.
type Whitelist struct {
	Target         common.Address `json:"target"`
	WhitelistAfter int64          `json:"whitelist_after,omitempty"`
}

const defaultCapacity = 1024

// Log is an in-process, order-preserving event log with a bounded buffer.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
	logger   *zap.Logger
	clock    func() time.Time
}

// NewLog creates an event log mirroring records to the given logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{
		capacity: defaultCapacity,
		logger:   logger,
		clock:    time.Now,
	}
}

// Emit appends a record and mirrors it to the structured log.
func (l *Log) Emit(eventType Type, walletAddr common.Address, payload interface{}) Record {
	l.mu.Lock()
	record := Record{
		ID:      uuid.New(),
		Type:    eventType,
		Wallet:  walletAddr,
		At:      l.clock(),
		Payload: payload,
	}
	l.records = append(l.records, record)
	if len(l.records) > l.capacity {
		l.records = l.records[len(l.records)-l.capacity:]
	}
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info("event emitted",
			zap.String("event_type", string(eventType)),
			zap.String("wallet", walletAddr.Hex()),
			zap.Any("payload", payload),
		)
	}
	return record
}

// Recent returns up to n most recent records, oldest first.
func (l *Log) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]Record, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}
