package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Transaction is a plain value transfer. Field order matches the canonical
// (lexicographic) key order used inside a block's hash payload.
type Transaction struct {
	Amount    float64 `json:"amount"`
	Receiver  string  `json:"receiver"`
	Sender    string  `json:"sender"`
	Timestamp float64 `json:"timestamp"`
}

// NewTransaction stamps the transaction with the current wall-clock time.
func NewTransaction(sender, receiver string, amount float64) *Transaction {
	return &Transaction{
		Amount:    amount,
		Receiver:  receiver,
		Sender:    sender,
		Timestamp: nowFunc(),
	}
}

// ParseAmount coerces user input into a transaction amount.
func ParseAmount(raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, raw, err)
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, raw)
	}
	return f, nil
}

// Hash is the keccak256 of the canonical encoding. It identifies the
// transaction in the mempool; it is not part of the block hash payload.
func (tx *Transaction) Hash() common.Hash {
	data, err := json.Marshal(tx)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(data)
}

func (tx *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(tx)
}

func copyTransactions(txs []*Transaction) []*Transaction {
	out := make([]*Transaction, len(txs))
	for i, tx := range txs {
		c := *tx
		out[i] = &c
	}
	return out
}

// nowFunc returns wall-clock seconds since the epoch with sub-second precision.
var nowFunc = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
