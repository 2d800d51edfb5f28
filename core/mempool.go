package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Mempool is the ordered buffer of transactions not yet included in a block.
type Mempool struct {
	transactions []*Transaction
	index        map[common.Hash]*Transaction
	mu           sync.RWMutex
}

func NewMempool() *Mempool {
	return &Mempool{
		transactions: []*Transaction{},
		index:        make(map[common.Hash]*Transaction),
	}
}

// AddTransaction appends tx to the buffer. No validation is done here.
func (mp *Mempool) AddTransaction(tx *Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.transactions = append(mp.transactions, tx)
	mp.index[tx.Hash()] = tx
}

func (mp *Mempool) GetTransaction(hash common.Hash) *Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.index[hash]
}

// GetPendingTransactions returns a snapshot of the buffer in insertion order.
func (mp *Mempool) GetPendingTransactions() []*Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]*Transaction, len(mp.transactions))
	copy(txs, mp.transactions)
	return txs
}

func (mp *Mempool) Clear() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.transactions = []*Transaction{}
	mp.index = make(map[common.Hash]*Transaction)
}

func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.transactions)
}
