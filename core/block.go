package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minio/sha256-simd"
)

const (
	// GenesisPrevHash is the parent reference carried by the genesis block.
	GenesisPrevHash = "0"
	// DefaultMaxAttempts bounds a proof-of-work search.
	DefaultMaxAttempts = 1_000_000
	// MaxDifficulty is the length of a hex-encoded SHA-256 digest.
	MaxDifficulty = sha256.Size * 2

	ctxCheckInterval = 4096
)

// Block is a ledger entry. Votes and DoubleVoters are consensus metadata:
// they never enter the hash payload.
type Block struct {
	Index         uint64         `json:"index"`
	Transactions  []*Transaction `json:"transactions"`
	PrevHash      string         `json:"prev_hash"`
	PowCheckpoint bool           `json:"pow_checkpoint"`
	Timestamp     float64        `json:"timestamp"`
	Nonce         uint64         `json:"nonce"`
	Hash          string         `json:"hash"`
	Votes         []string       `json:"votes,omitempty"`
	DoubleVoters  []string       `json:"double_voters,omitempty"`
}

// hashPayload fixes the canonical key order of the hashed fields:
// index, nonce, pow_checkpoint, prev_hash, timestamp, transactions.
type hashPayload struct {
	Index         uint64       `json:"index"`
	Nonce         uint64       `json:"nonce"`
	PowCheckpoint bool         `json:"pow_checkpoint"`
	PrevHash      string       `json:"prev_hash"`
	Timestamp     payloadFloat `json:"timestamp"`
	Transactions  []txPayload  `json:"transactions"`
}

type txPayload struct {
	Amount    payloadFloat `json:"amount"`
	Receiver  string       `json:"receiver"`
	Sender    string       `json:"sender"`
	Timestamp payloadFloat `json:"timestamp"`
}

// blockView is the external representation without consensus metadata.
type blockView struct {
	Index         uint64      `json:"index"`
	Transactions  []txPayload `json:"transactions"`
	PrevHash      string      `json:"prev_hash"`
	PowCheckpoint bool        `json:"pow_checkpoint"`
	Timestamp     float64     `json:"timestamp"`
	Nonce         uint64      `json:"nonce"`
	Hash          string      `json:"hash"`
}

// BlockOption sets optional fields at construction time, before the hash is taken.
type BlockOption func(*Block)

// WithVotes annotates a consensus proposal with the ids that voted for it.
func WithVotes(votes []string) BlockOption {
	return func(b *Block) {
		b.Votes = append([]string{}, votes...)
	}
}

// AsCheckpoint marks the block as finalized by proof-of-work.
func AsCheckpoint() BlockOption {
	return func(b *Block) {
		b.PowCheckpoint = true
	}
}

// NewBlock creates a block and computes its hash. Transactions are copied.
func NewBlock(index uint64, transactions []*Transaction, prevHash string, opts ...BlockOption) *Block {
	if transactions == nil {
		transactions = []*Transaction{}
	}
	b := &Block{
		Index:        index,
		Transactions: copyTransactions(transactions),
		PrevHash:     prevHash,
		Timestamp:    nowFunc(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Hash = b.ComputeHash()
	return b
}

// NewGenesisBlock returns the chain root: index 0, no transactions, parent "0".
func NewGenesisBlock() *Block {
	return NewBlock(0, nil, GenesisPrevHash)
}

// canonicalPayload encodes the hashed fields: fixed key order, no
// whitespace, no HTML escaping.
func (b *Block) canonicalPayload() ([]byte, error) {
	txs := make([]txPayload, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = txPayload{
			Amount:    payloadFloat(tx.Amount),
			Receiver:  tx.Receiver,
			Sender:    tx.Sender,
			Timestamp: payloadFloat(tx.Timestamp),
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(hashPayload{
		Index:         b.Index,
		Nonce:         b.Nonce,
		PowCheckpoint: b.PowCheckpoint,
		PrevHash:      b.PrevHash,
		Timestamp:     payloadFloat(b.Timestamp),
		Transactions:  txs,
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeHash returns the lowercase hex SHA-256 of the canonical payload.
// It does not store the result.
func (b *Block) ComputeHash() string {
	payload, err := b.canonicalPayload()
	if err != nil {
		// Only non-finite floats can fail to encode; they never reach a block.
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether the stored hash matches the current fields.
func (b *Block) VerifyHash() bool {
	return b.Hash != "" && b.Hash == b.ComputeHash()
}

// ProofOfWork searches for a nonce whose hash starts with difficulty '0'
// hex characters. See ProofOfWorkContext.
func (b *Block) ProofOfWork(difficulty, maxAttempts int) (string, error) {
	h, _, err := b.ProofOfWorkContext(context.Background(), difficulty, maxAttempts)
	return h, err
}

// ProofOfWorkContext tries nonces 0, 1, 2, ... and refreshes the timestamp on
// every attempt, so the accepted block reports the time of the winning
// attempt. It returns the winning hash and the number of attempts used.
// Cancellation is reported as exhaustion. On failure the block keeps its
// previous nonce, timestamp and hash.
func (b *Block) ProofOfWorkContext(ctx context.Context, difficulty, maxAttempts int) (string, int, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return "", 0, fmt.Errorf("%w: %d (must be 0..%d)", ErrInvalidDifficulty, difficulty, MaxDifficulty)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	prefix := strings.Repeat("0", difficulty)
	origNonce, origTimestamp, origHash := b.Nonce, b.Timestamp, b.Hash
	restore := func() {
		b.Nonce, b.Timestamp, b.Hash = origNonce, origTimestamp, origHash
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				restore()
				return "", attempt, fmt.Errorf("%w after %d attempts: %w", ErrProofOfWorkExhausted, attempt, err)
			}
		}
		b.Nonce = uint64(attempt)
		b.Timestamp = nowFunc()
		h := b.ComputeHash()
		if strings.HasPrefix(h, prefix) {
			b.Hash = h
			return h, attempt + 1, nil
		}
	}
	restore()
	return "", maxAttempts, fmt.Errorf("%w after %d attempts", ErrProofOfWorkExhausted, maxAttempts)
}

// WithDoubleVoters returns a copy of the block annotated with the double
// voters found while resolving it. The hash is unaffected.
func (b *Block) WithDoubleVoters(ids []string) *Block {
	c := b.Clone()
	c.DoubleVoters = append([]string{}, ids...)
	return c
}

// Clone returns a deep copy.
func (b *Block) Clone() *Block {
	c := *b
	c.Transactions = copyTransactions(b.Transactions)
	if b.Votes != nil {
		c.Votes = append([]string{}, b.Votes...)
	}
	if b.DoubleVoters != nil {
		c.DoubleVoters = append([]string{}, b.DoubleVoters...)
	}
	return &c
}

// ToJSON serializes the canonical external view (no consensus metadata).
func (b *Block) ToJSON() ([]byte, error) {
	return json.Marshal(b.view())
}

// DebugJSON serializes the block including votes and double voters.
func (b *Block) DebugJSON() ([]byte, error) {
	return json.Marshal(b)
}

func (b *Block) view() blockView {
	txs := make([]txPayload, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = txPayload{
			Amount:    payloadFloat(tx.Amount),
			Receiver:  tx.Receiver,
			Sender:    tx.Sender,
			Timestamp: payloadFloat(tx.Timestamp),
		}
	}
	return blockView{
		Index:         b.Index,
		Transactions:  txs,
		PrevHash:      b.PrevHash,
		PowCheckpoint: b.PowCheckpoint,
		Timestamp:     b.Timestamp,
		Nonce:         b.Nonce,
		Hash:          b.Hash,
	}
}

// BlockFromJSON deserializes a block produced by ToJSON or DebugJSON.
func BlockFromJSON(data []byte) (*Block, error) {
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	if block.Transactions == nil {
		block.Transactions = []*Transaction{}
	}
	return &block, nil
}
