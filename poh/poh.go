package poh

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"triad-node/core"
	"triad-node/logger"

	"github.com/minio/sha256-simd"
)

const seedPhrase = "TriadPoH"

var ErrHistoryMismatch = errors.New("proof-of-history mismatch")

var nowFunc = func() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Entry is one recorded event.
type Entry struct {
	Counter uint64  `json:"counter"`
	Time    float64 `json:"time"`
	Digest  string  `json:"digest"`
}

// ProofOfHistory keeps a rolling digest: every event hashes the previous
// digest together with the wall-clock time and an increasing counter.
type ProofOfHistory struct {
	lastDigest string
	counter    uint64
	journal    Journal
	mu         sync.Mutex
}

// Seed is the digest the chain starts from.
func Seed() string {
	sum := sha256.Sum256([]byte(seedPhrase))
	return hex.EncodeToString(sum[:])
}

func New() *ProofOfHistory {
	return &ProofOfHistory{lastDigest: Seed()}
}

// NewWithJournal persists every event to j and resumes from its last entry.
func NewWithJournal(j Journal) (*ProofOfHistory, error) {
	p := New()
	p.journal = j

	last, ok, err := j.Last()
	if err != nil {
		return nil, fmt.Errorf("read poh journal: %w", err)
	}
	if ok {
		p.lastDigest = last.Digest
		p.counter = last.Counter
		logger.Infof("Proof-of-history resumed at counter %d", last.Counter)
	}
	return p, nil
}

// RecordEvent advances the chain by one event and returns the new digest.
// If the journal write fails the state is left unchanged.
func (p *ProofOfHistory) RecordEvent() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := Entry{
		Counter: p.counter + 1,
		Time:    nowFunc(),
	}
	entry.Digest = digest(p.lastDigest, entry.Time, entry.Counter)

	if p.journal != nil {
		if err := p.journal.Append(entry); err != nil {
			return "", fmt.Errorf("append poh entry %d: %w", entry.Counter, err)
		}
	}
	p.counter = entry.Counter
	p.lastDigest = entry.Digest
	logger.Debugf("PoH event %d: %s", entry.Counter, entry.Digest)
	return entry.Digest, nil
}

func (p *ProofOfHistory) Counter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

func (p *ProofOfHistory) LastDigest() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDigest
}

// VerifyEntries replays entries from seed and reports the first one whose
// counter or digest does not follow from its predecessor.
func VerifyEntries(seed string, entries []Entry) error {
	prev := seed
	for i, e := range entries {
		if e.Counter != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has counter %d", ErrHistoryMismatch, i, e.Counter)
		}
		if want := digest(prev, e.Time, e.Counter); e.Digest != want {
			return fmt.Errorf("%w: entry %d digest %s, expected %s", ErrHistoryMismatch, e.Counter, e.Digest, want)
		}
		prev = e.Digest
	}
	return nil
}

func digest(prev string, t float64, counter uint64) string {
	payload := prev + ":" + core.FormatFloat(t) + ":" + strconv.FormatUint(counter, 10)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
