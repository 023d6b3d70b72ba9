// Package ledger builds the synthetic transaction records appended for every
// state-changing governance action, offers read-only projections over the
// ledger, and optionally exports appended transactions to Kafka, S3 and Postgres.
package ledger

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

// hashHexLen is the number of random hex characters in a synthetic hash.
const hashHexLen = 8

// Recorder creates transactions with synthetic hashes. Hashes come from the
// injected random source and are not checked for collisions.
type Recorder struct {
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	last time.Time
}

// NewRecorder returns a Recorder drawing hashes from rng and timestamps from now.
func NewRecorder(rng *rand.Rand, now func() time.Time) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{rng: rng, now: now}
}

// Hash returns a fresh synthetic transaction hash such as 0x1f3a9c04.
func (r *Recorder) Hash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashLocked()
}

func (r *Recorder) hashLocked() string {
	return fmt.Sprintf("0x%0*x", hashHexLen, r.rng.Uint32())
}

// New returns a confirmed transaction. Timestamps never go backwards across
// calls, so append order and timestamp order agree.
func (r *Recorder) New(typ models.TransactionType, from, to, proposalID string) models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now()
	if ts.Before(r.last) {
		ts = r.last
	}
	r.last = ts
	return models.Transaction{
		Hash:       r.hashLocked(),
		Type:       typ,
		Timestamp:  ts,
		Status:     models.TxConfirmed,
		From:       from,
		To:         to,
		ProposalID: proposalID,
	}
}

// Query filters the ledger for display. Empty fields match everything.
type Query struct {
	Type   models.TransactionType
	Status models.TransactionStatus
	// Search matches case-insensitively against the hash and the proposal id.
	Search string
}

// Filter returns the transactions matching q in ledger order.
func Filter(txs []models.Transaction, q Query) []models.Transaction {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if q.Type != "" && tx.Type != q.Type {
			continue
		}
		if q.Status != "" && tx.Status != q.Status {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(tx.Hash), term) &&
			!strings.Contains(strings.ToLower(tx.ProposalID), term) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// ByAddress returns the transactions sent from addr.
func ByAddress(txs []models.Transaction, addr string) []models.Transaction {
	var out []models.Transaction
	for _, tx := range txs {
		if tx.From == addr {
			out = append(out, tx)
		}
	}
	return out
}
