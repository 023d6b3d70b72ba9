package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/agentdao/internal/canonical"
	"github.com/ILLUVRSE/agentdao/internal/models"
)

// Envelope is the exported, hash-chained form of one ledger transaction.
type Envelope struct {
	ID          string             `json:"id"`
	Seq         int64              `json:"seq"`
	Transaction models.Transaction `json:"transaction"`
	PrevHash    string             `json:"prevHash,omitempty"`
	Hash        string             `json:"hash"`
	RecordedAt  time.Time          `json:"recordedAt"`
}

// Chain seals transactions into envelopes where
// hash = sha256(canonical(seq, transaction) || prevHashBytes).
type Chain struct {
	mu   sync.Mutex
	seq  int64
	head string
	now  func() time.Time
}

func NewChain(now func() time.Time) *Chain {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Chain{now: now}
}

// Head returns the hash of the most recently sealed envelope.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Seal assigns the next sequence number and links tx to the current head.
func (c *Chain) Seal(tx models.Transaction) (Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq + 1
	digest, err := chainHash(seq, tx, c.head)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ID:          uuid.New().String(),
		Seq:         seq,
		Transaction: tx,
		PrevHash:    c.head,
		Hash:        digest,
		RecordedAt:  c.now(),
	}
	c.seq = seq
	c.head = digest
	return env, nil
}

// Verify recomputes the chain over envs and reports the first broken link.
func Verify(envs []Envelope) error {
	prev := ""
	for i, env := range envs {
		if env.PrevHash != prev {
			return fmt.Errorf("envelope %d (seq %d): prevHash mismatch", i, env.Seq)
		}
		want, err := chainHash(env.Seq, env.Transaction, prev)
		if err != nil {
			return err
		}
		if env.Hash != want {
			return fmt.Errorf("envelope %d (seq %d): hash mismatch", i, env.Seq)
		}
		prev = env.Hash
	}
	return nil
}

func chainHash(seq int64, tx models.Transaction, prev string) (string, error) {
	body, err := canonical.Marshal(map[string]any{
		"seq":         seq,
		"transaction": tx,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}
	if prev != "" {
		prevBytes, err := hex.DecodeString(prev)
		if err != nil {
			return "", fmt.Errorf("decode prev hash: %w", err)
		}
		body = append(body, prevBytes...)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
