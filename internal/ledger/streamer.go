package ledger

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

// Sink receives exported ledger envelopes.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

// StreamerConfig configures the export streamer.
type StreamerConfig struct {
	// Buffer is the queue capacity; envelopes beyond it are dropped and logged.
	Buffer int

	// Concurrency bounds the number of envelopes published at once.
	Concurrency int

	// PublishTimeout is the per-sink deadline for one envelope.
	PublishTimeout time.Duration

	Logger *log.Logger
}

// Streamer seals appended transactions into the hash chain and fans them out
// to every sink in the background. Export never blocks or rolls back the
// in-memory ledger.
type Streamer struct {
	chain  *Chain
	sinks  []Sink
	queue  chan Envelope
	cfg    StreamerConfig
	logger *log.Logger

	mu      sync.Mutex
	dropped int
}

func NewStreamer(chain *Chain, sinks []Sink, cfg StreamerConfig) *Streamer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[ledger.streamer] ", log.LstdFlags)
	}
	return &Streamer{
		chain:  chain,
		sinks:  sinks,
		queue:  make(chan Envelope, cfg.Buffer),
		cfg:    cfg,
		logger: logger,
	}
}

// Enqueue seals tx and queues it for export. It never blocks.
func (s *Streamer) Enqueue(tx models.Transaction) {
	env, err := s.chain.Seal(tx)
	if err != nil {
		s.logger.Printf("seal %s: %v", tx.Hash, err)
		return
	}
	select {
	case s.queue <- env:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Printf("queue full; dropped envelope seq=%d tx=%s", env.Seq, tx.Hash)
	}
}

// Dropped returns how many envelopes were discarded because the queue was full.
func (s *Streamer) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Run publishes queued envelopes until ctx is cancelled, then waits for
// in-flight work and closes sinks that implement io.Closer.
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Printf("starting (sinks=%d, concurrency=%d)", len(s.sinks), s.cfg.Concurrency)
	defer s.logger.Printf("stopped")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-s.queue:
					s.publish(ctx, env)
				}
			}
		}()
	}
	wg.Wait()

	for _, sink := range s.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Printf("close %s: %v", sink.Name(), err)
			}
		}
	}
	return ctx.Err()
}

func (s *Streamer) publish(parent context.Context, env Envelope) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(parent, s.cfg.PublishTimeout)
		err := sink.Publish(ctx, env)
		cancel()
		if err != nil {
			s.logger.Printf("publish seq=%d tx=%s to %s: %v", env.Seq, env.Transaction.Hash, sink.Name(), err)
		}
	}
}
