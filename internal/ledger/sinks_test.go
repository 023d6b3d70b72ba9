package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

var sealedAt = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func sampleTx(hash string) models.Transaction {
	return models.Transaction{
		Hash:       hash,
		Type:       models.TxVote,
		Timestamp:  sealedAt,
		Status:     models.TxConfirmed,
		From:       "agent-1",
		To:         models.DAOContract,
		ProposalID: "prop-1",
	}
}

func TestChainSealAndVerify(t *testing.T) {
	c := NewChain(func() time.Time { return sealedAt })
	var envs []Envelope
	for _, h := range []string{"0x00000001", "0x00000002", "0x00000003"} {
		env, err := c.Seal(sampleTx(h))
		require.NoError(t, err)
		envs = append(envs, env)
	}

	assert.Equal(t, int64(1), envs[0].Seq)
	assert.Empty(t, envs[0].PrevHash)
	assert.Equal(t, envs[0].Hash, envs[1].PrevHash)
	assert.Equal(t, envs[2].Hash, c.Head())
	assert.NoError(t, Verify(envs))

	envs[1].Transaction.From = "agent-2"
	assert.Error(t, Verify(envs))
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	msgs     []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("leader not available")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkRetriesThenSucceeds(t *testing.T) {
	w := &fakeWriter{failures: 2}
	sink := newKafkaSink(w, KafkaSinkConfig{Topic: "dao.ledger", MaxAttempts: 3})
	sink.backoff = time.Millisecond

	env, err := NewChain(nil).Seal(sampleTx("0x0000beef"))
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), env))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "0x0000beef", string(w.msgs[0].Key))
	var decoded Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, env.Hash, decoded.Hash)
	assert.Equal(t, "kafka:dao.ledger", sink.Name())
}

func TestKafkaSinkGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 5}
	sink := newKafkaSink(w, KafkaSinkConfig{Topic: "dao.ledger", MaxAttempts: 2})
	sink.backoff = time.Millisecond

	env, err := NewChain(nil).Seal(sampleTx("0x0000beef"))
	require.NoError(t, err)
	err = sink.Publish(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(KafkaSinkConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaSinkConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

type fakeUploader struct {
	key  string
	body []byte
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.key = *in.Key
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &manager.UploadOutput{}, nil
}

func TestS3ArchiverPublish(t *testing.T) {
	up := &fakeUploader{}
	arch := &S3Archiver{bucket: "dao-archive", prefix: "dev", uploader: up}

	env, err := NewChain(func() time.Time { return sealedAt }).Seal(sampleTx("0x00000001"))
	require.NoError(t, err)
	require.NoError(t, arch.Publish(context.Background(), env))

	assert.True(t, strings.HasPrefix(up.key, "dev/ledger/2025/02/03/00000001-"), up.key)
	assert.True(t, strings.HasSuffix(up.key, env.ID+".json"))
	assert.Contains(t, string(up.body), `"hash":"`+env.Hash+`"`)
}

func TestPGArchivePublish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	arch := NewPGArchive(db)
	env, err := NewChain(func() time.Time { return sealedAt }).Seal(sampleTx("0x00000001"))
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dao_ledger").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dao_ledger").
		WithArgs(env.ID, env.Seq, "0x00000001", "vote", "confirmed", "agent-1", models.DAOContract,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sealedAt, sqlmock.AnyArg(), env.Hash, sealedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, arch.EnsureSchema(context.Background()))
	require.NoError(t, arch.Publish(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGArchivePublishError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO dao_ledger").WillReturnError(errors.New("connection reset"))
	env, err := NewChain(nil).Seal(sampleTx("0x00000001"))
	require.NoError(t, err)

	err = NewPGArchive(db).Publish(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert dao_ledger")
}

type recordingSink struct {
	name string
	fail bool
	got  chan Envelope
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(ctx context.Context, env Envelope) error {
	r.got <- env
	if r.fail {
		return errors.New("sink offline")
	}
	return nil
}

func TestStreamerFansOutToEverySink(t *testing.T) {
	ok := &recordingSink{name: "ok", got: make(chan Envelope, 4)}
	bad := &recordingSink{name: "bad", fail: true, got: make(chan Envelope, 4)}
	s := NewStreamer(NewChain(nil), []Sink{bad, ok}, StreamerConfig{
		Concurrency: 1,
		Logger:      log.New(io.Discard, "", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Enqueue(sampleTx("0x00000001"))
	s.Enqueue(sampleTx("0x00000002"))

	for _, want := range []int64{1, 2} {
		select {
		case env := <-ok.got:
			assert.Equal(t, want, env.Seq)
		case <-time.After(2 * time.Second):
			t.Fatal("envelope not delivered")
		}
		<-bad.got
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStreamerDropsWhenFull(t *testing.T) {
	s := NewStreamer(NewChain(nil), nil, StreamerConfig{Buffer: 1, Logger: log.New(io.Discard, "", 0)})
	s.Enqueue(sampleTx("0x00000001"))
	s.Enqueue(sampleTx("0x00000002"))
	assert.Equal(t, 1, s.Dropped())
}
