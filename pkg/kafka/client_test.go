package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	// fetchErrs 个 FetchMessage 调用先返回错误
	fetchErrs  int
	fetchCalls int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetchCalls++
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unreachable")
	}
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type countingProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingProcessor) Process(context.Context, model.SyncTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func runConsumer(t *testing.T, processor TaskProcessor, values ...string) (*fakeReader, *miniredis.Miniredis) {
	t.Helper()
	return runConsumerWithFetchErrors(t, processor, 0, values...)
}

func runConsumerWithFetchErrors(t *testing.T, processor TaskProcessor, fetchErrs int, values ...string) (*fakeReader, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reader := &fakeReader{msgs: make(chan kafka.Message, len(values)), fetchErrs: fetchErrs}
	for i, v := range values {
		reader.msgs <- kafka.Message{Offset: int64(i), Value: []byte(v)}
	}
	c := &Consumer{
		reader:    reader,
		rdb:       rdb,
		processor: processor,
		delay:     time.Millisecond,
		fetchMin:  time.Millisecond,
		fetchMax:  2 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return reader, mr
}

func TestConsumer_SuccessCommits(t *testing.T) {
	p := &countingProcessor{}
	reader, mr := runConsumer(t, p, `{"type":"exercises"}`)

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.count())
	assert.False(t, mr.Exists(attemptsKeyPrefix+"exercises"))
}

func TestConsumer_MalformedMessageCommittedWithoutProcessing(t *testing.T) {
	p := &countingProcessor{}
	reader, _ := runConsumer(t, p, `not json`)

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, p.count())
}

func TestConsumer_GivesUpAfterThreeFailures(t *testing.T) {
	p := &countingProcessor{err: errors.New("backend down")}
	reader, mr := runConsumer(t, p, `{"type":"workouts","user_id":7}`)

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, maxAttempts, p.count())

	got, err := mr.Get(attemptsKeyPrefix + "workouts:7")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Greater(t, mr.TTL(attemptsKeyPrefix+"workouts:7"), time.Duration(0))
}

func TestConsumer_KeepsRunningAfterFetchErrors(t *testing.T) {
	p := &countingProcessor{}
	reader, _ := runConsumerWithFetchErrors(t, p, 3, `{"type":"exercises"}`)

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.count())
	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.GreaterOrEqual(t, reader.fetchCalls, 4)
}

func TestBrokersAndEnabled(t *testing.T) {
	cfg := config.KafkaConfig{Brokers: " a:9092, ,b:9092", Topic: "gym-sync"}
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(cfg))
	assert.True(t, Enabled(cfg))
	assert.False(t, Enabled(config.KafkaConfig{Topic: "gym-sync"}))
}
