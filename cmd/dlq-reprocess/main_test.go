package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/outbox"
)

const (
	testSourceTopic = "shawlshop.dlq"
	testTargetTopic = "shawlshop.order.events"
)

// dlqValue собирает значение так, как его пишет outbox-воркер в DLQ.
func dlqValue(t *testing.T, outboxID, orderID string) []byte {
	t.Helper()

	inner, err := json.Marshal(outbox.DLQEnvelope{
		OutboxID:      outboxID,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderPlaced,
		Payload:       json.RawMessage(`{"order_id":"` + orderID + `","total":"150.00"}`),
		PublishError:  "broker unavailable",
	})
	if err != nil {
		t.Fatalf("marshal dlq payload: %v", err)
	}
	value, err := json.Marshal(kafka.Envelope{
		ID:            outboxID,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderPlaced,
		Payload:       inner,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal dlq envelope: %v", err)
	}
	return value
}

func testConfig() config {
	return config{
		sourceTopic: testSourceTopic,
		targetTopic: testTargetTopic,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func singlePartition(newest int64) *stubOffsetClient {
	return &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: newest}},
	}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 || brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
	if got := parseBrokers(""); len(got) != 0 {
		t.Fatalf("expected no brokers, got %+v", got)
	}
}

func TestExtractReplayMessage_RestoresOriginalEnvelope(t *testing.T) {
	got, err := extractReplayMessage(dlqValue(t, "outbox-1", "order-1"))
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.outboxID != "outbox-1" || got.event != domain.EventOrderPlaced {
		t.Fatalf("unexpected replay meta: %+v", got)
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(got.value, &envelope); err != nil {
		t.Fatalf("decode replay envelope: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode original payload: %v", err)
	}
	if payload["order_id"] != "order-1" || payload["total"] != "150.00" {
		t.Fatalf("original payload must be restored, got %v", payload)
	}
}

func TestExtractReplayMessage_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "not json", value: `not-json`},
		{name: "payload is not dlq envelope", value: `{"id":"x","payload":"text"}`},
		{name: "missing original payload", value: `{"id":"x","payload":{"outbox_id":"x"}}`},
		{name: "null original payload", value: `{"id":"x","payload":{"outbox_id":"x","payload":null}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := extractReplayMessage([]byte(tt.value)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}

func TestReadConfig(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(key string) string { return values[key] }
	}
	parse := func(args []string, getenv func(string) string) (config, error) {
		fset := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
		fset.SetOutput(io.Discard)
		return readConfig(fset, args, getenv)
	}

	cfg, err := parse([]string{"-brokers=b1:9092,b2:9092", "-limit=5", "-execute"}, env(nil))
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.limit != 5 || !cfg.execute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected default topics: %+v", cfg)
	}

	cfg, err = parse(nil, env(map[string]string{"KAFKA_BROKERS": "env:9092"}))
	if err != nil || len(cfg.brokers) != 1 || cfg.brokers[0] != "env:9092" {
		t.Fatalf("expected brokers from env, got %+v (%v)", cfg, err)
	}

	for _, args := range [][]string{
		{},
		{"-brokers=b:9092", "-source-topic= "},
		{"-brokers=b:9092", "-target-topic="},
		{"-brokers=b:9092", "-limit=0"},
		{"-brokers=b:9092", "-idle-timeout=0s"},
		{"-limit=abc"},
	} {
		if _, err := parse(args, env(nil)); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

func TestReplayPartition_DryRun(t *testing.T) {
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: dlqValue(t, "o-1", "order-1")}}),
		},
	}

	stats, err := replayPartition(context.Background(), testConfig(), singlePartition(1), consumer, nil, 0, 10)
	if err != nil {
		t.Fatalf("replayPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestReplayPartition_ExecuteSendsToTargetTopic(t *testing.T) {
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Offset: 0, Value: dlqValue(t, "o-1", "order-1")},
				{Offset: 1, Value: []byte(`garbage`)},
			}),
		},
	}
	sender := &stubReplaySender{}
	cfg := testConfig()
	cfg.execute = true

	stats, err := replayPartition(context.Background(), cfg, singlePartition(2), consumer, sender, 0, 10)
	if err != nil {
		t.Fatalf("replayPartition failed: %v", err)
	}
	if stats.processed != 2 || stats.replayed != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	sent := sender.sent[0]
	if sent.topic != testTargetTopic || sent.key != "order-1" {
		t.Fatalf("unexpected send: topic=%s key=%s", sent.topic, sent.key)
	}
	if sent.headers[kafka.HeaderOriginalTopic] != testSourceTopic || sent.headers[kafka.HeaderOutboxID] != "o-1" {
		t.Fatalf("unexpected headers: %v", sent.headers)
	}
}

func TestReplayPartition_ErrorBranches(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true

	offsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := replayPartition(context.Background(), cfg, offsetErr, &stubPartitionConsumerSource{}, &stubReplaySender{}, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	consumeErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := replayPartition(context.Background(), cfg, singlePartition(2), consumeErr, &stubReplaySender{}, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := replayPartition(context.Background(), cfg, singlePartition(2), consumer, &stubReplaySender{}, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}

	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: dlqValue(t, "o-1", "order-1")}}),
	}}
	if _, err := replayPartition(context.Background(), cfg, singlePartition(1), consumer, &stubReplaySender{err: errors.New("send")}, 0, 1); err == nil {
		t.Fatal("expected send error")
	}
}

func TestReplayPartition_EmptyIdleAndCancel(t *testing.T) {
	cfg := testConfig()

	stats, err := replayPartition(context.Background(), cfg, singlePartition(0), &stubPartitionConsumerSource{}, nil, 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("empty partition must be skipped: %+v %v", stats, err)
	}

	idle := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}
	stats, err = replayPartition(context.Background(), cfg, singlePartition(2), consumer, nil, 0, 1)
	if err != nil || stats.processed != 0 {
		t.Fatalf("idle partition must stop quietly: %+v %v", stats, err)
	}
	if !idle.closed {
		t.Fatal("partition consumer must be closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Hour
	waiting := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: waiting}}
	if _, err := replayPartition(ctx, cfg, singlePartition(2), consumer, nil, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestRunReplay_RespectsLimitAndPartitionOrder(t *testing.T) {
	cfg := testConfig()
	cfg.limit = 1

	if _, err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			2: {oldest: 0, newest: 1},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Value: dlqValue(t, "o-1", "order-1")}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Value: dlqValue(t, "o-2", "order-2")}}),
		},
	}

	stats, err := runReplay(context.Background(), cfg, client, consumer, nil)
	if err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if stats.replayed != 1 || len(consumer.calls) != 1 || consumer.calls[0].partition != 0 {
		t.Fatalf("expected only sorted partition 0, stats=%+v calls=%+v", stats, consumer.calls)
	}

	cfg.execute = true
	if _, err := runReplay(context.Background(), cfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	client.partitionsErr = errors.New("metadata")
	cfg.execute = false
	if _, err := runReplay(context.Background(), cfg, client, consumer, nil); err == nil {
		t.Fatal("expected partitions error")
	}
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replaySender, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), testConfig()); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := singlePartition(1)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Value: dlqValue(t, "o-1", "order-1")}}),
	}}
	sender := &stubReplaySender{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replaySender, error) {
		return client, consumer, sender, nil
	}

	cfg := testConfig()
	cfg.execute = true
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !sender.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v sender=%v", client.closed, consumer.closed, sender.closed)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one replayed message, got %d", len(sender.sent))
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type sentMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type stubReplaySender struct {
	err    error
	sent   []sentMessage
	closed bool
}

func (s *stubReplaySender) Send(_ context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	if s.err != nil {
		return s.err
	}
	msg := sentMessage{topic: topic, key: key, value: value, headers: map[string]string{}}
	for _, h := range headers {
		msg.headers[h.Key] = h.Value
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubReplaySender) Close() error {
	s.closed = true
	return nil
}
