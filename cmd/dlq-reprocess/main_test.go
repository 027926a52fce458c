package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestSplitBrokers(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{" broker-1:9092, ,broker-2:9092 ", []string{"broker-1:9092", "broker-2:9092"}},
		{"", nil},
		{" , ", nil},
		{"solo:9092", []string{"solo:9092"}},
	}

	for _, tc := range cases {
		got := splitBrokers(tc.raw)
		if len(got) != len(tc.want) {
			t.Fatalf("splitBrokers(%q): got=%v want=%v", tc.raw, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitBrokers(%q): got=%v want=%v", tc.raw, got, tc.want)
			}
		}
	}
}

func TestParseFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=cart.dlq",
		"-target-topic=cart.events",
		"-event-type= cart.line_added ",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := parseFlags()
		if err != nil {
			t.Fatalf("parseFlags failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.eventType != "cart.line_added" {
			t.Fatalf("unexpected event type filter: %q", cfg.eventType)
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute || !cfg.fromNewest {
			t.Fatalf("unexpected mode flags: execute=%v fromNewest=%v", cfg.execute, cfg.fromNewest)
		}
		if cfg.idleTimeout != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestParseFlags_Validation(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no brokers",
			args:    []string{"-brokers="},
			wantErr: "kafka brokers are required",
		},
		{
			name:    "empty source topic",
			args:    []string{"-brokers=broker:9092", "-source-topic="},
			wantErr: "source-topic is required",
		},
		{
			name:    "empty target topic",
			args:    []string{"-brokers=broker:9092", "-target-topic="},
			wantErr: "target-topic is required",
		},
		{
			name:    "zero limit",
			args:    []string{"-brokers=broker:9092", "-limit=0"},
			wantErr: "limit must be > 0",
		},
		{
			name:    "zero idle timeout",
			args:    []string{"-brokers=broker:9092", "-idle-timeout=0s"},
			wantErr: "idle-timeout must be > 0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := parseFlags()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestDecodeDLQRecord_ConsumerFormat(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_topic": "cart.events",
		"original_key":   "cart-1",
		"original_value": `{"event_type":"cart.line_added","cart_id":1}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	cand, ok, err := decodeDLQRecord(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil {
		t.Fatalf("decodeDLQRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if cand.topic != "cart.events" || cand.key != "cart-1" {
		t.Fatalf("unexpected candidate routing: topic=%s key=%s", cand.topic, cand.key)
	}
	if string(cand.value) != `{"event_type":"cart.line_added","cart_id":1}` {
		t.Fatalf("unexpected replay value: %s", string(cand.value))
	}
	if cand.eventType != "cart.line_added" {
		t.Fatalf("unexpected event type: %s", cand.eventType)
	}
}

func TestDecodeDLQRecord_OutboxFormat(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "cart",
		"aggregate_id":   "cart-1",
		"event_type":     "cart.line_added",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "cart",
			"aggregate_id":   "cart-1",
			"event_type":     "cart.line_added",
			"payload": map[string]any{
				"event_type": "cart.line_added",
				"cart_id":    1,
				"qty":        2,
			},
			"publish_error": "timeout",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	cand, ok, err := decodeDLQRecord(&sarama.ConsumerMessage{Value: raw}, "cart.events")
	if err != nil {
		t.Fatalf("decodeDLQRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if cand.topic != "cart.events" || cand.key != "cart-1" {
		t.Fatalf("unexpected candidate routing: topic=%s key=%s", cand.topic, cand.key)
	}
	if cand.eventType != "cart.line_added" {
		t.Fatalf("unexpected event type: %s", cand.eventType)
	}

	var replay replayEnvelope
	if err := json.Unmarshal(cand.value, &replay); err != nil {
		t.Fatalf("replay value must be a valid envelope: %v", err)
	}
	if replay.ID != "outbox-1" || replay.EventType != "cart.line_added" {
		t.Fatalf("unexpected replay envelope: %+v", replay)
	}
	if replay.PublishedAt.IsZero() {
		t.Fatal("expected published_at to be set")
	}
}

func TestDecodeDLQRecord_BadInput(t *testing.T) {
	// Конверт без вложенного события — это ошибка формата.
	missingNested, err := json.Marshal(map[string]any{
		"id":         "outbox-1",
		"event_type": "cart.line_added",
		"payload": map[string]any{
			"outbox_id":  "outbox-1",
			"event_type": "cart.line_added",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	if _, ok, err := decodeDLQRecord(&sarama.ConsumerMessage{Value: missingNested}, "cart.events"); err == nil || ok {
		t.Fatalf("expected error for missing nested payload, got ok=%v err=%v", ok, err)
	}

	// Чужой JSON молча пропускается.
	if _, ok, err := decodeDLQRecord(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "cart.events"); err != nil || ok {
		t.Fatalf("expected unknown payload to be skipped, got ok=%v err=%v", ok, err)
	}
}

func TestMatchesEventType(t *testing.T) {
	cand := candidate{eventType: "cart.line_added"}
	if !matchesEventType(cand, "") {
		t.Fatal("empty filter must match everything")
	}
	if !matchesEventType(cand, "cart.line_added") {
		t.Fatal("expected matching event type")
	}
	if matchesEventType(cand, "cart.line_removed") {
		t.Fatal("expected mismatch for another event type")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReplayerScanPartition(t *testing.T) {
	consumerRecord := func(eventType string) []byte {
		return []byte(fmt.Sprintf(
			`{"original_topic":"cart.events","original_key":"cart-1","original_value":"{\"event_type\":\"%s\",\"cart_id\":1}"}`,
			eventType,
		))
	}
	baseCfg := replayConfig{
		sourceTopic: "cart.dlq",
		targetTopic: "cart.events",
		idleTimeout: 20 * time.Millisecond,
	}

	t.Run("dry-run counts candidate", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{
			0: drainedStream(&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: consumerRecord("cart.line_added")}),
		}}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: source}

		got, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scanPartition failed: %v", err)
		}
		if got.scanned != 1 || got.replayed != 1 || got.skipped != 0 {
			t.Fatalf("unexpected tally: %+v", got)
		}
		if len(source.calls) != 1 || source.calls[0].offset != 0 {
			t.Fatalf("unexpected consume calls: %+v", source.calls)
		}
	})

	t.Run("execute publishes to sink", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{
			0: drainedStream(&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: consumerRecord("cart.line_added")}),
		}}
		sink := &fakeSink{}
		cfg := baseCfg
		cfg.execute = true
		r := &replayer{cfg: cfg, offsets: offsets, source: source, sink: sink}

		got, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scanPartition failed: %v", err)
		}
		if got.replayed != 1 {
			t.Fatalf("expected replayed=1, got %+v", got)
		}
		if sink.calls != 1 || sink.lastMsg == nil || sink.lastMsg.Topic != "cart.events" {
			t.Fatalf("unexpected sink state: calls=%d lastMsg=%+v", sink.calls, sink.lastMsg)
		}
	})

	t.Run("event type filter skips", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{
			0: drainedStream(&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: consumerRecord("cart.line_removed")}),
		}}
		cfg := baseCfg
		cfg.eventType = "cart.line_added"
		r := &replayer{cfg: cfg, offsets: offsets, source: source}

		got, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scanPartition failed: %v", err)
		}
		if got.scanned != 1 || got.replayed != 0 || got.skipped != 1 {
			t.Fatalf("expected filtered message to be skipped, got %+v", got)
		}
	})

	t.Run("malformed payload is skipped", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{
			0: drainedStream(&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: []byte(`{"id":"x","payload":"not-an-object"}`)}),
		}}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: source}

		got, err := r.scanPartition(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("scanPartition failed: %v", err)
		}
		if got.skipped != 1 {
			t.Fatalf("expected skipped=1, got %+v", got)
		}
	})

	t.Run("offset lookup error", func(t *testing.T) {
		offsets := &fakeOffsets{offsetErr: map[int32]error{0: errors.New("offset boom")}}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: &fakeSource{}}
		if _, err := r.scanPartition(context.Background(), 0, 1); err == nil {
			t.Fatal("expected offset error")
		}
	})

	t.Run("consume error", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{consumeErr: errors.New("consume boom")}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: source}
		if _, err := r.scanPartition(context.Background(), 0, 1); err == nil {
			t.Fatal("expected consume error")
		}
	})

	t.Run("stream error channel", func(t *testing.T) {
		stream := &fakeStream{
			messages: make(chan *sarama.ConsumerMessage),
			errs:     make(chan *sarama.ConsumerError, 1),
		}
		stream.errs <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
		close(stream.errs)
		defer close(stream.messages)

		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{0: stream}}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: source}
		if _, err := r.scanPartition(context.Background(), 0, 1); err == nil {
			t.Fatal("expected stream error branch")
		}
	})

	t.Run("sink failure aborts", func(t *testing.T) {
		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{
			0: drainedStream(&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: consumerRecord("cart.line_added")}),
		}}
		cfg := baseCfg
		cfg.execute = true
		r := &replayer{cfg: cfg, offsets: offsets, source: source, sink: &fakeSink{sendErr: errors.New("send fail")}}
		if _, err := r.scanPartition(context.Background(), 0, 1); err == nil {
			t.Fatal("expected sink send error")
		}
	})

	t.Run("idle timeout ends scan", func(t *testing.T) {
		stream := &fakeStream{
			messages: make(chan *sarama.ConsumerMessage),
			errs:     make(chan *sarama.ConsumerError),
		}
		defer func() {
			close(stream.messages)
			close(stream.errs)
		}()

		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{0: stream}}
		cfg := baseCfg
		cfg.idleTimeout = 10 * time.Millisecond
		r := &replayer{cfg: cfg, offsets: offsets, source: source}

		got, err := r.scanPartition(context.Background(), 0, 1)
		if err != nil {
			t.Fatalf("unexpected idle-timeout error: %v", err)
		}
		if got.scanned != 0 {
			t.Fatalf("expected scanned=0, got %+v", got)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		stream := &fakeStream{
			messages: make(chan *sarama.ConsumerMessage),
			errs:     make(chan *sarama.ConsumerError),
		}
		defer func() {
			close(stream.messages)
			close(stream.errs)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		offsets := &fakeOffsets{ranges: map[int32][2]int64{0: {0, 2}}}
		source := &fakeSource{streams: map[int32]partitionStream{0: stream}}
		r := &replayer{cfg: baseCfg, offsets: offsets, source: source}
		if _, err := r.scanPartition(ctx, 0, 1); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	})
}

func TestReplayerRun(t *testing.T) {
	cfg := replayConfig{
		sourceTopic: "cart.dlq",
		targetTopic: "cart.events",
		limit:       1,
		idleTimeout: 20 * time.Millisecond,
	}

	r := &replayer{cfg: cfg}
	if err := r.run(context.Background()); err == nil {
		t.Fatal("expected missing deps error")
	}

	offsets := &fakeOffsets{
		partitions: []int32{2, 0},
		ranges: map[int32][2]int64{
			0: {0, 2},
			2: {0, 2},
		},
	}
	source := &fakeSource{streams: map[int32]partitionStream{
		0: drainedStream(&sarama.ConsumerMessage{
			Partition: 0,
			Offset:    0,
			Value:     []byte(`{"original_topic":"cart.events","original_key":"cart-1","original_value":"{\"event_type\":\"cart.line_added\",\"cart_id\":1}"}`),
		}),
		2: drainedStream(&sarama.ConsumerMessage{
			Partition: 2,
			Offset:    0,
			Value:     []byte(`{"original_topic":"cart.events","original_key":"cart-2","original_value":"{\"event_type\":\"cart.line_removed\",\"cart_id\":2}"}`),
		}),
	}}

	r = &replayer{cfg: cfg, offsets: offsets, source: source}
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(source.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(source.calls))
	}
	if source.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", source.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	r = &replayer{cfg: executeCfg, offsets: offsets, source: source}
	if err := r.run(context.Background()); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	r = &replayer{cfg: cfg, offsets: &fakeOffsets{}, source: source}
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldConnect := connectKafka
	defer func() { connectKafka = oldConnect }()

	cfg := replayConfig{
		sourceTopic: "cart.dlq",
		targetTopic: "cart.events",
		limit:       1,
		idleTimeout: 20 * time.Millisecond,
	}

	connectKafka = func(replayConfig) (offsetReader, streamSource, replaySink, error) {
		return nil, nil, nil, errors.New("connect failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "connect failed") {
		t.Fatalf("expected connect error, got %v", err)
	}

	offsets := &fakeOffsets{
		partitions: []int32{0},
		ranges:     map[int32][2]int64{0: {0, 2}},
	}
	source := &fakeSource{streams: map[int32]partitionStream{
		0: drainedStream(&sarama.ConsumerMessage{
			Partition: 0,
			Offset:    0,
			Value:     []byte(`{"original_topic":"cart.events","original_key":"cart-1","original_value":"{\"event_type\":\"cart.line_added\",\"cart_id\":1}"}`),
		}),
	}}
	sink := &fakeSink{}

	connectKafka = func(replayConfig) (offsetReader, streamSource, replaySink, error) {
		return offsets, source, sink, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !offsets.closed || !source.closed || !sink.closed {
		t.Fatalf("expected all deps to be closed: offsets=%v source=%v sink=%v", offsets.closed, source.closed, sink.closed)
	}
}

func TestMain_SuccessWithStubbedKafka(t *testing.T) {
	oldConnect := connectKafka
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		connectKafka = oldConnect
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	offsets := &fakeOffsets{
		partitions: []int32{0},
		ranges:     map[int32][2]int64{0: {0, 2}},
	}
	source := &fakeSource{streams: map[int32]partitionStream{
		0: drainedStream(&sarama.ConsumerMessage{
			Partition: 0,
			Offset:    0,
			Value:     []byte(`{"original_topic":"cart.events","original_key":"cart-1","original_value":"{\"event_type\":\"cart.line_added\",\"cart_id\":1}"}`),
		}),
	}}
	connectKafka = func(replayConfig) (offsetReader, streamSource, replaySink, error) {
		return offsets, source, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-source-topic=cart.dlq", "-target-topic=cart.events", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
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

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// fakeOffsets реализует offsetReader поверх статических диапазонов offset'ов.
type fakeOffsets struct {
	partitions    []int32
	partitionsErr error
	ranges        map[int32][2]int64 // [oldest, newest]
	offsetErr     map[int32]error
	closed        bool
}

func (f *fakeOffsets) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := f.offsetErr[partition]; ok {
		return 0, err
	}

	r := f.ranges[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r[0], nil
	case sarama.OffsetNewest:
		return r[1], nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	return append([]int32(nil), f.partitions...), nil
}

func (f *fakeOffsets) Close() error {
	f.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type fakeSource struct {
	streams    map[int32]partitionStream
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (f *fakeSource) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	f.calls = append(f.calls, consumeCall{partition: partition, offset: offset})
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	stream, ok := f.streams[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return stream, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
	closed   bool
}

func (f *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakeStream) Errors() <-chan *sarama.ConsumerError     { return f.errs }
func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

// drainedStream — поток с заранее загруженными сообщениями и закрытыми каналами.
func drainedStream(messages ...*sarama.ConsumerMessage) *fakeStream {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &fakeStream{messages: msgCh, errs: errCh}
}

type fakeSink struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (f *fakeSink) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	f.calls++
	f.lastMsg = msg
	if f.sendErr != nil {
		return 0, 0, f.sendErr
	}
	return 0, int64(f.calls), nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}
