// Утилита переигровки DLQ: читает cart.dlq, восстанавливает исходные события
// корзины и публикует их обратно в cart.events. По умолчанию работает в
// режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultScanLimit   = 100
	defaultIdleTimeout = 2 * time.Second
)

// replayConfig собирается из флагов командной строки.
type replayConfig struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// candidate — восстановленное из DLQ событие, готовое к публикации.
type candidate struct {
	topic     string
	key       string
	value     []byte
	eventType string
}

// tally — результат сканирования: сколько записей просмотрено, переиграно
// и пропущено (чужой формат или не тот event_type).
type tally struct {
	scanned  int
	replayed int
	skipped  int
}

func (t *tally) add(other tally) {
	t.scanned += other.scanned
	t.replayed += other.replayed
	t.skipped += other.skipped
}

// Формат DLQ-записи от consumer'а: оригинал лежит в original_value.
type consumerDLQRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// Конверт, который outbox publisher пишет в DLQ-топик.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Тело конверта с исходным событием корзины и причиной отказа.
type outboxDLQBody struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Конверт, в котором событие уходит обратно в целевой топик. Совпадает с
// форматом outbox publisher'а.
type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Интерфейсы под sarama, чтобы тесты могли подменить брокер стабами.

type offsetReader interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type replaySink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type consumerSource struct {
	consumer sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s consumerSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

// connectKafka подменяется в тестах.
var connectKafka = func(cfg replayConfig) (offsetReader, streamSource, replaySink, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := consumerSource{consumer: rawConsumer}

	// В dry-run producer не нужен.
	if !cfg.execute {
		return client, source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseFlags()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseFlags() (replayConfig, error) {
	var (
		brokersRaw string
		cfg        replayConfig
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicCartEvents, "target topic for replay")
	flag.StringVar(&cfg.eventType, "event-type", "", "replay only events of this type (e.g. cart.line_added); empty = all")
	flag.IntVar(&cfg.limit, "limit", defaultScanLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = splitBrokers(brokersRaw)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return replayConfig{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return replayConfig{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return replayConfig{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return replayConfig{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return replayConfig{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func splitBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg replayConfig) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	offsets, source, sink, err := connectKafka(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		if source != nil {
			_ = source.Close()
		}
		if offsets != nil {
			_ = offsets.Close()
		}
	}()

	r := &replayer{cfg: cfg, offsets: offsets, source: source, sink: sink}
	return r.run(ctx)
}

// replayer сканирует партиции DLQ-топика и переигрывает подходящие записи.
type replayer struct {
	cfg     replayConfig
	offsets offsetReader
	source  streamSource
	sink    replaySink
}

func (r *replayer) run(ctx context.Context) error {
	if r.offsets == nil || r.source == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.cfg.execute && r.sink == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var totals tally
	for _, partition := range partitions {
		budget := r.cfg.limit - totals.scanned
		if budget <= 0 {
			break
		}

		partTally, err := r.scanPartition(ctx, partition, budget)
		if err != nil {
			return err
		}
		totals.add(partTally)
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": totals.scanned,
		"replayed":  totals.replayed,
		"skipped":   totals.skipped,
	}).Info("dlq replay finished")

	return nil
}

// scanPartition читает партицию от выбранного стартового offset до newest
// и обрабатывает не больше budget записей. Простой в idleTimeout завершает
// сканирование партиции.
func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (tally, error) {
	var t tally

	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return t, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return t, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return t, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = newest - int64(budget)
		if start < oldest {
			start = oldest
		}
	}

	stream, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return t, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for t.scanned < budget {
		select {
		case <-ctx.Done():
			return t, ctx.Err()

		case err := <-stream.Errors():
			if err != nil {
				return t, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}

		case msg, ok := <-stream.Messages():
			if !ok || msg == nil {
				return t, nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			if msg.Offset >= newest {
				return t, nil
			}

			if err := r.handle(msg, &t); err != nil {
				return t, err
			}

			if msg.Offset+1 >= newest {
				return t, nil
			}

		case <-idle.C:
			return t, nil
		}
	}

	return t, nil
}

// handle разбирает одну DLQ-запись и либо переигрывает её, либо пропускает.
func (r *replayer) handle(msg *sarama.ConsumerMessage, t *tally) error {
	t.scanned++

	cand, ok, err := decodeDLQRecord(msg, r.cfg.targetTopic)
	if err != nil {
		t.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok || !matchesEventType(cand, r.cfg.eventType) {
		t.skipped++
		return nil
	}

	if !r.cfg.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": cand.topic,
			"event_type":   cand.eventType,
			"key":          cand.key,
		}).Info("dlq replay candidate")
		t.replayed++
		return nil
	}

	if err := r.emit(cand); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	t.replayed++
	return nil
}

func (r *replayer) emit(cand candidate) error {
	if r.sink == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := r.sink.SendMessage(&sarama.ProducerMessage{
		Topic:     cand.topic,
		Key:       sarama.StringEncoder(cand.key),
		Value:     sarama.ByteEncoder(cand.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// matchesEventType фильтрует кандидатов по типу события корзины.
func matchesEventType(cand candidate, wantType string) bool {
	return wantType == "" || cand.eventType == wantType
}

// decodeDLQRecord восстанавливает исходное событие из DLQ-записи.
// Поддерживаются оба формата: запись consumer'а с original_value и
// конверт outbox publisher'а с вложенным событием корзины.
func decodeDLQRecord(msg *sarama.ConsumerMessage, defaultTopic string) (candidate, bool, error) {
	var record consumerDLQRecord
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return candidate{
			topic:     topic,
			key:       record.OriginalKey,
			value:     []byte(record.OriginalValue),
			eventType: cartEventType([]byte(record.OriginalValue)),
		}, true, nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return candidate{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return candidate{}, false, nil
	}

	var body outboxDLQBody
	if err := json.Unmarshal(envelope.Payload, &body); err != nil {
		return candidate{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(body.Payload) == 0 {
		return candidate{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := replayEnvelope{
		ID:            firstNonEmpty(body.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(body.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(body.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(body.EventType, envelope.EventType),
		Payload:       body.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return candidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}

	eventType := replay.EventType
	if eventType == "" {
		eventType = cartEventType(body.Payload)
	}

	return candidate{
		topic:     defaultTopic,
		key:       key,
		value:     encoded,
		eventType: eventType,
	}, true, nil
}

// cartEventType достаёт event_type из сырого события; пустая строка при неудаче.
func cartEventType(raw []byte) string {
	var event struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return ""
	}
	return event.EventType
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
