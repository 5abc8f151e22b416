package data

import (
	"context"
	"strings"
	"time"

	"shortly/internal/biz"
	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	defaultClickTopic    = "clicks"
	defaultConsumerGroup = "click-analytics"
	defaultBatchCount    = 100
	defaultBlockWait     = time.Second

	fieldShortCode = "short_code"
	fieldClientIP  = "client_ip"
)

// Compile-time interface checks
var (
	_ biz.ClickProducer    = (*clickProducer)(nil)
	_ biz.ClickEventSource = (*clickEventSource)(nil)
)

// clickProducer appends click events to the redis stream topic.
type clickProducer struct {
	rdb   *redis.Client
	topic string
}

// NewClickProducer creates the redis streams click producer.
func NewClickProducer(data *Data, c *conf.Shortener, logger log.Logger) biz.ClickProducer {
	topic := c.ClickTopic
	if topic == "" {
		topic = defaultClickTopic
	}
	return &clickProducer{rdb: data.rdb, topic: topic}
}

// Produce appends one entry; the append is durable once redis acknowledges
// the XADD.
func (p *clickProducer) Produce(ctx context.Context, shortCode, clientIP string) error {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.topic,
		Values: map[string]any{
			fieldShortCode: shortCode,
			fieldClientIP:  clientIP,
		},
	}).Err()
}

// clickEventSource reads click events through a redis streams consumer
// group.
type clickEventSource struct {
	rdb   *redis.Client
	topic string
	group string
	count int64
	block time.Duration
	log   *log.Helper
}

// NewClickEventSource creates the consumer-group reader for the click topic.
func NewClickEventSource(data *Data, c *conf.Consumer, logger log.Logger) biz.ClickEventSource {
	topic := c.Topic
	if topic == "" {
		topic = defaultClickTopic
	}
	group := c.Group
	if group == "" {
		group = defaultConsumerGroup
	}
	count := c.BatchCount
	if count <= 0 {
		count = defaultBatchCount
	}
	return &clickEventSource{
		rdb:   data.rdb,
		topic: topic,
		group: group,
		count: count,
		block: c.Block.AsDuration(defaultBlockWait),
		log:   log.NewHelper(logger),
	}
}

// EnsureGroup creates the group positioned at the stream tail, creating the
// stream itself when absent. Redis answers BUSYGROUP when the group already
// exists; that is the idempotent-success case.
func (s *clickEventSource) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.topic, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ReadBatch blocks up to the configured wait for new entries addressed to
// this consumer. A timed-out read returns an empty batch.
func (s *clickEventSource) ReadBatch(ctx context.Context, consumer string) ([]*biz.ClickMessage, error) {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.topic, ">"},
		Count:    s.count,
		Block:    s.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var batch []*biz.ClickMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			batch = append(batch, &biz.ClickMessage{
				ID:        msg.ID,
				ShortCode: stringField(msg.Values, fieldShortCode),
				ClientIP:  stringField(msg.Values, fieldClientIP),
			})
		}
	}
	return batch, nil
}

// Ack acknowledges processed entry IDs for the group.
func (s *clickEventSource) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.rdb.XAck(ctx, s.topic, s.group, ids...).Err()
}

func stringField(values map[string]any, key string) string {
	v, _ := values[key].(string)
	return v
}
