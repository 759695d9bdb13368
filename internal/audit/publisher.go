package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kisman271128/salesman-dashboard/internal/bucketing"
	"github.com/kisman271128/salesman-dashboard/internal/client"
	"github.com/kisman271128/salesman-dashboard/internal/config"
	"github.com/kisman271128/salesman-dashboard/internal/model"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

const insertDecisionQuery = `
	INSERT INTO device_decisions
	(event_id, event_bucket, user_id, event_date, event_time, event_type, fingerprint, degraded, details)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Publisher fans device audit events out to Kafka, ClickHouse and the
// Elasticsearch device index. Every sink is best effort: audit must never
// change the outcome of a validation, so failures are logged and dropped.
// Any client may be nil when that sink is disabled.
type Publisher struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	bucketing  *bucketing.BucketingManager
	topic      string
	index      string
}

func NewPublisher(
	kafka *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	es *client.ESClient,
	bm *bucketing.BucketingManager,
	cfg *config.Config,
) *Publisher {
	return &Publisher{
		kafka:      kafka,
		clickhouse: clickhouse,
		es:         es,
		bucketing:  bm,
		topic:      cfg.Kafka.DeviceTopic,
		index:      cfg.Elasticsearch.Index,
	}
}

// Publish sends one event to Kafka and ClickHouse.
func (p *Publisher) Publish(ctx context.Context, event *DeviceEvent) {
	if event.EventBucket == 0 && p.bucketing != nil {
		event.EventBucket = p.bucketing.GetEventBucket(event.UserID)
	}

	p.publishKafka(ctx, event)
	p.insertClickhouse(ctx, event)
}

func (p *Publisher) publishKafka(ctx context.Context, event *DeviceEvent) {
	if p.kafka == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal device event", zap.Error(err))
		return
	}

	key := []byte(event.UserID)
	if p.bucketing != nil {
		key = []byte(p.bucketing.PartitionKey(event.UserID))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	headers := map[string]string{"event_type": event.EventType}
	if err := p.kafka.ProduceMessage(ctx, p.topic, key, value, headers); err != nil {
		util.Warn("Failed to publish device event",
			zap.String("event_type", event.EventType),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}

func (p *Publisher) insertClickhouse(ctx context.Context, event *DeviceEvent) {
	if p.clickhouse == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.clickhouse.Exec(ctx, insertDecisionQuery,
		event.EventID,
		event.EventBucket,
		event.UserID,
		event.EventDate,
		event.EventTime,
		event.EventType,
		event.Fingerprint,
		event.Degraded,
		event.Details,
	)
	if err != nil {
		util.Warn("Failed to insert device decision row",
			zap.String("event_type", event.EventType),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}

// IndexDevice upserts the search document for a registered device.
func (p *Publisher) IndexDevice(ctx context.Context, userID string, device model.DeviceRecord) {
	if p.es == nil {
		return
	}

	doc := &IndexedDevice{
		UserID:       userID,
		Fingerprint:  device.Fingerprint,
		Device:       device.Info.Device,
		Browser:      device.Info.Browser,
		OS:           device.Info.OS,
		Screen:       device.Info.Screen,
		RegisteredAt: device.RegisteredAt,
		LastUsed:     device.LastUsed,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := p.es.IndexDocument(ctx, p.index, doc.DocID(), doc)
	if err != nil {
		util.Warn("Failed to index device document",
			zap.String("user_id", userID),
			zap.String("fingerprint", device.Fingerprint),
			zap.Error(err))
		return
	}
	res.Body.Close()
}

// RemoveDevice deletes one device's search document.
func (p *Publisher) RemoveDevice(ctx context.Context, userID, fingerprint string) {
	if p.es == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docID := userID + ":" + fingerprint
	res, err := p.es.DeleteDocument(ctx, p.index, docID)
	if err != nil {
		util.Warn("Failed to delete device document",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return
	}
	res.Body.Close()
}

// RemoveUserDevices deletes the search documents for every listed device.
func (p *Publisher) RemoveUserDevices(ctx context.Context, userID string, devices []model.DeviceRecord) {
	for _, d := range devices {
		p.RemoveDevice(ctx, userID, d.Fingerprint)
	}
}
