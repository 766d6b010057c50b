// Package relay streams committed audit entries to the compliance
// topic. It is the publishing half of the transactional outbox: the
// audit recorder stages a row in the same transaction as each entry,
// and the relay polls pending rows and produces them to Kafka. The core
// never depends on the relay running; a stopped relay only delays the
// external stream.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/pkg/models"
)

// Relay polls the audit outbox and publishes entries.
type Relay struct {
	db           *gorm.DB
	kafkaClient  *kgo.Client
	topic        string
	log          hclog.Logger
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// Config holds relay settings.
type Config struct {
	DB *gorm.DB

	Brokers []string
	Topic   string

	// PollInterval is how often pending rows are fetched. Default 1s.
	PollInterval time.Duration

	// BatchSize is how many rows are published per poll. Default 100.
	BatchSize int

	Logger hclog.Logger
}

// New creates a relay and its Kafka producer.
func New(cfg Config) (*Relay, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	kafkaClient, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),

		// The compliance stream must not lose acknowledged entries.
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),

		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			return backoff
		}),
		kgo.RequestRetries(10),

		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating kafka client: %w", err)
	}

	return &Relay{
		db:           cfg.DB,
		kafkaClient:  kafkaClient,
		topic:        cfg.Topic,
		log:          cfg.Logger.Named("audit-relay"),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start runs the polling loop until Stop is called or the context ends.
func (r *Relay) Start(ctx context.Context) error {
	r.log.Info("audit relay started",
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
		"topic", r.topic,
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("audit relay stopped by context")
			return ctx.Err()

		case <-r.stopCh:
			r.log.Info("audit relay stopped")
			return nil

		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.log.Error("error processing outbox batch", "error", err)
			}
		}
	}
}

// Stop ends the polling loop and closes the producer.
func (r *Relay) Stop() {
	close(r.stopCh)
	r.kafkaClient.Close()
}

// AuditEvent is the wire shape of one published entry.
type AuditEvent struct {
	EntryID           uint        `json:"entryId"`
	Action            string      `json:"action"`
	PrincipalUsername string      `json:"principalUsername"`
	EntityKind        string      `json:"entityKind"`
	EntityID          uint        `json:"entityId"`
	Description       string      `json:"description"`
	Details           models.JSON `json:"details,omitempty"`
	ESigned           bool        `json:"esigned"`
	RecordedAt        time.Time   `json:"recordedAt"`
}

// processBatch publishes pending outbox rows, marking each published or
// failed individually so one bad row cannot stall the stream.
func (r *Relay) processBatch(ctx context.Context) error {
	rows, err := models.FindPendingAuditOutbox(r.db, r.batchSize)
	if err != nil {
		return fmt.Errorf("error finding pending outbox rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	published := 0
	failed := 0
	for i := range rows {
		row := &rows[i]
		if err := r.publishRow(ctx, row); err != nil {
			r.log.Error("error publishing outbox row",
				"outbox_id", row.ID,
				"audit_entry_id", row.AuditEntryID,
				"error", err,
			)
			if markErr := row.MarkAsFailed(r.db, err); markErr != nil {
				r.log.Error("error marking outbox row failed",
					"outbox_id", row.ID, "error", markErr)
			}
			failed++
			continue
		}
		if err := row.MarkAsPublished(r.db); err != nil {
			r.log.Error("error marking outbox row published",
				"outbox_id", row.ID, "error", err)
			failed++
			continue
		}
		published++
	}

	r.log.Info("processed audit outbox batch",
		"total", len(rows), "published", published, "failed", failed)
	return nil
}

// publishRow produces one entry, keyed by entity so all events for the
// same entity stay ordered on one partition.
func (r *Relay) publishRow(ctx context.Context, row *models.AuditOutbox) error {
	if row.Entry == nil {
		return fmt.Errorf("outbox row %d has no audit entry", row.ID)
	}
	entry := row.Entry

	event := AuditEvent{
		EntryID:           entry.ID,
		Action:            string(entry.Action),
		PrincipalUsername: entry.PrincipalUsername,
		EntityKind:        entry.EntityKind,
		EntityID:          entry.EntityID,
		Description:       entry.Description,
		Details:           entry.Details,
		ESigned:           entry.ESigned,
		RecordedAt:        entry.CreatedAt,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(fmt.Sprintf("%s-%d", entry.EntityKind, entry.EntityID)),
		Value: eventJSON,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "entity_kind", Value: []byte(entry.EntityKind)},
		},
	}

	if err := r.kafkaClient.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("error producing to kafka: %w", err)
	}
	return nil
}

// RetryFailed re-queues failed rows so the next poll picks them up.
// Returns how many rows were reset.
func RetryFailed(db *gorm.DB, limit int) (int, error) {
	rows, err := models.GetFailedAuditOutbox(db, limit)
	if err != nil {
		return 0, fmt.Errorf("error listing failed outbox rows: %w", err)
	}
	for i := range rows {
		if err := rows[i].Retry(db); err != nil {
			return i, fmt.Errorf("error resetting outbox row %d: %w",
				rows[i].ID, err)
		}
	}
	return len(rows), nil
}

// CleanupOldEntries removes published rows older than the given age to
// keep the outbox bounded.
func (r *Relay) CleanupOldEntries(olderThan time.Duration) error {
	deleted, err := models.DeleteOldPublishedAuditOutbox(r.db, olderThan)
	if err != nil {
		return fmt.Errorf("error cleaning up outbox: %w", err)
	}
	if deleted > 0 {
		r.log.Info("cleaned up published outbox rows", "deleted", deleted)
	}
	return nil
}
