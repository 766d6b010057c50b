package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/provenworks/sopctl/internal/testutil"
	"github.com/provenworks/sopctl/pkg/models"
)

// createTopic creates the compliance topic so the first produce does not
// race topic auto-creation.
func createTopic(t *testing.T, ctx context.Context, brokers, topic string) {
	t.Helper()

	admin, err := kgo.NewClient(kgo.SeedBrokers(brokers))
	require.NoError(t, err)
	defer admin.Close()

	req := kmsg.NewCreateTopicsRequest()
	req.Topics = []kmsg.CreateTopicsRequestTopic{{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}}
	_, err = admin.Request(ctx, &req)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)
}

func TestRelayPublishesToRedpanda(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	log := hclog.New(&hclog.LoggerOptions{Name: "relay-test", Level: hclog.Debug})

	container, err := redpanda.Run(ctx,
		"docker.redpanda.com/redpandadata/redpanda:latest")
	require.NoError(t, err)
	defer func() {
		_ = container.Terminate(ctx)
	}()

	brokers, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "sopctl.audit.test"
	createTopic(t, ctx, brokers, topic)

	db := testutil.OpenDB(t)
	p := testutil.SeedPrincipal(t, db, "ada.author", models.RoleAuthor)

	entry := &models.AuditEntry{
		PrincipalID:       &p.ID,
		PrincipalUsername: p.Username,
		Action:            models.ActionVersionPublished,
		EntityKind:        models.EntityVersion,
		EntityID:          42,
		Description:       "published SOP-QUAL-20260801-0001 v1.0",
		Details: models.JSON{
			"esignature":      true,
			"meaning":         "Publish",
			"document_number": "SOP-QUAL-20260801-0001",
		},
		ESigned: true,
	}
	require.NoError(t, db.Create(entry).Error)
	require.NoError(t, db.Create(&models.AuditOutbox{
		AuditEntryID: entry.ID,
	}).Error)

	r, err := New(Config{
		DB:      db,
		Brokers: []string{brokers},
		Topic:   topic,
		Logger:  log,
	})
	require.NoError(t, err)
	defer r.kafkaClient.Close()

	require.NoError(t, r.processBatch(ctx))

	// The row is marked published.
	published, err := models.CountAuditOutboxByStatus(
		db, models.OutboxStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(1), published)

	pending, err := models.CountAuditOutboxByStatus(
		db, models.OutboxStatusPending)
	require.NoError(t, err)
	assert.Zero(t, pending)

	// And the event is readable from the topic with the entity key that
	// pins per-entity ordering.
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "version-42", string(records[0].Key))

	var event AuditEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &event))
	assert.Equal(t, entry.ID, event.EntryID)
	assert.Equal(t, "VERSION_PUBLISHED", event.Action)
	assert.Equal(t, "ada.author", event.PrincipalUsername)
	assert.True(t, event.ESigned)
	assert.Equal(t, "Publish", event.Details["meaning"])
}

func TestRelayMarksUnpublishableRowsFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := redpanda.Run(ctx,
		"docker.redpanda.com/redpandadata/redpanda:latest")
	require.NoError(t, err)
	defer func() {
		_ = container.Terminate(ctx)
	}()

	brokers, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "sopctl.audit.test"
	createTopic(t, ctx, brokers, topic)

	db := testutil.OpenDB(t)

	// An outbox row whose audit entry is gone cannot be published; it is
	// marked failed rather than stalling the stream.
	require.NoError(t, db.Exec(
		"INSERT INTO audit_outbox (audit_entry_id, status, created_at, updated_at) VALUES (?, ?, ?, ?)",
		9999, models.OutboxStatusPending, time.Now(), time.Now(),
	).Error)

	r, err := New(Config{
		DB:      db,
		Brokers: []string{brokers},
		Topic:   topic,
	})
	require.NoError(t, err)
	defer r.kafkaClient.Close()

	require.NoError(t, r.processBatch(ctx))

	failed, err := models.CountAuditOutboxByStatus(db, models.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	// RetryFailed re-queues the row for the next poll.
	reset, err := RetryFailed(db, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	pending, err := models.CountAuditOutboxByStatus(
		db, models.OutboxStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}
