//go:build integration

package publisher_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"concord/internal/audit"
	"concord/internal/audit/publisher"
	"concord/pkg/domain"
	"concord/pkg/testutil/containers"
)

func TestKafkaPublishRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	redpanda := containers.GetManager().GetRedpanda(t)
	const topic = "concord.changes.test"

	sink, err := publisher.NewKafka(ctx, []string{redpanda.Broker}, topic)
	require.NoError(t, err)
	defer sink.Close()

	batchID := domain.NewBatchID()
	events := []audit.ChangeEvent{
		audit.NewChangeEvent("samples", `"G1"|"123"`, batchID, "inserted"),
		audit.NewChangeEvent("samples", `"G1"|"123"`, batchID, "updated"),
		audit.NewChangeEvent("shipments", `"S-9"`, batchID, "skipped"),
	}
	require.NoError(t, sink.Publish(ctx, events))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	consumed := make(map[string]audit.ChangeEvent)
	for len(consumed) < len(events) {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, fetches.Err())
		fetches.EachRecord(func(record *kgo.Record) {
			var event audit.ChangeEvent
			require.NoError(t, json.Unmarshal(record.Value, &event))
			consumed[event.ID.String()] = event

			// Records are keyed by table and natural key so one record's
			// history lands in one partition, in order.
			require.Equal(t, event.Table+"|"+event.NaturalKey, string(record.Key))
		})
	}

	for _, want := range events {
		got, ok := consumed[want.ID.String()]
		require.True(t, ok, "event %s not consumed", want.ID)
		require.Equal(t, want.Outcome, got.Outcome)
		require.Equal(t, want.BatchID, got.BatchID)
	}
}
