//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"notary/internal/platform/config"
	"notary/internal/platform/kafka"
	"notary/internal/registry/events"
	"notary/internal/registry/models"
	id "notary/pkg/domain"
	"notary/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	cfg    config.KafkaConfig
	client *kgo.Client
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupTest() {
	rp := containers.GetManager().GetRedpanda(s.T())
	s.cfg = config.KafkaConfig{
		Brokers:           rp.Brokers,
		Topic:             "registry.records." + uuid.NewString()[:8],
		ClientID:          "notary-test",
		Partitions:        3,
		ReplicationFactor: 1,
	}
	client, err := kafka.NewClient(s.cfg)
	s.Require().NoError(err)
	s.client = client
}

func (s *KafkaSinkSuite) TearDownTest() {
	s.client.Close()
}

func (s *KafkaSinkSuite) TestEnsureTopicIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(kafka.Ping(ctx, s.client))
	s.Require().NoError(kafka.EnsureTopic(ctx, s.client, s.cfg))
	s.Require().NoError(kafka.EnsureTopic(ctx, s.client, s.cfg))
}

func (s *KafkaSinkSuite) TestEventsArriveInOrderPerFingerprint() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(kafka.EnsureTopic(ctx, s.client, s.cfg))

	now := time.Now().UTC().Truncate(time.Microsecond)
	record, err := models.NewRecord(id.Fingerprint{0x42}, id.Address{0x01}, id.Address{0x02}, now)
	s.Require().NoError(err)
	issued := events.Issued(1, record)
	record.ApplyRevocation(now.Add(time.Second))
	revoked := events.Revoked(2, record)

	sink := events.NewKafkaSink(s.client, s.cfg.Topic)
	s.Require().NoError(sink.Publish(ctx, issued))
	s.Require().NoError(sink.Publish(ctx, revoked))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.cfg.Brokers...),
		kgo.ConsumeTopics(s.cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var got []events.Event
	for len(got) < 2 {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out waiting for events")
		fetches.EachRecord(func(r *kgo.Record) {
			s.Equal(issued.Fingerprint.String(), string(r.Key))
			var e events.Event
			s.Require().NoError(json.Unmarshal(r.Value, &e))
			got = append(got, e)
		})
	}

	s.Require().Len(got, 2)
	s.Equal(events.TypeIssued, got[0].Type)
	s.Equal(issued.ID, got[0].ID)
	s.Equal(events.TypeRevoked, got[1].Type)
	s.Equal(revoked.ID, got[1].ID)
	s.Nil(got[1].Subject)
}
