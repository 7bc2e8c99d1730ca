package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-budget-ledger/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics lists every topic the service reads or writes.
func Topics(instanceID string) []string {
	topics := make([]string, 0, 3*len(RequestTopics)+1)
	for _, topic := range RequestTopics {
		topics = append(topics, topic, RetryTopic(topic), DLQTopic(topic))
	}
	return append(topics, ReplyTopic(instanceID))
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config) error {
	adm := kadm.NewClient(client)

	partitions := cfg.TopicPartitions()
	retryPartitions := cfg.RetryPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range Topics(cfg.KafkaInstanceID) {
		p := partitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = retryPartitions
		}

		resp, err := adm.CreateTopics(ctx, p, replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	log.Ctx(ctx).Info().Msg("all topics ensured")
	return nil
}
