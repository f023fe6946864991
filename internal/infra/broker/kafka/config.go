package kafka

import "github.com/IBM/sarama"

// DefaultClientID names lettz connections in broker logs and quotas.
const DefaultClientID = "lettz"

// NewConfig returns the sarama settings shared by the relay producer and the
// cleanup consumer group. Producers are idempotent and wait for every in-sync
// replica; consumers start from the oldest offset so a fresh group replays
// removals it has never seen.
func NewConfig(clientID string) *sarama.Config {
	if clientID == "" {
		clientID = DefaultClientID
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_5_0_0

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1

	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	return cfg
}
