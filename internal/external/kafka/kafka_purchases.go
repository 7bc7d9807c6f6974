package rewards

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type KafkaPurchases struct {
	reader *kafka.Reader
}

func GetNewReader(broker string, topic string, group string) (reader *KafkaPurchases, err error) {
	if broker == "" {
		return nil, fmt.Errorf("env KAFKA_PURCHASES_URL is not set")
	}
	if topic == "" {
		return nil, fmt.Errorf("env KAFKA_PURCHASES_TOPIC is not set")
	}

	kafkaconfig := kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
	}
	return &KafkaPurchases{kafka.NewReader(kafkaconfig)}, nil
}

func (k *KafkaPurchases) GetNewMessage(ctx context.Context) (purchaseJson string, err error) {
	msg, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return "", err
	}
	return string(msg.Value), nil
}

func (k *KafkaPurchases) CloseReader() {
	k.reader.Close()
}
