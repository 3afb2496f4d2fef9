package app

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shawlshop/internal/version"
)

const kafkaDialTimeout = 3 * time.Second

// parseBrokers разбирает KAFKA_BROKERS: "h1:9092, h2:9092". Пустые элементы пропускаются.
func parseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// initKafkaProducer создаёт producer для публикации событий заказов.
// Без brokers возвращает nil, nil: события копятся в outbox до появления Kafka.
func initKafkaProducer(raw string, logger *log.Entry) (*kafka.Producer, error) {
	brokers := parseBrokers(raw)
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, order events stay in outbox")
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  brokers,
		ClientID: version.ClientID("storefront"),
		Timeout:  kafkaDialTimeout,
	})
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Warn("failed to create kafka producer, order events stay in outbox")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает producer, если он есть.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
