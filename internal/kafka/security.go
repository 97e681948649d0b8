// Package kafka moves fragments between Kafka topics and a dispatcher: the
// Ingestor claims one fragment per consumed message and the Publisher
// forwards a subscription's fragments to a topic.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
)

// SecurityConfig holds the connection settings shared by the consumer group
// and the producer.
type SecurityConfig struct {
	SecurityProtocol      string
	SASLMechanism         string
	SASLUsername          string
	SASLPassword          string
	AWSRegion             string
	TLSInsecureSkipVerify bool
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

func configureSecurity(config *sarama.Config, sec SecurityConfig) error {
	switch sec.SecurityProtocol {
	case "", "PLAINTEXT":
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		config.Net.SASL.Enable = true

		switch sec.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
			config.Net.SASL.User = sec.SASLUsername
			config.Net.SASL.Password = sec.SASLPassword

		case "SCRAM-SHA-256", "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLMechanism(sec.SASLMechanism)
			config.Net.SASL.User = sec.SASLUsername
			config.Net.SASL.Password = sec.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = scramGenerator(config.Net.SASL.Mechanism)

		case "AWS_MSK_IAM":
			config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			// Sarama validates that both are set even for OAUTHBEARER.
			config.Net.SASL.User = "token"
			config.Net.SASL.Password = "token"

			region := sec.AWSRegion
			if region == "" {
				region = "us-east-1"
			}
			config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{region: region}

		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", sec.SASLMechanism)
		}

		if sec.SecurityProtocol == "SASL_SSL" {
			enableTLS(config, sec)
		}

	case "SSL":
		enableTLS(config, sec)

	default:
		return fmt.Errorf("unsupported security protocol: %s", sec.SecurityProtocol)
	}

	return nil
}

func enableTLS(config *sarama.Config, sec SecurityConfig) {
	config.Net.TLS.Enable = true
	config.Net.TLS.Config = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: sec.TLSInsecureSkipVerify,
	}
}

// newProducerConfig returns the idempotent, fully acknowledged producer
// settings used for both the publish topic and the dead letter topic.
func newProducerConfig(sec SecurityConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	if err := configureSecurity(config, sec); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return config, nil
}

// NewSyncProducer connects a synchronous producer to the brokers.
func NewSyncProducer(bootstrapServers []string, sec SecurityConfig) (sarama.SyncProducer, error) {
	config, err := newProducerConfig(sec)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}
	return producer, nil
}
