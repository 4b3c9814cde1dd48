package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/specsheet/config"
	"example.com/backstage/services/specsheet/internal/tracing"
)

// SignatureRequestMessage asks the worker to email a signature link for a
// sheet to the given address.
type SignatureRequestMessage struct {
	SheetID     uuid.UUID `json:"sheet_id"`
	Email       string    `json:"email"`
	Link        string    `json:"link"`
	RequestedBy string    `json:"requested_by"`
}

// Sender publishes messages to the signature-request queue.
type Sender interface {
	SendSignatureRequest(ctx context.Context, msg SignatureRequestMessage) error
	Close() error
}

// MessageHandler processes one received queue message.
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage, txn *newrelic.Transaction) error

// AzureServiceBus wraps the Service Bus client for both sending and
// receiving on the signature-request queue.
type AzureServiceBus struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	tracer    tracing.Tracer
}

// NewAzureServiceBus creates a client for the configured queue.
func NewAzureServiceBus(cfg config.AzureConfig, tracer tracing.Tracer) (*AzureServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &AzureServiceBus{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		tracer:    tracer,
	}, nil
}

// SendSignatureRequest publishes a signature-request message.
func (a *AzureServiceBus) SendSignatureRequest(ctx context.Context, msg SignatureRequestMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	sbMsg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "specsheet-api",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return a.sender.SendMessage(ctx, sbMsg, nil)
}

// ProcessMessages receives from the queue until the context is cancelled,
// handing each message to the handler. Failed messages are abandoned back
// to the queue; handled ones are completed.
func (a *AzureServiceBus) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	receiver, err := a.client.NewReceiverForQueue(a.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Error receiving messages")
			time.Sleep(2 * time.Second)
			continue
		}

		for _, message := range messages {
			txn := a.tracer.StartTransaction("process-signature-request")

			if err := handler(ctx, message, txn); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
				a.tracer.RecordError(txn, err)
				// Return the message to the queue
				if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
					log.Error().Err(err).Msg("(AbandonMessage) failed")
				}
				a.tracer.EndTransaction(txn)
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Msg("(CompleteMessage) failed")
			}
			a.tracer.EndTransaction(txn)
		}
	}
}

// Close closes the sender and the underlying client.
func (a *AzureServiceBus) Close() error {
	if a.sender != nil {
		if err := a.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if a.client != nil {
		return a.client.Close(context.Background())
	}
	return nil
}
