package messaging

import (
	"context"
)

// Transport abstracts the message broker. Implementations must confirm
// delivery before returning nil; broker unavailability surfaces as
// *contracts.TransientTransportError so the retry path can classify it.
type Transport interface {
	// Publish sends body to the topic with the given routing key and headers.
	Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error

	// Close releases the transport's resources.
	Close() error
}
