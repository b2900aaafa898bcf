package report

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub/v2"
)

// PubsubPublisher publishes records to Google Pub/Sub, keeping one
// publisher per topic.
type PubsubPublisher struct {
	client *pubsub.Client

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewPubsubPublisher(client *pubsub.Client) *PubsubPublisher {
	return &PubsubPublisher{
		client:     client,
		publishers: make(map[string]*pubsub.Publisher),
	}
}

// Publish blocks until the server acknowledges the message.
func (p *PubsubPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	_, err := p.publisher(topic).Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	return err
}

func (p *PubsubPublisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

// Close flushes and stops every publisher.
func (p *PubsubPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
}
