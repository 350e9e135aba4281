package relay

import (
	"context"

	"cloud.google.com/go/pubsub/v2"
)

type gcpPublisher struct {
	p *pubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) Result {
	return g.p.Publish(ctx, msg)
}

func (g gcpPublisher) ResumePublish(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

// PubSubTopics adapts a publisher lookup such as (*pubsub.Client).Publisher.
func PubSubTopics(lookup func(topic string) *pubsub.Publisher) Topics {
	return func(topic string) Publisher {
		p := lookup(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p: p}
	}
}
