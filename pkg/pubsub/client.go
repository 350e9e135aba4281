package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub domain topic is required")
	errClosed            = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection and one ordered publisher per topic.
// Publishers are created on first use and flushed on Close.
type Client struct {
	api     *pubsub.Client
	project string
	domain  string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails when the domain topic is missing,
// so a misconfigured relay never starts claiming rows.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	domain := strings.TrimSpace(cfg.DomainTopic)
	if domain == "" {
		return nil, errNoTopic
	}

	api, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		api:        api,
		project:    project,
		domain:     domain,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", c.domain), "pubsub client initialized")
	}
	return c, nil
}

// Publisher returns the cached ordered publisher for a topic ID or full
// resource name, or nil when the name cannot be resolved.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.api == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if name == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.api.Publisher(name)
	p.EnableMessageOrdering = true
	c.publishers[name] = p
	return p
}

func (c *Client) DomainPublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.Publisher(c.domain)
}

// Ping looks up the domain topic through the admin API.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errClosed
	}
	name := topicResourceName(c.project, c.domain)
	_, err := c.api.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.domain)
	default:
		return fmt.Errorf("checking topic %q: %w", c.domain, err)
	}
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.api.Close()
}

func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	if strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/") {
		return topic
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/topics/" + topic
}
