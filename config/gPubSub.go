package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

const defaultNotificationTopic = "notification-jobs"

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	return getPubSubClient(ctx)
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")
	policy := RetryPolicy{MaxAttempts: 3, Backoff: ExponentialBackoff(5 * time.Second)}

	var client *pubsub.Client
	err := policy.Do(ctx, "pubsub", func(attempt int) error {
		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err != nil {
			return err
		}

		pubsubClientMu.Lock()
		if pubsubClient == nil {
			pubsubClient = c
		} else {
			// Another goroutine won the race; close ours.
			_ = c.Close()
		}
		client = pubsubClient
		pubsubClientMu.Unlock()

		log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// NotificationTopic is the topic carrying due notification jobs to the push callback.
func NotificationTopic() string {
	if v := strings.TrimSpace(os.Getenv("NOTIFICATION_TOPIC")); v != "" {
		return v
	}
	return defaultNotificationTopic
}

// PublishNotificationJob publishes and returns the Pub/Sub server-assigned message ID.
func PublishNotificationJob(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	topicName := NotificationTopic()
	t := client.Topic(topicName)
	if EnvBoolDefault("NOTIFICATION_CREATE_TOPIC", false) {
		if t, err = CreateTopicIfNotExists(ctx, client, topicName); err != nil {
			return "", err
		}
	}

	result := t.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	return result.Get(ctx)
}
