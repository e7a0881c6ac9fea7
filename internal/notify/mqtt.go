package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// DefaultTopicPattern is the MQTT topic clips are published to.
const DefaultTopicPattern = "voice/clips/{topic_id}"

// Topic placeholder and the segment used when a clip has no topic.
const (
	topicPlaceholder = "{topic_id}"
	topicFallback    = "general"
)

const (
	mqttQoS             = 1
	mqttPublishTimeout  = 10 * time.Second
	mqttDisconnectQuiet = 250 // milliseconds
)

// MQTTConfig holds MQTT announcer configuration.
type MQTTConfig struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	TopicPattern string // e.g. "voice/clips/{topic_id}"
}

// MQTTAnnouncer publishes clip events to a per-topic MQTT topic.
type MQTTAnnouncer struct {
	client  mqtt.Client
	pattern string
}

// NewMQTTAnnouncer connects to the broker and returns an announcer.
func NewMQTTAnnouncer(cfg MQTTConfig) (*MQTTAnnouncer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	return newMQTTAnnouncer(client, cfg.TopicPattern), nil
}

func newMQTTAnnouncer(client mqtt.Client, pattern string) *MQTTAnnouncer {
	if pattern == "" {
		pattern = DefaultTopicPattern
	}
	return &MQTTAnnouncer{client: client, pattern: pattern}
}

// Name implements Announcer.
func (m *MQTTAnnouncer) Name() string { return "mqtt" }

// Announce implements Announcer.
func (m *MQTTAnnouncer) Announce(ctx context.Context, e *ClipEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return util.WrapError("marshal clip event", err)
	}

	topic := formatTopic(m.pattern, topicKey(e))
	token := m.client.Publish(topic, mqttQoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTAnnouncer) Close() {
	m.client.Disconnect(mqttDisconnectQuiet)
}

// topicKey picks the conversation a clip belongs to. Replies without a topic
// are grouped under their parent clip.
func topicKey(e *ClipEvent) string {
	if e.TopicID != "" {
		return e.TopicID
	}
	return e.ParentClipID
}

// formatTopic fills the topic placeholder with a sanitized key.
func formatTopic(pattern, key string) string {
	return strings.ReplaceAll(pattern, topicPlaceholder, util.SanitizeSegment(key, topicFallback))
}
