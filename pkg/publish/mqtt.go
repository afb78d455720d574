package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

const publishTimeout = 5 * time.Second

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Config holds broker settings.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTPublisher publishes table views and closed sessions.
type MQTTPublisher struct {
	client      Client
	topicPrefix string
}

// Connect dials the broker and returns a publisher.
func Connect(cfg Config) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "cuemeter"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return New(client, cfg.TopicPrefix), nil
}

// New wraps an existing client.
func New(client Client, topicPrefix string) *MQTTPublisher {
	if topicPrefix == "" {
		topicPrefix = "cuemeter"
	}
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix}
}

// PublishTable sends the retained state of a table.
func (p *MQTTPublisher) PublishTable(view model.TableView) error {
	return p.publish(p.topic(view.TableID, "state"), true, view)
}

// PublishSession announces a closed session.
func (p *MQTTPublisher) PublishSession(record model.SessionRecord) error {
	return p.publish(p.topic(record.TableID, "sessions"), false, record)
}

func (p *MQTTPublisher) topic(tableID, leaf string) string {
	return fmt.Sprintf("%s/tables/%s/%s", p.topicPrefix, tableID, leaf)
}

func (p *MQTTPublisher) publish(topic string, retained bool, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
