package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"vigil/internal/monitor"
)

// Publisher forwards fired detection events to an MQTT broker so other
// building systems (access control, signage) can react to them. It
// subscribes to the alert bus and publishes one retained-free message
// per event under <prefix>/events/<kind>.
type Publisher struct {
	client mqtt.Client
	prefix string
}

// Config holds MQTT broker configuration
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// NewPublisher connects to the broker
func NewPublisher(cfg Config) (*Publisher, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "vigil"
	}

	log.Printf("[MQTT] Connected to broker %s", broker)
	return &Publisher{client: cli, prefix: prefix}, nil
}

// OnEvent publishes a fired event. Broker failures are logged, never
// propagated back to the firing path.
func (p *Publisher) OnEvent(ev *monitor.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[MQTT] Failed to marshal event %s: %v", ev.ID, err)
		return
	}

	topic := fmt.Sprintf("%s/events/%s", p.prefix, ev.Kind)
	token := p.client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("[MQTT] Failed to publish event %s to %s: %v", ev.ID, topic, err)
	}
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

var _ monitor.AlertHandler = (*Publisher)(nil)
