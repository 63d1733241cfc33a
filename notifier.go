package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ========================================
// StatusNotifier - optional MQTT stream of run events
// ========================================
//
// Endurance runs sit unattended in a lab for 12 or 24 hours. Publishing run
// events to a broker lets operators watch progress from a dashboard without
// shelling into the test host. Entirely optional and entirely best effort:
// a missing broker only costs a warning.

type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix"`
}

func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Enabled:     false,
		Port:        1883,
		TopicPrefix: "stbtest",
	}
}

type StatusNotifier struct {
	client mqtt.Client
	prefix string
}

// NewStatusNotifier connects to the broker. Returns an error rather than a
// degraded notifier so the caller can decide whether to run without one.
func NewStatusNotifier(cfg NotifierConfig) (*StatusNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(fmt.Sprintf("stbtest_%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		LogWarn("notifier").Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		LogInfo("notifier").Str("broker", cfg.Broker).Msg("MQTT connected")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("MQTT connect to %s:%d timed out", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect failed: %w", err)
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "stbtest"
	}
	return &StatusNotifier{client: client, prefix: prefix}, nil
}

// Publish sends one run event to <prefix>/<device>/events. QoS 0, fire and
// forget: run progress must never block on the broker.
func (n *StatusNotifier) Publish(device string, ev RunEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	topic := fmt.Sprintf("%s/%s/events", n.prefix, device)
	token := n.client.Publish(topic, 0, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		LogWarn("notifier").Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
	}
}

func (n *StatusNotifier) Close() {
	n.client.Disconnect(250)
}
