package plot

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// GenerationSummary is published after every successful run.
type GenerationSummary struct {
	GenerationID string `json:"generationId"`
	Readings     int    `json:"readings"`
	CropUnits    int    `json:"cropUnits"`
	Source       string `json:"source"`
	Timestamp    int64  `json:"timestamp"`
}

// Publisher publishes generation summaries to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a publisher writing under prefix. A nil client
// disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "cacaomap"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true, // late subscribers see the active generation
	}
}

// Topic returns the summary topic.
func (p *Publisher) Topic() string {
	return fmt.Sprintf("%s/generation", p.publishPrefix)
}

// PublishGeneration publishes the summary of a completed run.
func (p *Publisher) PublishGeneration(source string, result *RunResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(GenerationSummary{
		GenerationID: result.GenerationID,
		Readings:     result.Count,
		CropUnits:    result.CropUnits,
		Source:       source,
		Timestamp:    time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling generation summary: %w", err)
	}

	topic := p.Topic()
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] published generation %s to %s", result.GenerationID, topic)
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether summaries are retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
