package plot

import (
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TelemetryHandler receives each decoded telemetry batch. err is set when
// the payload was not a JSON array.
type TelemetryHandler func(topic string, readings []TelemetryReading, err error)

// MQTTClient subscribes to the telemetry topic and hands batches to a handler.
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     TelemetryHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the configured broker in the background.
// With no broker configured MQTT is disabled and this returns nil.
func InitMQTT(config MQTTConfig, handler TelemetryHandler) *MQTTClient {
	if config.Broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil
	}

	c := &MQTTClient{config: config, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	clientID := config.ClientID
	if clientID == "" {
		clientID = "cacaomap"
	}
	opts.SetClientID(clientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	opts.SetOrderMatters(true)  // batches must reach the queue in arrival order

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return c
}

func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Printf("[MQTT] connecting to %s...", c.config.Broker)
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.config.TelemetryTopic
	if topic == "" {
		log.Println("[MQTT] no telemetry topic configured, not subscribing")
		return
	}

	token := client.Subscribe(topic, 1, c.handleMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] subscribed to %s", topic)
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] telemetry batch on %s (%d bytes)", msg.Topic(), len(payload))

	readings, err := ParseReadings(payload)
	if err != nil {
		log.Printf("[MQTT] rejecting batch on %s: %v", msg.Topic(), err)
	}
	if c.handler != nil {
		c.handler(msg.Topic(), readings, err)
	}
}

// IsConnected reports the last known connection state.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Client returns the underlying paho client for publishing.
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Disconnect closes the connection with a short quiesce.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// NewMQTTClientWithClient wraps an existing paho client without connecting.
// Subscriptions happen when OnConnect is invoked.
func NewMQTTClientWithClient(client mqtt.Client, config MQTTConfig, handler TelemetryHandler) *MQTTClient {
	return &MQTTClient{client: client, config: config, handler: handler}
}

// OnConnect runs the subscription logic as paho would after connecting.
func (c *MQTTClient) OnConnect() {
	c.onConnect(c.client)
}
