package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"stocksim/internal/metrics"
)

// Publisher is the outbound half of the adapter, narrow enough for services
// to stub in tests.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Handler consumes one raw message. Returning an error drops the message
// after logging; the subscriber loop itself never dies on bad input.
type Handler func(payload []byte) error

// Client wraps the shared MQTT broker connection. Reconnects automatically
// and resubscribes every registered topic on each (re)connect.
type Client struct {
	opts    *mqtt.ClientOptions
	mqtt    mqtt.Client
	groupID string

	mu       sync.Mutex
	handlers map[string]Handler
}

type Options struct {
	BrokerURL string
	Username  string
	Password  string
	GroupID   string
}

func NewClient(options Options) *Client {
	c := &Client{
		groupID:  options.GroupID,
		handlers: make(map[string]Handler),
	}
	opts := mqtt.NewClientOptions().
		AddBroker(options.BrokerURL).
		SetClientID(fmt.Sprintf("stocksim-group-%s", options.GroupID)).
		SetUsername(options.Username).
		SetPassword(options.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectRetry(true)
	opts.OnConnect = func(client mqtt.Client) {
		zap.L().Info("connected to broker", zap.String("broker", options.BrokerURL))
		c.resubscribe()
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		zap.L().Warn("broker connection lost", zap.Error(err))
	}
	c.opts = opts
	return c
}

func (c *Client) Connect() error {
	c.mqtt = mqtt.NewClient(c.opts)
	token := c.mqtt.Connect()
	token.Wait()
	return token.Error()
}

func (c *Client) Close() {
	if c.mqtt != nil {
		c.mqtt.Disconnect(250)
	}
}

// Handle registers a topic handler. Must be called before Connect so the
// OnConnect hook can subscribe everything at once.
func (c *Client) Handle(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.handlers {
		topic, handler := topic, handler
		token := c.mqtt.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			c.dispatch(topic, handler, msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			zap.L().Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// dispatch shields the subscriber loop: malformed payloads and handler
// panics are logged and dropped, never fatal.
func (c *Client) dispatch(topic string, handler Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusMessagesTotal.WithLabelValues(topic, "panic").Inc()
			zap.L().Error("bus handler panic", zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	if err := handler(payload); err != nil {
		metrics.BusMessagesTotal.WithLabelValues(topic, "dropped").Inc()
		zap.L().Warn("bus message dropped", zap.String("topic", topic), zap.Error(err))
		return
	}
	metrics.BusMessagesTotal.WithLabelValues(topic, "ok").Inc()
}

func (c *Client) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := c.mqtt.Publish(topic, 1, false, data)
	if token.Wait() && token.Error() != nil {
		metrics.BusMessagesTotal.WithLabelValues(topic, "publish_error").Inc()
		zap.L().Error("bus publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		return token.Error()
	}
	return nil
}

// GroupID is this group's identity on the bus; handlers use it to skip
// echoes of our own publishes.
func (c *Client) GroupID() string {
	return c.groupID
}
