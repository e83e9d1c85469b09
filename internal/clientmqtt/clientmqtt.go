package clientmqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"trv2relay/internal/logger"
)

var ErrNotConnected = errors.New("mqtt client is not started")

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	log       logger.Logger
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions

	mu     sync.Mutex
	topics map[string]subscription
}

// MQTTClient is a convenience interface to use within this application.
type MQTTClient interface {
	Start(ctx context.Context) error
	Stop() error
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload string) error
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf) *ClientMQTT {
	return &ClientMQTT{
		log:       log,
		cfgClient: cfgClient,
		topics:    map[string]subscription{},
	}
}

func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect to %s:%s: %w", c.cfgClient.Host, c.cfgClient.Port, err)
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Publish sends payload and waits for the broker to acknowledge it (per qos) or ctx to end.
func (c *ClientMQTT) Publish(ctx context.Context, topic string, qos byte, retain bool, payload string) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.wait(ctx, c.client.Publish(topic, qos, retain, payload)); err != nil {
		return fmt.Errorf("publish %q to %s: %w", payload, topic, err)
	}
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("published %q to %s", payload, topic)
	return nil
}

// Subscribe registers handler for topic. Registered topics are subscribed again after every reconnect.
func (c *ClientMQTT) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if c.client == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.topics[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := c.wait(ctx, c.client.Subscribe(topic, qos, c.dispatch(handler))); err != nil {
		return fmt.Errorf("topic %s subscription error: %w", topic, err)
	}
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	return nil
}

func (c *ClientMQTT) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ClientMQTT) dispatch(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
		handler(msg.Topic(), msg.Payload())
	}
}

func (c *ClientMQTT) connectHandler(client mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.topics {
		token := client.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
		go func(topic string, token mqtt.Token) {
			if token.Wait() && token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s resubscription error. %v", topic, token.Error())
			}
		}(topic, token)
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("unexpected message: %s from topic: %s", msg.Payload(), msg.Topic())
}
