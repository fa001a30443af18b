package mqtt

import (
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures the broker connection
type Options struct {
	Broker   string
	ClientID string
	QoS      byte
}

// RealConn is a paho backed broker connection
type RealConn struct {
	client paho.Client
	qos    byte
}

// Connect creates a connection to the broker and hands it to router.
// The connection keeps retrying in the background, so Connect returns
// before the broker is reachable.
func Connect(opts Options, router *Router) *RealConn {
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			router.OnConnect()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			router.OnConnectionLost(err)
		}).
		SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
			router.Dispatch(msg.Topic(), msg.Payload())
		})

	c := &RealConn{client: paho.NewClient(clientOpts), qos: opts.QoS}
	router.Attach(c)

	log.Printf("MQTT: Connecting to %s as %s", opts.Broker, opts.ClientID)
	token := c.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			log.Printf("MQTT: Connect to %s failed: %v", opts.Broker, err)
		}
	}()
	return c
}

// IsConnected reports whether the broker connection is up
func (c *RealConn) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish hands the message to paho without waiting for the broker
func (c *RealConn) Publish(topic string, payload []byte) error {
	return settle(c.client.Publish(topic, c.qos, false, payload), "publish "+topic)
}

// Subscribe subscribes pattern; messages reach the default handler. It
// does not wait for the SUBACK, since it may be called from a message
// handler.
func (c *RealConn) Subscribe(pattern string) error {
	return settle(c.client.Subscribe(pattern, c.qos, nil), "subscribe "+pattern)
}

// Unsubscribe removes the broker subscription of pattern without waiting
func (c *RealConn) Unsubscribe(pattern string) error {
	return settle(c.client.Unsubscribe(pattern), "unsubscribe "+pattern)
}

// settle returns the error of a token that already completed. A pending
// token is watched in the background and its failure is logged.
func settle(token paho.Token, op string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	default:
	}
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			log.Printf("MQTT: %s not acknowledged: %v", op, err)
		}
	}()
	return nil
}

// Disconnect closes the connection, waiting up to one second for in-flight work
func (c *RealConn) Disconnect() {
	c.client.Disconnect(1000)
}
