package imgout

import (
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// Publisher sends messages to a broker
type Publisher interface {
	// Connect connects to the broker
	Connect() error

	// Publish sends payload on topic and waits for the broker to accept it
	Publish(topic string, payload []byte) error

	// Disconnect closes the connection
	Disconnect()
}

// MQTT is a Publisher for an MQTT broker
type MQTT struct {
	// Broker is host:port of the broker
	Broker string

	// ClientID is the client identifier presented to the broker
	ClientID string

	// QoS is the quality of service of published messages
	QoS byte

	// Timeout bounds each connect and publish.  Zero means 5 seconds.
	Timeout time.Duration

	// Logger receives log lines.  nil uses the standard logger.
	Logger *log.Logger

	client mqtt.Client
}

func (m *MQTT) timeout() time.Duration {
	if m.Timeout <= 0 {
		return 5 * time.Second
	}
	return m.Timeout
}

// Connect connects to the broker, retrying with exponential backoff
func (m *MQTT) Connect() error {
	if m.client != nil && m.client.IsConnected() {
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.Broker))
	opts.SetClientID(m.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logf(m.Logger, "imgout.MQTT: connection to %s lost, reconnecting: %v", m.Broker, err)
	}
	m.client = mqtt.NewClient(opts)

	op := func() error {
		token := m.client.Connect()
		if !token.WaitTimeout(m.timeout()) {
			return fmt.Errorf("connection timeout to %s", m.Broker)
		}
		return token.Error()
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return errors.Wrapf(err, "connecting to MQTT broker %s", m.Broker)
	}
	logf(m.Logger, "imgout.MQTT: connected to %s as %s", m.Broker, m.ClientID)
	return nil
}

// Publish sends payload on topic
func (m *MQTT) Publish(topic string, payload []byte) error {
	if m.client == nil || !m.client.IsConnected() {
		return errors.Wrap(ErrPublish, "not connected")
	}
	token := m.client.Publish(topic, m.QoS, false, payload)
	if !token.WaitTimeout(m.timeout()) {
		return errors.Wrapf(ErrPublish, "%s: publish timeout", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(ErrPublish, "%s: %v", topic, err)
	}
	return nil
}

// Disconnect closes the connection, allowing 250 ms for queued messages
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
