// internal/publish/mqtt.go
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/tamzrod/hsc-probe/internal/config"
	"github.com/tamzrod/hsc-probe/internal/poller"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

const publishTimeout = 2 * time.Second

// client is the part of paho's client the publisher needs.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the JSON body published for every event.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Block     string    `json:"block,omitempty"`
	Source    string    `json:"source,omitempty"`
	Cycle     uint64    `json:"cycle,omitempty"`
	Function  string    `json:"function"`
	Address   string    `json:"address,omitempty"`
	Value     string    `json:"countOrValue,omitempty"`
	Bits      []bool    `json:"bits,omitempty"`
	Registers []uint16  `json:"registers,omitempty"`
	Result    string    `json:"result"`
	Exception string    `json:"exception,omitempty"`
	At        time.Time `json:"at"`
}

// NewMessage builds the published form of ev.
func NewMessage(ev poller.Event) Message {
	row := writer.RowFor(ev)
	return Message{
		ID:        ev.ID,
		Block:     ev.Block,
		Source:    string(ev.Source),
		Cycle:     ev.Cycle,
		Function:  row.Function,
		Address:   row.Address,
		Value:     row.CountOrValue,
		Bits:      ev.Bits,
		Registers: ev.Registers,
		Result:    row.Result,
		Exception: row.Exception,
		At:        row.Timestamp,
	}
}

// MQTT publishes one JSON message per event on <topic>/<block>.
// Control events go to <topic>/control.
type MQTT struct {
	cli   client
	topic string
	qos   byte
}

// Dial connects to the configured broker.
func Dial(c config.MQTTConfig) (*MQTT, error) {
	if c.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			klog.V(1).InfoS("mqtt connection lost", "broker", c.Broker, "err", err)
		})

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect %s: timeout", c.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", c.Broker, err)
	}
	klog.V(1).InfoS("mqtt connected", "broker", c.Broker, "topic", c.Topic)

	return newMQTT(cli, c.Topic, byte(c.QoS)), nil
}

func newMQTT(cli client, topic string, qos byte) *MQTT {
	return &MQTT{cli: cli, topic: topic, qos: qos}
}

// Topic returns the topic an event is published on.
func (m *MQTT) Topic(ev poller.Event) string {
	switch {
	case ev.Op != "":
		return m.topic + "/control"
	case ev.Block != "":
		return m.topic + "/" + ev.Block
	default:
		return m.topic + "/" + ev.Function.String()
	}
}

// Publish sends one event and waits for the broker to accept it.
func (m *MQTT) Publish(ev poller.Event) error {
	payload, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("mqtt: encode: %w", err)
	}

	tok := m.cli.Publish(m.Topic(ev), m.qos, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish %s: timeout", m.Topic(ev))
	}
	return tok.Error()
}

// Run publishes events until ctx is done or the stream closes.
func (m *MQTT) Run(ctx context.Context, events <-chan poller.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.Publish(ev); err != nil {
				klog.V(2).InfoS("mqtt publish failed", "err", err)
			}
		}
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.cli.Disconnect(250)
}
