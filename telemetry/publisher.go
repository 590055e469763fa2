// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bbnote/netdap"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPrefix   = "netdap"
	DefaultInterval = 10 * time.Second

	publishTimeout = 2 * time.Second
	qosAtLeastOnce = 1
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	Interval time.Duration
}

// Counter reports how many command frames have been executed.
// *netdap.Pipeline implements it.
type Counter interface {
	Processed() uint64
}

type Status struct {
	State    string `json:"state"`
	Proto    string `json:"proto,omitempty"`
	Remote   string `json:"remote"`
	Commands uint64 `json:"commands"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher keeps a retained status message up to date.
type Publisher struct {
	config  Config
	counter Counter
	log     *logrus.Entry

	client publisher
	conn   mqtt.Client

	mu     mutex
	status Status
}

func NewPublisher(config Config, counter Counter, log *logrus.Entry) *Publisher {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if log == nil {
		log = logrus.NewEntry(netdap.Logger())
	}
	if config.ClientID == "" {
		host, _ := os.Hostname()
		config.ClientID = fmt.Sprintf("netdap-%s-%d", host, os.Getpid())
	}

	p := &Publisher{
		config:  config,
		counter: counter,
		log:     log.WithField("broker", config.Broker),
		status:  Status{State: "accepting"},
	}

	options := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(p.Topic(), `{"state":"offline"}`, qosAtLeastOnce, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warnf("mqtt connection lost: %v", err)
		})

	p.conn = mqtt.NewClient(options)
	p.client = p.conn

	return p
}

func (p *Publisher) Topic() string {
	return p.config.Prefix + "/status"
}

// Connect waits up to timeout for the first broker connection. The client
// keeps retrying in the background after a timeout.
func (p *Publisher) Connect(timeout time.Duration) error {
	token := p.conn.Connect()

	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect to %s timed out", p.config.Broker)
	}

	return token.Error()
}

func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.status
	if p.counter != nil {
		s.Commands = p.counter.Processed()
	}

	return s
}

// SessionChanged records a session transition and publishes it at once.
func (p *Publisher) SessionChanged(state string, proto string, remote string) {
	p.mu.Lock()
	p.status.State = state
	p.status.Proto = proto
	p.status.Remote = remote
	p.mu.Unlock()

	if err := p.Publish(); err != nil {
		p.log.Warnf("status publish failed: %v", err)
	}
}

func (p *Publisher) Publish() error {
	payload, err := json.Marshal(p.Status())
	if err != nil {
		return err
	}

	token := p.client.Publish(p.Topic(), qosAtLeastOnce, true, payload)

	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", p.Topic())
	}

	return token.Error()
}

// Run publishes the status every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if p.conn != nil && p.conn.IsConnected() {
				p.client.Publish(p.Topic(), qosAtLeastOnce, true, `{"state":"offline"}`).WaitTimeout(publishTimeout)
				p.conn.Disconnect(250)
			}
			return nil

		case <-ticker.C:
			if err := p.Publish(); err != nil {
				p.log.Debugf("status publish failed: %v", err)
			}
		}
	}
}
