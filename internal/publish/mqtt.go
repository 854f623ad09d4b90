// Package publish sends decoded characters to an MQTT broker.
package publish

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrBrokerRequired = errors.New("mqtt broker is required")
	ErrTopicRequired  = errors.New("mqtt topic is required")
	ErrInvalidQoS     = errors.New("mqtt qos must be 0, 1 or 2")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Config holds publisher settings.
type Config struct {
	// Broker is a URL such as tcp://localhost:1883
	Broker string
	Topic  string
	QoS    byte
	// ClientID defaults to morselink-<uuid>
	ClientID string
	// Timeout bounds each publish acknowledgement
	Timeout time.Duration
	// Queue is the number of characters buffered ahead of the network
	Queue int
}

// DefaultConfig returns settings for broker on the morselink/decoded topic.
func DefaultConfig(broker string) Config {
	return Config{
		Broker:  broker,
		Topic:   "morselink/decoded",
		Timeout: 5 * time.Second,
		Queue:   256,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, ErrBrokerRequired)
	}
	if c.Topic == "" {
		errs = append(errs, ErrTopicRequired)
	}
	if c.QoS > 2 {
		errs = append(errs, ErrInvalidQoS)
	}
	return errors.Join(errs...)
}

// Message is the JSON payload of one decoded character.
type Message struct {
	Char       string    `json:"char"`
	WordSpace  bool      `json:"word_space,omitempty"`
	Unresolved string    `json:"unresolved,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// Publisher queues decoded output and publishes it from its own goroutine,
// so Handle never blocks the decoder.
type Publisher struct {
	client  Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	queue  chan Message
	closed bool
	done   chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Connect dials the broker and returns a running publisher.
func Connect(cfg Config, logger *log.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "morselink-" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Printf("Publish: connected to %s as %s", cfg.Broker, clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("Publish: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return New(client, cfg, logger), nil
}

// New starts a publisher on an existing client.
func New(client Client, cfg Config, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Publisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger,
		queue:   make(chan Message, max(1, cfg.Queue)),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)

	for msg := range p.queue {
		payload, err := json.Marshal(msg)
		if err != nil {
			p.failed.Add(1)
			p.logger.Printf("Publish: encode message: %v", err)
			continue
		}

		token := p.client.Publish(p.topic, p.qos, false, payload)
		if p.timeout > 0 && !token.WaitTimeout(p.timeout) {
			p.failed.Add(1)
			p.logger.Printf("Publish: no acknowledgement within %v", p.timeout)
			continue
		}
		if p.timeout <= 0 {
			token.Wait()
		}
		if err := token.Error(); err != nil {
			p.failed.Add(1)
			p.logger.Printf("Publish: %v", err)
			continue
		}
		p.sent.Add(1)
	}
}

// Handle queues one decoded output. It has the cw.DecodedCallback signature;
// when the queue is full the output is dropped and counted.
func (p *Publisher) Handle(out cw.DecodedOutput) {
	msg := Message{
		Char:      string(out.Character),
		WordSpace: out.IsWordSpace,
		Timestamp: out.Timestamp,
	}
	if out.Character == cw.UnresolvedChar && len(out.Unresolved) > 0 {
		msg.Unresolved = string(out.Unresolved)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns how many messages were published, dropped and failed.
func (p *Publisher) Stats() (sent, dropped, failed uint64) {
	return p.sent.Load(), p.dropped.Load(), p.failed.Load()
}

// Close publishes what is queued, then disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect(250)
}
