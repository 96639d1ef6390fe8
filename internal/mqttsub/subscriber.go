// Package mqttsub consumes keybox device events from an MQTT broker.
package mqttsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

const (
	DefaultTopic   = "keybox/+/events"
	defaultBacklog = 256
	qos            = 1
)

// Handler is satisfied by service.Ingestor.
type Handler interface {
	Handle(ctx context.Context, raw types.RawEvent) (types.Ack, error)
}

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	// Backlog bounds messages received but not yet processed.
	Backlog int
}

type message struct {
	topic   string
	payload []byte
}

// Subscriber feeds every message to the handler from a single goroutine, so
// events are applied in the order the broker delivered them.
type Subscriber struct {
	cfg     Config
	handler Handler
	logger  logrus.FieldLogger

	client mqtt.Client
	queue  chan message

	statusMu sync.Mutex
	onStatus func(connected bool)

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config, h Handler, logger logrus.FieldLogger) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("keybox-server-%d", time.Now().UnixNano())
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = defaultBacklog
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Subscriber{
		cfg:     cfg,
		handler: h,
		logger:  logger.WithField("component", "mqtt"),
		queue:   make(chan message, cfg.Backlog),
		done:    make(chan struct{}),
	}
}

// OnStatus registers a callback for broker connect and disconnect.
func (s *Subscriber) OnStatus(fn func(connected bool)) {
	s.statusMu.Lock()
	s.onStatus = fn
	s.statusMu.Unlock()
}

func (s *Subscriber) setStatus(connected bool) {
	s.statusMu.Lock()
	fn := s.onStatus
	s.statusMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// Start connects in the background and begins consuming.  Connection
// failures are retried by the client; they are reported through OnStatus.
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.WithField("broker", s.cfg.Broker).Info("mqtt connected")
		tok := c.Subscribe(s.cfg.Topic, qos, func(_ mqtt.Client, m mqtt.Message) {
			s.enqueue(ctx, m.Topic(), m.Payload())
		})
		go func() {
			if tok.Wait() && tok.Error() != nil {
				s.logger.WithError(tok.Error()).WithField("topic", s.cfg.Topic).Error("mqtt subscribe failed")
				return
			}
			s.setStatus(true)
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.WithError(err).Warn("mqtt connection lost")
		s.setStatus(false)
	})

	s.client = mqtt.NewClient(opts)
	s.client.Connect()

	go s.consume(ctx)
}

// Stop disconnects and waits for the consumer to drain what it holds.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		if s.client != nil {
			s.client.Disconnect(250)
		}
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

func (s *Subscriber) enqueue(ctx context.Context, topic string, payload []byte) {
	p := make([]byte, len(payload))
	copy(p, payload)
	select {
	case s.queue <- message{topic: topic, payload: p}:
	case <-ctx.Done():
	}
}

func (s *Subscriber) consume(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			ack, _ := s.HandleMessage(ctx, m.topic, m.payload)
			s.reply(m.topic, ack)
		}
	}
}

// HandleMessage decodes one payload and hands it to the handler.  Failures
// are logged and returned alongside the error ack the device is sent; they
// never stop the consumer.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) (types.Ack, error) {
	log := s.logger.WithField("topic", topic)

	var raw types.RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.WithError(err).Warn("undecodable mqtt payload")
		err = &service.ValidationError{Field: "payload", Message: "not a JSON event", Err: err}
		return service.ErrorAck(raw, err), err
	}
	if raw.Device.String() == "" {
		raw.Device = types.FlexString(DeviceFromTopic(topic))
	}

	ack, err := s.handler.Handle(ctx, raw)
	if err != nil {
		log.WithError(err).WithField("device", raw.Device.String()).Error("mqtt event rejected")
		return service.ErrorAck(raw, err), err
	}
	return ack, nil
}

func (s *Subscriber) reply(topic string, ack types.Ack) {
	to := AckTopic(topic)
	if to == "" || s.client == nil || !s.client.IsConnectionOpen() {
		return
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	s.client.Publish(to, 0, false, b)
}

// DeviceFromTopic returns the second segment of keybox/<device>/events.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AckTopic maps keybox/<device>/events to keybox/<device>/ack.  Topics of
// any other shape get no reply.
func AckTopic(topic string) string {
	prefix, ok := strings.CutSuffix(topic, "/events")
	if !ok || DeviceFromTopic(topic) == "" {
		return ""
	}
	return prefix + "/ack"
}
