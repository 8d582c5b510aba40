package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Logger      zerolog.Logger
}

// MQTTPublisher maps rooms onto topics: <prefix>/<room>/<event>.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

func ConnectMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "smartward-backend"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "smartward"
	}

	logger := cfg.Logger
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	}
	opts.OnConnect = func(_ mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Str("client_id", cfg.ClientID).Msg("mqtt connected")
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return NewMQTTPublisher(c, cfg.TopicPrefix), nil
}

func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix}
}

func (p *MQTTPublisher) Topic(room, event string) string {
	return p.prefix + "/" + strings.ReplaceAll(room, ":", "/") + "/" + event
}

func (p *MQTTPublisher) Publish(ctx context.Context, room, event string, payload any) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	b, err := json.Marshal(Envelope{Room: room, Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	wait := 3 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < wait {
			wait = remaining
		}
	}
	tok := p.client.Publish(p.Topic(room, event), 1, false, b)
	if !tok.WaitTimeout(wait) {
		return errors.New("mqtt publish timed out")
	}
	return tok.Error()
}

func (p *MQTTPublisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
