package mqttir

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Publisher is the part of an MQTT client the blasters need
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config describes the broker connection
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Connect opens a client connection to the broker and waits for it to be
// established
func Connect(cfg Config) (mqtt.Client, error) {
	if cfg.Port <= 0 {
		cfg.Port = 1883
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second * 10
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("smarthome_%d", rand.IntN(100000)))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Logger(nil).WithError(err).Warn("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.New("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connecting to MQTT broker")
	}

	return client, nil
}

// Blaster is a Tasmota style IR bridge: codes are published verbatim to
// cmnd/<topic>/IRsend
type Blaster struct {
	pub   Publisher
	topic string
	qos   byte
}

func NewBlaster(pub Publisher, topic string) *Blaster {
	return &Blaster{pub: pub, topic: topic, qos: 1}
}

func (b *Blaster) WithQoS(qos byte) *Blaster {
	nb := *b
	nb.qos = qos
	return &nb
}

func (b *Blaster) CommandTopic() string {
	return fmt.Sprintf("cmnd/%s/IRsend", b.topic)
}

func (b *Blaster) SendRaw(ctx context.Context, code string) error {
	if code == "" {
		return errors.New("empty IR code")
	}

	logging.Logger(ctx).Debugf("IR via %s: %d byte code", b.CommandTopic(), len(code))

	token := b.pub.Publish(b.CommandTopic(), b.qos, false, code)
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for MQTT publish")
	case <-token.Done():
	}

	return errors.Wrap(token.Error(), "publishing IR code")
}
