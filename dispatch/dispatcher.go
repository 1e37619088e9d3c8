package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Service names published in command payloads.
const (
	ServiceSetPosition     = "set_cover_position"
	ServiceSetTiltPosition = "set_cover_tilt_position"
	ServiceOpen            = "open_cover"
	ServiceClose           = "close_cover"
)

// OpenCloseThreshold splits position targets for actuators that only
// support open and close: at or above it the cover opens fully.
const OpenCloseThreshold = 50

// Command is one movement order sent to an actuator. Target is the position
// the actuator should end up at, which for open/close-only covers differs
// from the requested position.
type Command struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	Service      string    `json:"service"`
	Position     *int      `json:"position,omitempty"`
	TiltPosition *int      `json:"tilt_position,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`

	Target int `json:"target"`
}

// Publisher is the slice of the MQTT client the dispatcher needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config holds dispatcher settings.
type Config struct {
	// BaseTopic is the root under which commands are published, as
	// <base>/command/<entity_id>.
	BaseTopic string `json:"base_topic"`

	// RatePerSecond bounds command publishes; Burst allows short clusters
	// when several covers move on one tick.
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`

	PublishTimeout time.Duration `json:"-"`
}

// DefaultConfig allows ten commands per second with a burst the size of a
// large installation.
func DefaultConfig() Config {
	return Config{
		BaseTopic:      "sunblind",
		RatePerSecond:  10,
		Burst:          20,
		PublishTimeout: 5 * time.Second,
	}
}

// Dispatcher publishes movement commands, one topic per actuator.
type Dispatcher struct {
	cfg     Config
	pub     Publisher
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewDispatcher(cfg Config, pub Publisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Dispatcher{
		cfg:     cfg,
		pub:     pub,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log,
	}
}

// Prepare selects the service call for a position target given the
// actuator's capabilities. It returns an error when the actuator supports
// neither positioning nor open/close.
func Prepare(entityID string, position int, tilt bool, caps Capabilities) (Command, error) {
	cmd := Command{
		ID:       uuid.NewString(),
		EntityID: entityID,
		IssuedAt: time.Now(),
	}

	supportsPosition := caps.SetPosition
	if tilt {
		supportsPosition = caps.SetTiltPosition
	}

	if supportsPosition {
		p := position
		cmd.Target = position
		if tilt {
			cmd.Service = ServiceSetTiltPosition
			cmd.TiltPosition = &p
		} else {
			cmd.Service = ServiceSetPosition
			cmd.Position = &p
		}
		return cmd, nil
	}

	if !caps.Open || !caps.Close {
		return Command{}, fmt.Errorf("cover %s supports neither position nor open/close", entityID)
	}

	if position >= OpenCloseThreshold {
		cmd.Service = ServiceOpen
		cmd.Target = 100
	} else {
		cmd.Service = ServiceClose
		cmd.Target = 0
	}
	return cmd, nil
}

// Send prepares and publishes a movement command, honoring the rate limit.
// The returned command carries the id and effective target for tracking.
func (d *Dispatcher) Send(ctx context.Context, entityID string, position int, tilt bool, caps Capabilities) (Command, error) {
	cmd, err := Prepare(entityID, position, tilt, caps)
	if err != nil {
		return Command{}, err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return Command{}, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, fmt.Errorf("marshal command for %s: %w", entityID, err)
	}

	topic := d.topicFor(entityID)
	token := d.pub.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(d.cfg.PublishTimeout) {
		return Command{}, fmt.Errorf("publish timeout for %s", entityID)
	}
	if token.Error() != nil {
		return Command{}, fmt.Errorf("publish command for %s: %w", entityID, token.Error())
	}

	d.log.Info("command sent",
		"entity", entityID, "service", cmd.Service, "target", cmd.Target, "id", cmd.ID)
	return cmd, nil
}

// topicFor maps a dotted entity id onto the command topic tree.
func (d *Dispatcher) topicFor(entityID string) string {
	return d.cfg.BaseTopic + "/command/" + strings.ReplaceAll(entityID, ".", "/")
}
