// Package statebus maintains the latest state of every external entity the
// controllers depend on (sun position, temperatures, presence, weather,
// cover positions), fed by retained MQTT state topics.
package statebus

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds the broker connection settings.
type Config struct {
	Broker          string `json:"broker"`
	Port            int    `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	UseTLS          bool   `json:"use_tls"`
	InsecureSkipTLS bool   `json:"insecure_skip_tls"`

	// BaseTopic is the root under which entity states are published, as
	// <base>/state/<entity_id>.
	BaseTopic string `json:"base_topic"`

	ClientIDPrefix string `json:"client_id_prefix"`
}

// DefaultConfig returns the settings for a local unauthenticated broker.
func DefaultConfig() Config {
	return Config{
		Broker:         "localhost",
		Port:           1883,
		BaseTopic:      "sunblind",
		ClientIDPrefix: "sunblind-statebus",
	}
}

// ChangeFunc is called for every state update, after the internal map has
// been updated. Callbacks run on the MQTT client's handler goroutine and
// must not block.
type ChangeFunc func(State)

// Bus is the entity-state collector. All reads are served from an in-memory
// map of the latest state per entity.
type Bus struct {
	cfg    Config
	client mqtt.Client
	log    *slog.Logger

	mu     sync.RWMutex
	states map[string]State

	listenMu  sync.RWMutex
	listeners []ChangeFunc

	done chan struct{}
}

// NewBus creates a bus; Start must be called before states arrive.
func NewBus(cfg Config, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		cfg:    cfg,
		log:    log,
		states: make(map[string]State),
		done:   make(chan struct{}),
	}
}

// OnChange registers a callback for state updates. Registration is expected
// before Start.
func (b *Bus) OnChange(fn ChangeFunc) {
	b.listenMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenMu.Unlock()
}

// Start connects to the broker and subscribes to the state topics.
func (b *Bus) Start() error {
	opts := mqtt.NewClientOptions()

	protocol := "tcp"
	if b.cfg.UseTLS {
		protocol = "tls"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", protocol, b.cfg.Broker, b.cfg.Port)
	opts.AddBroker(brokerURL)

	clientID := fmt.Sprintf("%s-%d", b.cfg.ClientIDPrefix, time.Now().Unix())
	opts.SetClientID(clientID)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	if b.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: b.cfg.InsecureSkipTLS})
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = b.onConnectionLost
	opts.OnReconnecting = b.onReconnecting

	b.client = mqtt.NewClient(opts)

	b.log.Info("connecting to broker", "url", brokerURL, "client_id", clientID)

	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	return nil
}

// Publisher exposes the underlying MQTT client so command dispatch can
// share the connection. Nil before Start.
func (b *Bus) Publisher() mqtt.Client {
	return b.client
}

// Stop disconnects from the broker.
func (b *Bus) Stop() {
	close(b.done)
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(1000)
	}
	b.log.Info("state bus stopped", "entities", b.Size())
}

func (b *Bus) onConnect(client mqtt.Client) {
	topic := b.cfg.BaseTopic + "/state/#"
	b.log.Info("broker connected, subscribing", "topic", topic)

	token := client.Subscribe(topic, 0, b.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		b.log.Error("subscribe timeout", "topic", topic)
		return
	}
	if token.Error() != nil {
		b.log.Error("subscribe failed", "topic", topic, "err", token.Error())
	}
}

func (b *Bus) onConnectionLost(client mqtt.Client, err error) {
	b.log.Warn("broker connection lost, will auto-reconnect", "err", err)
}

func (b *Bus) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	b.log.Info("reconnecting to broker")
}

func (b *Bus) onMessage(client mqtt.Client, msg mqtt.Message) {
	select {
	case <-b.done:
		return
	default:
	}

	state, err := ParseState(b.cfg.BaseTopic, msg.Topic(), msg.Payload())
	if err != nil {
		b.log.Debug("dropping unparseable state", "topic", msg.Topic(), "err", err)
		return
	}

	b.mu.Lock()
	b.states[state.EntityID] = state
	b.mu.Unlock()

	// Every update notifies, even when the scalar value repeats: cover
	// position changes arrive as attribute-only updates under a stable
	// "open" value.
	b.listenMu.RLock()
	listeners := b.listeners
	b.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}

// Get returns the latest state of an entity.
func (b *Bus) Get(entityID string) (State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[entityID]
	return s, ok
}

// Float returns the entity's state as a float, or nil when the entity is
// missing, unavailable or non-numeric.
func (b *Bus) Float(entityID string) *float64 {
	s, ok := b.Get(entityID)
	if !ok {
		return nil
	}
	return s.Float()
}

// Bool returns the entity's state as a boolean, or nil when it is missing,
// unavailable or unrecognized.
func (b *Bus) Bool(entityID string) *bool {
	s, ok := b.Get(entityID)
	if !ok {
		return nil
	}
	return s.Bool()
}

// String returns the entity's raw state value and whether it is usable.
func (b *Bus) String(entityID string) (string, bool) {
	s, ok := b.Get(entityID)
	if !ok || !s.Available() {
		return "", false
	}
	return s.Value, true
}

// Size returns the number of tracked entities.
func (b *Bus) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.states)
}

// Snapshot returns a copy of all tracked states, for diagnostics.
func (b *Bus) Snapshot() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]State, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// IsConnected reports broker connectivity.
func (b *Bus) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Inject stores a state directly, bypassing the broker. Used by tests and
// by the simulation endpoint.
func (b *Bus) Inject(state State) {
	b.mu.Lock()
	b.states[state.EntityID] = state
	b.mu.Unlock()

	b.listenMu.RLock()
	listeners := b.listeners
	b.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}
