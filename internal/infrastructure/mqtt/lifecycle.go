package mqtt

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/embedded-vault/internal/lifecycle"
)

// Publisher is the part of Client used by LifecyclePublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ServerState is the retained payload on Topics.State.
type ServerState struct {
	State     lifecycle.Kind `json:"state"`
	Version   string         `json:"version,omitempty"`
	PID       int            `json:"pid,omitempty"`
	Address   string         `json:"address,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LifecyclePublisher is a lifecycle.Sink that mirrors supervisor events to
// MQTT. Each event goes to the server's lifecycle topic; the server's
// retained state topic holds the latest transition until cleanup clears it.
//
// Publish failures are logged and never reach the supervisor.
type LifecyclePublisher struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger Logger
}

var _ lifecycle.Sink = (*LifecyclePublisher)(nil)

// NewLifecyclePublisher creates a sink publishing through pub.
func NewLifecyclePublisher(pub Publisher, topics Topics, qos byte) *LifecyclePublisher {
	if qos > maxQoS {
		qos = maxQoS
	}
	return &LifecyclePublisher{
		pub:    pub,
		topics: topics,
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for publish failures.
func (p *LifecyclePublisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Emit implements lifecycle.Sink.
func (p *LifecyclePublisher) Emit(e lifecycle.Event) {
	if e.ServerID == "" {
		p.logger.Warn("dropping lifecycle event without server id", "kind", e.Kind)
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("encoding lifecycle event", "kind", e.Kind, "error", err)
		return
	}
	if err := p.pub.Publish(p.topics.Lifecycle(e.ServerID), payload, p.qos, false); err != nil {
		p.logger.Warn("publishing lifecycle event", "kind", e.Kind, "server_id", e.ServerID, "error", err)
	}

	stateTopic := p.topics.State(e.ServerID)
	if e.Kind == lifecycle.KindCleanedUp {
		if err := p.pub.Publish(stateTopic, nil, p.qos, true); err != nil {
			p.logger.Warn("clearing retained server state", "server_id", e.ServerID, "error", err)
		}
		return
	}

	state, err := json.Marshal(stateOf(e))
	if err != nil {
		p.logger.Error("encoding server state", "kind", e.Kind, "error", err)
		return
	}
	if err := p.pub.Publish(stateTopic, state, p.qos, true); err != nil {
		p.logger.Warn("publishing server state", "server_id", e.ServerID, "error", err)
	}
}

func stateOf(e lifecycle.Event) ServerState {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return ServerState{
		State:     e.Kind,
		Version:   e.Version,
		PID:       e.PID,
		Address:   e.Address,
		Error:     e.Error,
		UpdatedAt: at.UTC(),
	}
}
