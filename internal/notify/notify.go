// Package notify publishes best-effort hibernate lifecycle events to NATS
// for fleet observability. Publishing never blocks or fails a hibernate
// attempt: a publish error is logged and dropped.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectSuspendCompleted = "hibernate.suspend.completed"
	SubjectResumeCompleted  = "hibernate.resume.completed"
)

// Event is the payload published for both suspend and resume completion.
type Event struct {
	DeviceID  string    `json:"device_id"`
	ImageSize int64     `json:"image_size"`
	Duration  float64   `json:"duration_seconds"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher holds a connection to the fleet's NATS cluster.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnect-forever semantics, matching a daemon
// that may outlive transient network partitions.
func Connect(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to nats: %w", err)
	}
	return &Publisher{nc: nc}, nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}

// Publish sends an event on subject. Failures are logged, not returned:
// fleet notification is a convenience, never a reason to fail a hibernate
// attempt.
func (p *Publisher) Publish(subject string, evt Event) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("notify: marshal event for %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("notify: publish %s: %v", subject, err)
	}
}
