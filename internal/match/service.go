// Package match delivers mutual-interest match events from the always-on
// private match queue. Receive-only: there is no outbound operation and no
// acknowledgement round-trip.
package match

import (
	"encoding/json"

	"github.com/lucasmrqs/freelink/internal/broker"
	"github.com/lucasmrqs/freelink/internal/bus"
	"go.uber.org/zap"
)

// DestMatches is the private per-user match queue.
const DestMatches = "/user/queue/matches"

// Event is pushed when both parties expressed interest in a mission.
type Event struct {
	ConversationID  int64  `json:"conversationId"`
	MissionID       int64  `json:"missionId"`
	MissionTitle    string `json:"missionTitle"`
	FreelancerID    int64  `json:"freelancerId"`
	FreelancerName  string `json:"freelancerName"`
	FreelancerPhoto string `json:"freelancerPhoto,omitempty"`
	ClientID        int64  `json:"clientId"`
	ClientName      string `json:"clientName"`
	ClientPhoto     string `json:"clientPhoto,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// Conn is the broker surface the service needs.
type Conn interface {
	Acquire()
	Release()
	Subscribe(destination string, h broker.Handler) func()
}

// Service holds the match channel subscription for the whole session.
type Service struct {
	conn   Conn
	bus    *bus.Bus
	logger *zap.Logger
	unsub  func()
}

// NewService creates the match service.
func NewService(conn Conn, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{conn: conn, bus: b, logger: logger}
}

// Start connects eagerly and subscribes to the match queue.
func (s *Service) Start() {
	s.unsub = s.conn.Subscribe(DestMatches, s.handle)
	s.conn.Acquire()
}

// Stop releases the service's hold on the connection.
func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	s.conn.Release()
}

func (s *Service) handle(body []byte) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		s.logger.Warn("dropping malformed match frame", zap.Error(err))
		return
	}
	s.logger.Info("match received",
		zap.Int64("conversation_id", evt.ConversationID),
		zap.Int64("mission_id", evt.MissionID))
	s.bus.Publish(bus.Event{Kind: bus.KindMatchEvent, Payload: &evt})
}
