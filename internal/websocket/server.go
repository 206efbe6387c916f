// Package websocket exposes the event bus to browser dashboards. Each frame
// names the topic it was published on: device:{id}, device:{id}:alert or
// device:{id}:alert:ack.
package websocket

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"telemetry-service/internal/broker"
	"telemetry-service/internal/logging"
)

// Subscriber opens bus subscriptions.
type Subscriber interface {
	SubscribeAll() *broker.Subscription
	SubscribeDevice(deviceID string) *broker.Subscription
}

// Server upgrades requests and streams bus events to them. A deviceId query
// parameter narrows the socket to one device.
type Server struct {
	bus      Subscriber
	logger   *logging.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

func NewServer(bus Subscriber, logger *logging.Logger) *Server {
	return &Server{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of open sockets.
func (s *Server) Clients() int64 {
	return s.clients.Load()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	var sub *broker.Subscription
	if deviceID := r.URL.Query().Get("deviceId"); deviceID != "" {
		sub = s.bus.SubscribeDevice(deviceID)
	} else {
		sub = s.bus.SubscribeAll()
	}

	s.clients.Add(1)
	s.logger.Infof("WebSocket connection established: %s (device=%q)", conn.RemoteAddr(), sub.DeviceID())

	client := newClient(conn, sub, s.logger)
	go client.writePump()
	go func() {
		client.readPump()
		s.clients.Add(-1)
		s.logger.Infof("WebSocket connection closed: %s", conn.RemoteAddr())
	}()
}
