package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/internal/logging"
	"github.com/Mu-L/millicast-publisher-unreal-engine-plugin/pkg/types"
)

// AllTopic subscribes to the whole tick report.
const AllTopic = ""

type Server struct {
	upgrader       websocket.Upgrader
	clients        map[string]map[*websocket.Conn]*clientConn
	closedSent     map[string]bool
	allowedOrigins []string
	pingInterval   time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewServer() *Server {
	server := &Server{
		clients:      make(map[string]map[*websocket.Conn]*clientConn),
		closedSent:   make(map[string]bool),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	server.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return server.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	server.startPingLoop()
	return server
}

func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigins = origins
}

func (s *Server) SetPingInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingInterval = interval
}

// HandleStream upgrades the request and keeps the client subscribed to
// topic until it disconnects. topic is a collector id or AllTopic.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade error",
			logging.Field{Key: "error", Value: err},
			logging.Field{Key: "collector_id", Value: topic})
		return
	}
	defer conn.Close()

	// Clients only send close frames; reads exist for disconnect detection.
	conn.SetReadLimit(4096)

	s.mu.Lock()
	if s.clients[topic] == nil {
		s.clients[topic] = make(map[*websocket.Conn]*clientConn)
	}
	client := &clientConn{conn: conn}
	s.clients[topic][conn] = client
	delete(s.closedSent, topic)
	s.mu.Unlock()

	if err := client.writeJSON(wsMessage{
		Type:        "connected",
		CollectorID: topic,
		Time:        time.Now().Unix(),
	}); err != nil {
		s.removeClient(topic, conn)
		return
	}

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}

	s.removeClient(topic, conn)
}

// ClientCount returns the number of clients subscribed to topic.
func (s *Server) ClientCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[topic])
}

// BroadcastTick pushes one render pass to every subscriber. Collector
// subscribers get their own snapshot, or a single "closed" message once the
// collector has gone away.
func (s *Server) BroadcastTick(report *types.TickReport) {
	if report == nil {
		return
	}

	s.mu.RLock()
	topics := make(map[string][]*clientConn, len(s.clients))
	for topic, clients := range s.clients {
		list := make([]*clientConn, 0, len(clients))
		for _, c := range clients {
			list = append(list, c)
		}
		topics[topic] = list
	}
	closedSent := make(map[string]bool, len(s.closedSent))
	for k, v := range s.closedSent {
		closedSent[k] = v
	}
	s.mu.RUnlock()

	now := time.Now().Unix()
	for topic, clients := range topics {
		msg := wsMessage{Tick: report.Tick, Time: now, CollectorID: topic}
		if topic == AllTopic {
			msg.Type = "tick"
			msg.Publisher = &report.Publisher
			msg.Collectors = report.Collectors
			msg.Lines = report.Lines
		} else if snap, ok := report.Snapshot(topic); ok {
			msg.Type = "collector"
			msg.Snapshot = &snap
		} else {
			if closedSent[topic] {
				continue
			}
			msg.Type = "closed"
			msg.Message = "collector no longer registered"
			s.mu.Lock()
			s.closedSent[topic] = true
			s.mu.Unlock()
		}
		s.send(topic, clients, msg)
	}
}

func (s *Server) send(topic string, clients []*clientConn, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("WebSocket tick marshal failed",
			logging.Field{Key: "collector_id", Value: topic},
			logging.Field{Key: "error", Value: err})
		return
	}
	for _, client := range clients {
		if err := client.writeMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(topic, client.conn)
			client.conn.Close()
		}
	}
}

func (s *Server) startPingLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		interval := s.getPingInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pingClients()
				next := s.getPingInterval()
				if next != interval {
					ticker.Stop()
					interval = next
					ticker = time.NewTicker(interval)
				}
			}
		}
	}()
}

func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Server) getPingInterval() time.Duration {
	s.mu.RLock()
	interval := s.pingInterval
	s.mu.RUnlock()
	if interval <= 0 {
		return 30 * time.Second
	}
	return interval
}

func (s *Server) pingClients() {
	type clientRef struct {
		topic  string
		client *clientConn
	}

	var refs []clientRef
	s.mu.RLock()
	for topic, topicClients := range s.clients {
		for _, client := range topicClients {
			refs = append(refs, clientRef{topic: topic, client: client})
		}
	}
	s.mu.RUnlock()

	for _, ref := range refs {
		if err := ref.client.writeMessage(websocket.PingMessage, nil); err != nil {
			s.removeClient(ref.topic, ref.client.conn)
			ref.client.conn.Close()
		}
	}
}

func (s *Server) removeClient(topic string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients[topic] == nil {
		return
	}
	delete(s.clients[topic], conn)
	if len(s.clients[topic]) == 0 {
		delete(s.clients, topic)
		delete(s.closedSent, topic)
	}
}

type wsMessage struct {
	Type        string                  `json:"type"`
	CollectorID string                  `json:"collector_id,omitempty"`
	Tick        uint64                  `json:"tick,omitempty"`
	Time        int64                   `json:"time"`
	Publisher   *types.PublisherMetrics `json:"publisher,omitempty"`
	Collectors  []types.StatsSnapshot   `json:"collectors,omitempty"`
	Snapshot    *types.StatsSnapshot    `json:"snapshot,omitempty"`
	Lines       []string                `json:"lines,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}
