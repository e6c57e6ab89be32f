package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/expression-portal-server/internal/domain"
	"github.com/expression-portal-server/internal/middleware"
	"github.com/expression-portal-server/internal/service"
)

// Client message types on the event channel.
const (
	MessageSelectGene     = "select_gene"
	MessageSetScope       = "set_scope"
	MessageRequestInsight = "request_insight"
)

// Server event types on the event channel.
const (
	EventView    = "view"
	EventInsight = "insight"
	EventError   = "error"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 16
)

// ClientMessage is a state transition requested over the websocket.
type ClientMessage struct {
	Type  string `json:"type"`
	Gene  string `json:"gene,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// ServerEvent is pushed to the websocket client.
type ServerEvent struct {
	Type    string               `json:"type"`
	View    *service.PortalView  `json:"view,omitempty"`
	Insight *service.InsightCard `json:"insight,omitempty"`
	Error   *domain.PortalError  `json:"error,omitempty"`
}

// eventConn serializes writes to one websocket. Events sent after close are dropped.
type eventConn struct {
	conn      *websocket.Conn
	send      chan ServerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (e *eventConn) push(event ServerEvent) {
	select {
	case <-e.done:
	case e.send <- event:
	}
}

func (e *eventConn) close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// handleWebSocket upgrades to the portal event channel. The current view is pushed on connect; each
// client message is applied to the session and answered with the resulting view. Insight results
// arrive later as insight events, and only for the latest request.
func (s *Server) handleWebSocket(c *gin.Context) {
	id := s.sessionID(c)
	correlationID := c.GetString(middleware.CorrelationIDKey)

	// A session created just now must reach the client with the handshake.
	header := http.Header{}
	for _, cookie := range c.Writer.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", cookie)
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		s.logger.WithError(err).WithField("correlation_id", correlationID).Warn("Websocket upgrade failed")
		return
	}

	ec := &eventConn{
		conn: conn,
		send: make(chan ServerEvent, sendBuffer),
		done: make(chan struct{}),
	}
	log := s.logger.WithFields(logrus.Fields{
		"session_id":     id,
		"correlation_id": correlationID,
	})
	s.metrics.ConnectionOpened()
	log.Info("Websocket connected")

	go s.writeLoop(ec, log)

	if view, err := s.portal.View(id); err != nil {
		ec.push(errorEvent(err, correlationID))
	} else {
		ec.push(ServerEvent{Type: EventView, View: &view})
	}

	s.readLoop(ec, id, correlationID, log)

	ec.close()
	s.metrics.ConnectionClosed()
	log.Info("Websocket disconnected")
}

func (s *Server) readLoop(ec *eventConn, id, correlationID string, log *logrus.Entry) {
	ec.conn.SetReadLimit(4096)
	_ = ec.conn.SetReadDeadline(time.Now().Add(pongWait))
	ec.conn.SetPongHandler(func(string) error {
		return ec.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := ec.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Websocket read failed")
			}
			return
		}
		s.handleMessage(ec, id, correlationID, msg)
	}
}

func (s *Server) handleMessage(ec *eventConn, id, correlationID string, msg ClientMessage) {
	switch msg.Type {
	case MessageSelectGene:
		view, err := s.portal.SelectGene(id, msg.Gene)
		if err != nil {
			ec.push(errorEvent(err, correlationID))
			return
		}
		ec.push(ServerEvent{Type: EventView, View: &view})
		s.startInsight(ec, id, correlationID)

	case MessageSetScope:
		scope, err := domain.ParseCohortScope(msg.Scope)
		if err == nil {
			var view service.PortalView
			if view, err = s.portal.SetScope(id, scope); err == nil {
				ec.push(ServerEvent{Type: EventView, View: &view})
				return
			}
		}
		ec.push(errorEvent(err, correlationID))

	case MessageRequestInsight:
		s.startInsight(ec, id, correlationID)

	default:
		ec.push(errorEvent(domain.NewValidationError("type", "unknown message type", msg.Type), correlationID))
	}
}

// startInsight pushes the loading card, then the final card once the request completes. The final
// card is never pushed ahead of its loading card.
func (s *Server) startInsight(ec *eventConn, id, correlationID string) {
	loaded := make(chan struct{})
	notify := func(card service.InsightCard) {
		<-loaded
		ec.push(ServerEvent{Type: EventInsight, Insight: &card})
	}

	card, err := s.portal.RequestInsight(s.insightCtx, id, notify)
	if err != nil {
		ec.push(errorEvent(err, correlationID))
		return
	}
	ec.push(ServerEvent{Type: EventInsight, Insight: &card})
	close(loaded)
}

func (s *Server) writeLoop(ec *eventConn, log *logrus.Entry) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		ec.conn.Close()
	}()

	for {
		select {
		case <-ec.done:
			_ = ec.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case event := <-ec.send:
			_ = ec.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ec.conn.WriteJSON(event); err != nil {
				log.WithError(err).Warn("Websocket write failed")
				ec.close()
				return
			}
		case <-ticker.C:
			if err := ec.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ec.close()
				return
			}
		}
	}
}

func errorEvent(err error, correlationID string) ServerEvent {
	_, code, message := classifyError(err)
	return ServerEvent{
		Type:  EventError,
		Error: domain.NewPortalError(code, message, err.Error(), correlationID),
	}
}

// originChecker accepts same-origin upgrades and those from the configured origins.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
