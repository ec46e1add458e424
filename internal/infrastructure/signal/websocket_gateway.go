package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway is the WebSocket transport adapter. It translates inbound frames
// into component calls and fans component events back out to the connected
// peers that should see them. All call and session state lives in the core
// services; the gateway keeps only the connection map.
type Gateway struct {
	directory  ports.Directory
	negotiator ports.CallNegotiator
	sessions   ports.SessionManager
	chat       ports.ChatChannel
	stats      ports.StatsCollector
	events     ports.EventStream

	connections map[domain.PeerID]*peerConn
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	msgRate  float64
	msgBurst int

	logger *zap.SugaredLogger
}

// peerConn wraps a websocket connection with a write lock. The event
// dispatcher and the per-connection handler loop both write frames, and
// gorilla connections allow only one concurrent writer.
type peerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// Frame is the wire shape for both directions. Inbound frames carry a
// request payload for Type; outbound frames mirror the event stream.
type Frame struct {
	Type      string           `json:"type"`
	PeerID    domain.PeerID    `json:"peer_id,omitempty"`
	CallID    domain.CallID    `json:"call_id,omitempty"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
}

type CallInitiatePayload struct {
	Callee domain.PeerID `json:"callee"`
}

type MediaTogglePayload struct {
	AudioOn *bool `json:"audio_on,omitempty"`
	VideoOn *bool `json:"video_on,omitempty"`
}

type ChatSendPayload struct {
	Text        string `json:"text"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

type StatReportPayload struct {
	BitrateKbps   int     `json:"bitrate_kbps"`
	RTTMs         float64 `json:"rtt_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
}

type GatewayOptions struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	MessageBurst      int
}

func NewGateway(
	directory ports.Directory,
	negotiator ports.CallNegotiator,
	sessions ports.SessionManager,
	chat ports.ChatChannel,
	stats ports.StatsCollector,
	events ports.EventStream,
	opts GatewayOptions,
	logger *zap.Logger,
) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 20
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 40
	}
	return &Gateway{
		directory:    directory,
		negotiator:   negotiator,
		sessions:     sessions,
		chat:         chat,
		stats:        stats,
		events:       events,
		connections:  make(map[domain.PeerID]*peerConn),
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		writeTimeout: opts.WriteTimeout,
		msgRate:      opts.MessagesPerSecond,
		msgBurst:     opts.MessageBurst,
		logger:       logger.Sugar(),
	}
}

// HandleWebSocket upgrades the request, registers the peer in the directory
// and runs the connection loop until disconnect. On disconnect the peer is
// removed from the directory, which cascades into forced call cancellation
// and session leave.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	displayName := r.URL.Query().Get("display_name")
	colorTag := r.URL.Query().Get("color_tag")

	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		g.sendClosingError(conn, err.Error())
		return
	}
	if displayName == "" {
		displayName = string(peerID)
	}
	if err := validation.ValidateDisplayName(displayName); err != nil {
		g.sendClosingError(conn, err.Error())
		return
	}
	if colorTag != "" {
		if err := validation.ValidateColorTag(colorTag); err != nil {
			g.sendClosingError(conn, err.Error())
			return
		}
	}

	ctx := r.Context()

	// A stale connection for the same id means the old socket died without
	// the server noticing yet. Replace it rather than rejecting the peer.
	g.mu.Lock()
	existing, isReconnect := g.connections[peerID]
	if isReconnect && existing != nil {
		existing.conn.Close()
		g.logger.Infow("closing old connection for reconnecting peer", "peer_id", peerID)
	}
	pc := &peerConn{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(g.msgRate), g.msgBurst),
	}
	g.connections[peerID] = pc
	g.mu.Unlock()

	if !isReconnect {
		peer := &domain.Peer{
			ID:          peerID,
			DisplayName: displayName,
			ColorTag:    colorTag,
			JoinedAt:    time.Now(),
		}
		err := g.directory.Register(ctx, peer)
		if errors.Is(err, domain.ErrDuplicateID) {
			// The peer registered over the HTTP API first; this socket is
			// just its event stream attaching.
			err = nil
		}
		if err != nil {
			g.mu.Lock()
			if g.connections[peerID] == pc {
				delete(g.connections, peerID)
			}
			g.mu.Unlock()
			g.sendClosingError(conn, err.Error())
			return
		}
	}

	g.logger.Infow("peer connected", "peer_id", peerID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Frame, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
			messageChan <- frame
		}
	}()

	for {
		select {
		case frame := <-messageChan:
			if !pc.limiter.Allow() {
				g.logger.Warnw("message rate limit exceeded", "peer_id", peerID, "type", frame.Type)
				g.sendError(pc, "rate limit exceeded")
				continue
			}
			if err := g.handleFrame(context.Background(), peerID, frame); err != nil {
				g.logger.Infow("error handling frame", "peer_id", peerID, "type", frame.Type, "error", err)
				g.sendError(pc, err.Error())
			}

		case <-pingTicker.C:
			pc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			pc.writeMu.Unlock()
			if err != nil {
				g.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Infow("error reading frame", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	g.mu.Lock()
	// A reconnect may already have replaced this entry.
	if g.connections[peerID] == pc {
		delete(g.connections, peerID)
	} else {
		g.mu.Unlock()
		g.logger.Infow("stale connection closed", "peer_id", peerID)
		return
	}
	g.mu.Unlock()

	if err := g.directory.Remove(context.Background(), peerID); err != nil {
		g.logger.Infow("error removing peer", "peer_id", peerID, "error", err)
	}

	g.logger.Infow("peer disconnected", "peer_id", peerID)
}

func (g *Gateway) handleFrame(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if frame.Type == "" {
		return fmt.Errorf("frame type is required")
	}

	if frame.PeerID != "" && frame.PeerID != peerID {
		return fmt.Errorf("peer_id mismatch: expected %s, got %s", peerID, frame.PeerID)
	}

	switch frame.Type {
	case "call_initiate":
		return g.handleCallInitiate(ctx, peerID, frame)
	case "call_accept":
		return g.handleCallAccept(ctx, peerID, frame)
	case "call_reject":
		_, err := g.requireCallID(frame)
		if err != nil {
			return err
		}
		return g.negotiator.Reject(ctx, frame.CallID, peerID)
	case "call_cancel":
		_, err := g.requireCallID(frame)
		if err != nil {
			return err
		}
		return g.negotiator.Cancel(ctx, frame.CallID, peerID)
	case "media_toggle":
		return g.handleMediaToggle(ctx, peerID, frame)
	case "chat_send":
		return g.handleChatSend(ctx, peerID, frame)
	case "stat_report":
		return g.handleStatReport(ctx, peerID, frame)
	case "session_end":
		return g.handleSessionEnd(ctx, peerID, frame)
	case "presence_update":
		// Presence is derived from call and session transitions, never set
		// directly by clients. Accept the frame for wire compatibility and
		// drop it.
		g.logger.Debugw("ignoring client presence_update", "peer_id", peerID)
		return nil
	default:
		return fmt.Errorf("unknown frame type: %s", frame.Type)
	}
}

func (g *Gateway) handleCallInitiate(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	var payload CallInitiatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid call_initiate payload: %w", err)
	}
	if payload.Callee == "" {
		return fmt.Errorf("callee is required")
	}

	call, err := g.negotiator.Initiate(ctx, peerID, payload.Callee)
	if err != nil {
		return err
	}

	g.logger.Infow("call initiated",
		"call_id", call.ID,
		"caller", call.Caller,
		"callee", call.Callee,
	)
	return nil
}

func (g *Gateway) handleCallAccept(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if _, err := g.requireCallID(frame); err != nil {
		return err
	}

	session, err := g.negotiator.Accept(ctx, frame.CallID, peerID)
	if err != nil {
		return err
	}

	g.logger.Infow("call accepted",
		"call_id", frame.CallID,
		"session_id", session.ID,
		"by", peerID,
	)
	return nil
}

func (g *Gateway) handleMediaToggle(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if frame.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	var payload MediaTogglePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid media_toggle payload: %w", err)
	}
	if payload.AudioOn == nil && payload.VideoOn == nil {
		return fmt.Errorf("media_toggle requires audio_on or video_on")
	}

	return g.sessions.SetMedia(ctx, frame.SessionID, peerID, payload.AudioOn, payload.VideoOn)
}

func (g *Gateway) handleChatSend(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if frame.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	var payload ChatSendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid chat_send payload: %w", err)
	}
	if err := validation.ValidateChatText(payload.Text); err != nil {
		return err
	}

	_, err := g.chat.Append(ctx, frame.SessionID, peerID, payload.Text, payload.ClientMsgID)
	return err
}

func (g *Gateway) handleStatReport(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if frame.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	var payload StatReportPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid stat_report payload: %w", err)
	}

	return g.stats.Record(ctx, domain.StatSample{
		SessionID:     frame.SessionID,
		PeerID:        peerID,
		Timestamp:     time.Now(),
		BitrateKbps:   payload.BitrateKbps,
		RTTMs:         payload.RTTMs,
		PacketLossPct: payload.PacketLossPct,
	})
}

func (g *Gateway) handleSessionEnd(ctx context.Context, peerID domain.PeerID, frame Frame) error {
	if frame.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if !g.sessions.IsParticipant(ctx, frame.SessionID, peerID) {
		return domain.ErrNotInSession
	}
	return g.sessions.End(ctx, frame.SessionID)
}

func (g *Gateway) requireCallID(frame Frame) (domain.CallID, error) {
	if frame.CallID == "" {
		return "", fmt.Errorf("call_id is required")
	}
	return frame.CallID, nil
}

// Run subscribes to the event stream and dispatches events to connected
// peers until ctx is cancelled. Roster and presence events go to everyone;
// call events go to the two peers involved; session-scoped events go to the
// session's current participants.
func (g *Gateway) Run(ctx context.Context) {
	events, unsubscribe := g.events.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			g.dispatch(ctx, evt)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, evt domain.Event) {
	frame, err := eventFrame(evt)
	if err != nil {
		g.logger.Warnw("dropping undeliverable event", "type", evt.Type, "error", err)
		return
	}

	switch evt.Type {
	case domain.EventPeerJoined, domain.EventPeerLeft, domain.EventPresenceChanged:
		g.broadcast(frame)

	case domain.EventCallRinging, domain.EventCallAccepted, domain.EventCallRejected,
		domain.EventCallTimedOut, domain.EventCallCancelled:
		if call, ok := evt.Payload.(domain.PendingCall); ok {
			g.sendToPeers(frame, call.Caller, call.Callee)
			return
		}
		if call, ok := evt.Payload.(*domain.PendingCall); ok && call != nil {
			g.sendToPeers(frame, call.Caller, call.Callee)
			return
		}
		g.logger.Warnw("call event without call payload", "type", evt.Type, "call_id", evt.CallID)

	case domain.EventSessionEnded:
		// The last participant is already out of the snapshot by the time
		// the session dies, so everyone hears the obituary and filters on
		// session_id.
		g.broadcast(frame)

	case domain.EventSessionStarted, domain.EventParticipantSet,
		domain.EventMediaChanged, domain.EventChatMessage, domain.EventStatSample:
		g.sendToSession(ctx, evt, frame)

	default:
		g.broadcast(frame)
	}
}

// sendToSession routes a session-scoped event. The participant list comes
// from the event's Session snapshot when it carries one, so ended sessions
// still reach the peers that were in them.
func (g *Gateway) sendToSession(ctx context.Context, evt domain.Event, frame Frame) {
	var participants []domain.PeerID

	switch p := evt.Payload.(type) {
	case domain.Session:
		participants = p.Participants
	case *domain.Session:
		if p != nil {
			participants = p.Participants
		}
	}

	if participants == nil {
		session, err := g.sessions.Get(ctx, evt.SessionID)
		if err != nil {
			g.logger.Debugw("session event for unknown session", "type", evt.Type, "session_id", evt.SessionID)
			return
		}
		participants = session.Participants
	}

	// A leave event names the departing peer, who is no longer in the
	// snapshot but still needs to hear about it.
	if evt.PeerID != "" && !containsPeer(participants, evt.PeerID) {
		participants = append(participants, evt.PeerID)
	}

	g.sendToPeers(frame, participants...)
}

func containsPeer(peers []domain.PeerID, id domain.PeerID) bool {
	for _, p := range peers {
		if p == id {
			return true
		}
	}
	return false
}

func eventFrame(evt domain.Event) (Frame, error) {
	var payload json.RawMessage
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return Frame{}, err
		}
		payload = data
	}
	return Frame{
		Type:      string(evt.Type),
		PeerID:    evt.PeerID,
		CallID:    evt.CallID,
		SessionID: evt.SessionID,
		Payload:   payload,
		Timestamp: evt.Timestamp.Unix(),
	}, nil
}

func (g *Gateway) broadcast(frame Frame) {
	g.mu.RLock()
	conns := make(map[domain.PeerID]*peerConn, len(g.connections))
	for id, pc := range g.connections {
		conns[id] = pc
	}
	g.mu.RUnlock()

	for id, pc := range conns {
		if err := g.write(pc, frame); err != nil {
			g.logger.Debugw("broadcast write failed", "peer_id", id, "error", err)
		}
	}
}

func (g *Gateway) sendToPeers(frame Frame, peers ...domain.PeerID) {
	for _, id := range peers {
		g.mu.RLock()
		pc, exists := g.connections[id]
		g.mu.RUnlock()
		if !exists {
			continue
		}
		if err := g.write(pc, frame); err != nil {
			g.logger.Debugw("event write failed", "peer_id", id, "error", err)
		}
	}
}

func (g *Gateway) write(pc *peerConn, frame Frame) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	pc.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return pc.conn.WriteJSON(frame)
}

func (g *Gateway) sendError(pc *peerConn, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	g.write(pc, Frame{Type: "error", Payload: payload, Timestamp: time.Now().Unix()})
}

// sendClosingError writes directly because the connection never made it into
// the map.
func (g *Gateway) sendClosingError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	conn.WriteJSON(Frame{
		Type:      "error",
		Payload:   json.RawMessage(fmt.Sprintf(`{"message":%q}`, message)),
		Timestamp: time.Now().Unix(),
	})
}

func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	connectionCount := len(g.connections)
	g.mu.RUnlock()

	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connectionCount,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (g *Gateway) ConnectedPeers() []domain.PeerID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(g.connections))
	for peerID := range g.connections {
		peers = append(peers, peerID)
	}
	return peers
}

func (g *Gateway) IsPeerConnected(peerID domain.PeerID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, exists := g.connections[peerID]
	return exists
}
