package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat/entity"
	identityentity "github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// HistoryLimit is how many messages are replayed to a joining connection.
const HistoryLimit = 50

// sendBuffer bounds the per-connection outbound queue; broadcasts to a
// connection that cannot drain are dropped rather than blocking the room.
const sendBuffer = 64

// TokenVerifier validates an access credential and resolves the identity
// id it asserts.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// IdentityDirectory resolves identity records for authenticated sockets.
type IdentityDirectory interface {
	GetByID(ctx context.Context, id string) (*identityentity.Identity, error)
}

// Membership answers whether an identity belongs to a project. The
// gateway refuses joins and sends for non-members.
type Membership interface {
	IsMember(ctx context.Context, projectID, identityID string) (bool, error)
}

// MessageStore is the persistence surface the gateway needs.
type MessageStore interface {
	Append(ctx context.Context, m *entity.Message) error
	RecentForProject(ctx context.Context, projectID string, limit int) ([]entity.Message, error)
}

// Client -> server events.
type inboundEvent struct {
	Event     string `json:"event"`
	ProjectID string `json:"projectId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Server -> client events: projectChatHistory (unicast to joiner),
// receiveMessage (room broadcast), error.
type outboundEvent struct {
	Event    string           `json:"event"`
	Message  *entity.Message  `json:"message,omitempty"`
	Messages []entity.Message `json:"messages,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type connection struct {
	id           string
	identityID   string
	identityName string
	sock         *websocket.Conn
	send         chan outboundEvent
}

type joinRequest struct {
	conn      *connection
	projectID string
}

type broadcastRequest struct {
	projectID string
	event     outboundEvent
}

// Gateway authenticates websocket connections with the same credential
// material as the REST surface, groups them into project-scoped rooms,
// replays bounded history on join and fans out new messages to all room
// members. One Gateway is constructed at process start and passed to the
// router; room state lives only in this process.
type Gateway struct {
	logger     *zap.SugaredLogger
	tokens     TokenVerifier
	identities IdentityDirectory
	members    Membership
	store      MessageStore
	upgrader   websocket.Upgrader

	join       chan joinRequest
	unregister chan *connection
	broadcast  chan broadcastRequest

	// done is closed when Run returns; channel sends race against it so
	// connections still draining never block once the hub has stopped.
	done chan struct{}

	// rooms is owned by the Run goroutine; all mutation goes through the
	// channels above.
	rooms map[string]map[*connection]struct{}
}

func NewGateway(logger *zap.SugaredLogger, tokens TokenVerifier, identities IdentityDirectory, members Membership, store MessageStore) *Gateway {
	return &Gateway{
		logger:     logger,
		tokens:     tokens,
		identities: identities,
		members:    members,
		store:      store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		join:       make(chan joinRequest),
		unregister: make(chan *connection),
		broadcast:  make(chan broadcastRequest),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*connection]struct{}),
	}
}

// Run owns room membership. It must be running before the gateway
// accepts connections and exits when ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.join:
			room := g.rooms[req.projectID]
			if room == nil {
				room = make(map[*connection]struct{})
				g.rooms[req.projectID] = room
			}
			// repeated joins are a no-op beyond the history replay
			room[req.conn] = struct{}{}
		case conn := <-g.unregister:
			for projectID, room := range g.rooms {
				delete(room, conn)
				if len(room) == 0 {
					delete(g.rooms, projectID)
				}
			}
			close(conn.send)
		case req := <-g.broadcast:
			for conn := range g.rooms[req.projectID] {
				select {
				case conn.send <- req.event:
				default:
					g.logger.Warnw("dropping event for slow connection",
						"connection", conn.id, "project", req.projectID)
				}
			}
		}
	}
}

// bearerFromRequest extracts the access credential from the handshake:
// Authorization header first, access_token query param as fallback for
// browser websocket clients that cannot set headers.
func bearerFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return r.URL.Query().Get("access_token")
}

// ServeHTTP upgrades an authenticated handshake to a websocket and runs
// the connection's read loop. Auth failure refuses the connection; the
// client must reconnect with a fresh credential.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := bearerFromRequest(r)
	if tok == "" {
		utilities.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	identityID, err := g.tokens.VerifyAccess(tok)
	if err != nil {
		utilities.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ident, err := g.identities.GetByID(r.Context(), identityID)
	if err != nil {
		utilities.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warnw("websocket upgrade failed", "err", err)
		return
	}

	conn := &connection{
		id:           uuid.NewString(),
		identityID:   ident.ID,
		identityName: ident.Name,
		sock:         sock,
		send:         make(chan outboundEvent, sendBuffer),
	}
	g.logger.Debugw("websocket connected", "connection", conn.id, "identity", ident.ID)

	go conn.writePump()
	g.readLoop(r.Context(), conn)

	select {
	case g.unregister <- conn:
	case <-g.done:
		// hub is gone and will never close the send channel
		close(conn.send)
	}
	g.logger.Debugw("websocket disconnected", "connection", conn.id, "identity", ident.ID)
}

func (g *Gateway) readLoop(ctx context.Context, conn *connection) {
	for {
		var ev inboundEvent
		if err := conn.sock.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Event {
		case "joinProject":
			g.handleJoin(ctx, conn, ev.ProjectID)
		case "sendMessage":
			g.handleSend(ctx, conn, ev.ProjectID, ev.Message)
		default:
			// unknown events are ignored
		}
	}
}

// allowed checks project membership for the connection's identity;
// failures are reported to the client as a generic error event.
func (g *Gateway) allowed(ctx context.Context, conn *connection, projectID string) bool {
	ok, err := g.members.IsMember(ctx, projectID, conn.identityID)
	if err != nil {
		g.logger.Errorw("membership lookup failed", "project", projectID, "err", err)
		conn.enqueue(outboundEvent{Event: "error", Error: "membership check failed"})
		return false
	}
	if !ok {
		conn.enqueue(outboundEvent{Event: "error", Error: "not a project member"})
		return false
	}
	return true
}

func (g *Gateway) handleJoin(ctx context.Context, conn *connection, projectID string) {
	if projectID == "" {
		return
	}
	if !g.allowed(ctx, conn, projectID) {
		return
	}
	select {
	case g.join <- joinRequest{conn: conn, projectID: projectID}:
	case <-g.done:
		return
	}

	recent, err := g.store.RecentForProject(ctx, projectID, HistoryLimit)
	if err != nil {
		g.logger.Errorw("history fetch failed", "project", projectID, "err", err)
		conn.enqueue(outboundEvent{Event: "error", Error: "could not load history"})
		return
	}
	// store returns newest first; replay in chronological order
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	conn.enqueue(outboundEvent{Event: "projectChatHistory", Messages: recent})
}

func (g *Gateway) handleSend(ctx context.Context, conn *connection, projectID, body string) {
	// silent drop on empty input: no broadcast, no persistence
	if projectID == "" || body == "" {
		return
	}
	if !g.allowed(ctx, conn, projectID) {
		return
	}
	msg := &entity.Message{
		ID:         utilities.NewKSUID(),
		ProjectID:  projectID,
		SenderID:   conn.identityID,
		SenderName: conn.identityName,
		Body:       body,
	}
	if err := g.store.Append(ctx, msg); err != nil {
		g.logger.Errorw("message persist failed", "project", projectID, "err", err)
		conn.enqueue(outboundEvent{Event: "error", Error: "message not delivered"})
		return
	}
	// broadcast the persisted copy to the whole room, sender included
	select {
	case g.broadcast <- broadcastRequest{
		projectID: projectID,
		event:     outboundEvent{Event: "receiveMessage", Message: msg},
	}:
	case <-g.done:
	}
}

// enqueue is called only from the connection's own read loop; the send
// channel is closed by the hub strictly after the read loop has exited.
func (c *connection) enqueue(ev outboundEvent) {
	select {
	case c.send <- ev:
	default:
	}
}

func (c *connection) writePump() {
	defer c.sock.Close()
	for ev := range c.send {
		if err := c.sock.WriteJSON(ev); err != nil {
			return
		}
	}
}
