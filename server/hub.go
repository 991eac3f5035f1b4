package server

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/model"
	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

// roomRequest moves a client into a document, or out of its current one
// when leave is set. Both go through one channel so they apply in order.
type roomRequest struct {
	client *Client
	docID  string
	leave  bool
}

// Hub routes clients to documents. Joins and leaves are serialized through
// Run; ops go straight to the model, which orders them per document.
type Hub struct {
	model *model.Model
	types *ot.Registry
	log   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]*model.Subscription

	requests chan roomRequest
}

func NewHub(m *model.Model, types *ot.Registry, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		model:    m,
		types:    types,
		log:      log.Named("server"),
		rooms:    make(map[string]map[*Client]*model.Subscription),
		requests: make(chan roomRequest, 64),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for req := range h.requests {
		if req.leave {
			h.handleLeave(req.client)
		} else {
			h.handleJoin(req)
		}
	}
}

func (h *Hub) handleJoin(req roomRequest) {
	c := req.client
	if cur, _ := c.document(); cur != "" {
		h.handleLeave(c)
	}

	ctx := context.Background()
	snap, err := h.open(ctx, req.docID)
	if err != nil {
		h.log.Warn("failed to open document", zap.String("doc", req.docID), zap.Error(err))
		c.sendError("failed to load document")
		return
	}
	typ, ok := h.types.Lookup(snap.Type)
	if !ok {
		c.sendError("unsupported document type " + snap.Type)
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[req.docID]
	if !ok {
		room = make(map[*Client]*model.Subscription)
		h.rooms[req.docID] = room
	}
	infos := make([]ClientInfo, 0, len(room))
	for other := range room {
		infos = append(infos, other.Info())
	}
	h.mu.Unlock()

	// Send current document state to the joining client, then everything
	// applied after it.
	c.sendMsg(ServerMessage{
		Type:     MsgDoc,
		DocID:    req.docID,
		Content:  snap.Content,
		Revision: snap.Version,
		Clients:  infos,
	})
	from := snap.Version
	sub, _, err := h.model.Listen(ctx, req.docID, &from, c.listener(req.docID))
	if err != nil {
		h.log.Warn("failed to listen", zap.String("doc", req.docID), zap.Error(err))
		c.sendError("failed to subscribe to document")
		return
	}
	c.setDocument(req.docID, typ)

	h.mu.Lock()
	others := make([]*Client, 0, len(room))
	for other := range room {
		others = append(others, other)
	}
	room[c] = sub
	h.mu.Unlock()

	// Notify other clients about the new user.
	for _, other := range others {
		other.sendMsg(ServerMessage{
			Type:     MsgJoin,
			ClientID: c.ID,
			Name:     c.Name,
			Color:    c.Color,
		})
	}
	h.log.Debug("client joined", zap.String("doc", req.docID), zap.String("client", c.ID))
}

// open returns the document's snapshot, creating it as text if missing.
func (h *Hub) open(ctx context.Context, docID string) (store.SnapshotRecord, error) {
	snap, err := h.model.GetSnapshot(ctx, docID)
	if !errors.Is(err, model.ErrNotFound) {
		return snap, err
	}
	if err := h.model.Create(ctx, docID, ot.TextName, nil); err != nil && !errors.Is(err, model.ErrAlreadyExists) {
		return store.SnapshotRecord{}, err
	}
	return h.model.GetSnapshot(ctx, docID)
}

func (h *Hub) handleLeave(c *Client) {
	docID, _ := c.document()
	if docID == "" {
		return
	}
	c.setDocument("", nil)

	h.mu.Lock()
	room := h.rooms[docID]
	sub, ok := room[c]
	if ok {
		delete(room, c)
	}
	if len(room) == 0 {
		delete(h.rooms, docID)
	}
	others := make([]*Client, 0, len(room))
	for other := range room {
		others = append(others, other)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := h.model.Unlisten(sub); err != nil && !errors.Is(err, model.ErrNotFound) {
		h.log.Warn("failed to unlisten", zap.String("doc", docID), zap.Error(err))
	}

	// Notify others.
	for _, other := range others {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
}

// submitOp applies a client's op. The ack reaches the client through its
// listener; failures are reported directly.
func (h *Hub) submitOp(c *Client, msg ClientMessage) {
	docID, typ := c.document()
	if docID == "" {
		c.sendError("not joined to a document")
		return
	}
	op, err := typ.DecodeOp(msg.Op)
	if err != nil {
		c.sendError("invalid op: " + err.Error())
		return
	}

	_, err = h.model.ApplyOp(context.Background(), docID, model.Submission{
		Op:          op,
		Version:     msg.Revision,
		Meta:        store.OpMeta{Source: c.ID},
		DupIfSource: []string{c.ID},
	})
	if err != nil {
		h.log.Info("op rejected",
			zap.String("doc", docID),
			zap.String("client", c.ID),
			zap.Int("revision", msg.Revision),
			zap.Bool("retryable", model.Retryable(err)),
			zap.Error(err))
		c.sendError("op rejected: " + err.Error())
	}
}

// shout relays a client's value to everyone in the document.
func (h *Hub) shout(c *Client, msg ClientMessage) {
	docID, _ := c.document()
	if docID == "" {
		c.sendError("not joined to a document")
		return
	}
	var value any
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &value); err != nil {
			c.sendError("invalid shout value")
			return
		}
	}
	payload := map[string]any{"clientId": c.ID, "value": value}
	if _, err := h.model.ApplyMetaOp(context.Background(), docID, []string{"shout"}, payload); err != nil {
		c.sendError("shout failed: " + err.Error())
	}
}

// Clients returns the clients currently in a document.
func (h *Hub) Clients(docID string) []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]ClientInfo, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		infos = append(infos, c.Info())
	}
	return infos
}
