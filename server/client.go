package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-model/model"
	"github.com/alimasry/go-collab-model/ot"
	"github.com/alimasry/go-collab-model/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// Client represents a single WebSocket connection.
type Client struct {
	ID    string
	Name  string
	Color string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once

	// The document this client is currently in ("" if not joined).
	mu      sync.Mutex
	docID   string
	docType ot.Type
}

var (
	adjectives = []string{"Red", "Blue", "Green", "Gold", "Silver", "Purple", "Orange", "Teal", "Coral", "Jade"}
	animals    = []string{"Fox", "Owl", "Bear", "Wolf", "Hawk", "Deer", "Lynx", "Crow", "Dove", "Seal"}
	colors     = []string{"#e74c3c", "#3498db", "#2ecc71", "#f39c12", "#9b59b6", "#1abc9c", "#e67e22", "#00bcd4", "#ff5722", "#8bc34a"}
)

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	id := ulid.Make().String()
	return &Client{
		ID:    id,
		Name:  adjectives[r.Intn(len(adjectives))] + " " + animals[r.Intn(len(animals))],
		Color: colors[r.Intn(len(colors))],
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		log:   hub.log.With(zap.String("client", id)),
		done:  make(chan struct{}),
	}
}

// ReadPump reads messages from the WebSocket and routes them.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.requests <- roomRequest{client: c, leave: true}
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case MsgJoin:
			c.hub.requests <- roomRequest{client: c, docID: msg.DocID}
		case MsgOp:
			c.hub.submitOp(c, msg)
		case MsgShout:
			c.hub.shout(c, msg)
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) sendMsg(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg.Encode():
	default:
		// Client too slow, drop message.
	}
}

func (c *Client) sendError(message string) {
	c.sendMsg(ServerMessage{Type: MsgError, Message: message})
}

func (c *Client) Info() ClientInfo {
	return ClientInfo{ID: c.ID, Name: c.Name, Color: c.Color}
}

func (c *Client) document() (string, ot.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docID, c.docType
}

func (c *Client) setDocument(docID string, typ ot.Type) {
	c.mu.Lock()
	c.docID, c.docType = docID, typ
	c.mu.Unlock()
}

// listener forwards a document's op stream to the client. The client's own
// ops come back as acks so they stay ordered with everyone else's.
func (c *Client) listener(docID string) model.Listener {
	return func(_ *model.Subscription, rec store.OpRecord) {
		switch {
		case rec.Op == nil:
			c.sendMsg(ServerMessage{Type: MsgShout, DocID: docID, Revision: rec.Version, Value: rec.Meta.Fields["value"]})
		case rec.Meta.Source == c.ID:
			c.sendMsg(ServerMessage{Type: MsgAck, Revision: rec.Version + 1})
		default:
			c.sendMsg(ServerMessage{
				Type:     MsgOp,
				DocID:    docID,
				Revision: rec.Version + 1,
				Op:       rec.Op,
				ClientID: rec.Meta.Source,
			})
		}
	}
}
