// Package wsexecutor adapts the interactive session stream onto a
// WebSocket endpoint with JSON frames.
package wsexecutor

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/execbox/execbox/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Attacher is the coordinator surface the endpoint bridges to.
type Attacher interface {
	Attach(ctx context.Context, id uuid.UUID, s session.Stream) error
}

type wsHandle struct {
	coord    Attacher
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// Register interface matches the REST handler groups.
type Register interface {
	Register(r *gin.Engine)
}

// New creates the /ws-execute handler.
func New(coord Attacher, logger *zap.Logger) Register {
	return &wsHandle{
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *wsHandle) Register(r *gin.Engine) {
	r.GET("/ws-execute", h.handleWS)
}

// clientMessage is one frame from the client.
type clientMessage struct {
	Type          string            `json:"type"`
	SessionID     string            `json:"sessionId,omitempty"`
	Files         map[string]string `json:"files,omitempty"`
	IsJava        bool              `json:"isJava,omitempty"`
	Language      string            `json:"language,omitempty"`
	MainClassName string            `json:"mainClassName,omitempty"`
	Data          string            `json:"data,omitempty"`
}

// serverMessage is one frame to the client.
type serverMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (h *wsHandle) handleWS(ctx *gin.Context) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	go h.serve(conn)
}

func (h *wsHandle) serve(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// the first frame must carry the session to attach to
	var first clientMessage
	if err := conn.ReadJSON(&first); err != nil {
		h.logger.Warn("websocket first frame unreadable", zap.Error(err))
		return
	}
	if first.Type != "startSession" {
		writeError(conn, "first message must be startSession")
		return
	}
	id, err := uuid.Parse(first.SessionID)
	if err != nil {
		writeError(conn, "invalid session id")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &streamWrapper{ctx: ctx, conn: conn, sendCh: make(chan session.Response, 16)}
	go w.sendLoop()

	if err := h.coord.Attach(ctx, id, w); err != nil {
		h.logger.Warn("session attach ended", zap.Stringer("sessionId", id), zap.Error(err))
		w.trySend(session.Response{Type: session.ResponseError, Data: err.Error()})
		// give the send loop a chance to flush the error frame
		time.Sleep(100 * time.Millisecond)
	}
}

func writeError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(serverMessage{Type: string(session.ResponseError), Data: msg})
}

var _ session.Stream = &streamWrapper{}

type streamWrapper struct {
	ctx    context.Context
	conn   *websocket.Conn
	sendCh chan session.Response
}

func (w *streamWrapper) sendLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case r := <-w.sendCh:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(serverMessage{Type: string(r.Type), Data: r.Data}); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *streamWrapper) Send(r session.Response) error {
	select {
	case <-w.ctx.Done():
		return w.ctx.Err()
	case w.sendCh <- r:
		return nil
	}
}

func (w *streamWrapper) trySend(r session.Response) {
	select {
	case w.sendCh <- r:
	default:
	}
}

func (w *streamWrapper) Recv() (*session.Request, error) {
	var msg clientMessage
	if err := w.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return parseClientMessage(msg), nil
}

func parseClientMessage(msg clientMessage) *session.Request {
	req := &session.Request{}
	switch msg.Type {
	case "upsertFiles":
		req.Upsert = &session.UpsertRequest{Files: msg.Files, IsJava: msg.IsJava}
	case "startProgram":
		req.StartProgram = &session.StartProgramRequest{
			Language:      msg.Language,
			MainClassName: msg.MainClassName,
		}
	case "sendInput":
		req.Input = &session.InputRequest{Text: msg.Data}
	case "disconnect":
		req.Disconnect = &struct{}{}
	default:
		// the coordinator answers unknown frames with an error frame
	}
	return req
}
