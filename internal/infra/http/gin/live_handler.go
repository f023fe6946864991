package ginserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lettz/internal/app/conversation"
	"lettz/internal/app/dto"
	"lettz/internal/app/readstate"
	domainconversation "lettz/internal/domain/conversation"
)

const (
	frameSend      = "send"
	frameDraft     = "draft"
	frameReconnect = "reconnect"
	frameView      = "view"
	frameError     = "error"

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type outboundFrame struct {
	Type  string           `json:"type"`
	View  *dto.SessionView `json:"view,omitempty"`
	Error string           `json:"error,omitempty"`
	// Ack echoes the frame type an error answers.
	Ack string `json:"ack,omitempty"`
}

// LiveHandler serves one conversation session per websocket connection.
type LiveHandler struct {
	Store    conversation.SessionStore
	Tracker  *readstate.Tracker
	Logger   *slog.Logger
	Upgrader websocket.Upgrader
}

func (h LiveHandler) Conversation(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live sessions unavailable"})
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	user, ok := requireUser(c)
	if !ok {
		return
	}
	uid := user.ID
	upgrader := h.Upgrader
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	out := newFrameWriter(conn)
	sess, err := conversation.Open(ctx, conversation.Config{Store: h.Store, UID: uid, Tracker: h.Tracker, Logger: logger}, conversationID)
	if sess == nil {
		out.sendError("", err)
		out.flush()
		return
	}
	defer sess.Close()
	go out.run(ctx)
	defer func() {
		cancel()
		<-out.done
	}()
	if err != nil {
		logger.Warn("conversation subscription failed", "conversation_id", conversationID, "uid", uid, "error", err)
	}
	// Views are only ever built for members. A non-member gets one error frame
	// and a policy close instead.
	var deny sync.Once
	stopWatch := sess.Watch(func(v conversation.View) {
		if v.Conversation != nil && !v.Conversation.IsParticipant(uid) {
			deny.Do(func() {
				logger.Warn("websocket denied", "conversation_id", conversationID, "uid", uid)
				out.closeWith(domainconversation.ErrNotParticipant)
			})
			return
		}
		view := dto.MapSessionView(v, uid)
		out.setView(&view)
	})
	defer stopWatch()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed", "conversation_id", conversationID, "error", err)
			}
			return
		}
		switch frame.Type {
		case frameSend:
			if err := sess.SendMessage(ctx, frame.Text); err != nil {
				out.sendError(frameSend, err)
			}
		case frameDraft:
			sess.SetDraft(frame.Text)
		case frameReconnect:
			if err := sess.Reconnect(ctx); err != nil {
				out.sendError(frameReconnect, err)
			}
		default:
			out.sendError(frame.Type, errors.New("unknown frame type"))
		}
	}
}

// frameWriter owns every write to the connection. Views are coalesced so a slow
// client only ever receives the newest one; errors are queued.
type frameWriter struct {
	conn *websocket.Conn

	mu      sync.Mutex
	view    *dto.SessionView
	errors  []outboundFrame
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

func newFrameWriter(conn *websocket.Conn) *frameWriter {
	return &frameWriter{conn: conn, wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (w *frameWriter) setView(v *dto.SessionView) {
	w.mu.Lock()
	w.view = v
	w.mu.Unlock()
	w.signal()
}

func (w *frameWriter) sendError(ack string, err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	w.errors = append(w.errors, outboundFrame{Type: frameError, Error: err.Error(), Ack: ack})
	w.mu.Unlock()
	w.signal()
}

// closeWith drops any pending view, queues err and has the writer close the
// connection once the error is out.
func (w *frameWriter) closeWith(err error) {
	w.mu.Lock()
	w.view = nil
	w.errors = append(w.errors, outboundFrame{Type: frameError, Error: err.Error()})
	w.closing = true
	w.mu.Unlock()
	w.signal()
}

func (w *frameWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// flush writes whatever is pending on the calling goroutine. It must not run
// alongside run.
func (w *frameWriter) flush() {
	frames, _ := w.take()
	for _, f := range frames {
		_ = w.write(f)
	}
}

func (w *frameWriter) take() ([]outboundFrame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	frames := w.errors
	w.errors = nil
	if w.view != nil {
		frames = append(frames, outboundFrame{Type: frameView, View: w.view})
		w.view = nil
	}
	return frames, w.closing
}

func (w *frameWriter) write(f outboundFrame) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(f)
}

func (w *frameWriter) run(ctx context.Context) {
	defer close(w.done)
	ping := time.NewTicker(pongWait * 9 / 10)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.wake:
			frames, closing := w.take()
			for _, f := range frames {
				if err := w.write(f); err != nil {
					return
				}
			}
			if closing {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a participant")
				_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				_ = w.conn.Close()
				return
			}
		}
	}
}
