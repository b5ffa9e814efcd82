package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/realsync/gateway/internal/proto"
	"github.com/realsync/gateway/internal/session"
)

const writeTimeout = 10 * time.Second

// errSessionClosed signals that the session was closed from outside the
// connection handler, by a sweep or the auth grace timer.
var errSessionClosed = errors.New("session closed")

// HandleWS upgrades the request and runs the connection until either
// loop fails or the session is closed.
func (g *Gateway) HandleWS(c *gin.Context) {
	if g.maxConnections > 0 && g.registry.Stats().TotalConnections >= g.maxConnections {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "connection limit reached"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	sess := g.registry.Register()
	defer g.teardown(sess)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- g.readLoop(ctx, conn, sess) }()
	go func() { errCh <- g.writeLoop(ctx, conn, sess) }()

	// First failure wins; cancel unblocks the other loop, then drain it.
	err = <-errCh
	cancel()
	<-errCh

	switch {
	case errors.Is(err, errSessionClosed):
		conn.Close(websocket.StatusPolicyViolation, sess.CloseReason())
	case websocket.CloseStatus(err) != -1,
		errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		conn.Close(websocket.StatusInternalError, "internal error")
	}

	g.log.Debug().Str("session_id", sess.ID).Msg("connection closed")
}

// readLoop reads frames and dispatches them in order. A frame that is
// not valid JSON gets an error response without dropping the connection.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var req proto.Request
		if err := json.Unmarshal(data, &req); err != nil {
			g.sendError(sess, "", proto.CodeInvalidMessage, "malformed JSON")
			continue
		}
		g.dispatch(ctx, sess, &req)
	}
}

// writeLoop drains the session outbox onto the wire.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) error {
	for {
		select {
		case env := <-sess.Outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, env)
			cancel()
			if err != nil {
				return err
			}
		case <-sess.Done():
			return errSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
