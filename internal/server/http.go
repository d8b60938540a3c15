package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/unisync/internal/protocol"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Router returns the HTTP routes: the websocket endpoint and /metrics.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", s.handleWebSocket)
	if s.cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// Run serves on addr until ctx is done, running the watchdog alongside.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: writeTimeout,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.cfg.Watchdog != nil {
		g.Go(func() error { return s.cfg.Watchdog.Run(gctx) })
	}
	return g.Wait()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	sess, err := s.Connect(ctx, &wsSender{ws: ws}, c.Query("share"))
	if err != nil {
		s.logger.Warn("connection refused", "error", err)
		return
	}
	defer s.Disconnect(sess)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "session", sess.ID(), "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		closed, err := s.Process(ctx, sess, data)
		if err != nil {
			s.logger.Warn("connection dropped", "session", sess.ID(), "error", err)
			return
		}
		if closed {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// wsSender writes outbound messages to one websocket. Reflection and patch
// fan-out write from other connections' goroutines.
type wsSender struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsSender) Send(ctx context.Context, out protocol.Outbound) error {
	data, err := protocol.Encode(out)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, data)
}
