// Package server is the WebSocket surface of the arbitration service.
// One goroutine per connection reads tagged frames; all pushes go back
// out through the Hub, which is the only writer to any socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/varekhin/chainduel/internal/assets"
	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/session"
	"github.com/varekhin/chainduel/pkg/dueldto"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type wsConn struct {
	id session.ConnID
	c  *websocket.Conn
	mu sync.Mutex
}

// sender is the outbound seam; the hub itself satisfies it in
// production, tests swap in a capture.
type sender interface {
	Send(id session.ConnID, event string, data any) error
}

// Server owns the connection hub and dispatches inbound events into the
// session registry, the matchmaker and the duel engine.
type Server struct {
	registry *session.Registry
	matches  *match.Manager
	engine   *duel.Engine
	dir      *duel.Directory
	assets   *assets.Client // optional URI enrichment

	mu    sync.RWMutex
	conns map[session.ConnID]*wsConn

	out sender
}

func New(registry *session.Registry, matches *match.Manager, engine *duel.Engine, dir *duel.Directory) *Server {
	s := &Server{
		registry: registry,
		matches:  matches,
		engine:   engine,
		dir:      dir,
		conns:    make(map[session.ConnID]*wsConn),
	}
	s.out = s
	return s
}

// AttachAssets wires the optional NFT metadata client. Without it offers
// simply carry no display URI.
func (s *Server) AttachAssets(c *assets.Client) {
	if s != nil {
		s.assets = c
	}
}

// Send writes one event frame to one live connection. It satisfies the
// notifier's Sender contract.
func (s *Server) Send(id session.ConnID, event string, data any) error {
	s.mu.RLock()
	wc, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return errors.New("connection gone")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wsjson.Write(ctx, wc.c, dueldto.Envelope{Event: event, Data: raw})
}

// HandleWS upgrades the request and runs the connection until the peer
// leaves or the frame stream breaks.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	id := session.NewConnID()
	wc := &wsConn{id: id, c: conn}
	s.mu.Lock()
	s.conns[id] = wc
	s.mu.Unlock()

	sess := s.registry.Register(id)
	if err := s.Send(id, dueldto.EvSessionKey, dueldto.SessionKeyPayload{SessionKey: sess.Token}); err != nil {
		obslog.L().Warn("ws_session_key_error", zap.String("conn_id", string(id)), zap.Error(err))
	}

	s.readLoop(r.Context(), wc)

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	s.disconnect(id)
}

func (s *Server) readLoop(ctx context.Context, wc *wsConn) {
	for {
		var env dueldto.Envelope
		if err := wsjson.Read(ctx, wc.c, &env); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			obslog.L().Debug("ws_read_closed", zap.String("conn_id", string(wc.id)), zap.Error(err))
			return
		}
		s.dispatch(ctx, wc.id, env)
	}
}

// disconnect runs post-connection cleanup: the session leaves the
// registry first so notifications stop resolving to the dead socket,
// then duel abandonment and orphaned offers are dealt with.
func (s *Server) disconnect(id session.ConnID) {
	sess, ok := s.registry.Unregister(id)
	if !ok || sess.Address == "" {
		return
	}

	for _, o := range s.matches.ListOffers(sess.Address) {
		if o.State != match.OfferListed {
			continue
		}
		ab, err := s.dir.HandleDisconnect(o.ID, sess.Address)
		if err != nil && !errors.Is(err, duel.ErrNotFound) {
			obslog.L().Warn("disconnect_cleanup_error",
				zap.Int64("duel_id", o.ID),
				zap.String("address", sess.Address),
				zap.Error(err),
			)
			continue
		}
		if ab.OfferOrphaned {
			s.matches.DropOffer(o.ID)
		}
	}

	if sess.DuelID != 0 {
		if _, err := s.dir.HandleDisconnect(sess.DuelID, sess.Address); err != nil && !errors.Is(err, duel.ErrNotFound) {
			obslog.L().Warn("disconnect_cleanup_error",
				zap.Int64("duel_id", sess.DuelID),
				zap.String("address", sess.Address),
				zap.Error(err),
			)
		}
	}
}

// Close tears down every live connection, for shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, wc := range s.conns {
		conns = append(conns, wc)
	}
	s.conns = make(map[session.ConnID]*wsConn)
	s.mu.Unlock()
	for _, wc := range conns {
		_ = wc.c.Close(websocket.StatusGoingAway, "shutting down")
	}
}
