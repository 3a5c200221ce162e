// Package server wires the websocket transport to the table core: it
// upgrades connections, resolves the connect handshake against the
// session manager, registers sockets with the registry, and feeds
// inbound actions to each table's orchestrator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clubroyale/tablecore/internal/engine"
	"github.com/clubroyale/tablecore/internal/handhistory"
	"github.com/clubroyale/tablecore/internal/protocol"
	"github.com/clubroyale/tablecore/internal/registry"
	"github.com/clubroyale/tablecore/internal/session"
	"github.com/clubroyale/tablecore/internal/table"
)

const handshakeTimeout = 10 * time.Second

// Server owns every long-lived component and the HTTP listener.
type Server struct {
	cfg      *Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	registry *registry.Registry
	sessions *session.Manager
	history  *handhistory.Manager // nil when recording is disabled

	mu     sync.RWMutex
	tables map[string]*table.Orchestrator

	httpServer *http.Server
}

// New builds the server and its tables from a validated config.
func New(cfg *Config, logger *log.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := quartz.NewReal()

	s := &Server{
		cfg:    cfg,
		logger: logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			// TODO(clubroyale): restrict origins once the lobby domain is fixed.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		registry: registry.New(cfg.RegistryConfig(), clock, logger),
		sessions: session.New(cfg.SessionConfig(), clock, logger),
		tables:   make(map[string]*table.Orchestrator),
	}

	if histCfg, ok := cfg.HistoryConfig(); ok {
		histCfg.Clock = clock
		s.history = handhistory.NewManager(
			zerolog.New(os.Stderr).With().Timestamp().Logger(), histCfg)
	}

	for _, tbl := range cfg.Tables {
		orch := table.New(table.Config{
			TableID:    tbl.Name,
			SmallBlind: tbl.SmallBlind,
			BigBlind:   tbl.BigBlind,
			MaxPlayers: tbl.MaxPlayers,
		}, table.Deps{
			Broadcaster: s.registry,
			Queue:       s.sessions,
			Clock:       clock,
			Logger:      logger,
		})
		if s.history != nil {
			orch.AddListener(s.history)
		}
		orch.AddListener(nextHandStarter{orch})
		s.tables[tbl.Name] = orch
	}
	return s, nil
}

// nextHandStarter redeals as soon as a hand settles; StartHand refuses
// on its own when too few funded players remain.
type nextHandStarter struct{ orch *table.Orchestrator }

func (nextHandStarter) OnActionApplied(table.ActionAppliedEvent) {}
func (n nextHandStarter) OnHandCompleted(table.HandCompletedEvent) {
	_ = n.orch.StartHand()
}

// Handler returns the HTTP mux serving /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is canceled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr(), Handler: s.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr(), "tables", len(s.tables))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.stopComponents()
		return nil
	})
	return g.Wait()
}

func (s *Server) stopComponents() {
	s.mu.RLock()
	orchs := make([]*table.Orchestrator, 0, len(s.tables))
	for _, orch := range s.tables {
		orchs = append(orchs, orch)
	}
	s.mu.RUnlock()
	for _, orch := range orchs {
		orch.Stop()
	}
	s.registry.Shutdown()
	s.sessions.Shutdown()
	if s.history != nil {
		s.history.Shutdown()
	}
}

func (s *Server) table(tableID string) (*table.Orchestrator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orch, ok := s.tables[tableID]
	return orch, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	go s.serveConnection(ws, r.RemoteAddr)
}

// serveConnection performs the connect handshake and runs the read loop
// until the socket dies.
func (s *Server) serveConnection(ws *websocket.Conn, remoteAddr string) {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var msg protocol.Message
	if err := ws.ReadJSON(&msg); err != nil {
		_ = ws.Close()
		return
	}
	if msg.Type != protocol.TypeConnect {
		s.rejectSocket(ws, "handshake_required", "first message must be connect")
		return
	}
	var connect protocol.ConnectData
	if err := msg.Unmarshal(&connect); err != nil {
		s.rejectSocket(ws, "bad_payload", "malformed connect payload")
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	if connect.ReconnectToken != "" {
		s.resumeSession(ws, connect.ReconnectToken, remoteAddr)
		return
	}
	s.openSession(ws, connect, remoteAddr)
}

func (s *Server) openSession(ws *websocket.Conn, connect protocol.ConnectData, remoteAddr string) {
	if connect.Name == "" {
		s.rejectSocket(ws, "name_required", "connect needs a name or a reconnect token")
		return
	}
	orch, ok := s.table(connect.TableID)
	if !ok {
		s.rejectSocket(ws, "unknown_table", fmt.Sprintf("no table %q", connect.TableID))
		return
	}
	tblCfg, _ := s.cfg.TableByName(connect.TableID)

	playerID := connect.Name
	_, wasSeated := orch.SeatOf(playerID)
	if err := orch.Sit(connect.Seat, playerID, tblCfg.BuyIn); err != nil {
		s.rejectSocket(ws, "seat_unavailable", err.Error())
		return
	}

	conn, err := s.registry.AddConnection(connect.TableID, playerID, ws)
	if err != nil {
		// Give the seat back; a rejected player must leave no trace, or
		// the next hand would deal them in and stall waiting on a dead
		// socket. A returning player keeps the seat they already held.
		if !wasSeated {
			_ = orch.Leave(playerID)
		}
		s.rejectSocket(ws, "table_full", err.Error())
		return
	}

	_, token, pending := s.sessions.CreateSession(playerID, ws, remoteAddr)
	s.sessions.SetLocation(playerID, connect.TableID, "")

	_ = conn.Send(protocol.MustMessage(protocol.TypeWelcome, protocol.WelcomeData{
		PlayerID:       playerID,
		TableID:        connect.TableID,
		Seat:           connect.Seat,
		ReconnectToken: token,
	}))
	for _, missed := range pending {
		_ = conn.Send(missed)
	}
	s.logger.Info("player joined", "player", playerID, "table", connect.TableID, "seat", connect.Seat)

	// Deal as soon as the table can support a hand.
	_ = orch.StartHand()

	s.readLoop(conn, orch, ws, playerID, connect.TableID)
}

func (s *Server) resumeSession(ws *websocket.Conn, token, remoteAddr string) {
	resumed := s.sessions.AttemptReconnect(token, ws, remoteAddr)
	if resumed == nil {
		s.rejectSocket(ws, "bad_token", "invalid or expired reconnect token")
		return
	}
	orch, ok := s.table(resumed.TableID)
	if !ok {
		s.rejectSocket(ws, "unknown_table", fmt.Sprintf("no table %q", resumed.TableID))
		return
	}

	conn, err := s.registry.AddConnection(resumed.TableID, resumed.PlayerID, ws)
	if err != nil {
		s.rejectSocket(ws, "table_full", err.Error())
		return
	}

	_ = conn.Send(protocol.MustMessage(protocol.TypeReconnected, protocol.ReconnectedData{
		PlayerID:       resumed.PlayerID,
		TableID:        resumed.TableID,
		ReconnectToken: resumed.Token,
		Missed:         resumed.Missed,
	}))

	seat, _ := orch.SeatOf(resumed.PlayerID)
	s.registry.BroadcastToTable(resumed.TableID, protocol.MustMessage(protocol.TypePlayerReconnected, protocol.PresenceData{
		TableID:  resumed.TableID,
		PlayerID: resumed.PlayerID,
		Seat:     seat,
	}), resumed.PlayerID)
	s.logger.Info("player resumed", "player", resumed.PlayerID, "table", resumed.TableID,
		"missed", len(resumed.Missed))

	s.readLoop(conn, orch, ws, resumed.PlayerID, resumed.TableID)
}

func (s *Server) readLoop(conn *registry.Conn, orch *table.Orchestrator, ws *websocket.Conn, playerID, tableID string) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, ws, orch, tableID)
			return
		}

		switch msg.Type {
		case protocol.TypeAction:
			var action protocol.ActionData
			if err := msg.Unmarshal(&action); err != nil {
				_ = conn.Send(protocol.MustMessage(protocol.TypeError, protocol.ErrorData{
					Code: "bad_payload", Message: "malformed action payload",
				}))
				continue
			}
			parsed, err := parseAction(action)
			if err != nil {
				_ = conn.Send(protocol.MustMessage(protocol.TypeError, protocol.ErrorData{
					Code: "bad_action", Message: err.Error(),
				}))
				continue
			}
			// Rejections are messaged to the client by the orchestrator.
			_ = orch.Act(playerID, action.Seat, parsed)

		case protocol.TypeLeave:
			_ = orch.Leave(playerID)
			s.sessions.SetLocation(playerID, "", "")
			s.registry.RemoveConn(tableID, conn)
			_, _ = s.sessions.HandleDisconnect(ws)
			s.logger.Info("player left", "player", playerID, "table", tableID)
			return

		default:
			s.logger.Debug("ignoring message", "type", msg.Type, "player", playerID)
		}
	}
}

// handleDisconnect starts the reconnect window and tells the rest of the
// table. Removal is keyed to this read loop's own connection, so a loop
// winding down after its player was rebound to a newer socket leaves the
// replacement untouched and makes no announcement.
func (s *Server) handleDisconnect(conn *registry.Conn, ws *websocket.Conn, orch *table.Orchestrator, tableID string) {
	s.registry.RemoveConn(tableID, conn)
	dc, ok := s.sessions.HandleDisconnect(ws)
	if !ok {
		return
	}
	seat, _ := orch.SeatOf(dc.PlayerID)
	s.registry.BroadcastToTable(tableID, protocol.MustMessage(protocol.TypePlayerDisconnected, protocol.PresenceData{
		TableID:  tableID,
		PlayerID: dc.PlayerID,
		Seat:     seat,
	}), dc.PlayerID)
}

// rejectSocket reports a handshake failure on a socket that never made
// it into the registry, then closes it.
func (s *Server) rejectSocket(ws *websocket.Conn, code, message string) {
	_ = ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	_ = ws.WriteJSON(protocol.MustMessage(protocol.TypeError, protocol.ErrorData{Code: code, Message: message}))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	_ = ws.Close()
}

func parseAction(data protocol.ActionData) (engine.Action, error) {
	switch strings.ToLower(data.Action) {
	case "fold":
		return engine.Action{Type: engine.Fold}, nil
	case "check":
		return engine.Action{Type: engine.Check}, nil
	case "call":
		return engine.Action{Type: engine.Call, Amount: data.Amount}, nil
	case "bet":
		return engine.Action{Type: engine.Bet, Amount: data.Amount}, nil
	case "raise":
		return engine.Action{Type: engine.Raise, Amount: data.Amount}, nil
	case "allin", "all_in", "all-in":
		return engine.Action{Type: engine.AllIn}, nil
	default:
		return engine.Action{}, fmt.Errorf("unknown action %q", data.Action)
	}
}
