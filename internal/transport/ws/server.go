package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"shipyard.ai/internal/config"
	"shipyard.ai/internal/protocol"
	"shipyard.ai/internal/ship"
	"shipyard.ai/internal/sim/live"
)

type Server struct {
	svc *ship.Service
	cfg config.TransportConfig
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(svc *ship.Service, cfg config.TransportConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		svc: svc,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	playerID string
	id       string
	loads    *rate.Limiter
	out      chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if s.cfg.MaxMessageKB > 0 {
			conn.SetReadLimit(int64(s.cfg.MaxMessageKB) * 1024)
		}

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.log.Printf("session %s opened for player %s", sess.id, sess.playerID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.dispatch(ctx, sess, msg)
			b, err := json.Marshal(reply)
			if err != nil {
				s.log.Printf("session %s: marshal reply: %v", sess.id, err)
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		s.log.Printf("session %s closed", sess.id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return nil
	}
	if hello.PlayerID == "" {
		closePolicy(conn, "missing player_id")
		return nil
	}

	limit := rate.Limit(s.cfg.LoadRatePerSec)
	if s.cfg.LoadRatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := s.cfg.LoadBurst
	if burst <= 0 {
		burst = 1
	}
	sess := &session{
		playerID: hello.PlayerID,
		id:       uuid.NewString(),
		loads:    rate.NewLimiter(limit, burst),
		out:      make(chan []byte, 8),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        sess.playerID,
		SessionID:       sess.id,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) dispatch(ctx context.Context, sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "message is not json")
	}
	if base.ProtocolVersion != protocol.Version {
		return errorMsg(base.RequestID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	switch base.Type {
	case protocol.TypeSaveShip:
		var m protocol.SaveShipMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.RequestID, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.saveShip(ctx, sess, m)
	case protocol.TypeLoadShip:
		var m protocol.LoadShipMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.RequestID, protocol.ErrProtoBadRequest, err.Error())
		}
		if !sess.loads.Allow() {
			return errorMsg(m.RequestID, protocol.ErrRateLimit, "too many ship loads")
		}
		return s.loadShip(ctx, sess, m)
	default:
		return errorMsg(base.RequestID, protocol.ErrProtoBadRequest, "unknown message type "+base.Type)
	}
}

func (s *Server) saveShip(ctx context.Context, sess *session, m protocol.SaveShipMsg) any {
	if m.GridID == "" || m.ShipName == "" {
		return errorMsg(m.RequestID, protocol.ErrProtoBadRequest, "grid_id and ship_name are required")
	}
	grid := live.GridID(m.GridID)
	var (
		res  *ship.SaveResult
		path string
		err  error
	)
	if m.Archive {
		path, res, err = s.svc.Archive(ctx, grid, sess.playerID, m.ShipName)
	} else {
		res, err = s.svc.Save(ctx, grid, sess.playerID, m.ShipName)
	}
	if err != nil {
		if errors.Is(err, live.ErrNoGrid) {
			return errorMsg(m.RequestID, protocol.ErrNotFound, err.Error())
		}
		s.log.Printf("session %s: save %q: %v", sess.id, m.ShipName, err)
		return errorMsg(m.RequestID, ship.Code(err), err.Error())
	}
	return protocol.ShipSavedMsg{
		Type:            protocol.TypeShipSaved,
		ProtocolVersion: protocol.Version,
		RequestID:       m.RequestID,
		Checksum:        res.Checksum,
		Document:        string(res.Text),
		ArchivePath:     path,
	}
}

func (s *Server) loadShip(ctx context.Context, sess *session, m protocol.LoadShipMsg) any {
	res, err := s.svc.Load(ctx, []byte(m.Document), sess.playerID)
	if err != nil {
		return errorMsg(m.RequestID, ship.Code(err), err.Error())
	}
	out := protocol.ShipLoadedMsg{
		Type:            protocol.TypeShipLoaded,
		ProtocolVersion: protocol.Version,
		RequestID:       m.RequestID,
		GridID:          string(res.Grid),
		Migrated:        res.Migrated,
	}
	for _, g := range res.Grids {
		if g != res.Grid {
			out.SplitGrids = append(out.SplitGrids, string(g))
		}
	}
	if res.Report != nil {
		out.Spawned = res.Report.Spawned
		out.Dropped = res.Report.Dropped
	}
	return out
}

func errorMsg(requestID, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		Code:            code,
		Message:         message,
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
