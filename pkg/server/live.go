package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/payback"
	"github.com/raterudder/solarpayback/pkg/types"
)

// Live message types.
const (
	// client -> server
	TypeSizing      = "sizing"
	TypeAssumptions = "assumptions"

	// server -> client
	TypeSizingResult  = "sizing:result"
	TypePaybackResult = "payback:result"
	TypeError         = "error"
)

const (
	liveReadLimit    = 64 * 1024
	liveWriteTimeout = 10 * time.Second
	liveIdleTimeout  = 10 * time.Minute
)

// Envelope wraps every live message with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// liveConn is the state of one live connection. Every message recomputes
// from scratch using the last inputs seen on this connection only.
type liveConn struct {
	srv  *Server
	conn *websocket.Conn

	sizing      types.SizingInput
	assumptions types.FinancialAssumptions
	result      types.SizingResult
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin allows same-host origins and the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(liveReadLimit)

	a, err := s.resolveAssumptions(s.defaultAssumptionsInput())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid default assumptions", slog.Any("error", err))
		return
	}
	lc := &liveConn{
		srv:         s,
		conn:        conn,
		sizing:      resolveSizing(s.cfg.Defaults.Sizing),
		assumptions: a,
	}

	// start the client off with the defaults
	if err := lc.recomputeSizing(ctx); err != nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(liveIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).WarnContext(ctx, "websocket read error", slog.Any("error", err))
			}
			return
		}
		if err := lc.handleMessage(ctx, msg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "websocket write error", slog.Any("error", err))
			return
		}
	}
}

// handleMessage applies one client message. Bad input is reported to the
// client; only a failed write is returned.
func (lc *liveConn) handleMessage(ctx context.Context, msg []byte) error {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return lc.sendError("invalid message", "")
	}

	switch env.Type {
	case TypeSizing:
		in := lc.sizing
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return lc.sendError("invalid sizing payload", "")
		}
		prev := lc.sizing
		lc.sizing = resolveSizing(in)
		if err := lc.recomputeSizing(ctx); err != nil {
			var inv *types.InvalidInputError
			if errors.As(err, &inv) {
				lc.sizing = prev
				return lc.sendError(inv.Error(), inv.Field)
			}
			return err
		}
		return nil

	case TypeAssumptions:
		in := assumptionsInput{FinancialAssumptions: lc.assumptions}
		if lc.assumptions.SellToGrid {
			rate := lc.assumptions.SellBackRate
			in.SellBackRate = &rate
		}
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return lc.sendError("invalid assumptions payload", "")
		}
		a, err := lc.srv.resolveAssumptions(in)
		if err != nil {
			var inv *types.InvalidInputError
			if errors.As(err, &inv) {
				return lc.sendError(inv.Error(), inv.Field)
			}
			return lc.sendError("invalid assumptions", "")
		}
		lc.assumptions = a
		return lc.recomputePayback(ctx)

	default:
		return lc.sendError("unknown message type: "+env.Type, "")
	}
}

// recomputeSizing sizes the system and, since the cost changed, the payback.
// Invalid input is returned before anything is sent.
func (lc *liveConn) recomputeSizing(ctx context.Context) error {
	res, err := lc.srv.calc.Compute(lc.sizing)
	if err != nil {
		return err
	}
	lc.result = res
	if err := lc.send(TypeSizingResult, res); err != nil {
		return err
	}
	return lc.recomputePayback(ctx)
}

func (lc *liveConn) recomputePayback(ctx context.Context) error {
	proj, err := payback.Simulate(lc.assumptions, lc.result.TotalCost, payback.AnnualUsageKWh(lc.sizing.DailyUsageKWh))
	if err != nil {
		var inv *types.InvalidInputError
		if errors.As(err, &inv) {
			return lc.sendError(inv.Error(), inv.Field)
		}
		log.Ctx(ctx).ErrorContext(ctx, "payback simulation failed", slog.Any("error", err))
		return lc.sendError("calculation failed", "")
	}
	return lc.send(TypePaybackResult, proj)
}

func (lc *liveConn) send(msgType string, payload any) error {
	data, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	lc.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return lc.conn.WriteMessage(websocket.TextMessage, data)
}

func (lc *liveConn) sendError(msg, field string) error {
	return lc.send(TypeError, errorResponse{Error: msg, Field: field})
}
