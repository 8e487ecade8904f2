// Package ws is the Socket.IO transport. Player actions come in as events
// and become round commands; round events go back out to the session room.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/ai"
	"github.com/kiliankoe/promptdash/internal/lobby"
	"github.com/kiliankoe/promptdash/internal/round"
)

const (
	roleHost   = "host"
	rolePlayer = "player"
)

var ErrSuggestionsDisabled = errors.New("prompt suggestions are not configured")

type ConnCtx struct {
	Code     string
	Token    string
	Role     string // "host" | "player"
	PlayerID string
}

type Server struct {
	lobby     *lobby.Manager
	engine    *round.Engine
	suggester *ai.Suggester
	origins   []string
	now       func() time.Time
	timeout   time.Duration

	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionCode -> socketID -> Conn
	rounds  map[string]string                   // roundID -> sessionCode
	io      *socketio.Server
}

type Option func(*Server)

func WithSuggester(s *ai.Suggester) Option {
	return func(srv *Server) { srv.suggester = s }
}

// WithAllowedOrigins limits cross-origin polling requests. Empty allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(srv *Server) { srv.origins = origins }
}

func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

func New(lm *lobby.Manager, eng *round.Engine, opts ...Option) *Server {
	srv := &Server{
		lobby:   lm,
		engine:  eng,
		now:     time.Now,
		timeout: 2 * time.Minute,
		members: make(map[string]map[string]socketio.Conn),
		rounds:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.mu.Lock()
	srv.io = io
	srv.mu.Unlock()

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:create", func(s socketio.Conn) map[string]any {
		code, hostToken, err := srv.lobby.CreateSession()
		if err != nil {
			return srv.fail(s, err)
		}
		srv.attach(s, &ConnCtx{Code: code, Token: hostToken, Role: roleHost})
		log.Info().Str("sid", s.ID()).Str("code", code).Msg("game:create")
		srv.emitStateTo(code)
		return map[string]any{"sessionCode": code, "hostToken": hostToken}
	})

	io.OnEvent("/", "game:join", func(s socketio.Conn, payload struct {
		SessionCode string `json:"sessionCode"`
		Name        string `json:"name"`
	}) map[string]any {
		sess, err := srv.lobby.Get(payload.SessionCode)
		if err != nil {
			return srv.fail(s, err)
		}
		playerID, playerToken, err := sess.Join(payload.Name)
		if err != nil {
			return srv.fail(s, err)
		}
		srv.attach(s, &ConnCtx{Code: sess.Code, Token: playerToken, Role: rolePlayer, PlayerID: playerID})
		log.Info().Str("sid", s.ID()).Str("code", sess.Code).Str("playerId", playerID).Msg("game:join")
		srv.emitStateTo(sess.Code)
		return map[string]any{"playerToken": playerToken, "playerId": playerID}
	})

	// game:resume (reconnection)
	io.OnEvent("/", "game:resume", func(s socketio.Conn, payload struct {
		SessionCode string `json:"sessionCode"`
		Role        string `json:"role"`
		Token       string `json:"token"`
	}) map[string]any {
		sess, err := srv.lobby.Get(payload.SessionCode)
		if err != nil {
			return srv.fail(s, err)
		}
		cc := &ConnCtx{Code: sess.Code, Token: payload.Token, Role: payload.Role}
		switch payload.Role {
		case roleHost:
			err = sess.CheckHost(payload.Token)
		case rolePlayer:
			cc.PlayerID, err = sess.Authenticate(payload.Token)
		default:
			err = fmt.Errorf("%w: unknown role %q", lobby.ErrUnauthorized, payload.Role)
		}
		if err != nil {
			return srv.fail(s, err)
		}
		srv.attach(s, cc)
		log.Info().Str("sid", s.ID()).Str("code", sess.Code).Str("role", cc.Role).Msg("game:resume")
		srv.emitStateTo(sess.Code)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "game:start", func(s socketio.Conn, payload struct {
		TotalRounds int `json:"totalRounds"`
	}) map[string]any {
		cc, sess, err := srv.host(s)
		if err != nil {
			return srv.fail(s, err)
		}
		ctx, cancel := srv.context()
		defer cancel()
		g, err := srv.lobby.StartGame(ctx, sess.Code, cc.Token, payload.TotalRounds)
		if err != nil {
			return srv.fail(s, err)
		}
		log.Info().Str("code", sess.Code).Str("gameId", g.ID).Int("totalRounds", g.TotalRounds).Msg("game:start")
		return srv.nextRound(s, g.ID)
	})

	io.OnEvent("/", "game:next", func(s socketio.Conn) map[string]any {
		_, sess, err := srv.host(s)
		if err != nil {
			return srv.fail(s, err)
		}
		gameID := sess.GameID()
		if gameID == "" {
			return srv.fail(s, fmt.Errorf("%w: session %s has no game yet", round.ErrGameNotFound, sess.Code))
		}
		return srv.nextRound(s, gameID)
	})

	io.OnEvent("/", "round:prompt", func(s socketio.Conn, payload struct {
		RoundID string `json:"roundId"`
		Text    string `json:"text"`
	}) map[string]any {
		cc, err := srv.player(s)
		if err != nil {
			return srv.fail(s, err)
		}
		cmd, err := round.NewSubmitPrompt(srv.engine.Config(), payload.RoundID, cc.PlayerID, payload.Text)
		if err != nil {
			return srv.fail(s, err)
		}
		return srv.execute(s, cmd)
	})

	io.OnEvent("/", "round:decoy", func(s socketio.Conn, payload struct {
		RoundID string `json:"roundId"`
		Text    string `json:"text"`
	}) map[string]any {
		cc, err := srv.player(s)
		if err != nil {
			return srv.fail(s, err)
		}
		cmd, err := round.NewSubmitDecoy(srv.engine.Config(), payload.RoundID, cc.PlayerID, payload.Text)
		if err != nil {
			return srv.fail(s, err)
		}
		return srv.execute(s, cmd)
	})

	io.OnEvent("/", "round:vote", func(s socketio.Conn, payload struct {
		RoundID string `json:"roundId"`
		Index   int    `json:"index"`
	}) map[string]any {
		cc, err := srv.player(s)
		if err != nil {
			return srv.fail(s, err)
		}
		cmd, err := round.NewSubmitVote(srv.engine.Config(), payload.RoundID, cc.PlayerID, payload.Index)
		if err != nil {
			return srv.fail(s, err)
		}
		return srv.execute(s, cmd)
	})

	io.OnEvent("/", "round:suggest", func(s socketio.Conn, payload struct {
		RoundID string `json:"roundId"`
		Theme   string `json:"theme"`
	}) map[string]any {
		cc, err := srv.player(s)
		if err != nil {
			return srv.fail(s, err)
		}
		ctx, cancel := srv.context()
		defer cancel()
		text, err := srv.suggest(ctx, payload.RoundID, cc.PlayerID, payload.Theme)
		if err != nil {
			return srv.fail(s, err)
		}
		s.Emit("round:suggestion", map[string]any{"roundId": payload.RoundID, "text": text})
		return map[string]any{"suggestion": text}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if cc, ok := s.Context().(*ConnCtx); ok && cc.Code != "" {
			srv.removeMember(cc.Code, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// CORS preflight for Socket.IO polling POSTs
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		origin, ok := allowOrigin(srv.origins, c.GetHeader("Origin"))
		if !ok {
			c.Status(http.StatusForbidden)
			return
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// Publish forwards a round event to the session the round belongs to. Rounds
// without a lobby session have nobody to notify.
func (srv *Server) Publish(ctx context.Context, channel string, ev round.Event) error {
	roundID, ok := round.RoundIDFromChannel(channel)
	if !ok {
		return fmt.Errorf("unexpected channel %q", channel)
	}
	code, err := srv.sessionFor(ctx, roundID)
	if errors.Is(err, lobby.ErrSessionNotFound) {
		log.Debug().Str("roundId", roundID).Msg("round has no session, event not forwarded")
		return nil
	}
	if err != nil {
		return err
	}

	srv.mu.Lock()
	io := srv.io
	srv.mu.Unlock()
	if io != nil {
		io.BroadcastToRoom("/", code, ev.EventName(), ev)
	}
	switch ev.(type) {
	case round.RoundStarted, round.RoundFinished:
		srv.emitStateTo(code)
	}
	return nil
}

func (srv *Server) sessionFor(ctx context.Context, roundID string) (string, error) {
	srv.mu.Lock()
	code, ok := srv.rounds[roundID]
	srv.mu.Unlock()
	if ok {
		return code, nil
	}

	r, err := srv.engine.Load(ctx, roundID)
	if err != nil {
		return "", err
	}
	sess, err := srv.lobby.SessionByGame(r.Snapshot().GameID)
	if err != nil {
		return "", err
	}
	srv.mu.Lock()
	srv.rounds[roundID] = sess.Code
	srv.mu.Unlock()
	return sess.Code, nil
}

func (srv *Server) nextRound(s socketio.Conn, gameID string) map[string]any {
	cmd, err := round.NewStartNextRound(srv.engine.Config(), gameID)
	if err != nil {
		return srv.fail(s, err)
	}
	return srv.execute(s, cmd)
}

func (srv *Server) execute(s socketio.Conn, cmd round.Command) map[string]any {
	ctx, cancel := srv.context()
	defer cancel()
	st, err := srv.engine.Execute(ctx, cmd, srv.now())
	if err != nil {
		return srv.fail(s, err)
	}
	log.Info().Str("sid", s.ID()).Str("command", cmd.Name()).Str("roundId", st.ID).Str("phase", string(st.Phase)).Msg("command")
	return map[string]any{"ok": true, "roundId": st.ID, "phase": st.Phase}
}

func (srv *Server) suggest(ctx context.Context, roundID, playerID, theme string) (string, error) {
	if srv.suggester == nil {
		return "", ErrSuggestionsDisabled
	}
	r, err := srv.engine.Load(ctx, roundID)
	if err != nil {
		return "", err
	}
	pr, ok := r.(*round.PromptRound)
	if !ok {
		return "", fmt.Errorf("%w: round %s is in %s phase", round.ErrWrongPhase, roundID, r.Phase())
	}
	if !pr.Has(playerID) {
		return "", round.ErrNotMember
	}
	if playerID != pr.ActivePlayer {
		return "", round.ErrNotActivePlayer
	}
	return srv.suggester.Suggest(ctx, theme)
}

func (srv *Server) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), srv.timeout)
}

func (srv *Server) host(s socketio.Conn) (*ConnCtx, *lobby.Session, error) {
	cc, _ := s.Context().(*ConnCtx)
	if cc == nil || cc.Role != roleHost {
		return nil, nil, lobby.ErrNotHost
	}
	sess, err := srv.lobby.Get(cc.Code)
	if err != nil {
		return nil, nil, err
	}
	if err := sess.CheckHost(cc.Token); err != nil {
		return nil, nil, err
	}
	return cc, sess, nil
}

func (srv *Server) player(s socketio.Conn) (*ConnCtx, error) {
	cc, _ := s.Context().(*ConnCtx)
	if cc == nil || cc.Role != rolePlayer || cc.PlayerID == "" {
		return nil, lobby.ErrUnauthorized
	}
	return cc, nil
}

func (srv *Server) attach(s socketio.Conn, cc *ConnCtx) {
	s.SetContext(cc)
	s.Join(cc.Code)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[cc.Code] == nil {
		srv.members[cc.Code] = make(map[string]socketio.Conn)
	}
	srv.members[cc.Code][s.ID()] = s
}

func (srv *Server) removeMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[code]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, code)
		}
	}
}

// emitStateTo sends every member of a session its personalized game:state.
func (srv *Server) emitStateTo(code string) {
	sess, err := srv.lobby.Get(code)
	if err != nil {
		return
	}
	ctx, cancel := srv.context()
	defer cancel()
	base := srv.state(ctx, sess)

	srv.mu.Lock()
	conns := make([]socketio.Conn, 0, len(srv.members[code]))
	for _, c := range srv.members[code] {
		conns = append(conns, c)
	}
	srv.mu.Unlock()

	for _, c := range conns {
		cc, _ := c.Context().(*ConnCtx)
		if cc == nil {
			continue
		}
		c.Emit("game:state", personalize(base, cc))
	}
}

// state is the part of game:state shared by every member of a session.
func (srv *Server) state(ctx context.Context, sess *lobby.Session) map[string]any {
	out := map[string]any{
		"sessionCode": sess.Code,
		"status":      sess.Status(),
		"players":     sess.Players(),
	}
	gameID := sess.GameID()
	if gameID == "" {
		return out
	}
	g, err := srv.lobby.LoadGame(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("code", sess.Code).Str("gameId", gameID).Msg("load game for state")
		return out
	}
	out["game"] = g
	if g.CurrentRoundID == "" {
		return out
	}
	r, err := srv.engine.Load(ctx, g.CurrentRoundID)
	if err != nil {
		log.Error().Err(err).Str("code", sess.Code).Str("roundId", g.CurrentRoundID).Msg("load round for state")
		return out
	}
	out["round"] = round.Public(r)
	return out
}

func personalize(base map[string]any, cc *ConnCtx) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	you := map[string]any{"role": cc.Role}
	if cc.PlayerID != "" {
		you["playerId"] = cc.PlayerID
	}
	out["you"] = you
	return out
}

func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
	code := errorCode(err)
	message := err.Error()
	if code == "internal" {
		log.Error().Err(err).Str("sid", s.ID()).Msg("request failed")
		message = "internal error"
	}
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message, "code": code}
}

// errorCode maps domain errors onto the wire codes clients switch on.
func errorCode(err error) string {
	switch {
	case isAny(err, round.ErrInvalidCommand, round.ErrInvalidIndex, lobby.ErrInvalidName):
		return "bad_request"
	case isAny(err, round.ErrNotFound, round.ErrGameNotFound, lobby.ErrSessionNotFound):
		return "not_found"
	case isAny(err, round.ErrConflict, round.ErrWrongPhase, round.ErrDeadlinePassed, round.ErrGameOver,
		round.ErrRoundInProgress, lobby.ErrAlreadyStarted, lobby.ErrSessionFull, lobby.ErrNotEnoughPlayers):
		return "conflict"
	case isAny(err, round.ErrNotMember, round.ErrNotActivePlayer, round.ErrActivePlayer,
		lobby.ErrNotHost, lobby.ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, ErrSuggestionsDisabled):
		return "unavailable"
	}
	return "internal"
}

func isAny(err error, targets ...error) bool {
	return slices.ContainsFunc(targets, func(t error) bool { return errors.Is(err, t) })
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func allowOrigin(allowlist []string, origin string) (string, bool) {
	if len(allowlist) == 0 {
		return "*", true
	}
	if origin != "" && slices.Contains(allowlist, origin) {
		return origin, true
	}
	return "", false
}
