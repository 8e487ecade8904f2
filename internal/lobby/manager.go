// Package lobby holds game sessions: join codes, host and player tokens, and
// the roster a game is started with. Round state lives in the round engine.
package lobby

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kiliankoe/promptdash/internal/round"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotHost          = errors.New("not host")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAlreadyStarted   = errors.New("game already started")
	ErrSessionFull      = errors.New("session is full")
	ErrInvalidName      = errors.New("invalid player name")
	ErrNotEnoughPlayers = errors.New("not enough players")
)

const maxNameLength = 32

type Session struct {
	Code      string
	CreatedAt time.Time
	HostToken string

	mu         sync.Mutex
	maxPlayers int
	gameID     string
	players    []*Player // join order
	byToken    map[string]*Player
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byGame   map[string]string // game id -> session code
	active   string            // active session code when in single-session mode
	single   bool

	games round.GameGateway
	rules round.Config
	now   func() time.Time
}

type Option func(*Manager)

// WithSingleSession makes every new session replace the previous one.
func WithSingleSession(on bool) Option {
	return func(m *Manager) { m.single = on }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(games round.GameGateway, rules round.Config, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		byGame:   make(map[string]string),
		games:    games,
		rules:    rules,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CreateSession() (code string, hostToken string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = randomCode(5)
	for m.sessions[code] != nil {
		code = randomCode(5)
	}
	hostToken = uuid.NewString()
	s := &Session{
		Code:       code,
		CreatedAt:  m.now().UTC(),
		HostToken:  hostToken,
		maxPlayers: m.rules.MaxPlayers,
		byToken:    make(map[string]*Player),
	}

	if m.single && m.active != "" {
		if prev := m.sessions[m.active]; prev != nil {
			if id := prev.GameID(); id != "" {
				delete(m.byGame, id)
			}
			delete(m.sessions, m.active)
		}
	}
	m.sessions[code] = s
	m.active = code
	return code, hostToken, nil
}

func (m *Manager) Get(code string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[strings.ToUpper(strings.TrimSpace(code))]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Active() (string, *Session) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return "", nil
	}
	return m.active, m.sessions[m.active]
}

// SessionByGame finds the session a started game belongs to.
func (m *Manager) SessionByGame(gameID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sessions[m.byGame[gameID]]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// LoadGame reads a started game's progress.
func (m *Manager) LoadGame(ctx context.Context, gameID string) (round.Game, error) {
	return m.games.LoadGame(ctx, gameID)
}

// StartGame freezes the session's roster into a new game. The first round is
// started separately through the round engine.
func (m *Manager) StartGame(ctx context.Context, code, hostToken string, totalRounds int) (round.Game, error) {
	s, err := m.Get(code)
	if err != nil {
		return round.Game{}, err
	}
	if totalRounds <= 0 {
		totalRounds = m.rules.TotalRounds
	}

	s.mu.Lock()
	g, err := m.freeze(ctx, s, hostToken, totalRounds)
	s.mu.Unlock()
	if err != nil {
		return round.Game{}, err
	}

	m.mu.Lock()
	m.byGame[g.ID] = s.Code
	m.mu.Unlock()
	return g, nil
}

// freeze creates the game; the caller holds s.mu.
func (m *Manager) freeze(ctx context.Context, s *Session, hostToken string, totalRounds int) (round.Game, error) {
	if hostToken != s.HostToken {
		return round.Game{}, ErrNotHost
	}
	if s.gameID != "" {
		return round.Game{}, ErrAlreadyStarted
	}
	if len(s.players) < m.rules.MinPlayers {
		return round.Game{}, ErrNotEnoughPlayers
	}
	ids := make([]string, len(s.players))
	for i, p := range s.players {
		ids[i] = p.ID
	}
	g, err := m.games.CreateGame(ctx, ids, totalRounds, m.now().UTC())
	if err != nil {
		return round.Game{}, err
	}
	s.gameID = g.ID
	return g, nil
}

// Join adds a player while the session is still in the lobby.
func (s *Session) Join(name string) (playerID, playerToken string, err error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", "", ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameID != "" {
		return "", "", ErrAlreadyStarted
	}
	if s.maxPlayers > 0 && len(s.players) >= s.maxPlayers {
		return "", "", ErrSessionFull
	}
	p := &Player{ID: uuid.NewString(), Name: name, JoinedAt: time.Now().UTC()}
	token := uuid.NewString()
	s.players = append(s.players, p)
	s.byToken[token] = p
	return p.ID, token, nil
}

func (s *Session) PlayerIDByToken(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byToken[token]
	if p == nil {
		return ""
	}
	return p.ID
}

// Authenticate resolves a player token or fails with ErrUnauthorized.
func (s *Session) Authenticate(token string) (string, error) {
	if id := s.PlayerIDByToken(token); id != "" {
		return id, nil
	}
	return "", ErrUnauthorized
}

func (s *Session) CheckHost(token string) error {
	if token == "" || token != s.HostToken {
		return ErrNotHost
	}
	return nil
}

// Players returns copies in join order.
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Player, len(s.players))
	for i, p := range s.players {
		out[i] = *p
	}
	return out
}

// PlayerName returns the display name for id, or id itself when unknown.
func (s *Session) PlayerName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

func (s *Session) Status() Status {
	if s.GameID() == "" {
		return StatusLobby
	}
	return StatusPlaying
}

func randomCode(n int) string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
