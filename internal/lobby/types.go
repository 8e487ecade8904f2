package lobby

import "time"

type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Status is where a session stands relative to its game.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
)
