// Package export appends finished rounds to a human-readable results file.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/round"
)

type RoundLoader interface {
	LoadRoundState(ctx context.Context, id string) (round.RoundState, error)
}

type GameLoader interface {
	LoadGame(ctx context.Context, id string) (round.Game, error)
}

// NameFunc resolves a player id to a display name.
type NameFunc func(gameID, playerID string) string

type Exporter struct {
	path   string
	rounds RoundLoader
	games  GameLoader
	names  NameFunc
	now    func() time.Time

	mu sync.Mutex
}

type Option func(*Exporter)

func WithNames(f NameFunc) Option {
	return func(x *Exporter) { x.names = f }
}

func WithClock(now func() time.Time) Option {
	return func(x *Exporter) { x.now = now }
}

func New(path string, rounds RoundLoader, games GameLoader, opts ...Option) *Exporter {
	x := &Exporter{
		path:   path,
		rounds: rounds,
		games:  games,
		names:  func(_, id string) string { return id },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Publish exports on round:finished and ignores every other event.
func (x *Exporter) Publish(ctx context.Context, _ string, ev round.Event) error {
	fin, ok := ev.(round.RoundFinished)
	if !ok {
		return nil
	}
	if err := x.ExportRound(ctx, fin.RoundID); err != nil {
		return err
	}
	log.Info().Str("roundId", fin.RoundID).Str("file", x.path).Msg("exported round results")
	return nil
}

// ExportRound appends one finished round. The first round of a game also
// writes the game header; the last one writes the end marker.
func (x *Exporter) ExportRound(ctx context.Context, roundID string) error {
	st, err := x.rounds.LoadRoundState(ctx, roundID)
	if err != nil {
		return err
	}
	v, err := round.Validate(st)
	if err != nil {
		return err
	}
	fr, ok := v.(*round.FinishedRound)
	if !ok {
		return fmt.Errorf("%w: round %s is in %s phase", round.ErrWrongPhase, roundID, v.Phase())
	}

	var game *round.Game
	if g, err := x.games.LoadGame(ctx, fr.GameID); err == nil {
		game = &g
	} else if !errors.Is(err, round.ErrGameNotFound) {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if dir := filepath.Dir(x.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	_, statErr := os.Stat(x.path)
	fileExists := statErr == nil

	file, err := os.OpenFile(x.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(x.render(fr, game, fileExists)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func (x *Exporter) render(fr *round.FinishedRound, game *round.Game, fileExists bool) string {
	name := func(id string) string { return x.names(fr.GameID, id) }
	stamp := x.now().Format("2006-01-02 15:04:05")

	number := 1
	if game != nil {
		if i := slices.Index(game.ScoredRounds, fr.ID); i >= 0 {
			number = i + 1
		}
	}

	var sb strings.Builder
	if !fileExists || number == 1 {
		if fileExists {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Promptdash Game Results - Game %s\n", fr.GameID)
		fmt.Fprintf(&sb, "Started: %s\n", stamp)
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
		sb.WriteString("Players:\n")
		for _, p := range fr.Players {
			fmt.Fprintf(&sb, "- %s\n", name(p))
		}
		sb.WriteString("\n")
	}

	res := fr.Result
	if res == nil {
		fmt.Fprintf(&sb, "Round %d: abandoned, %s wrote no prompt\n", number, name(fr.ActivePlayer))
		sb.WriteString(strings.Repeat("-", 40) + "\n")
	} else {
		fmt.Fprintf(&sb, "Round %d: %q by %s\n", number, res.Prompts[fr.ActivePlayer], name(fr.ActivePlayer))
		sb.WriteString(strings.Repeat("-", 40) + "\n")
		if res.ImageURL != "" {
			fmt.Fprintf(&sb, "Image: %s\n", res.ImageURL)
		}

		slots := res.Slots()
		sb.WriteString("\nPrompts:\n")
		for i, author := range slots {
			marker := ""
			if author == fr.ActivePlayer {
				marker = " (real)"
			}
			fmt.Fprintf(&sb, "%d. %s: %q%s\n", i+1, name(author), res.Prompts[author], marker)
		}

		votersFor := make(map[int][]string)
		for _, voter := range fr.Players {
			if slot, ok := res.Votes[voter]; ok {
				votersFor[slot] = append(votersFor[slot], name(voter))
			}
		}
		if len(votersFor) > 0 {
			sb.WriteString("\nVotes:\n")
			for i, author := range slots {
				if voters := votersFor[i]; len(voters) > 0 {
					fmt.Fprintf(&sb, "- %s: %d vote(s) from %s\n", name(author), len(voters), strings.Join(voters, ", "))
				}
			}
			if correct := votersFor[res.ActiveSlot()]; len(correct) > 0 {
				fmt.Fprintf(&sb, "\nFound the real prompt: %s\n", strings.Join(correct, ", "))
			}
		}
	}

	writeScores(&sb, "\nRound scores:\n", fr.Scores, name)
	if game != nil {
		writeScores(&sb, "\nScores after this round:\n", game.Scores, name)
	}
	sb.WriteString("\n")

	if game != nil && game.Over() && game.CurrentRoundID == fr.ID {
		fmt.Fprintf(&sb, "Game ended at %s\n", stamp)
		sb.WriteString(strings.Repeat("=", 50) + "\n")
	}
	return sb.String()
}

// writeScores lists scores highest first, ties by name.
func writeScores(sb *strings.Builder, title string, scores map[string]int, name func(string) string) {
	if len(scores) == 0 {
		return
	}
	type playerScore struct {
		Name  string
		Score int
	}
	list := make([]playerScore, 0, len(scores))
	for id, s := range scores {
		list = append(list, playerScore{Name: name(id), Score: s})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Name < list[j].Name
	})
	sb.WriteString(title)
	for _, ps := range list {
		fmt.Fprintf(sb, "- %s: %d points\n", ps.Name, ps.Score)
	}
}
