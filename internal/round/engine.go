package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kiliankoe/promptdash/internal/round"

// Deps is everything a handler may touch besides its payload.
type Deps struct {
	Rounds    Gateway
	Games     GameGateway
	Bus       Publisher
	Scheduler Scheduler
	Images    ImageGenerator
	Config    Config
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Engine executes round commands. It keeps no round state of its own and
// holds no lock across gateway, bus or image calls.
type Engine struct {
	rounds Gateway
	games  GameGateway
	bus    Publisher
	timers Scheduler
	images ImageGenerator
	cfg    Config
	log    zerolog.Logger
	tracer trace.Tracer
}

func New(d Deps) *Engine {
	logger := log.Logger
	if d.Logger != nil {
		logger = *d.Logger
	}
	return &Engine{
		rounds: d.Rounds,
		games:  d.Games,
		bus:    d.Bus,
		timers: d.Scheduler,
		images: d.Images,
		cfg:    d.Config,
		log:    logger.With().Str("component", "round").Logger(),
		tracer: otel.Tracer(tracerName),
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Load returns the validated view of a stored round.
func (e *Engine) Load(ctx context.Context, id string) (Round, error) {
	return e.load(ctx, id)
}

// Execute performs the single transition cmd asks for at time at and returns
// the latest snapshot of the round. Identical resubmissions and stale
// timeouts succeed without side effects.
func (e *Engine) Execute(ctx context.Context, cmd Command, at time.Time) (RoundState, error) {
	ctx, span := e.tracer.Start(ctx, "round."+cmd.Name())
	defer span.End()

	state, err := e.dispatch(ctx, cmd, at)
	span.SetAttributes(
		attribute.String("round.id", state.ID),
		attribute.String("round.phase", string(state.Phase)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Debug().Err(err).Str("command", cmd.Name()).Msg("command rejected")
	}
	return state, err
}

func (e *Engine) dispatch(ctx context.Context, cmd Command, at time.Time) (RoundState, error) {
	if err := cmd.validate(e.cfg); err != nil {
		return RoundState{}, err
	}
	switch c := cmd.(type) {
	case StartRound:
		return e.startRound(ctx, c, at)
	case StartNextRound:
		return e.startNextRound(ctx, c, at)
	case SubmitPrompt:
		return e.submitPrompt(ctx, c, at)
	case SubmitDecoy:
		return e.submitDecoy(ctx, c, at)
	case SubmitVote:
		return e.submitVote(ctx, c, at)
	case PhaseTimeout:
		return e.phaseTimeout(ctx, c, at)
	}
	return RoundState{}, invalidf("unsupported command %T", cmd)
}

// load fetches a snapshot and refuses to work on one that fails validation.
func (e *Engine) load(ctx context.Context, id string) (Round, error) {
	s, err := e.rounds.LoadRoundState(ctx, id)
	if err != nil {
		return nil, err
	}
	return Validate(s)
}

// maxCommitAttempts bounds rebuilds after a lost save. Each rebuild follows
// an append, and a round takes at most one prompt and one vote per player.
const maxCommitAttempts = 16

// advance validates and saves the snapshot build derives from cur. When an
// append lands between the load and the save, the round is reloaded and the
// transition rebuilt as long as it is still in cur's phase. A nil view
// without error means another command already moved the round on.
func (e *Engine) advance(ctx context.Context, cur Round, build func(Round) RoundState) (Round, error) {
	from := cur.Phase()
	for attempt := 1; ; attempt++ {
		next := build(cur)
		next.Revision++
		v, err := Validate(next)
		if err != nil {
			return nil, err
		}
		err = e.rounds.SaveRoundState(ctx, next)
		if err == nil {
			e.log.Info().Str("roundId", next.ID).Str("to", string(next.Phase)).Msg("phase transition")
			return v, nil
		}
		if !errors.Is(err, ErrStale) {
			return nil, err
		}

		latest, err := e.load(ctx, next.ID)
		if err != nil {
			return nil, err
		}
		if latest.Phase() != from {
			e.log.Debug().Str("roundId", next.ID).Str("phase", string(next.Phase)).Msg("transition already committed")
			return nil, nil
		}
		if attempt == maxCommitAttempts {
			return nil, fmt.Errorf("%w: round %s kept changing before moving to %s", ErrStale, next.ID, next.Phase)
		}
		e.log.Debug().Str("roundId", next.ID).Int64("revision", latest.Snapshot().Revision).Msg("round changed under transition, rebuilding")
		cur = latest
	}
}

func (e *Engine) publish(ctx context.Context, roundID string, events ...Event) error {
	for _, ev := range events {
		if err := e.bus.Publish(ctx, Channel(roundID), ev); err != nil {
			return err
		}
	}
	return nil
}
