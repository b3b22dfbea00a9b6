package tictactoe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/park285/tictactoe-telegram-bot/internal/obslog"
	"go.uber.org/zap"
)

const defaultComputerDelay = time.Second

// Recorder persists terminal results. Implementations must apply a (GameID, Round) once.
type Recorder interface {
	RecordResult(ctx context.Context, r Result) error
}

// ErrDuplicateResult may be returned by a Recorder that already applied a result.
var ErrDuplicateResult = errf("result already recorded")

// StepFunc observes an intermediate half-move before the engine continues. In SOLO it runs
// after the human move is committed and before the computer replies.
type StepFunc func(ctx context.Context, step *Step)

// Engine owns the game state machine. All state lives in the Store, so any number of
// Engines may serve the same games.
type Engine struct {
	store Store
	rec   Recorder
	delay time.Duration
	intn  func(n int) int
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Engine)

func WithComputerDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithRand replaces the source used to choose the computer's cell.
func WithRand(intn func(n int) int) Option {
	return func(e *Engine) {
		if intn != nil {
			e.intn = intn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, rec Recorder, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		rec:   rec,
		delay: defaultComputerDelay,
		intn:  rand.IntN,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Load returns the live game and its board.
func (e *Engine) Load(ctx context.Context, id string) (*Game, Board, error) {
	return e.store.Load(ctx, id)
}

// CreateGame persists a new game with an empty board. SOLO and GROUP_BATTLE games are
// playable immediately; a BATTLE waits for the invitee to accept.
func (e *Engine) CreateGame(ctx context.Context, in NewGame) (*Game, error) {
	in.CreatorID = strings.TrimSpace(in.CreatorID)
	in.OtherUserID = strings.TrimSpace(in.OtherUserID)
	if in.CreatorID == "" || !KnownType(in.Type) {
		return nil, ErrInvalidArgs
	}
	if in.Type == TypeGroupBattle {
		if in.OtherUserID == "" || in.ChatID == "" {
			return nil, ErrInvalidArgs
		}
		if in.OtherUserID == in.CreatorID {
			return nil, ErrSelfPlay
		}
	}
	now := e.now()
	g := &Game{
		ID:          NewID(),
		Type:        in.Type,
		Status:      StatusActive,
		Round:       1,
		CreatorID:   in.CreatorID,
		OtherUserID: in.OtherUserID,
		UserTurnID:  in.TurnID,
		ChatID:      in.ChatID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch in.Type {
	case TypeBattle:
		g.Status = StatusWaiting
		g.OtherUserID = ""
		g.UserTurnID = ""
	default:
		if g.UserTurnID == "" {
			g.UserTurnID = modeOf(g.Type).startingTurn(g.CreatorID, g.OtherUserID)
		}
	}
	if err := e.store.Create(ctx, g, Board{}); err != nil {
		return nil, err
	}
	obslog.L().Info("ttt_game_create",
		zap.String("game_id", g.ID),
		zap.String("type", string(g.Type)),
		zap.String("creator_id", g.CreatorID),
		zap.String("other_user_id", g.OtherUserID),
	)
	return g, nil
}

// AttachSurface records the message id of the board shown to userID.
func (e *Engine) AttachSurface(ctx context.Context, id, userID, messageID string) (*Game, error) {
	g, _, err := e.store.Mutate(ctx, id, func(g *Game, _ *Board) (Commit, error) {
		switch {
		case g.Type == TypeGroupBattle, userID == g.CreatorID:
			g.CreatorMessageID = messageID
		case userID == g.OtherUserID:
			g.OtherUserMessageID = messageID
		default:
			return CommitSave, ErrNotAMember
		}
		g.UpdatedAt = e.now()
		return CommitSave, nil
	})
	return g, err
}

// AcceptBattle claims the open seat of a BATTLE for acceptorID. The game is not playable
// until StartBattle records both surfaces.
func (e *Engine) AcceptBattle(ctx context.Context, id, acceptorID string) (*Game, error) {
	acceptorID = strings.TrimSpace(acceptorID)
	if acceptorID == "" {
		return nil, ErrInvalidArgs
	}
	g, _, err := e.store.Mutate(ctx, id, func(g *Game, _ *Board) (Commit, error) {
		if g.Type != TypeBattle {
			return CommitSave, ErrGameNotFound
		}
		if g.OtherUserID != "" || g.Status != StatusWaiting {
			return CommitSave, ErrAlreadyStarted
		}
		if acceptorID == g.CreatorID {
			return CommitSave, ErrSelfPlay
		}
		g.OtherUserID = acceptorID
		g.UpdatedAt = e.now()
		return CommitSave, nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("ttt_battle_accept", zap.String("game_id", id), zap.String("acceptor_id", acceptorID))
	return g, nil
}

// StartBattle records both participants' board messages and hands the first turn to the
// acceptor.
func (e *Engine) StartBattle(ctx context.Context, id, creatorMessageID, otherMessageID string) (*Game, error) {
	g, _, err := e.store.Mutate(ctx, id, func(g *Game, _ *Board) (Commit, error) {
		if g.Type != TypeBattle || g.OtherUserID == "" {
			return CommitSave, ErrGameNotFound
		}
		if g.Status == StatusActive {
			return CommitSave, ErrAlreadyStarted
		}
		g.CreatorMessageID = creatorMessageID
		g.OtherUserMessageID = otherMessageID
		g.UserTurnID = modeOf(g.Type).startingTurn(g.CreatorID, g.OtherUserID)
		g.Status = StatusActive
		g.UpdatedAt = e.now()
		return CommitSave, nil
	})
	return g, err
}

// ApplyMove validates and applies one human move, then in SOLO plays the computer's reply.
// onStep sees the human half-move when a computer reply follows. The returned Step is the
// last half-move applied; when the reply cannot be stored the turn goes back to the human and
// the Step carries that state.
func (e *Engine) ApplyMove(ctx context.Context, mv Move, onStep StepFunc) (*Step, error) {
	if !ValidPosition(mv.Position) {
		return nil, ErrInvalidPosition
	}
	if strings.TrimSpace(mv.ActorID) == "" {
		return nil, ErrInvalidArgs
	}
	step, err := e.halfMove(ctx, mv.GameID, mv.Mode, mv.ActorID, mv.Position)
	if err != nil {
		return nil, err
	}
	if step.Terminal() || step.Game.Type != TypeSolo {
		return step, nil
	}
	if onStep != nil {
		onStep(ctx, step)
	}
	// the reply must land even when the caller gives up, or the turn stays parked on the computer
	rctx := context.WithoutCancel(ctx)
	_ = e.sleep(rctx, e.delay)
	reply, err := e.halfMove(rctx, mv.GameID, TypeSolo, "", 0)
	if err == nil {
		return reply, nil
	}
	obslog.L().Error("ttt_computer_move_error", zap.String("game_id", mv.GameID), zap.Error(err))
	if errors.Is(err, ErrGameNotFound) {
		return nil, err
	}
	back, rerr := e.releaseTurn(rctx, mv.GameID, mv.ActorID)
	if rerr != nil {
		obslog.L().Error("ttt_release_turn_error", zap.String("game_id", mv.GameID), zap.Error(rerr))
		return step, err
	}
	return back, nil
}

// releaseTurn hands a SOLO turn parked on the computer back to the human after a failed reply.
func (e *Engine) releaseTurn(ctx context.Context, id, humanID string) (*Step, error) {
	g, b, err := e.store.Mutate(ctx, id, func(g *Game, _ *Board) (Commit, error) {
		if g.Type != TypeSolo || g.UserTurnID != "" {
			return CommitSave, ErrNotYourTurn
		}
		g.UserTurnID = g.CreatorID
		g.UpdatedAt = e.now()
		return CommitSave, nil
	})
	if err != nil {
		return nil, err
	}
	return &Step{Game: g.clone(), Board: b, ActorID: humanID}, nil
}

// halfMove applies one sign. An empty actorID is the computer, which picks its own cell.
func (e *Engine) halfMove(ctx context.Context, id string, want Type, actorID string, pos int) (*Step, error) {
	computer := actorID == ""
	var step *Step
	g, b, err := e.store.Mutate(ctx, id, func(g *Game, b *Board) (Commit, error) {
		step = nil
		if g.Type != want {
			return CommitSave, ErrModeMismatch
		}
		m := modeOf(g.Type)
		var sign Sign
		if computer {
			if g.Type != TypeSolo || g.UserTurnID != "" {
				return CommitSave, ErrNotYourTurn
			}
			sign = O
			free := b.EmptyPositions()
			if len(free) == 0 {
				step = e.finish(g, *b, 0, sign, OutcomeDraw, "", "")
				return CommitDelete, nil
			}
			pos = free[e.intn(len(free))]
		} else {
			if err := m.authorize(g, actorID); err != nil {
				return CommitSave, err
			}
			if g.Status != StatusActive || g.UserTurnID != actorID {
				return CommitSave, ErrNotYourTurn
			}
			if b.At(pos) != Empty {
				return CommitSave, ErrCellOccupied
			}
			sign = m.actingSign(g)
		}
		b.Set(pos, sign)
		g.UpdatedAt = e.now()

		commitEnd := CommitDelete
		if m.replayable() {
			commitEnd = CommitArchive
		}
		switch {
		case b.CheckWin(sign):
			winner, loser := actorID, m.resolveOpponent(g, actorID)
			if g.Type == TypeSolo {
				if computer {
					winner, loser = "", g.CreatorID
				} else {
					loser = ""
				}
			}
			step = e.finish(g, *b, pos, sign, OutcomeWin, winner, loser)
			step.ActorID = actorID
			return commitEnd, nil
		case b.IsDraw():
			step = e.finish(g, *b, pos, sign, OutcomeDraw, "", "")
			step.ActorID = actorID
			return commitEnd, nil
		}

		switch {
		case g.Type != TypeSolo:
			g.UserTurnID = m.resolveOpponent(g, actorID)
		case computer:
			g.UserTurnID = g.CreatorID
		default:
			// computer reply in flight; concurrent human moves see ErrNotYourTurn
			g.UserTurnID = ""
		}
		step = &Step{ActorID: actorID, Computer: computer, Position: pos, Sign: sign}
		return CommitSave, nil
	})
	if err != nil {
		if !errors.Is(err, ErrConflict) && !isRejection(err) {
			obslog.L().Error("ttt_move_error", zap.String("game_id", id), zap.String("user_id", actorID), zap.Error(err))
		}
		return nil, err
	}
	step.Game, step.Board, step.Computer = g.clone(), b, computer
	obslog.L().Info("ttt_move",
		zap.String("game_id", g.ID),
		zap.String("type", string(g.Type)),
		zap.String("user_id", actorID),
		zap.Bool("computer", computer),
		zap.Int("position", step.Position),
		zap.String("sign", string(step.Sign)),
		zap.String("outcome", string(step.Outcome)),
		zap.String("board", b.String()),
	)
	if step.Result != nil {
		e.record(ctx, *step.Result)
	}
	return step, nil
}

func (e *Engine) finish(g *Game, b Board, pos int, sign Sign, out Outcome, winner, loser string) *Step {
	g.UserTurnID = ""
	return &Step{
		Position: pos,
		Sign:     sign,
		Outcome:  out,
		Result:   newResult(g, winner, loser, out == OutcomeDraw, e.now()),
	}
}

func (e *Engine) record(ctx context.Context, r Result) {
	if e.rec == nil {
		return
	}
	err := e.rec.RecordResult(ctx, r)
	switch {
	case err == nil:
		obslog.L().Info("ttt_result_persist", zap.String("game_id", r.GameID), zap.Int("round", r.Round), zap.Bool("draw", r.Draw), zap.String("winner_id", r.WinnerID))
	case errors.Is(err, ErrDuplicateResult):
		obslog.L().Warn("ttt_result_duplicate", zap.String("game_id", r.GameID), zap.Int("round", r.Round))
	default:
		obslog.L().Error("ttt_result_persist_error", zap.String("game_id", r.GameID), zap.Int("round", r.Round), zap.Error(err))
	}
}

// Replay restarts a finished battle under the same id. firstMoverID takes the first turn.
func (e *Engine) Replay(ctx context.Context, id, actorID, firstMoverID string) (*Game, error) {
	g, _, err := e.store.Restore(ctx, id, func(g *Game) error {
		if !g.IsParticipant(actorID) || !g.IsParticipant(firstMoverID) {
			return ErrNotAMember
		}
		now := e.now()
		g.Round++
		g.Status = StatusActive
		g.UserTurnID = firstMoverID
		g.CreatedAt = now
		g.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("ttt_replay", zap.String("game_id", id), zap.Int("round", g.Round), zap.String("user_turn_id", firstMoverID))
	return g, nil
}

// Abandon deletes a live game without recording a result. actorID must be a participant
// unless empty, which is reserved for housekeeping.
func (e *Engine) Abandon(ctx context.Context, id, actorID string) (*Game, error) {
	g, _, err := e.store.Mutate(ctx, id, func(g *Game, _ *Board) (Commit, error) {
		if actorID != "" && !g.IsParticipant(actorID) {
			return CommitSave, ErrNotAMember
		}
		return CommitDelete, nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("ttt_abandon", zap.String("game_id", id), zap.String("user_id", actorID))
	return g, nil
}

func isRejection(err error) bool {
	var se staticErr
	return errors.As(err, &se)
}

// Describe is a short human-readable identifier used in logs and admin output.
func (g *Game) Describe() string {
	return fmt.Sprintf("%s/%s round %d", g.Type, g.ID, g.Round)
}
