package tictactoe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultGameTTL      = 7 * 24 * time.Hour
	defaultReplayWindow = 24 * time.Hour
	maxTxAttempts       = 8
)

// RedisStore keeps each game as JSON under ttt:game:<id> and its cells in the hash
// ttt:game:<id>:board (fields "1".."9"). ttt:games:created indexes ids by creation time.
type RedisStore struct {
	rdb          *redis.Client
	gameTTL      time.Duration
	replayWindow time.Duration
}

type StoreOption func(*RedisStore)

// WithReplayWindow sets how long a finished battle can be replayed.
func WithReplayWindow(d time.Duration) StoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.replayWindow = d
		}
	}
}

// WithGameTTL bounds how long an abandoned game survives when no sweep removes it.
func WithGameTTL(d time.Duration) StoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.gameTTL = d
		}
	}
}

func NewRedisStore(rdb *redis.Client, opts ...StoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, gameTTL: defaultGameTTL, replayWindow: defaultReplayWindow}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenRedis connects and pings the server named by a redis:// or rediss:// URL.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func gameKey(id string) string    { return "ttt:game:" + strings.TrimSpace(id) }
func boardKey(id string) string   { return gameKey(id) + ":board" }
func rematchKey(id string) string { return "ttt:rematch:" + strings.TrimSpace(id) }

const createdIndexKey = "ttt:games:created"

// rematchTicket is what survives a finished battle.
type rematchTicket struct {
	Game *Game `json:"game"`
}

func (s *RedisStore) Create(ctx context.Context, g *Game, b Board) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return ErrInvalidArgs
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	gk := gameKey(g.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("game %s already exists", g.ID)
		}
		// game, board and index entry become visible together
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gk, raw, s.gameTTL)
			s.writeBoard(ctx, pipe, g.ID, b)
			pipe.ZAdd(ctx, createdIndexKey, redis.Z{Score: float64(g.CreatedAt.Unix()), Member: g.ID})
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Game, Board, error) {
	return s.read(ctx, s.rdb, id)
}

type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) read(ctx context.Context, r reader, id string) (*Game, Board, error) {
	var b Board
	raw, err := r.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, b, ErrGameNotFound
	}
	if err != nil {
		return nil, b, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, b, fmt.Errorf("decode game %s: %w", id, err)
	}
	cells, err := r.HGetAll(ctx, boardKey(id)).Result()
	if err != nil {
		return nil, b, err
	}
	for p := MinPosition; p <= MaxPosition; p++ {
		switch Sign(cells[positionField(p)]) {
		case X:
			b.Set(p, X)
		case O:
			b.Set(p, O)
		}
	}
	return &g, b, nil
}

func (s *RedisStore) writeBoard(ctx context.Context, pipe redis.Pipeliner, id string, b Board) {
	fields := make([]any, 0, 2*len(b))
	for p := MinPosition; p <= MaxPosition; p++ {
		fields = append(fields, positionField(p), string(b.At(p)))
	}
	pipe.HSet(ctx, boardKey(id), fields...)
	pipe.Expire(ctx, boardKey(id), s.gameTTL)
}

func (s *RedisStore) dropLive(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.Del(ctx, gameKey(id), boardKey(id))
	pipe.ZRem(ctx, createdIndexKey, id)
}

// Mutate runs fn under WATCH on the game and board keys and commits its decision atomically.
func (s *RedisStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*Game, Board, error) {
	var (
		out    *Game
		outB   Board
		gk, bk = gameKey(id), boardKey(id)
	)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			g, b, err := s.read(ctx, tx, id)
			if err != nil {
				return err
			}
			commit, err := fn(g, &b)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(g)
			if err != nil {
				return err
			}
			var ticket []byte
			if commit == CommitArchive {
				if ticket, err = json.Marshal(rematchTicket{Game: g}); err != nil {
					return fmt.Errorf("encode rematch ticket %s: %w", id, err)
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				switch commit {
				case CommitDelete:
					s.dropLive(ctx, pipe, id)
				case CommitArchive:
					s.dropLive(ctx, pipe, id)
					pipe.Set(ctx, rematchKey(id), ticket, s.replayWindow)
				default:
					pipe.Set(ctx, gk, raw, s.gameTTL)
					s.writeBoard(ctx, pipe, id, b)
				}
				return nil
			})
			if err != nil {
				return err
			}
			out, outB = g, b
			return nil
		}, gk, bk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, Board{}, err
		}
		return out, outB, nil
	}
	return nil, Board{}, ErrConflict
}

// Restore recreates the game from its rematch ticket with an empty board. A live game under
// the same id yields ErrAlreadyStarted and a missing ticket ErrGameNotFound.
func (s *RedisStore) Restore(ctx context.Context, id string, fn func(g *Game) error) (*Game, Board, error) {
	var (
		out        *Game
		gk, bk, rk = gameKey(id), boardKey(id), rematchKey(id)
	)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, gk).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrAlreadyStarted
			}
			raw, err := tx.Get(ctx, rk).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrGameNotFound
			}
			if err != nil {
				return err
			}
			var t rematchTicket
			if err := json.Unmarshal(raw, &t); err != nil || t.Game == nil {
				return fmt.Errorf("decode rematch ticket %s: %v", id, err)
			}
			g := t.Game
			if err := fn(g); err != nil {
				return err
			}
			gameRaw, err := json.Marshal(g)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, gk, gameRaw, s.gameTTL)
				s.writeBoard(ctx, pipe, id, Board{})
				pipe.ZAdd(ctx, createdIndexKey, redis.Z{Score: float64(g.CreatedAt.Unix()), Member: id})
				pipe.Del(ctx, rk)
				return nil
			})
			if err != nil {
				return err
			}
			out = g
			return nil
		}, gk, bk, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, Board{}, err
		}
		return out, Board{}, nil
	}
	return nil, Board{}, ErrConflict
}

// Delete removes a live game and returns its last state.
func (s *RedisStore) Delete(ctx context.Context, id string) (*Game, Board, error) {
	return s.Mutate(ctx, id, func(*Game, *Board) (Commit, error) { return CommitDelete, nil })
}

func (s *RedisStore) ListStale(ctx context.Context, before time.Time, limit int) ([]*Game, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.ZRangeByScore(ctx, createdIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Game, 0, len(ids))
	for _, id := range ids {
		g, _, err := s.Load(ctx, id)
		if errors.Is(err, ErrGameNotFound) {
			// expired by TTL; drop the dangling index entry
			_ = s.rdb.ZRem(ctx, createdIndexKey, id).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, g)
	}
	return out, nil
}
