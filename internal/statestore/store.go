// Package statestore keeps the canonical per-table snapshot in Redis under a
// monotonic version, and fans out version announcements over pub/sub. All
// writes go through a compare-and-set so a stale writer can never clobber a
// newer snapshot, independent of the table lock.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/engine"
)

const (
	keyPrefix     = "table:"
	channelPrefix = "pubsub:table:"

	// DefaultTTL keeps hot state around for a day of inactivity; every write
	// refreshes it.
	DefaultTTL = 24 * time.Hour
)

const KindStateUpdate = "STATE_UPDATE"

// Event is the pub/sub payload. It carries only the version; subscribers
// re-read canonical state, so message loss is tolerable.
type Event struct {
	Kind    string `json:"kind"`
	TableID string `json:"tableId"`
	Version uint64 `json:"version"`
}

var (
	ErrNotFound        = errors.New("statestore: snapshot not found")
	ErrVersionMismatch = errors.New("statestore: version mismatch")
	ErrAlreadyExists   = errors.New("statestore: snapshot already exists")
)

// casScript atomically verifies the stored snapshot's _version and replaces
// the whole value, refreshing the TTL.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 'missing'
end
local decoded = cjson.decode(cur)
if tostring(decoded['_version']) ~= ARGV[1] then
  return 'mismatch'
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 'ok'
`)

type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log *zap.Logger
}

func New(rdb redis.UniversalClient, log *zap.Logger) *Store {
	return &Store{rdb: rdb, ttl: DefaultTTL, log: log}
}

func Key(tableID string) string     { return keyPrefix + tableID }
func Channel(tableID string) string { return channelPrefix + tableID }

// TableIDFromChannel inverts Channel; empty when the channel is foreign.
func TableIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, channelPrefix) {
		return ""
	}
	return strings.TrimPrefix(channel, channelPrefix)
}

// Load reads and decodes the current snapshot.
func (s *Store) Load(ctx context.Context, tableID string) (*engine.TableState, error) {
	raw, err := s.rdb.Get(ctx, Key(tableID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", tableID, err)
	}
	var st engine.TableState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", tableID, err)
	}
	return &st, nil
}

// Create writes the version-0 snapshot; it refuses to overwrite.
func (s *Store) Create(ctx context.Context, tableID string, st *engine.TableState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", tableID, err)
	}
	ok, err := s.rdb.SetNX(ctx, Key(tableID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", tableID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// CompareAndSet replaces the snapshot iff the stored _version equals
// expectedVersion. The new snapshot must already carry its own version.
func (s *Store) CompareAndSet(ctx context.Context, tableID string, expectedVersion uint64, st *engine.TableState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", tableID, err)
	}
	res, err := casScript.Run(ctx, s.rdb,
		[]string{Key(tableID)},
		expectedVersion, raw, s.ttl.Milliseconds(),
	).Text()
	if err != nil {
		return fmt.Errorf("cas snapshot %s: %w", tableID, err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return ErrNotFound
	case "mismatch":
		return ErrVersionMismatch
	default:
		return fmt.Errorf("cas snapshot %s: unexpected result %q", tableID, res)
	}
}

// Delete removes the snapshot. Administrative use only.
func (s *Store) Delete(ctx context.Context, tableID string) error {
	return s.rdb.Del(ctx, Key(tableID)).Err()
}

// Publish announces a new version on the table channel. Failures are logged
// and swallowed; subscribers recover by re-reading state.
func (s *Store) Publish(ctx context.Context, tableID string, version uint64) {
	ev := Event{Kind: KindStateUpdate, TableID: tableID, Version: version}
	raw, _ := json.Marshal(ev)
	if err := s.rdb.Publish(ctx, Channel(tableID), raw).Err(); err != nil {
		s.log.Warn("publish state update failed",
			zap.String("tableId", tableID),
			zap.Uint64("version", version),
			zap.Error(err))
	}
}

// Subscribe pattern-subscribes to every table channel. The caller owns the
// returned PubSub and must Close it.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.PSubscribe(ctx, channelPrefix+"*")
}
