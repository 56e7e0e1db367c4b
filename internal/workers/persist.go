package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/coldstore"
	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
	"github.com/aaurelions/pokertools-sub001/internal/statestore"
)

// SnapshotLoader reads canonical hot state. Satisfied by *statestore.Store.
type SnapshotLoader interface {
	Load(ctx context.Context, tableID string) (*engine.TableState, error)
}

// TableMirror writes snapshot rows. Satisfied by *coldstore.TableRepo.
type TableMirror interface {
	Save(ctx context.Context, t coldstore.PersistedTable) error
}

// Persister mirrors hot snapshots into the cold store, write-behind. It
// always re-reads canonical state so coalesced or replayed jobs persist the
// newest version, never a stale payload.
type Persister struct {
	store  SnapshotLoader
	mirror TableMirror
	log    *zap.Logger
}

func NewPersister(store SnapshotLoader, mirror TableMirror, log *zap.Logger) *Persister {
	return &Persister{store: store, mirror: mirror, log: log}
}

func (p *Persister) HandlePersistSnapshot(ctx context.Context, job queue.Job) error {
	var payload room.PersistJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode persist payload: %w", err)
	}
	st, err := p.store.Load(ctx, payload.TableID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			p.log.Debug("persist skipped: hot state gone",
				zap.String("tableId", payload.TableID))
			return nil
		}
		return fmt.Errorf("persist %s: %w", payload.TableID, err)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("persist %s encode: %w", payload.TableID, err)
	}
	return p.mirror.Save(ctx, coldstore.PersistedTable{
		TableID: st.TableID,
		Status:  string(st.Status),
		Version: st.Version,
		State:   raw,
	})
}

// HistorySink archives completed hands. Satisfied by *coldstore.HistoryRepo.
type HistorySink interface {
	Insert(ctx context.Context, tableID, handID string, history json.RawMessage) error
}

// Archiver stores the hand history document carried in the job payload.
type Archiver struct {
	sink HistorySink
	log  *zap.Logger
}

func NewArchiver(sink HistorySink, log *zap.Logger) *Archiver {
	return &Archiver{sink: sink, log: log}
}

func (a *Archiver) HandleArchiveHand(ctx context.Context, job queue.Job) error {
	var payload room.ArchiveJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode archive payload: %w", err)
	}
	if err := a.sink.Insert(ctx, payload.TableID, payload.HandID, payload.Snapshot); err != nil {
		return err
	}
	a.log.Debug("hand archived",
		zap.String("tableId", payload.TableID),
		zap.String("handId", payload.HandID))
	return nil
}
