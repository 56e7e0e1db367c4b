package workers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaurelions/pokertools-sub001/internal/coldstore"
	"github.com/aaurelions/pokertools-sub001/internal/engine"
	"github.com/aaurelions/pokertools-sub001/internal/queue"
	"github.com/aaurelions/pokertools-sub001/internal/room"
	"github.com/aaurelions/pokertools-sub001/internal/statestore"
)

type fakeLoader struct {
	states map[string]*engine.TableState
}

func (f *fakeLoader) Load(_ context.Context, tableID string) (*engine.TableState, error) {
	st, ok := f.states[tableID]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	return st, nil
}

type fakeMirror struct {
	saved []coldstore.PersistedTable
}

func (f *fakeMirror) Save(_ context.Context, t coldstore.PersistedTable) error {
	f.saved = append(f.saved, t)
	return nil
}

func persistJob(t *testing.T, tableID string) queue.Job {
	t.Helper()
	raw, err := json.Marshal(room.PersistJob{TableID: tableID})
	require.NoError(t, err)
	return queue.Job{ID: "job-1", Name: queue.JobPersistSnapshot, Payload: raw}
}

func TestPersister_MirrorsCanonicalState(t *testing.T) {
	loader := &fakeLoader{states: map[string]*engine.TableState{
		"tbl-1": {TableID: "tbl-1", Version: 9, Status: engine.StatusActive},
	}}
	mirror := &fakeMirror{}
	p := NewPersister(loader, mirror, zap.NewNop())

	require.NoError(t, p.HandlePersistSnapshot(context.Background(), persistJob(t, "tbl-1")))

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, "tbl-1", mirror.saved[0].TableID)
	assert.Equal(t, uint64(9), mirror.saved[0].Version)
	assert.Equal(t, "ACTIVE", mirror.saved[0].Status)

	var st engine.TableState
	require.NoError(t, json.Unmarshal(mirror.saved[0].State, &st))
	assert.Equal(t, uint64(9), st.Version)
}

func TestPersister_MissingHotStateIsNotAnError(t *testing.T) {
	p := NewPersister(&fakeLoader{states: map[string]*engine.TableState{}}, &fakeMirror{}, zap.NewNop())
	assert.NoError(t, p.HandlePersistSnapshot(context.Background(), persistJob(t, "gone")))
}

type fakeSink struct {
	inserts []string
}

func (f *fakeSink) Insert(_ context.Context, tableID, handID string, _ json.RawMessage) error {
	f.inserts = append(f.inserts, tableID+"/"+handID)
	return nil
}

func TestArchiver_StoresCarriedSnapshot(t *testing.T) {
	sink := &fakeSink{}
	a := NewArchiver(sink, zap.NewNop())

	raw, err := json.Marshal(room.ArchiveJob{
		TableID:  "tbl-1",
		HandID:   "hand-1",
		Snapshot: json.RawMessage(`{"handId":"hand-1"}`),
	})
	require.NoError(t, err)

	require.NoError(t, a.HandleArchiveHand(context.Background(),
		queue.Job{ID: "job-2", Name: queue.JobArchiveHand, Payload: raw}))
	assert.Equal(t, []string{"tbl-1/hand-1"}, sink.inserts)
}
