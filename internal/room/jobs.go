package room

import (
	"encoding/json"
	"fmt"
)

// SettleHandJob carries the per-player chip results of one completed hand.
// Deltas are full-hand nets and sum to -Rake.
type SettleHandJob struct {
	TableID string           `json:"tableId"`
	HandID  string           `json:"handId"`
	Deltas  map[string]int64 `json:"deltas"`
	Rake    int64            `json:"rake"`
}

// TimeoutJob fires when the acting player's clock runs out. ExpectedVersion
// pins it to the table version that started the clock; any action in between
// bumps the version and the job self-cancels.
type TimeoutJob struct {
	TableID         string `json:"tableId"`
	PlayerID        string `json:"playerId"`
	Seat            int    `json:"seat"`
	ExpectedVersion uint64 `json:"expectedVersion"`
}

// NextHandJob asks for an automatic deal shortly after hand completion.
type NextHandJob struct {
	TableID string `json:"tableId"`
}

// PersistJob asks the write-behind worker to mirror current hot state into
// the cold store. The worker re-reads canonical state, so the payload is
// just the address.
type PersistJob struct {
	TableID string `json:"tableId"`
}

// ArchiveJob carries the completed hand's snapshot so the history survives
// even if hot state moves on before the worker runs.
type ArchiveJob struct {
	TableID  string          `json:"tableId"`
	HandID   string          `json:"handId"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// TimeoutUniqueID builds the singleton id that binds a timeout to one
// (table, seat, version) tuple.
func TimeoutUniqueID(tableID string, seat int, version uint64) string {
	return fmt.Sprintf("timeout:%s:%d:%d", tableID, seat, version)
}

// NextHandUniqueID dedupes auto-deal jobs per completion version.
func NextHandUniqueID(tableID string, version uint64) string {
	return fmt.Sprintf("nexthand:%s:%d", tableID, version)
}
