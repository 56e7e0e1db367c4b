package engine

// MaxSeats is the physical seat count of every table. Config.MaxPlayers may
// be lower; seats at or above it stay empty.
const MaxSeats = 9

type Mode string

const (
	ModeCash       Mode = "cash"
	ModeTournament Mode = "tournament"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
)

type Street string

const (
	StreetPreflop  Street = "PREFLOP"
	StreetFlop     Street = "FLOP"
	StreetTurn     Street = "TURN"
	StreetRiver    Street = "RIVER"
	StreetShowdown Street = "SHOWDOWN"
)

type BlindLevel struct {
	SmallBlind int64 `json:"smallBlind"`
	BigBlind   int64 `json:"bigBlind"`
}

type Config struct {
	SmallBlind int64 `json:"smallBlind"`
	BigBlind   int64 `json:"bigBlind"`
	MaxPlayers int   `json:"maxPlayers"`
	Mode       Mode  `json:"mode,omitempty"`

	// Cash mode only; basis points taken from each pot at settlement.
	RakeBps int `json:"rakeBps,omitempty"`

	// Per-action clock. Zero means the orchestrator default applies.
	ActionTimeoutSecs int `json:"actionTimeoutSecs,omitempty"`
	// Extra seconds granted by a TIME_BANK action. Zero disables time banks.
	TimeBankSecs int `json:"timeBankSecs,omitempty"`

	MinBuyIn int64 `json:"minBuyIn,omitempty"`
	MaxBuyIn int64 `json:"maxBuyIn,omitempty"`

	// Tournament blind ladder. Expanded to a default ladder by New when the
	// mode is tournament and no levels are supplied.
	BlindLevels []BlindLevel `json:"blindLevels,omitempty"`
}

type Seat struct {
	PlayerID string `json:"playerId,omitempty"`
	Stack    int64  `json:"stack"`

	// Reserved seats hold a spot before the SIT completes (buy-in path).
	Reserved   bool `json:"reserved,omitempty"`
	SittingOut bool `json:"sittingOut,omitempty"`

	Hole    [2]Card `json:"hole"`
	HasHole bool    `json:"hasHole,omitempty"`

	// Remaining time-bank budget in seconds.
	TimeBankSecs int `json:"timeBankSecs,omitempty"`
}

type Pot struct {
	Amount        int64 `json:"amount"`
	EligibleSeats []int `json:"eligibleSeats"`
}

type Hand struct {
	HandID string `json:"handId"`
	Street Street `json:"street"`

	ButtonSeat     int `json:"buttonSeat"`
	SmallBlindSeat int `json:"smallBlindSeat"`
	BigBlindSeat   int `json:"bigBlindSeat"`

	// Seat to act, or -1 when no action is possible (runout).
	ActionOn int `json:"actionOn"`

	BetTo        int64 `json:"betTo"`
	MinRaiseSize int64 `json:"minRaiseSize"`

	IntervalID        uint32             `json:"intervalId"`
	LastIntervalActed [MaxSeats]int      `json:"lastIntervalActed"`
	StreetCommit      [MaxSeats]int64    `json:"streetCommit"`
	TotalCommit       [MaxSeats]int64    `json:"totalCommit"`
	InHand            [MaxSeats]bool     `json:"inHand"`
	Folded            [MaxSeats]bool     `json:"folded"`
	AllIn             [MaxSeats]bool     `json:"allIn"`

	Deck       []Card `json:"deck"`
	DeckCursor uint8  `json:"deckCursor"`
	Board      []Card `json:"board"`

	// Seat that activated its time bank for the current action, or -1.
	TimeBankSeat int `json:"timeBankSeat"`

	Pots []Pot `json:"pots,omitempty"`
}

// SeatResult is the per-seat outcome of a completed hand. Net is the
// full-hand net (awards minus total commitment); across all seats the nets
// sum to the negated rake.
type SeatResult struct {
	Seat     int     `json:"seat"`
	PlayerID string  `json:"playerId"`
	Won      int64   `json:"won"`
	Net      int64   `json:"net"`
	Hole     [2]Card `json:"hole"`
	Shown    bool    `json:"shown"`
}

// HandEvent is one entry of the per-hand history log.
type HandEvent struct {
	Type   string `json:"type"`
	Seat   int    `json:"seat,omitempty"`
	Player string `json:"player,omitempty"`
	Amount int64  `json:"amount,omitempty"`
	Street Street `json:"street,omitempty"`
	Cards  string `json:"cards,omitempty"`
}

// TableState is the full engine-owned snapshot of one table. The orchestrator
// stamps Version; the engine never touches it.
type TableState struct {
	Version uint64 `json:"_version"`

	TableID string `json:"tableId"`
	Config  Config `json:"config"`
	Status  Status `json:"status"`

	Seats      [MaxSeats]*Seat `json:"seats"`
	ButtonSeat int             `json:"buttonSeat"`
	HandSeq    uint64          `json:"handSeq"`
	BlindLevel int             `json:"blindLevel,omitempty"`

	Hand *Hand `json:"hand,omitempty"`

	// Completion report of the most recent hand. Non-nil winners mark the
	// hand as finished; DEAL clears them.
	Winners      []SeatResult `json:"winners,omitempty"`
	LastHandID   string       `json:"lastHandId,omitempty"`
	RakeThisHand int64        `json:"rakeThisHand,omitempty"`

	// Current-hand history log, flushed to archival on completion.
	Log []HandEvent `json:"log,omitempty"`
}

// ActionTo returns the seat whose turn it is, or -1.
func (st *TableState) ActionTo() int {
	if st.Hand == nil {
		return -1
	}
	return st.Hand.ActionOn
}

// HandComplete reports whether the last applied action finished a hand.
func (st *TableState) HandComplete() bool {
	return st.Hand == nil && len(st.Winners) > 0
}

// TimeBankActiveSeat returns the seat that spent time bank on the pending
// action, or -1.
func (st *TableState) TimeBankActiveSeat() int {
	if st.Hand == nil {
		return -1
	}
	return st.Hand.TimeBankSeat
}

// SeatOf returns the seat index of a player, or -1.
func (st *TableState) SeatOf(playerID string) int {
	for i := 0; i < MaxSeats; i++ {
		if st.Seats[i] != nil && st.Seats[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

// PlayersWithChips counts occupied, funded, non-sitting-out seats.
func (st *TableState) PlayersWithChips() int {
	n := 0
	for i := 0; i < MaxSeats; i++ {
		s := st.Seats[i]
		if s != nil && !s.Reserved && !s.SittingOut && s.Stack > 0 {
			n++
		}
	}
	return n
}

// Stacks returns playerID -> stack for every occupied seat.
func (st *TableState) Stacks() map[string]int64 {
	out := make(map[string]int64, MaxSeats)
	for i := 0; i < MaxSeats; i++ {
		if st.Seats[i] != nil && st.Seats[i].PlayerID != "" {
			out[st.Seats[i].PlayerID] = st.Seats[i].Stack
		}
	}
	return out
}

func (st *TableState) blinds() (int64, int64) {
	if st.Config.Mode == ModeTournament && st.BlindLevel < len(st.Config.BlindLevels) {
		lv := st.Config.BlindLevels[st.BlindLevel]
		return lv.SmallBlind, lv.BigBlind
	}
	return st.Config.SmallBlind, st.Config.BigBlind
}
