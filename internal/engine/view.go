package engine

import "encoding/json"

// SeatView is a seat as one viewer is allowed to see it. Hole is nil unless
// the viewer owns the seat or the cards went to showdown (or were shown).
type SeatView struct {
	Seat       int      `json:"seat"`
	PlayerID   string   `json:"playerId"`
	Stack      int64    `json:"stack"`
	Bet        int64    `json:"bet,omitempty"`
	Folded     bool     `json:"folded,omitempty"`
	AllIn      bool     `json:"allIn,omitempty"`
	SittingOut bool     `json:"sittingOut,omitempty"`
	Reserved   bool     `json:"reserved,omitempty"`
	Hole       []string `json:"hole,omitempty"`
}

type ResultView struct {
	Seat     int      `json:"seat"`
	PlayerID string   `json:"playerId"`
	Won      int64    `json:"won"`
	Net      int64    `json:"net"`
	Hole     []string `json:"hole,omitempty"`
}

// View is the masked projection returned to clients.
type View struct {
	TableID    string       `json:"tableId"`
	Version    uint64       `json:"version"`
	Status     Status       `json:"status"`
	SmallBlind int64        `json:"smallBlind"`
	BigBlind   int64        `json:"bigBlind"`
	MaxPlayers int          `json:"maxPlayers"`
	Mode       Mode         `json:"mode"`
	ButtonSeat int          `json:"buttonSeat"`
	Street     Street       `json:"street,omitempty"`
	Board      []string     `json:"board,omitempty"`
	Pot        int64        `json:"pot,omitempty"`
	BetTo      int64        `json:"betTo,omitempty"`
	ActionOn   int          `json:"actionOn"`
	HandID     string       `json:"handId,omitempty"`
	Seats      []*SeatView  `json:"seats"`
	Winners    []ResultView `json:"winners,omitempty"`
}

func cardStrings(cs []Card) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

// View projects the snapshot for one viewer, redacting every hole card the
// viewer is not entitled to. An empty viewerID yields a spectator view.
func (e *Engine) View(viewerID string) *View {
	st := e.st
	sb, bb := st.blinds()
	v := &View{
		TableID:    st.TableID,
		Version:    st.Version,
		Status:     st.Status,
		SmallBlind: sb,
		BigBlind:   bb,
		MaxPlayers: st.Config.MaxPlayers,
		Mode:       st.Config.Mode,
		ButtonSeat: st.ButtonSeat,
		ActionOn:   -1,
		Seats:      make([]*SeatView, 0, MaxSeats),
	}

	h := st.Hand
	if h != nil {
		v.Street = h.Street
		v.Board = cardStrings(h.Board)
		v.BetTo = h.BetTo
		v.ActionOn = h.ActionOn
		v.HandID = h.HandID
		for i := 0; i < MaxSeats; i++ {
			v.Pot += h.TotalCommit[i]
		}
	}

	for i := 0; i < MaxSeats; i++ {
		s := st.Seats[i]
		if s == nil {
			continue
		}
		sv := &SeatView{
			Seat:       i,
			PlayerID:   s.PlayerID,
			Stack:      s.Stack,
			SittingOut: s.SittingOut,
			Reserved:   s.Reserved,
		}
		if h != nil {
			sv.Bet = h.StreetCommit[i]
			sv.Folded = h.Folded[i]
			sv.AllIn = h.AllIn[i]
		}
		if s.HasHole && s.PlayerID == viewerID {
			sv.Hole = []string{s.Hole[0].String(), s.Hole[1].String()}
		}
		v.Seats = append(v.Seats, sv)
	}

	for _, r := range st.Winners {
		rv := ResultView{Seat: r.Seat, PlayerID: r.PlayerID, Won: r.Won, Net: r.Net}
		if r.Shown || r.PlayerID == viewerID {
			rv.Hole = []string{r.Hole[0].String(), r.Hole[1].String()}
		}
		v.Winners = append(v.Winners, rv)
	}
	return v
}

// History renders the completed hand's event log as JSON for archival.
func (e *Engine) History() ([]byte, error) {
	st := e.st
	doc := struct {
		TableID string       `json:"tableId"`
		HandID  string       `json:"handId"`
		Config  Config       `json:"config"`
		Events  []HandEvent  `json:"events"`
		Winners []SeatResult `json:"winners,omitempty"`
		Rake    int64        `json:"rake,omitempty"`
	}{
		TableID: st.TableID,
		HandID:  st.LastHandID,
		Config:  st.Config,
		Events:  st.Log,
		Winners: st.Winners,
		Rake:    st.RakeThisHand,
	}
	return json.Marshal(doc)
}
