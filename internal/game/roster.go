package game

import (
	"strconv"
	"sync"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// Slot is a player position.
type Slot string

const (
	SlotP1 Slot = "p1"
	SlotP2 Slot = "p2"
)

// ParseSlot validates a slot name.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotP1, SlotP2:
		return Slot(s), nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidArgument, "invalid player slot %q", s).
		WithMetadata("slot", s)
}

// Player identifies someone who signed up for a slot.
type Player struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName prefers @username, then the first name, then #id.
func (p Player) DisplayName() string {
	switch {
	case p.Username != "":
		return "@" + p.Username
	case p.FirstName != "":
		return p.FirstName
	default:
		return "#" + strconv.FormatInt(p.ID, 10)
	}
}

// Roster holds the players signed up for the next game of one source.
// Sign-ups are locked while a game is being recorded.
type Roster struct {
	mu      sync.Mutex
	players map[Slot]Player
	started bool
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{players: make(map[Slot]Player, 2)}
}

// Apply assigns p to slot.
func (r *Roster) Apply(slot Slot, p Player) error {
	if slot != SlotP1 && slot != SlotP2 {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "invalid player slot %q", slot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return apperrors.New(apperrors.CodeRosterLocked, "game already started")
	}
	for s, existing := range r.players {
		if existing.ID == p.ID {
			return apperrors.New(apperrors.CodeRosterConflict, "player already applied").
				WithMetadata("slot", string(s))
		}
	}
	r.players[slot] = p
	return nil
}

// Start locks the roster for the running game.
func (r *Roster) Start() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

// Started reports whether the roster is locked.
func (r *Roster) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Clear removes all players and unlocks the roster.
func (r *Roster) Clear() {
	r.mu.Lock()
	clear(r.players)
	r.started = false
	r.mu.Unlock()
}

// Player returns the player in slot, if any.
func (r *Roster) Player(slot Slot) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[slot]
	return p, ok
}

// Names returns display names, falling back to "P1" and "P2".
func (r *Roster) Names() (p1, p2 string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p1, p2 = "P1", "P2"
	if p, ok := r.players[SlotP1]; ok {
		p1 = p.DisplayName()
	}
	if p, ok := r.players[SlotP2]; ok {
		p2 = p.DisplayName()
	}
	return p1, p2
}
