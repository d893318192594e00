// Package game tracks game progression for one video source and decides
// when a complete game has been observed.
package game

import "github.com/GriffinCanCode/tetris-recorder/internal/vision"

// State is a game progression state.
type State int

const (
	NotTetris State = iota
	Menu
	Game
	GameOver
)

func (s State) String() string {
	switch s {
	case NotTetris:
		return "NOT_TETRIS"
	case Menu:
		return "MENU"
	case Game:
		return "GAME"
	case GameOver:
		return "GAME_OVER"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is a copy of the machine's observable fields.
type Snapshot struct {
	State            State        `json:"state"`
	ValidGameStarted bool         `json:"valid_game_started"`
	VideoReady       bool         `json:"video_ready"`
	GameOverDetected bool         `json:"game_over_detected"`
	LastP1           vision.Score `json:"last_p1"`
	LastP2           vision.Score `json:"last_p2"`
	FinalP1          vision.Score `json:"final_p1"`
	FinalP2          vision.Score `json:"final_p2"`
}

// StateMachine follows MENU -> GAME -> GAME_OVER and marks a video ready
// only for games that were watched from a 0-0 start. It is owned by one
// pipeline and must not be shared; calls are not synchronized.
type StateMachine struct {
	s Snapshot
}

// NewStateMachine returns a machine in NotTetris.
func NewStateMachine() *StateMachine { return &StateMachine{} }

// State returns the current state.
func (m *StateMachine) State() State { return m.s.State }

// Snapshot returns a copy of the machine's fields.
func (m *StateMachine) Snapshot() Snapshot { return m.s }

// VideoReady reports whether the last GAME_OVER should produce a video.
func (m *StateMachine) VideoReady() bool { return m.s.VideoReady }

// FinalScores returns the scores recorded for the finished game.
func (m *StateMachine) FinalScores() (p1, p2 vision.Score) { return m.s.FinalP1, m.s.FinalP2 }

// Update applies one classification and returns the state before and after.
// It is total: every input leads to one of the four states.
func (m *StateMachine) Update(info vision.FrameInfo) (old, next State) {
	old = m.s.State
	m.apply(info)
	return old, m.s.State
}

func (m *StateMachine) apply(info vision.FrameInfo) {
	s := &m.s

	if !info.IsTetris {
		if s.State == Game && s.GameOverDetected {
			m.finish()
			return
		}
		s.State = NotTetris
		return
	}

	if info.IsPaused {
		return
	}

	if info.InMenu || !info.InGame {
		switch {
		case s.State == Game && s.GameOverDetected:
			m.finish()
		case s.State == Game:
			// a transient misread must not abandon the recording
		default:
			s.State = Menu
		}
		return
	}

	if !info.HasValidScores() {
		return
	}

	idle := s.State == NotTetris || s.State == Menu

	switch {
	case s.State == Game && m.scoreReset(info):
		s.VideoReady = true
		s.FinalP1, s.FinalP2 = s.LastP1, s.LastP2
		s.ValidGameStarted = true
		s.LastP1, s.LastP2 = info.P1Score, info.P2Score
		s.State = GameOver

	case idle && info.ScoresAreZero():
		s.State = Game
		s.ValidGameStarted = true
		s.LastP1, s.LastP2 = vision.ScoreOf(0), vision.ScoreOf(0)

	case idle && info.BothGameOver():
		// a finished game left on screen, not a fresh start
		s.State = Menu

	case idle:
		s.State = Game
		s.ValidGameStarted = false
		s.LastP1, s.LastP2 = info.P1Score, info.P2Score

	case s.State == Game:
		s.LastP1, s.LastP2 = info.P1Score, info.P2Score
		if info.BothGameOver() && !s.GameOverDetected {
			s.GameOverDetected = true
			s.FinalP1, s.FinalP2 = info.P1Score, info.P2Score
		}
	}
}

func (m *StateMachine) finish() {
	m.s.State = GameOver
	m.s.VideoReady = m.s.ValidGameStarted
}

// scoreReset reports scores dropping to 0-0 after either was positive.
func (m *StateMachine) scoreReset(info vision.FrameInfo) bool {
	if !info.ScoresAreZero() {
		return false
	}
	l1, l2 := m.s.LastP1, m.s.LastP2
	return l1.Valid && l2.Valid && (l1.Value > 0 || l2.Value > 0)
}

// AcknowledgeGameOver consumes a GAME_OVER: it clears the per-game fields
// and moves to MENU. Call it once per observed GAME_OVER.
func (m *StateMachine) AcknowledgeGameOver() {
	m.s = Snapshot{State: Menu}
}

// Reset returns the machine to its initial state.
func (m *StateMachine) Reset() {
	m.s = Snapshot{}
}
