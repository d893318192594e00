package vision

import (
	"fmt"
	"strconv"

	"gocv.io/x/gocv"
)

// Score is a recognized readout. The zero value means absent, which is
// distinct from a score of 0.
type Score struct {
	Value int
	Valid bool
}

// ScoreOf returns a present score.
func ScoreOf(v int) Score { return Score{Value: v, Valid: true} }

func (s Score) String() string {
	if !s.Valid {
		return "-"
	}
	return strconv.Itoa(s.Value)
}

// MarshalJSON encodes an absent score as null.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(s.Value)), nil
}

// GameType names the detected game mode.
type GameType string

const GameTypeMulti GameType = "multi"

// FrameInfo is the classification of one frame. It is built once by the
// Classifier and treated as a value afterwards.
type FrameInfo struct {
	Seq        uint64
	IsTetris   bool
	InMenu     bool
	InGame     bool
	GameType   GameType
	P1Score    Score
	P2Score    Score
	P1GameOver bool
	P2GameOver bool
	IsPaused   bool

	// Frame references the source image for archival. Not owned.
	Frame *gocv.Mat `json:"-"`
}

// BothGameOver reports whether both players show the game-over banner.
func (i FrameInfo) BothGameOver() bool { return i.P1GameOver && i.P2GameOver }

// ScoresAreZero reports the 0-0 game start condition.
func (i FrameInfo) ScoresAreZero() bool {
	return i.P1Score.Valid && i.P2Score.Valid && i.P1Score.Value == 0 && i.P2Score.Value == 0
}

// HasValidScores reports whether both scores were read.
func (i FrameInfo) HasValidScores() bool { return i.P1Score.Valid && i.P2Score.Valid }

// Equal compares classifications, ignoring the sequence number and frame.
func (i FrameInfo) Equal(o FrameInfo) bool {
	i.Seq, o.Seq = 0, 0
	i.Frame, o.Frame = nil, nil
	return i == o
}

// Kind is a short label used for logs and metrics.
func (i FrameInfo) Kind() string {
	switch {
	case !i.IsTetris:
		return "not_tetris"
	case i.IsPaused:
		return "paused"
	case i.InMenu || !i.InGame:
		return "menu"
	default:
		return "game"
	}
}

func (i FrameInfo) String() string {
	return fmt.Sprintf("%s p1=%s p2=%s over=%t/%t", i.Kind(), i.P1Score, i.P2Score, i.P1GameOver, i.P2GameOver)
}
