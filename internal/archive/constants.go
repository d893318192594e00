// Package archive stores the frames of the game in progress on disk.
package archive

import "time"

// Archive defaults
const (
	DefaultBatchSize  = 16
	DefaultFlushDelay = 500 * time.Millisecond

	// Directory prefix and UTC timestamp layout of a game directory
	GamePrefix = "game_"
	TimeLayout = "2006_01_02_15_04_05"

	// Frame file name pattern, keyed by sequence number
	FramePattern = "%06d.png"
)
