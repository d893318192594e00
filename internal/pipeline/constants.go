// Package pipeline runs capture, classification and game tracking for each
// video source and hands finished games to delivery.
package pipeline

import "time"

// Pipeline configuration constants
const (
	// Side of the downscaled frame used for perceptual hashing
	HashSize = 64

	// Delivery of one finished game, detached from pipeline cancellation
	DefaultFinishTimeout = 5 * time.Minute

	// Journal sizing
	JournalMaxEntries  = 500
	JournalEventBuffer = 100

	// Grace period before a replaced reference set is released
	ReferenceGrace = 5 * time.Second

	// Quiet period before reloading a changed digit directory
	AssetReloadDebounce = 500 * time.Millisecond
)

// Warning reasons.
const (
	WarnScoreDecreased = "score_decreased"
	WarnArchive        = "archive_failed"
	WarnFinish         = "finish_failed"
)
