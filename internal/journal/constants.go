package journal

// Journal defaults
const (
	DefaultMaxEntries  = 500
	DefaultEventBuffer = 100
)
