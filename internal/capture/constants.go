package capture

// Capture configuration constants
const (
	// Frames buffered between the capture goroutine and its consumer
	FrameBuffer = 4

	// A live source gives up after this many failed grabs in a row
	MaxConsecutiveFailures = 30

	// Image sequence extension
	SequenceExt = ".png"
)

// Source spec prefixes accepted by Open.
const (
	KindDevice = "device"
	KindFile   = "file"
	KindDir    = "dir"
	KindScreen = "screen"
)
