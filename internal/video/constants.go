package video

const (
	DefaultFFmpeg = "ffmpeg"
	DefaultFPS    = 10

	FrameGlob = "*.png"

	// Bytes of ffmpeg stderr kept on failure
	MaxStderr = 2048
)
