package health

import "time"

// Server defaults
const (
	// Service name of the aggregate status
	OverallService = ""

	// Keepalive configuration
	KeepaliveTime    = 10 * time.Second
	KeepaliveTimeout = 3 * time.Second
)
