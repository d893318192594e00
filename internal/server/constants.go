// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket rate limit
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Deadline for one broadcast write to a slow client
	WriteTimeout = 5 * time.Second

	// List endpoints
	DefaultGamesLimit  = 20
	DefaultEventsLimit = 100
	MaxListLimit       = 500

	// Request body cap for roster sign-ups
	MaxBodyBytes = 4096
)
