package config

import "time"

// WebSocket connection limits and constraints
const (
	// Rate limiting
	MaxMessagesPerSecond = 10
	RateLimitWindow      = time.Second

	// Timeouts
	WriteTimeout = 10 * time.Second
	PingInterval = 30 * time.Second
	PongTimeout  = 90 * time.Second // 3x ping interval for network delay tolerance

	// Channel buffers
	ClientSendBufferSize   = 256
	HubBroadcastBufferSize = 256

	// Store access
	StoreTimeout      = 3 * time.Second
	StoreRetries      = 2 // retries after the first attempt
	StoreRetryBackoff = 150 * time.Millisecond
)
