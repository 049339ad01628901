package config

import "time"

type Configs struct {
	Env string

	API       APIConfigs
	Socket    SocketConfigs
	Typing    TypingConfigs
	Scroll    ScrollConfigs
	Reconnect ReconnectConfigs
}

type APIConfigs struct {
	// Endpoint is the base URL of the message-history REST API.
	Endpoint string
	Token    string
}

type SocketConfigs struct {
	// Endpoint is the ws:// or wss:// URL of the push stream.
	Endpoint string
	Token    string

	// AutoConnect dials immediately when the manager is created. When
	// false, the caller must invoke Connect explicitly.
	AutoConnect bool
}

type TypingConfigs struct {
	// TTL is how long a remote typing indicator stays alive without a
	// refresh.
	TTL time.Duration
}

type ScrollConfigs struct {
	// BottomThresholdPx is the distance from the bottom within which the
	// viewport is considered "near bottom" and follows new messages.
	BottomThresholdPx float64
}

type ReconnectConfigs struct {
	MaxAttempts int
	Backoff     time.Duration
}

func Default() Configs {
	return Configs{
		Env: "dev",
		Typing: TypingConfigs{
			TTL: 4 * time.Second,
		},
		Scroll: ScrollConfigs{
			BottomThresholdPx: 100,
		},
		Reconnect: ReconnectConfigs{
			MaxAttempts: 5,
			Backoff:     2 * time.Second,
		},
	}
}
