package model

import "time"

// HubStats is served on /api/stats and rendered by the monitor command.
type HubStats struct {
	Connections int           `json:"connections"`
	Tick        uint64        `json:"tick"`
	Uptime      time.Duration `json:"uptime"`
	LastPass    PassStats     `json:"last_pass"`
}

// PassStats describes the most recent broadcast pass.
type PassStats struct {
	Tick       uint64 `json:"tick"`
	Due        int    `json:"due"`
	Sent       int    `json:"sent"`
	Dropped    int    `json:"dropped"`
	DurationMs int64  `json:"duration_ms"`
}
