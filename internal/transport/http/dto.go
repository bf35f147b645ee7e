package http

import (
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"
)

type RoomsListResponse struct {
	Items []domain.Room `json:"items"`
}

type RunsListResponse struct {
	Items      []domain.RunRecord `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type StatsResponse struct {
	Rooms       int             `json:"rooms"`
	Connections int             `json:"connections"`
	ChatMembers int             `json:"chat_members"`
	Toolchains  map[string]bool `json:"toolchains"`
	Uptime      string          `json:"uptime"`
	Process     *ProcessStats   `json:"process,omitempty"`
	Host        *HostStats      `json:"host,omitempty"`
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

type HostStats struct {
	MemTotal    uint64    `json:"mem_total"`
	MemUsedPct  float64   `json:"mem_used_pct"`
	Load1       float64   `json:"load1"`
	Load5       float64   `json:"load5"`
	Load15      float64   `json:"load15"`
	CollectedAt time.Time `json:"collected_at"`
}
