package models

import "time"

// AuditEvent is one terminal pipeline outcome, shipped to Kafka and/or ClickHouse.
type AuditEvent struct {
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id"`
	Identity  string    `json:"identity"`
	Route     string    `json:"route"`
	Stage     string    `json:"stage"`
	Outcome   string    `json:"outcome"`
	Status    int       `json:"status"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Series    int       `json:"series"`
	Detail    string    `json:"detail,omitempty"`
}
