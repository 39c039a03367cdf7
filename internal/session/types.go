package session

import "time"

// CreateRequest is the embed context a host page reports for a new widget.
type CreateRequest struct {
	MerchantID string `json:"merchant_id"`
	ScriptSrc  string `json:"script_src"`
	Timezone   string `json:"timezone"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	MerchantID      string    `json:"merchant_id"`
	ServiceHost     string    `json:"service_host"`
	Status          Status    `json:"status"`
	Timezone        string    `json:"timezone"`
	Color           string    `json:"color,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
