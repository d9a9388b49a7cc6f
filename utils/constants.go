package utils

import "time"

type contextKey string

// Request context keys
const (
	RequestIDKey contextKey = "request_id"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
)

// DefaultRequestTimeout bounds CLI and HTTP calls into the flows
const DefaultRequestTimeout = 30 * time.Second
