package types

// GenerateParams are the sampling parameters for a generation request.
type GenerateParams struct {
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility; 0 or omitted lets the backend choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
}

// GenerateRequest is the payload for POST /generate.
type GenerateRequest struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Model name. If empty, the server default is used.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// If true, stream incremental tokens as NDJSON; otherwise buffer the full text.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Generation parameters.
	Params GenerateParams `json:"params,omitempty"`
}

// GenerateResponse is the buffered (non-streaming) response for POST /generate.
type GenerateResponse struct {
	Text   string `json:"text"`
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

// TokenChunk is one streamed NDJSON line carrying an incremental fragment.
type TokenChunk struct {
	Token string `json:"token"`
}

// StreamEnd is the explicit NDJSON end marker terminating a stream.
type StreamEnd struct {
	Done   bool   `json:"done"`
	Text   string `json:"text,omitempty"`
	Model  string `json:"model,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
	// Why generation stopped (stop, length, cancelled).
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
}

// ModelStatus pairs a known model with its current load state.
type ModelStatus struct {
	Name string `json:"name" example:"tinyllama-q4"`
	// One of: unloaded, loading, loaded.
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Last time this model served a request (unix seconds, 0 = never).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []ModelStatus `json:"models"`
}

// LoadResponse is returned by POST /models/{name}/load.
type LoadResponse struct {
	Model string `json:"model" example:"tinyllama-q4"`
	State string `json:"state" example:"loading"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// One of: ready, degraded, unhealthy.
	// example: ready
	Status string `json:"status" example:"ready"`
}

// ErrorResponse is a consistent JSON error payload. Reason is the
// machine-readable code; Error is the human string.
type ErrorResponse struct {
	Error string `json:"error" example:"queue is full"`
	// example: queue_full
	Reason string `json:"reason" example:"queue_full"`
	// example: 429
	Code int `json:"code" example:"429"`
}

// SessionStatus summarizes one backend session slot for GET /status.
type SessionStatus struct {
	ID int `json:"id" example:"0"`
	// Current lifecycle state (starting, ready, busy, unhealthy, terminated).
	// example: ready
	State string `json:"state" example:"ready"`
	// Model currently loaded on this session, if any.
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Request currently bound to this session, if any.
	RequestID string `json:"request_id,omitempty"`
	// Number of times the underlying runtime has been restarted.
	Restarts int `json:"restarts" example:"0"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall gateway state (ready, degraded, unhealthy).
	State    string          `json:"state" example:"ready"`
	Sessions []SessionStatus `json:"sessions"`
	// Requests admitted but not yet dispatched.
	QueueDepth int `json:"queue_depth" example:"3"`
	// Maximum admitted-but-unfinished requests before QueueFull.
	MaxOutstanding int `json:"max_outstanding" example:"64"`
	// Admitted requests not yet terminal.
	Outstanding int `json:"outstanding" example:"4"`
	// Uptime of the gateway in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total session restarts since start.
	RestartsTotal uint64 `json:"restarts_total" example:"1"`
	// Total model evictions since start.
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
}
