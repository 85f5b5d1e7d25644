package httpapi

// Request body size limit for POST /generate. Large prompts are fine; a
// multi-megabyte body is almost always a client bug.
var maxBodyBytes int64 = 4 << 20

// SetMaxBodyBytes overrides the request body limit.
func SetMaxBodyBytes(n int64) {
	if n > 0 {
		maxBodyBytes = n
	}
}

var (
	corsEnabled        bool
	corsAllowedOrigins = []string{"*"}
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{"Accept", "Content-Type", "X-Log-Level"}
)

// SetCORSOptions enables CORS with the given origins. An empty list keeps
// the wildcard default.
func SetCORSOptions(origins []string) {
	corsEnabled = true
	if len(origins) > 0 {
		corsAllowedOrigins = origins
	}
}
