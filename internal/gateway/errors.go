package gateway

// Machine-readable reason codes surfaced to clients alongside the human
// message.
const (
	ReasonInvalidRequest  = "invalid_request"
	ReasonUnknownModel    = "unknown_model"
	ReasonQueueFull       = "queue_full"
	ReasonRequestTimeout  = "request_timeout"
	ReasonBackendCrashed  = "backend_crashed"
	ReasonModelLoadFailed = "model_load_failed"
	ReasonCancelled       = "cancelled"
)

// ReasonError is an error carrying a stable reason code for HTTP mapping.
type ReasonError interface {
	error
	Reason() string
}

type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string  { return e.msg }
func (e invalidRequestError) Reason() string { return ReasonInvalidRequest }

// ErrInvalidRequest constructs a validation rejection.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err is a validation rejection (400).
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

type unknownModelError struct{ name string }

func (e unknownModelError) Error() string  { return "unknown model: " + e.name }
func (e unknownModelError) Reason() string { return ReasonUnknownModel }

// ErrUnknownModel constructs an unknown-model rejection.
func ErrUnknownModel(name string) error { return unknownModelError{name: name} }

// IsUnknownModel reports whether err indicates an unresolvable model (400).
func IsUnknownModel(err error) bool {
	_, ok := err.(unknownModelError)
	return ok
}

type queueFullError struct{}

func (queueFullError) Error() string  { return "queue is full, retry with backoff" }
func (queueFullError) Reason() string { return ReasonQueueFull }

// ErrQueueFull signals the outstanding-request ceiling was hit (429).
func ErrQueueFull() error { return queueFullError{} }

// IsQueueFull reports whether err indicates backpressure (429).
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

type requestTimeoutError struct{ id string }

func (e requestTimeoutError) Error() string  { return "request timed out: " + e.id }
func (e requestTimeoutError) Reason() string { return ReasonRequestTimeout }

// ErrRequestTimeout signals a request exceeded its deadline (504).
func ErrRequestTimeout(id string) error { return requestTimeoutError{id: id} }

// IsRequestTimeout reports whether err indicates a deadline expiry (504).
func IsRequestTimeout(err error) bool {
	_, ok := err.(requestTimeoutError)
	return ok
}

type backendCrashedError struct{ msg string }

func (e backendCrashedError) Error() string  { return "backend crashed: " + e.msg }
func (e backendCrashedError) Reason() string { return ReasonBackendCrashed }

// ErrBackendCrashed signals the runtime process died mid-request (502).
func ErrBackendCrashed(msg string) error { return backendCrashedError{msg: msg} }

// IsBackendCrashed reports whether err indicates a dead runtime (502).
func IsBackendCrashed(err error) bool {
	_, ok := err.(backendCrashedError)
	return ok
}

type modelLoadFailedError struct {
	name string
	msg  string
}

func (e modelLoadFailedError) Error() string  { return "model load failed: " + e.name + ": " + e.msg }
func (e modelLoadFailedError) Reason() string { return ReasonModelLoadFailed }

// ErrModelLoadFailed signals the backend rejected a model load (502).
func ErrModelLoadFailed(name, msg string) error { return modelLoadFailedError{name: name, msg: msg} }

// IsModelLoadFailed reports whether err indicates a rejected load (502).
func IsModelLoadFailed(err error) bool {
	_, ok := err.(modelLoadFailedError)
	return ok
}

type cancelledError struct{ id string }

func (e cancelledError) Error() string  { return "request cancelled: " + e.id }
func (e cancelledError) Reason() string { return ReasonCancelled }

// ErrCancelled signals the client disconnected or cancelled explicitly.
func ErrCancelled(id string) error { return cancelledError{id: id} }

// IsCancelled reports whether err indicates a cancelled request.
func IsCancelled(err error) bool {
	_, ok := err.(cancelledError)
	return ok
}
