package domain

// Job states stored in the cache
const (
	StateProcessing = "processing"
	StateDone       = "done"
	StateFailed     = "failed"
)

// Image kinds accepted by default
const (
	ImageBoot     = "boot"
	ImageRecovery = "recovery"
	ImageModem    = "modem"
)

// Response statuses reported to clients
const (
	StatusReady           = "ready"
	StatusProcessing      = "processing"
	StatusAwaitingPublish = "awaiting_publish"
	StatusFailed          = "failed"
)

// DefaultImageKinds lists the image kinds the extraction workflow understands
var DefaultImageKinds = []string{ImageBoot, ImageRecovery, ImageModem}
