package download

// EventKind identifies a wrapper transition reported by the Scheduler.
type EventKind int

const (
	// EventQueued reports a wrapper registered by QueueRequest or SendRequest.
	EventQueued EventKind = iota
	// EventStarted reports an attempt being sent.
	EventStarted
	// EventRetrying reports a failed attempt that will be tried again.
	EventRetrying
	// EventCompleted reports a wrapper that finished successfully.
	EventCompleted
	// EventFailed reports a wrapper that failed for good.
	EventFailed
	// EventCancelled reports a wrapper removed by CancelRequest,
	// CancelWrapper or Shutdown.
	EventCancelled
)

// String returns the lower-case event name.
func (k EventKind) String() string {
	switch k {
	case EventQueued:
		return "queued"
	case EventStarted:
		return "started"
	case EventRetrying:
		return "retrying"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event describes one wrapper transition.
type Event struct {
	Kind    EventKind
	ID      string
	Attempt int
	Code    int
	Message string
}
