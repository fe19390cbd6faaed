package pgclient

// Notice carries the fields of a backend NoticeResponse, surfaced to a
// Delegate for logging/diagnostics.
type Notice struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}

// Delegate receives out-of-band events a Connection observes while talking
// to the backend: asynchronous notices and parameter status changes. Either
// method may be nil-safe to call on a nil Delegate — callers check before
// invoking.
type Delegate interface {
	DidReceiveNotice(n Notice)
	DidReceiveParameterStatus(name, value string)
}

// NopDelegate discards every event; embed it to satisfy Delegate while only
// overriding the methods a caller cares about.
type NopDelegate struct{}

func (NopDelegate) DidReceiveNotice(Notice)                {}
func (NopDelegate) DidReceiveParameterStatus(string, string) {}
