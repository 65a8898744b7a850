package models

// RequestStatus is the lifecycle state of an inference request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusDone       RequestStatus = "DONE"
	StatusError      RequestStatus = "ERROR"
)

// StatusNotFound is the sentinel reported on status queries for unknown ids.
// It is never stored.
const StatusNotFound = "NOT_FOUND"

func (s RequestStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether moving from s to next is a legal step of
// PENDING -> PROCESSING -> DONE|ERROR. A request may fail straight out of
// PENDING. Terminal states admit no further transitions.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusDone || next == StatusError
	case StatusProcessing:
		return next == StatusDone || next == StatusError
	default:
		return false
	}
}

// ParseStatus maps a persisted status string back into the enum.
func ParseStatus(v string) (RequestStatus, bool) {
	switch RequestStatus(v) {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return RequestStatus(v), true
	}
	return "", false
}
