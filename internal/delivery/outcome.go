package delivery

import "net/http"

// OutcomeKind classifies the result of one delivery attempt
type OutcomeKind int

const (
	// Success means the collector accepted the batch (2xx)
	Success OutcomeKind = iota
	// Recoverable means the batch was dropped but later batches may succeed
	Recoverable
	// Fatal means the credential was rejected (401); no further batches should be sent
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of Deliver. StatusCode is 0 when no response was received.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

// ClassifyStatus maps an HTTP status code to an outcome kind
func ClassifyStatus(status int) OutcomeKind {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusUnauthorized:
		return Fatal
	default:
		return Recoverable
	}
}
