package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/prilive-com/relaygo/api"
)

// Request is one queued message.
type Request struct {
	ID         string // uuid v4, for log and event correlation
	ChannelID  string // set when the request is dispatched
	Content    string
	EnqueuedAt time.Time
}

func newRequest(content string) Request {
	return Request{
		ID:         uuid.NewString(),
		Content:    content,
		EnqueuedAt: time.Now(),
	}
}

// Result is the outcome of dispatching one Request.
type Result struct {
	Request    Request
	Credential string // label of the credential used, empty when skipped
	Success    bool
	Skipped    bool // never reached the transport (no channel or no credential)
	Err        error
	Message    *api.Message
	Duration   time.Duration
}

// ErrorDetail returns the error text, or "" on success.
func (r Result) ErrorDetail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
