package schemas

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Platform-reserved response codes. The IP-block code is the only signal that
// distinguishes throttling from an ordinary business rejection; the message is
// fixed and platform-localized.
const (
	IPBlockCode    = 300012
	IPBlockMessage = "网络连接异常，请检查网络设置或重启试试"

	NoteAbnormalCode    = -510001
	NoteAbnormalMessage = "笔记状态异常，请稍后查看"
)

// Envelope is the common JSON wrapper around every API response.
type Envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// OutcomeKind enumerates the classification of a single API response.
type OutcomeKind int

const (
	// OutcomeSuccess carries the decoded data payload, or the bare success
	// flag when the envelope has no data field.
	OutcomeSuccess OutcomeKind = iota
	// OutcomePlatformError is a business-rule rejection reported by the
	// platform, with its message.
	OutcomePlatformError
	// OutcomeIPBlocked means the platform flagged the caller's network
	// origin. Callers should pause or rotate, not retry immediately.
	OutcomeIPBlocked
	// OutcomeRaw is an empty or non-JSON body, passed through unmodified
	// for the caller to interpret.
	OutcomeRaw
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePlatformError:
		return "platform_error"
	case OutcomeIPBlocked:
		return "ip_blocked"
	case OutcomeRaw:
		return "raw"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of exactly one API request. Every request
// resolves to exactly one variant; transport failures are ordinary errors and
// never become an Outcome.
type Outcome struct {
	Kind OutcomeKind

	// Data is the "data" field of a successful envelope. Nil when the
	// envelope carried only the success flag, in which case Flag is set.
	Data json.RawMessage
	Flag bool

	// Message and Code describe platform errors and IP blocks.
	Message string
	Code    int

	// RawStatus, RawHeader and RawBody hold the unparsed response for
	// OutcomeRaw.
	RawStatus int
	RawHeader http.Header
	RawBody   []byte
}

// IsSuccess reports whether the platform accepted the request.
func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

// Get navigates the success payload with a gjson path. It returns a
// non-existent result for any other variant.
func (o Outcome) Get(path string) gjson.Result {
	if o.Kind != OutcomeSuccess || len(o.Data) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(o.Data, path)
}

// Err converts a non-success outcome into an error for callers that have no
// use for the variant itself. Success yields nil. A raw outcome is reported
// with its HTTP status since the platform returned nothing classifiable.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeIPBlocked:
		return &APIError{Code: o.Code, Message: o.Message, Blocked: true}
	case OutcomePlatformError:
		return &APIError{Code: o.Code, Message: o.Message}
	default:
		return fmt.Errorf("unclassifiable response (status %d)", o.RawStatus)
	}
}

// APIError is a platform-reported failure surfaced as an error.
type APIError struct {
	Code    int
	Message string
	Blocked bool
}

func (e *APIError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("ip blocked (code %d): %s", e.Code, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("platform error (code %d)", e.Code)
	}
	return fmt.Sprintf("platform error (code %d): %s", e.Code, e.Message)
}
