package domain

import "time"

// Outcome classifies a single gateway probe.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeThrottled Outcome = "throttled"
	OutcomeError     Outcome = "error"
)

// StatusTransport is the sentinel HTTP status recorded when a probe never
// received a response (DNS, TLS, timeout).
const StatusTransport = 0

// ClassifyStatus maps an HTTP status code onto a probe outcome. 429 is
// throttled, any 2xx is success, everything else (including the transport
// sentinel 0) is an error.
func ClassifyStatus(status int) Outcome {
	switch {
	case status == 429:
		return OutcomeThrottled
	case status >= 200 && status < 300:
		return OutcomeSuccess
	default:
		return OutcomeError
	}
}

// ProbeResult records the outcome of one chat-completion call through the
// gateway. Results are immutable once created.
type ProbeResult struct {
	BurstID         string    `json:"burst_id"`
	Seq             int       `json:"seq"`
	Timestamp       time.Time `json:"timestamp"`
	HTTPStatus      int       `json:"http_status"`
	LatencyMS       int64     `json:"latency_ms"`
	Outcome         Outcome   `json:"outcome"`
	Tokens          int       `json:"tokens"`
	RetryAfterSec   *int      `json:"retry_after_seconds,omitempty"`
	RemainingTokens *int64    `json:"remaining_tokens,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}
