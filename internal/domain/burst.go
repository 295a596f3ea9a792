package domain

import "time"

// Burst identifies one test run of N probes against the gateway.
type Burst struct {
	ID        string    `json:"id"`
	Requested int       `json:"requested"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

// BurstSummary aggregates the recorded results of a burst. It is derived
// from the result sequence, never tracked incrementally.
type BurstSummary struct {
	BurstID        string    `json:"burst_id"`
	Total          int       `json:"total"`
	SuccessCount   int       `json:"success_count"`
	ThrottledCount int       `json:"throttled_count"`
	ErrorCount     int       `json:"error_count"`
	Tokens         int       `json:"tokens"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Aborted        bool      `json:"aborted"`
}

// Summarize computes the exact aggregate over a result sequence.
func Summarize(burstID string, results []ProbeResult, startedAt, finishedAt time.Time, aborted bool) BurstSummary {
	summary := BurstSummary{
		BurstID:    burstID,
		Total:      len(results),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Aborted:    aborted,
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			summary.SuccessCount++
		case OutcomeThrottled:
			summary.ThrottledCount++
		default:
			summary.ErrorCount++
		}
		summary.Tokens += r.Tokens
	}
	return summary
}
