// Package inspect renders offline reports from the message history
// database.
package inspect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/vicebridge/internal/history"
)

// ErrNotFound means no frames were recorded under the request id.
var ErrNotFound = errors.New("no history for request")

// HistoryReader is the read side of history.Store.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	ByRequest(ctx context.Context, requestID uint32) ([]history.Entry, error)
}

// Report is the structured form of a request trace.
type Report struct {
	RequestID uint32 `json:"request_id"`
	Command   string `json:"command"`
	Internal  bool   `json:"internal"`
	Outcome   string `json:"outcome"`
	Elapsed   string `json:"elapsed,omitempty"`
	Steps     []Step `json:"steps"`
}

// Step is one recorded frame.
type Step struct {
	Hop           int             `json:"hop"`
	Direction     string          `json:"direction"`
	Kind          string          `json:"kind"`
	At            time.Time       `json:"at"`
	ErrorCode     string          `json:"error_code,omitempty"`
	PayloadSize   int             `json:"payload_size"`
	PayloadDigest string          `json:"payload_digest,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
	Data          string          `json:"data,omitempty"`
}

// BuildReport renders a terminal-friendly trace of one request.
func BuildReport(ctx context.Context, r HistoryReader, requestID uint32) (string, error) {
	report, err := gatherReport(ctx, r, requestID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Request Trace\n")
	fmt.Fprintf(&out, "Request ID  : %d\n", report.RequestID)
	fmt.Fprintf(&out, "Command     : %s\n", orNone(report.Command))
	fmt.Fprintf(&out, "Internal    : %t\n", report.Internal)
	fmt.Fprintf(&out, "Outcome     : %s\n", report.Outcome)
	if report.Elapsed != "" {
		fmt.Fprintf(&out, "Elapsed     : %s\n", report.Elapsed)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s %s\n", step.Hop, step.Direction, step.Kind)
		fmt.Fprintf(&out, "    at         : %s\n", step.At.Format(time.RFC3339Nano))
		if step.ErrorCode != "" {
			fmt.Fprintf(&out, "    error_code : %s\n", step.ErrorCode)
		}
		fmt.Fprintf(&out, "    payload    : %d bytes", step.PayloadSize)
		if step.PayloadDigest != "" {
			fmt.Fprintf(&out, " (blake3 %s)", shortDigest(step.PayloadDigest))
		}
		fmt.Fprintf(&out, "\n")
		if step.Data != "" {
			fmt.Fprintf(&out, "    data       : %s\n", step.Data)
		}
		if len(step.Message) > 0 {
			fmt.Fprintf(&out, "    message    :\n")
			for _, line := range strings.Split(prettyJSON(step.Message), "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable trace.
func BuildJSONReport(ctx context.Context, r HistoryReader, requestID uint32) (string, error) {
	report, err := gatherReport(ctx, r, requestID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildTail lists the most recent frames, oldest first, one per line.
func BuildTail(ctx context.Context, r HistoryReader, limit int) (string, error) {
	entries, err := r.Recent(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("load recent history: %w", err)
	}

	var out strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		flags := ""
		if e.Internal {
			flags = " internal"
		}
		if e.ErrorCode != nil && *e.ErrorCode != 0 {
			flags += " error=" + e.ErrorCode.String()
		}
		fmt.Fprintf(&out, "%s  %10d  %-11s  %-22s %5dB%s\n",
			e.CreatedAt.Format("15:04:05.000"), e.RequestID, e.Direction, e.Kind, e.PayloadSize, flags)
	}
	return out.String(), nil
}

func gatherReport(ctx context.Context, r HistoryReader, requestID uint32) (*Report, error) {
	entries, err := r.ByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load history for request %d: %w", requestID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("request %d: %w", requestID, ErrNotFound)
	}

	report := &Report{
		RequestID: requestID,
		Outcome:   "pending",
		Steps:     make([]Step, 0, len(entries)),
	}

	var sentAt, answeredAt time.Time
	for i, e := range entries {
		step, err := buildStep(i+1, e)
		if err != nil {
			return nil, err
		}
		report.Steps = append(report.Steps, step)

		switch e.Direction {
		case history.DirectionSent:
			report.Command = e.Kind
			report.Internal = e.Internal
			sentAt = e.CreatedAt
		case history.DirectionResponse:
			if answeredAt.IsZero() {
				answeredAt = e.CreatedAt
			}
			report.Outcome = "ok"
			if e.ErrorCode != nil && *e.ErrorCode != 0 {
				report.Outcome = e.ErrorCode.String()
			}
		case history.DirectionUnsolicited:
			if report.Command == "" {
				report.Outcome = "unsolicited"
			}
		}
	}
	if !sentAt.IsZero() && !answeredAt.IsZero() {
		report.Elapsed = answeredAt.Sub(sentAt).String()
	}
	return report, nil
}

func buildStep(hop int, e history.Entry) (Step, error) {
	step := Step{
		Hop:           hop,
		Direction:     string(e.Direction),
		Kind:          e.Kind,
		At:            e.CreatedAt,
		PayloadSize:   e.PayloadSize,
		PayloadDigest: e.PayloadDigest,
	}
	if e.ErrorCode != nil {
		step.ErrorCode = e.ErrorCode.String()
	}

	env, err := e.Decode()
	if err != nil {
		return Step{}, err
	}
	if env.Message != nil {
		msg, err := json.Marshal(env.Message)
		if err != nil {
			return Step{}, fmt.Errorf("encode message for %s: %w", e.ID, err)
		}
		step.Message = msg
	}
	if len(env.Data) > 0 {
		step.Data = hex.EncodeToString(env.Data)
	}
	return step, nil
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
