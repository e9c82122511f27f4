package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid command")
	// ErrFraming is matched by every *FramingError.
	ErrFraming = errors.New("framing error")
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("decode error")
	// ErrResponse is matched by every *ResponseError.
	ErrResponse = errors.New("monitor returned an error")
)

// ValidationError lists the problems found in a command before it was sent.
type ValidationError struct {
	Command  CommandType
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s command: %s", e.Command, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// FramingError means the byte stream can no longer be trusted; the session
// that produced it must be torn down.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "framing error: " + e.Reason }

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// DecodeError is a well-framed body that does not match its variant layout.
type DecodeError struct {
	Type   ResponseType
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %s", e.Type, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ResponseError carries a non-OK error code from a decoded response.
type ResponseError struct {
	Type ResponseType
	Code ErrorCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s response: %s (0x%02x)", e.Type, e.Code, uint8(e.Code))
}

func (e *ResponseError) Is(target error) bool { return target == ErrResponse }

// CheckResponse returns a *ResponseError when resp carries a non-OK code.
func CheckResponse(resp Response) error {
	if resp == nil {
		return nil
	}
	if code := resp.Header().ErrorCode; code != ErrorOK {
		return &ResponseError{Type: resp.Type(), Code: code}
	}
	return nil
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(cmd CommandType) error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Command: cmd, Problems: p}
}

func (p *problems) checkString(field, s string) {
	if len(s) > maxStringLength {
		p.addf("%s longer than %d bytes", field, maxStringLength)
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			p.addf("%s must be ASCII", field)
			return
		}
	}
}

func (p *problems) checkMemSpace(m MemSpace) {
	if !m.valid() {
		p.addf("unknown memspace %d", m)
	}
}
