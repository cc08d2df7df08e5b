// Package rdperr defines the error taxonomy shared across the capture,
// encode, EGFX, clipboard, and session-persistence layers. Each kind maps
// to a propagation policy decided by the caller, not by this package:
// the lowest layer with enough context recovers (forces a keyframe,
// degrades a capture strategy, retries a D-Bus call); everything else
// bubbles to the session task for classification.
package rdperr

import "errors"

// Kind classifies an error for fatal/recoverable routing. It is not a
// replacement for wrapped errors — Classify walks the chain looking for a
// *Error and returns its Kind, defaulting to KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindCaptureUnavailable
	KindCompositorProtocol
	KindEncoderInit
	KindEncoderEncode
	KindEgfxProtocol
	KindAckTimeout
	KindIntegrityFailure
	KindFormatConversion
	KindUnsupportedFormat
	KindPersistenceIO
	KindCrypto
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindCaptureUnavailable:
		return "capture_unavailable"
	case KindCompositorProtocol:
		return "compositor_protocol_error"
	case KindEncoderInit:
		return "encoder_init"
	case KindEncoderEncode:
		return "encoder_encode"
	case KindEgfxProtocol:
		return "egfx_protocol_error"
	case KindAckTimeout:
		return "ack_timeout"
	case KindIntegrityFailure:
		return "integrity_failure"
	case KindFormatConversion:
		return "format_conversion_failed"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindPersistenceIO:
		return "persistence_io"
	case KindCrypto:
		return "crypto"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified, wrapped error. The machine-readable Tag is a
// non-localized string suitable for log grepping (spec requirement: "a
// compact reason string and a non-localized machine tag").
type Error struct {
	Kind Kind
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Tag
	}
	return e.Tag + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and a grep-friendly tag.
func New(kind Kind, tag string, err error) *Error {
	return &Error{Kind: kind, Tag: tag, Err: err}
}

// Classify walks the error chain and returns the Kind of the first
// *Error found, or KindUnknown if none is present.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Fatal reports whether a Kind terminates the whole server process rather
// than just the owning session. Per spec §7, only CaptureUnavailable (and
// a failed TLS/NLA bootstrap, handled outside this package) are process-fatal.
func Fatal(kind Kind) bool {
	return kind == KindCaptureUnavailable
}

// SessionFatal reports whether a Kind should abort the owning session.
func SessionFatal(kind Kind) bool {
	switch kind {
	case KindCaptureUnavailable, KindCompositorProtocol, KindEgfxProtocol, KindAckTimeout:
		return true
	default:
		return false
	}
}

var (
	ErrQueueFull                = errors.New("processor: queue full")
	ErrReconfigureNotSupported  = errors.New("encoder: reconfigure not supported, rebuild required")
	ErrChannelIoFailure         = errors.New("egfx: channel io failure after keyframe")
	ErrNoSurface                = errors.New("egfx: no surface available")
	ErrStrategyUnavailable      = errors.New("capture: strategy unavailable")
)
