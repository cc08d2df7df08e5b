package server

import "github.com/lamco/rdp-server/internal/encoder"

// Diagnostics is a best-effort environment snapshot logged at startup
// and exposed for inspection, generalizing original_source's
// src/utils/diagnostics.rs report (compositor, session type, sandbox
// detection, available back-ends) from a side-effect-only log line into
// an inspectable value.
type Diagnostics struct {
	Compositor        string
	Deployment        string
	CredentialBackend string
	CaptureStrategy   string
	CaptureActive     bool
	Capabilities      Capabilities
	HostCPUPercent    float64
}

// Diagnostics builds a point-in-time snapshot of the server's detected
// environment, negotiated capabilities, and host load.
func (s *Server) Diagnostics() Diagnostics {
	strategy, active := s.session.ActiveCaptureStrategy()
	strategyName := "none"
	if active {
		strategyName = strategy.String()
	}

	cpuPercent, err := encoder.SampleHostCPUPercent()
	if err != nil {
		s.log.Warn("host cpu sample failed", "err", err)
	}

	return Diagnostics{
		Compositor:        s.session.Compositor().String(),
		Deployment:        s.session.Deployment().String(),
		CredentialBackend: s.session.CredentialBackendName(),
		CaptureStrategy:   strategyName,
		CaptureActive:     active,
		Capabilities:      s.registry.Current(),
		HostCPUPercent:    cpuPercent,
	}
}
