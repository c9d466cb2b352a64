package core

import (
	"fmt"
	"net"
	"net/url"
)

// ValidateInputs enforces basic guardrails on the rendering inputs before
// any of them reach the configuration file. A malformed input rendered into
// the config makes the workload fail at startup, which is harder to debug
// than an operator-side error.
func ValidateInputs(inputs ConfigInputs) error {
	if inputs.GroupID == "" {
		return fmt.Errorf("group ID is required")
	}

	if parsed := net.ParseIP(inputs.PodIP); parsed == nil || parsed.To4() == nil {
		return fmt.Errorf("pod IP %q is not a valid IPv4 address", inputs.PodIP)
	}

	parsed, err := url.Parse(inputs.NRFURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("NRF URL %q is not an absolute URL", inputs.NRFURL)
	}

	if inputs.SBIPort < 1 || inputs.SBIPort > 65535 {
		return fmt.Errorf("SBI port %d is out of range", inputs.SBIPort)
	}

	if inputs.Scheme != SchemeHTTP && inputs.Scheme != SchemeHTTPS {
		return fmt.Errorf("invalid SBI scheme: %s", inputs.Scheme)
	}

	return nil
}
