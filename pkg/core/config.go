package core

// ConfigInputs are the observed facts the AUSF configuration is rendered
// from. A fresh value is assembled on every pass; no field survives between
// reconciliations.
type ConfigInputs struct {
	GroupID string
	PodIP   string
	NRFURL  string
	SBIPort int
	Scheme  string
}

// NewConfigInputs builds the rendering inputs from the current observations.
// The SBI scheme is derived, not chosen: https exactly when a certificate is
// stored in the workload.
func NewConfigInputs(podIP, nrfURL string, certificateStored bool) ConfigInputs {
	scheme := SchemeHTTP
	if certificateStored {
		scheme = SchemeHTTPS
	}

	return ConfigInputs{
		GroupID: GroupID,
		PodIP:   podIP,
		NRFURL:  nrfURL,
		SBIPort: SBIPort,
		Scheme:  scheme,
	}
}
