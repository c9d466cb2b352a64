package core

// Workload identity
const (
	ContainerName = "ausf"
	ServiceName   = "ausf"
)

// SBI (service based interface) settings
const (
	GroupID = "ausfGroup001"
	SBIPort = 29509
)

// Workload file layout. The certificate paths are hardcoded in the AUSF
// binary, so they are not configurable here either.
const (
	ConfigDir          = "/free5gc/config"
	ConfigFileName     = "ausfcfg.conf"
	ConfigTemplateName = "ausfcfg.conf.tmpl"
	CertsDir           = "/support/TLS"

	PrivateKeyName  = "ausf.key"
	CSRName         = "ausf.csr"
	CertificateName = "ausf.pem"
)

// TLS identity requested from the certificate provider.
const CertificateCommonName = "ausf.sdcore"

// SBI schemes, derived from certificate presence.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)
