package core

// EventKind identifies the external occurrence that triggered a dispatch.
type EventKind string

const (
	// EventContainerReady fires when the workload container becomes reachable.
	EventContainerReady EventKind = "container-ready"
	// EventRegistrationJoined fires when the NRF registration data source appears.
	EventRegistrationJoined EventKind = "registration-joined"
	// EventRegistrationAvailable fires when the NRF publishes (or changes) its URL.
	EventRegistrationAvailable EventKind = "registration-available"
	// EventTLSProviderCreated fires when the certificate provider is attached.
	EventTLSProviderCreated EventKind = "tls-provider-created"
	// EventTLSProviderJoined fires when the certificate provider accepts requests.
	EventTLSProviderJoined EventKind = "tls-provider-joined"
	// EventTLSProviderRemoved fires when the certificate provider is detached.
	EventTLSProviderRemoved EventKind = "tls-provider-removed"
	// EventCertificateAvailable carries a freshly issued certificate.
	EventCertificateAvailable EventKind = "certificate-available"
	// EventCertificateExpiring warns that the stored certificate is close to expiry.
	EventCertificateExpiring EventKind = "certificate-expiring"
	// EventSyncTick is the periodic re-check provided by the host environment.
	EventSyncTick EventKind = "sync-tick"
)

// Event is one occurrence delivered to the dispatcher. Payload fields are PEM
// strings so that events stay comparable and the queue can coalesce exact
// duplicates.
type Event struct {
	Kind EventKind

	// Certificate is set for certificate-available and certificate-expiring events.
	Certificate string

	// CSR is the request the issuance originated from; set for
	// certificate-available events only.
	CSR string
}
