package adapters

import (
	"context"

	"ausfoperator/pkg/core"
)

// ContainerStore is durable byte storage inside the workload container.
type ContainerStore interface {
	// Exists reports whether a file is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns the file content, or core.ErrNotFound when absent.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write stores content at path, creating parent directories when asked.
	Write(ctx context.Context, path string, content []byte, makeDirs bool) error
	// Delete removes the file at path. Deleting an absent file is an error;
	// callers that treat absence as a no-op check Exists first.
	Delete(ctx context.Context, path string) error
}

// ContainerProbe answers whether the workload container accepts requests yet.
type ContainerProbe interface {
	CanConnect(ctx context.Context) bool
}

// ProcessSupervisor manages the workload service beneath "restart a named
// service": plan inspection, layer application and restarts.
type ProcessSupervisor interface {
	// CurrentServices returns the service entries of the currently applied plan.
	CurrentServices(ctx context.Context) (core.ServiceSpecSet, error)
	// ApplyLayer merges a named layer carrying the given services into the plan.
	ApplyLayer(ctx context.Context, label string, services core.ServiceSpecSet) error
	// Restart stops and starts the named service.
	Restart(ctx context.Context, service string) error
}

// RegistrationSource exposes what the NRF registration dependency has
// published so far.
type RegistrationSource interface {
	// Configured reports whether the dependency has been set up at all.
	// A missing dependency needs operator action, not retries.
	Configured() bool
	// URL returns the published NRF URL, empty while unpublished.
	URL() string
}

// CertificateRequester submits a CSR to the certificate provider. Issuance is
// fire-and-forget; the signed certificate arrives later as an event.
type CertificateRequester interface {
	RequestCertificate(ctx context.Context, csr []byte) error
}

// TemplateRenderer renders a named template with the given bindings.
type TemplateRenderer interface {
	Render(name string, bindings any) ([]byte, error)
}

// EventSink receives events destined for the dispatcher. Satisfied by
// core.EventLoop.
type EventSink interface {
	Emit(event core.Event)
}

// PodAddressResolver looks up the pod network address.
type PodAddressResolver interface {
	// CurrentPodAddress returns the pod IP, or empty while unassigned.
	CurrentPodAddress(ctx context.Context) (string, error)
}
