package ausf

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"ausfoperator/pkg/adapters"
	"ausfoperator/pkg/agents/status"
	"ausfoperator/pkg/core"
)

type fakeStore struct {
	files  map[string][]byte
	dirs   map[string]bool
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (store *fakeStore) Exists(_ context.Context, path string) (bool, error) {
	if store.dirs[path] {
		return true, nil
	}
	_, found := store.files[path]
	return found, nil
}

func (store *fakeStore) Read(_ context.Context, path string) ([]byte, error) {
	content, found := store.files[path]
	if !found {
		return nil, fmt.Errorf("read %s: %w", path, core.ErrNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (store *fakeStore) Write(_ context.Context, path string, content []byte, _ bool) error {
	store.files[path] = append([]byte(nil), content...)
	store.writes++
	return nil
}

func (store *fakeStore) Delete(_ context.Context, path string) error {
	if _, found := store.files[path]; !found {
		return fmt.Errorf("delete %s: %w", path, core.ErrNotFound)
	}
	delete(store.files, path)
	return nil
}

type fakeProbe struct{ connected bool }

func (probe *fakeProbe) CanConnect(context.Context) bool { return probe.connected }

type fakeSupervisor struct {
	services core.ServiceSpecSet
	layers   int
	restarts []string
}

func (supervisor *fakeSupervisor) CurrentServices(context.Context) (core.ServiceSpecSet, error) {
	snapshot := core.ServiceSpecSet{}
	for name, spec := range supervisor.services {
		snapshot[name] = spec
	}
	return snapshot, nil
}

func (supervisor *fakeSupervisor) ApplyLayer(_ context.Context, _ string, services core.ServiceSpecSet) error {
	if supervisor.services == nil {
		supervisor.services = core.ServiceSpecSet{}
	}
	for name, spec := range services {
		supervisor.services[name] = spec
	}
	supervisor.layers++
	return nil
}

func (supervisor *fakeSupervisor) Restart(_ context.Context, service string) error {
	supervisor.restarts = append(supervisor.restarts, service)
	return nil
}

type fakeRegistration struct {
	configured bool
	url        string
	calls      int
}

func (registration *fakeRegistration) Configured() bool {
	registration.calls++
	return registration.configured
}

func (registration *fakeRegistration) URL() string { return registration.url }

type fakeResolver struct{ address string }

func (resolver *fakeResolver) CurrentPodAddress(context.Context) (string, error) {
	return resolver.address, nil
}

type fakeRequester struct{ requests [][]byte }

func (requester *fakeRequester) RequestCertificate(_ context.Context, csr []byte) error {
	requester.requests = append(requester.requests, append([]byte(nil), csr...))
	return nil
}

type harness struct {
	store        *fakeStore
	probe        *fakeProbe
	supervisor   *fakeSupervisor
	registration *fakeRegistration
	resolver     *fakeResolver
	requester    *fakeRequester
	tracker      *status.Tracker
	certificates *CertificateManager
	reconciler   *Reconciler
}

// newHarness builds a reconciler with every precondition satisfied; tests
// knock out the facts they care about.
func newHarness(t *testing.T) *harness {
	t.Helper()

	renderer, err := adapters.NewEmbeddedRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	fixture := &harness{
		store:        newFakeStore(),
		probe:        &fakeProbe{connected: true},
		supervisor:   &fakeSupervisor{},
		registration: &fakeRegistration{configured: true, url: "http://nrf:29510"},
		resolver:     &fakeResolver{address: "10.0.0.7"},
		requester:    &fakeRequester{},
	}
	fixture.store.dirs[core.ConfigDir] = true

	identity := NewIdentityStore(fixture.store, logr.Discard())
	fixture.certificates = NewCertificateManager(identity, fixture.requester, fixture.probe, logr.Discard())

	// Stub generation: lifecycle tests exercise the state machine, not RSA.
	fixture.certificates.generateKey = func() ([]byte, error) { return []byte("test-key-pem"), nil }
	fixture.certificates.generateCSR = func(_ []byte, subject string, _ []string) ([]byte, error) {
		return []byte("test-csr-for-" + subject), nil
	}

	fixture.tracker = status.NewTracker(logr.Discard(), nil)

	fixture.reconciler = NewReconciler(ReconcilerParams{
		Store:        fixture.store,
		Probe:        fixture.probe,
		Supervisor:   fixture.supervisor,
		Registration: fixture.registration,
		Resolver:     fixture.resolver,
		Renderer:     renderer,
		Identity:     identity,
		Certificates: fixture.certificates,
		Status:       fixture.tracker,
		Logger:       logr.Discard(),
	})

	return fixture
}

func (fixture *harness) configFile() (string, bool) {
	content, found := fixture.store.files[core.ConfigDir+"/"+core.ConfigFileName]
	return string(content), found
}

func TestBlockedWhenRegistrationMissing(t *testing.T) {
	fixture := newHarness(t)
	fixture.registration.configured = false

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})

	if deferred {
		t.Fatalf("a blocked pass must not request redelivery")
	}
	if current := fixture.tracker.Current(); current.State != core.StateBlocked {
		t.Fatalf("expected blocked status, got %+v", current)
	}
	if _, written := fixture.configFile(); written {
		t.Fatalf("no config file may be written while blocked")
	}
}

func TestWaitingWhenRegistrationDataUnpublished(t *testing.T) {
	fixture := newHarness(t)
	fixture.registration.url = ""

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})

	if !deferred {
		t.Fatalf("unpublished registration data must defer the event")
	}
	if current := fixture.tracker.Current(); current.State != core.StateWaiting {
		t.Fatalf("expected waiting status, got %+v", current)
	}
	if _, written := fixture.configFile(); written {
		t.Fatalf("no config file may be written while waiting")
	}
}

func TestUnreachableContainerShortCircuitsGate(t *testing.T) {
	fixture := newHarness(t)
	fixture.probe.connected = false
	fixture.registration.configured = false

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})

	if !deferred {
		t.Fatalf("an unreachable container must defer")
	}
	if fixture.registration.calls != 0 {
		t.Fatalf("registration must not be checked before the container is reachable")
	}
	if current := fixture.tracker.Current(); current.State != core.StateWaiting {
		t.Fatalf("expected waiting status, got %+v", current)
	}
}

func TestWaitingWhenStorageUnattached(t *testing.T) {
	fixture := newHarness(t)
	fixture.store.dirs[core.ConfigDir] = false

	if deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady}); !deferred {
		t.Fatalf("missing storage must defer")
	}
}

func TestWaitingWhenPodAddressUnresolved(t *testing.T) {
	fixture := newHarness(t)
	fixture.resolver.address = ""

	if deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady}); !deferred {
		t.Fatalf("missing pod address must defer")
	}
}

func TestFirstPassWritesInsecureConfigAndRestartsOnce(t *testing.T) {
	fixture := newHarness(t)

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})

	if deferred {
		t.Fatalf("a successful pass must not defer")
	}
	content, written := fixture.configFile()
	if !written {
		t.Fatalf("config file not written")
	}
	if !strings.Contains(content, "scheme: http\n") {
		t.Fatalf("expected the insecure scheme without a certificate:\n%s", content)
	}
	if len(fixture.supervisor.restarts) != 1 {
		t.Fatalf("expected exactly one restart, got %d", len(fixture.supervisor.restarts))
	}
	if current := fixture.tracker.Current(); current.State != core.StateActive {
		t.Fatalf("expected active status, got %+v", current)
	}
}

func TestRerunWithoutChangesIsIdempotent(t *testing.T) {
	fixture := newHarness(t)

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})
	writesAfterFirst := fixture.store.writes
	restartsAfterFirst := len(fixture.supervisor.restarts)

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventSyncTick})

	if fixture.store.writes != writesAfterFirst {
		t.Fatalf("second pass must not rewrite the config file")
	}
	if len(fixture.supervisor.restarts) != restartsAfterFirst {
		t.Fatalf("second pass must not restart the service")
	}
}

func TestRestartOnSpecChangeAlone(t *testing.T) {
	fixture := newHarness(t)

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})
	restartsBefore := len(fixture.supervisor.restarts)

	// Drift the applied spec behind the operator's back.
	stale := fixture.supervisor.services[core.ServiceName]
	stale.Command = "/bin/ausf --old-flag"
	fixture.supervisor.services[core.ServiceName] = stale

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventSyncTick})

	if len(fixture.supervisor.restarts) != restartsBefore+1 {
		t.Fatalf("spec drift alone must trigger a restart")
	}
}

func TestRestartOnConfigChangeAlone(t *testing.T) {
	fixture := newHarness(t)

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})
	restartsBefore := len(fixture.supervisor.restarts)

	// Change an observed input; the spec itself stays identical.
	fixture.registration.url = "http://nrf-standby:29510"

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventSyncTick})

	if len(fixture.supervisor.restarts) != restartsBefore+1 {
		t.Fatalf("config content change alone must trigger a restart")
	}
}

func TestCertificateLifecycleEndToEnd(t *testing.T) {
	fixture := newHarness(t)
	ctx := context.Background()

	fixture.reconciler.Dispatch(core.Event{Kind: core.EventContainerReady})

	// Provider attached: a private key appears.
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventTLSProviderCreated})
	if _, found := fixture.store.files[core.CertsDir+"/"+core.PrivateKeyName]; !found {
		t.Fatalf("private key not stored")
	}

	// Idempotence: a second created event keeps the existing key.
	fixture.store.files[core.CertsDir+"/"+core.PrivateKeyName] = []byte("original-key")
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventTLSProviderCreated})
	if string(fixture.store.files[core.CertsDir+"/"+core.PrivateKeyName]) != "original-key" {
		t.Fatalf("existing private key must not be replaced")
	}

	// Provider ready: CSR generated and submitted.
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventTLSProviderJoined})
	if len(fixture.requester.requests) != 1 {
		t.Fatalf("expected one certificate request, got %d", len(fixture.requester.requests))
	}
	storedCSR := string(fixture.store.files[core.CertsDir+"/"+core.CSRName])

	// Mismatched issuance is ignored.
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventCertificateAvailable, Certificate: "rogue-cert", CSR: "some-other-csr"})
	if _, found := fixture.store.files[core.CertsDir+"/"+core.CertificateName]; found {
		t.Fatalf("mismatched issuance must not store a certificate")
	}

	// Matching issuance is applied and flips the scheme to https.
	restartsBefore := len(fixture.supervisor.restarts)
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventCertificateAvailable, Certificate: "issued-cert", CSR: storedCSR})

	if string(fixture.store.files[core.CertsDir+"/"+core.CertificateName]) != "issued-cert" {
		t.Fatalf("matching issuance must store the certificate")
	}
	content, _ := fixture.configFile()
	if !strings.Contains(content, "scheme: https\n") {
		t.Fatalf("expected the secure scheme after certification:\n%s", content)
	}
	if len(fixture.supervisor.restarts) != restartsBefore+1 {
		t.Fatalf("certification must restart the service once")
	}

	// Renewal: only the stored certificate triggers a new request.
	requestsBefore := len(fixture.requester.requests)
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventCertificateExpiring, Certificate: "unrelated-cert"})
	if len(fixture.requester.requests) != requestsBefore {
		t.Fatalf("mismatched expiry warning must not request a certificate")
	}
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventCertificateExpiring, Certificate: "issued-cert"})
	if len(fixture.requester.requests) != requestsBefore+1 {
		t.Fatalf("matching expiry warning must request a certificate")
	}
	if _, found := fixture.store.files[core.CertsDir+"/"+core.CertificateName]; !found {
		t.Fatalf("the old certificate must stay in use during renewal")
	}

	// Teardown: artifacts removed, scheme falls back to http.
	fixture.reconciler.Dispatch(core.Event{Kind: core.EventTLSProviderRemoved})
	for _, name := range []string{core.PrivateKeyName, core.CSRName, core.CertificateName} {
		if _, found := fixture.store.files[core.CertsDir+"/"+name]; found {
			t.Fatalf("artifact %s must be deleted on teardown", name)
		}
	}
	content, _ = fixture.configFile()
	if !strings.Contains(content, "scheme: http\n") {
		t.Fatalf("expected fallback to the insecure scheme:\n%s", content)
	}

	// Teardown again: deleting missing artifacts is a no-op.
	if deferred, err := fixture.certificates.HandleProviderRemoved(ctx); err != nil || deferred {
		t.Fatalf("repeat teardown must be a no-op, got deferred=%v err=%v", deferred, err)
	}
}

func TestProviderJoinedWithoutKeyDefers(t *testing.T) {
	fixture := newHarness(t)

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventTLSProviderJoined})

	if !deferred {
		t.Fatalf("a join before the key exists must defer")
	}
	if len(fixture.requester.requests) != 0 {
		t.Fatalf("no certificate may be requested without a private key")
	}
}

func TestCertificateAvailableWithoutCSRIsIgnored(t *testing.T) {
	fixture := newHarness(t)

	deferred := fixture.reconciler.Dispatch(core.Event{Kind: core.EventCertificateAvailable, Certificate: "cert", CSR: "csr"})

	if deferred {
		t.Fatalf("an ignored event must not be redelivered")
	}
	if _, found := fixture.store.files[core.CertsDir+"/"+core.CertificateName]; found {
		t.Fatalf("certificate must not be stored without a CSR")
	}
}

func TestCertificateHandlersDeferWhileUnreachable(t *testing.T) {
	fixture := newHarness(t)
	fixture.probe.connected = false

	events := []core.Event{
		{Kind: core.EventTLSProviderCreated},
		{Kind: core.EventTLSProviderJoined},
		{Kind: core.EventTLSProviderRemoved},
		{Kind: core.EventCertificateAvailable, Certificate: "cert", CSR: "csr"},
		{Kind: core.EventCertificateExpiring, Certificate: "cert"},
	}

	for _, event := range events {
		if deferred := fixture.reconciler.Dispatch(event); !deferred {
			t.Fatalf("%s must defer while the container is unreachable", event.Kind)
		}
	}
}
