package ausf

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"ausfoperator/pkg/adapters"
	"ausfoperator/pkg/core"
	"ausfoperator/pkg/observability/metrics"
)

// RenewalThreshold is the buffer before certificate expiry at which a
// renewal request is raised.
const RenewalThreshold = 30 * 24 * time.Hour

// CertificateManager drives the private key, CSR and certificate lifecycle
// against the identity store and the certificate provider.
type CertificateManager struct {
	identity  *IdentityStore
	requester adapters.CertificateRequester
	probe     adapters.ContainerProbe
	logger    logr.Logger

	generateKey func() ([]byte, error)
	generateCSR func(privateKeyPEM []byte, subject string, sansDNS []string) ([]byte, error)
	now         func() time.Time
}

// NewCertificateManager wires a manager over the given collaborators.
func NewCertificateManager(identity *IdentityStore, requester adapters.CertificateRequester, probe adapters.ContainerProbe, logger logr.Logger) *CertificateManager {
	return &CertificateManager{
		identity:    identity,
		requester:   requester,
		probe:       probe,
		logger:      logger,
		generateKey: GeneratePrivateKey,
		generateCSR: GenerateCSR,
		now:         time.Now,
	}
}

// HandleProviderCreated generates and stores the private key. Idempotent:
// an existing key is kept.
func (manager *CertificateManager) HandleProviderCreated(ctx context.Context) (deferred bool, err error) {
	if !manager.probe.CanConnect(ctx) {
		return true, nil
	}

	stored, err := manager.identity.PrivateKeyStored(ctx)
	if err != nil {
		return false, err
	}
	if stored {
		return false, nil
	}

	key, err := manager.generateKey()
	if err != nil {
		return false, err
	}
	return false, manager.identity.StorePrivateKey(ctx, key)
}

// HandleProviderJoined generates a CSR and submits it. Defers until the
// private key exists; a CSR without a key must never be requested.
func (manager *CertificateManager) HandleProviderJoined(ctx context.Context) (deferred bool, err error) {
	if !manager.probe.CanConnect(ctx) {
		return true, nil
	}

	stored, err := manager.identity.PrivateKeyStored(ctx)
	if err != nil {
		return false, err
	}
	if !stored {
		return true, nil
	}

	return false, manager.requestNewCertificate(ctx)
}

// HandleCertificateAvailable stores an issued certificate when its
// originating CSR matches the stored one exactly. Anything else is a stale
// or unrelated issuance: logged and dropped without touching stored state.
// applied reports whether a full reconciliation must follow.
func (manager *CertificateManager) HandleCertificateAvailable(ctx context.Context, event core.Event) (applied bool, deferred bool, err error) {
	if !manager.probe.CanConnect(ctx) {
		return false, true, nil
	}

	csrStored, err := manager.identity.CSRStored(ctx)
	if err != nil {
		return false, false, err
	}
	if !csrStored {
		manager.logger.Info("certificate is available but no CSR is stored")
		metrics.RecordStaleCertificateEvent()
		return false, false, nil
	}

	storedCSR, err := manager.identity.LoadCSR(ctx)
	if err != nil {
		return false, false, err
	}
	if strings.TrimSpace(event.CSR) != strings.TrimSpace(string(storedCSR)) {
		manager.logger.Info("stored CSR does not match the one in the certificate event")
		metrics.RecordStaleCertificateEvent()
		return false, false, nil
	}

	if err := manager.identity.StoreCertificate(ctx, []byte(event.Certificate)); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// HandleCertificateExpiring re-requests a certificate when the expiring one
// is the certificate currently in use; the old certificate stays in place
// until the replacement arrives.
func (manager *CertificateManager) HandleCertificateExpiring(ctx context.Context, event core.Event) (deferred bool, err error) {
	if !manager.probe.CanConnect(ctx) {
		return true, nil
	}

	stored, err := manager.identity.CertificateStored(ctx)
	if err != nil {
		return false, err
	}
	if !stored {
		manager.logger.Info("expiry warning but no certificate is stored")
		metrics.RecordStaleCertificateEvent()
		return false, nil
	}

	storedCertificate, err := manager.identity.LoadCertificate(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(event.Certificate) != strings.TrimSpace(string(storedCertificate)) {
		manager.logger.Info("expiring certificate is not the one stored")
		metrics.RecordStaleCertificateEvent()
		return false, nil
	}

	return false, manager.requestNewCertificate(ctx)
}

// HandleProviderRemoved deletes every identity artifact. Missing artifacts
// are no-ops; the configuration falls back to http on the next pass.
func (manager *CertificateManager) HandleProviderRemoved(ctx context.Context) (deferred bool, err error) {
	if !manager.probe.CanConnect(ctx) {
		return true, nil
	}

	if err := manager.identity.DeletePrivateKey(ctx); err != nil {
		return false, err
	}
	if err := manager.identity.DeleteCSR(ctx); err != nil {
		return false, err
	}
	return false, manager.identity.DeleteCertificate(ctx)
}

// CheckExpiry inspects the stored certificate and reports an expiring event
// when it is within the renewal threshold. Called from the periodic tick
// source; the dispatcher validates the event like any external one.
func (manager *CertificateManager) CheckExpiry(ctx context.Context) (core.Event, bool) {
	if !manager.probe.CanConnect(ctx) {
		return core.Event{}, false
	}

	stored, err := manager.identity.CertificateStored(ctx)
	if err != nil || !stored {
		return core.Event{}, false
	}

	certificatePEM, err := manager.identity.LoadCertificate(ctx)
	if err != nil {
		return core.Event{}, false
	}

	block, _ := pem.Decode(certificatePEM)
	if block == nil {
		return core.Event{}, false
	}
	certificate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return core.Event{}, false
	}

	if manager.now().Add(RenewalThreshold).Before(certificate.NotAfter) {
		return core.Event{}, false
	}

	return core.Event{
		Kind:        core.EventCertificateExpiring,
		Certificate: string(certificatePEM),
	}, true
}

// requestNewCertificate generates and stores a fresh CSR and submits it to
// the provider.
func (manager *CertificateManager) requestNewCertificate(ctx context.Context) error {
	privateKey, err := manager.identity.LoadPrivateKey(ctx)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}

	csr, err := manager.generateCSR(privateKey, core.CertificateCommonName, []string{core.CertificateCommonName})
	if err != nil {
		return err
	}

	if err := manager.identity.StoreCSR(ctx, csr); err != nil {
		return err
	}
	if err := manager.requester.RequestCertificate(ctx, csr); err != nil {
		return fmt.Errorf("request certificate: %w", err)
	}

	metrics.RecordCertificateRequest()
	manager.logger.Info("requested new certificate", "subject", core.CertificateCommonName)
	return nil
}
