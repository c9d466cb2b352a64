package ausf

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"ausfoperator/pkg/adapters"
	"ausfoperator/pkg/core"
)

// IdentityStore keeps the three TLS identity artifacts at their fixed paths
// inside the workload. The operator is the only writer.
type IdentityStore struct {
	store  adapters.ContainerStore
	logger logr.Logger
}

// NewIdentityStore builds a store over the given container backend.
func NewIdentityStore(store adapters.ContainerStore, logger logr.Logger) *IdentityStore {
	return &IdentityStore{store: store, logger: logger}
}

func privateKeyPath() string  { return core.CertsDir + "/" + core.PrivateKeyName }
func csrPath() string         { return core.CertsDir + "/" + core.CSRName }
func certificatePath() string { return core.CertsDir + "/" + core.CertificateName }

// PrivateKeyStored reports whether the private key is present.
func (identity *IdentityStore) PrivateKeyStored(ctx context.Context) (bool, error) {
	return identity.store.Exists(ctx, privateKeyPath())
}

// CSRStored reports whether the CSR is present.
func (identity *IdentityStore) CSRStored(ctx context.Context) (bool, error) {
	return identity.store.Exists(ctx, csrPath())
}

// CertificateStored reports whether the certificate is present.
func (identity *IdentityStore) CertificateStored(ctx context.Context) (bool, error) {
	return identity.store.Exists(ctx, certificatePath())
}

// LoadPrivateKey returns the stored private key.
func (identity *IdentityStore) LoadPrivateKey(ctx context.Context) ([]byte, error) {
	return identity.store.Read(ctx, privateKeyPath())
}

// LoadCSR returns the stored CSR.
func (identity *IdentityStore) LoadCSR(ctx context.Context) ([]byte, error) {
	return identity.store.Read(ctx, csrPath())
}

// LoadCertificate returns the stored certificate.
func (identity *IdentityStore) LoadCertificate(ctx context.Context) ([]byte, error) {
	return identity.store.Read(ctx, certificatePath())
}

// StorePrivateKey writes the private key to the workload.
func (identity *IdentityStore) StorePrivateKey(ctx context.Context, key []byte) error {
	if err := identity.store.Write(ctx, privateKeyPath(), key, true); err != nil {
		return fmt.Errorf("store private key: %w", err)
	}
	identity.logger.Info("pushed private key to workload")
	return nil
}

// StoreCSR writes the CSR to the workload.
func (identity *IdentityStore) StoreCSR(ctx context.Context, csr []byte) error {
	if err := identity.store.Write(ctx, csrPath(), csr, true); err != nil {
		return fmt.Errorf("store csr: %w", err)
	}
	identity.logger.Info("pushed CSR to workload")
	return nil
}

// StoreCertificate writes the certificate to the workload.
func (identity *IdentityStore) StoreCertificate(ctx context.Context, certificate []byte) error {
	if err := identity.store.Write(ctx, certificatePath(), certificate, true); err != nil {
		return fmt.Errorf("store certificate: %w", err)
	}
	identity.logger.Info("pushed certificate to workload")
	return nil
}

// DeletePrivateKey removes the private key; absence is a no-op.
func (identity *IdentityStore) DeletePrivateKey(ctx context.Context) error {
	return identity.deleteArtifact(ctx, privateKeyPath(), "private key")
}

// DeleteCSR removes the CSR; absence is a no-op.
func (identity *IdentityStore) DeleteCSR(ctx context.Context) error {
	return identity.deleteArtifact(ctx, csrPath(), "CSR")
}

// DeleteCertificate removes the certificate; absence is a no-op.
func (identity *IdentityStore) DeleteCertificate(ctx context.Context) error {
	return identity.deleteArtifact(ctx, certificatePath(), "certificate")
}

func (identity *IdentityStore) deleteArtifact(ctx context.Context, path, what string) error {
	exists, err := identity.store.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("check %s: %w", what, err)
	}
	if !exists {
		return nil
	}
	if err := identity.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", what, err)
	}
	identity.logger.Info("removed artifact from workload", "artifact", what)
	return nil
}
