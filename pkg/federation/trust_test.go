package federation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brevanhowe/govern-core/pkg/model"
)

func generateTestCertPEM(t *testing.T, notBefore, notAfter time.Time, eku []x509.ExtKeyUsage) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "peer-node"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		ExtKeyUsage:  eku,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestEstablishTrust_ValidCertSucceeds(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
	trust := NewTrust(NewInMemoryNodeStore())

	resp, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, model.TrustTrusted, resp.TrustLevel)
	assert.NotEmpty(t, resp.CertificateInfo.Fingerprint)
}

func TestEstablishTrust_ExpiredCertFails(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour), []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
	trust := NewTrust(NewInMemoryNodeStore())

	_, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM})
	assert.ErrorIs(t, err, ErrCertExpired)
}

func TestEstablishTrust_MissingEKUFails(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), nil)
	trust := NewTrust(NewInMemoryNodeStore())

	_, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM})
	assert.ErrorIs(t, err, ErrMissingEKU)
}

func TestEstablishTrust_InvalidPEMFails(t *testing.T) {
	trust := NewTrust(NewInMemoryNodeStore())
	_, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: "not a cert"})
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestChallenge_OneShotAndExpiring(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
	trust := NewTrust(NewInMemoryNodeStore())

	token, err := trust.GenerateChallenge("node-a")
	require.NoError(t, err)

	_, err = trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM, Challenge: token})
	require.NoError(t, err)

	_, err = trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM, Challenge: token})
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

func TestVerifyTrust_FingerprintMismatch(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
	trust := NewTrust(NewInMemoryNodeStore())
	_, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM})
	require.NoError(t, err)

	_, err = trust.VerifyTrust("node-a", "sha256:deadbeef")
	assert.ErrorIs(t, err, ErrFingerprintBad)
}

func TestVerifyTrust_RevokedNodeFails(t *testing.T) {
	certPEM := generateTestCertPEM(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth})
	trust := NewTrust(NewInMemoryNodeStore())
	_, err := trust.EstablishTrust(TrustEstablishmentRequest{NodeID: "node-a", ClientCertPEM: certPEM})
	require.NoError(t, err)

	require.NoError(t, trust.RevokeTrust("node-a"))

	cert, err := ParseCertificate(certPEM)
	require.NoError(t, err)
	_, err = trust.VerifyTrust("node-a", Fingerprint(cert))
	assert.ErrorIs(t, err, ErrNodeDisabled)
}
