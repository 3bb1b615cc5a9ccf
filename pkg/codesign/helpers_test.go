package codesign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// testCertificate creates a throwaway self-signed signing certificate
func testCertificate(t *testing.T, name string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:         name,
			OrganizationalUnit: []string{"TEAM123"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// testProfile returns a signed .mobileprovision for applicationIdentifier
func testProfile(t *testing.T, applicationIdentifier string, expires time.Time, cert *x509.Certificate, key *rsa.PrivateKey) []byte {
	t.Helper()

	payload := map[string]interface{}{
		"Name":                        "Test Profile",
		"TeamName":                    "Test Team",
		"TeamIdentifier":              []string{"TEAM123"},
		"ApplicationIdentifierPrefix": []string{"TEAM123"},
		"UUID":                        "8C7B9F3E-1A2B-4C5D-9E8F-0123456789AB",
		"CreationDate":                time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		"ExpirationDate":              expires.UTC().Truncate(time.Second),
		"ProvisionedDevices":          []string{"00008030-001A2B3C4D5E6F70"},
		"DeveloperCertificates":       [][]byte{cert.Raw},
		"Entitlements": map[string]interface{}{
			"application-identifier":              applicationIdentifier,
			"com.apple.developer.team-identifier": "TEAM123",
			"get-task-allow":                      true,
		},
	}
	content, err := plist.MarshalIndent(payload, plist.XMLFormat, "\t")
	require.NoError(t, err)

	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	require.NoError(t, sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}))
	data, err := sd.Finish()
	require.NoError(t, err)
	return data
}

// writePlist writes v as an XML plist to dir/Info.plist
func writePlist(t *testing.T, dir string, v interface{}, format int) string {
	t.Helper()

	data, err := plist.Marshal(v, format)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "Info.plist")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}
