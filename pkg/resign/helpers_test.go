package resign

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

const signedMarker = "\n#signed"

// fakeSigner records every call. Signing a regular file appends a marker to
// it so tests can see which content was signed; signing a directory writes a
// _CodeSignature/CodeResources file.
type fakeSigner struct {
	mu        sync.Mutex
	signed    []string
	verified  []string
	failSign  map[string]bool
	verifyErr error
}

func (f *fakeSigner) Sign(ctx context.Context, path, identity, entitlements string) (string, error) {
	f.mu.Lock()
	f.signed = append(f.signed, path)
	fail := f.failSign[filepath.Base(path)]
	f.mu.Unlock()

	if fail {
		return "error: cannot sign", fmt.Errorf("codesign failed for %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		dir := filepath.Join(path, "_CodeSignature")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return "", os.WriteFile(filepath.Join(dir, "CodeResources"), []byte(identity), 0644)
	}

	f2, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return "", err
	}
	defer f2.Close()
	_, err = io.WriteString(f2, signedMarker)
	return path + ": signed", err
}

func (f *fakeSigner) Verify(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, path)
	return "", f.verifyErr
}

func (f *fakeSigner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signed...)
}

// indexOf returns the position of the first signed path ending in suffix
func indexOf(calls []string, suffix string) int {
	for i, c := range calls {
		if strings.HasSuffix(filepath.ToSlash(c), suffix) {
			return i
		}
	}
	return -1
}

type fakeRepairer struct {
	calls int
	fix   func()
}

func (f *fakeRepairer) Repair(ctx context.Context, dir string) error {
	f.calls++
	if f.fix != nil {
		f.fix()
	}
	return nil
}

type fakeIdentities struct {
	identities []string
	cert       *x509.Certificate
}

func (f *fakeIdentities) Identities(ctx context.Context) ([]string, error) {
	return f.identities, nil
}

func (f *fakeIdentities) Certificate(ctx context.Context, name string) (*x509.Certificate, error) {
	if f.cert == nil {
		return nil, fmt.Errorf("certificate %q not found", name)
	}
	return f.cert, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	started  []string
	finished []string
}

func (o *recordingObserver) Status(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, msg)
}

func (o *recordingObserver) SignStarted(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, path)
}

func (o *recordingObserver) SignFinished(path string, output string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, path)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// writeInfoPlist writes an Info.plist into bundle
func writeInfoPlist(t *testing.T, bundle string, values map[string]interface{}) {
	t.Helper()
	data, err := plist.MarshalIndent(values, plist.XMLFormat, "\t")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(bundle, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "Info.plist"), data, 0644))
}

func readInfoPlist(t *testing.T, bundle string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(bundle, "Info.plist"))
	require.NoError(t, err)
	var doc map[string]interface{}
	_, err = plist.Unmarshal(data, &doc)
	require.NoError(t, err)
	return doc
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// buildApp creates App.app under dir with a framework, a dylib and a widget
// extension that embeds its own framework
func buildApp(t *testing.T, dir, bundleID string) string {
	t.Helper()

	app := filepath.Join(dir, "App.app")
	writeInfoPlist(t, app, map[string]interface{}{
		"CFBundleIdentifier":            bundleID,
		"CFBundleExecutable":            "App",
		"CFBundleShortVersionString":    "1.0",
		"CFBundleVersion":               "1",
		"CFBundleResourceSpecification": "ResourceRules.plist",
	})
	writeFile(t, filepath.Join(app, "App"), "app binary")
	writeFile(t, filepath.Join(app, "Frameworks", "Foo.framework", "Foo"), "foo binary")
	writeFile(t, filepath.Join(app, "Frameworks", "Foo.framework", "libinner.dylib"), "inner")
	writeFile(t, filepath.Join(app, "Frameworks", "libswiftCore.dylib"), "swift")
	writeFile(t, filepath.Join(app, "Assets.car"), "assets")

	widget := filepath.Join(app, "PlugIns", "Widget.appex")
	writeInfoPlist(t, widget, map[string]interface{}{
		"CFBundleIdentifier": bundleID + ".widget",
		"CFBundleExecutable": "Widget",
	})
	writeFile(t, filepath.Join(widget, "Widget"), "widget binary")
	writeFile(t, filepath.Join(widget, "Frameworks", "Bar.framework", "Bar"), "bar binary")
	return app
}

// writeZip archives files (name -> content) into path
func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	out, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
}

// readZip returns the regular files of a zip archive
func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, data, 0644))
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	files := make(map[string]string)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(content)
	}
	return files
}

// buildIPA zips the bundles produced by build into Payload/ of an .ipa
func buildIPA(t *testing.T, build func(payload string)) string {
	t.Helper()
	src := t.TempDir()
	build(filepath.Join(src, "Payload"))
	ipa := filepath.Join(t.TempDir(), "App.ipa")
	require.NoError(t, CreateZip(src, ipa))
	return ipa
}

func testCertificate(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "Apple Development: Jane Doe (TEAM123)"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// writeProfile writes a signed provisioning profile for applicationIdentifier
func writeProfile(t *testing.T, path, applicationIdentifier string, expires time.Time) *x509.Certificate {
	t.Helper()
	cert, key := testCertificate(t)

	content, err := plist.MarshalIndent(map[string]interface{}{
		"Name":                  "Resign Test",
		"TeamIdentifier":        []string{"TEAM123"},
		"CreationDate":          time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		"ExpirationDate":        expires.UTC().Truncate(time.Second),
		"DeveloperCertificates": [][]byte{cert.Raw},
		"Entitlements": map[string]interface{}{
			"application-identifier": applicationIdentifier,
			"get-task-allow":         true,
		},
	}, plist.XMLFormat, "\t")
	require.NoError(t, err)

	sd, err := pkcs7.NewSignedData(content)
	require.NoError(t, err)
	require.NoError(t, sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}))
	data, err := sd.Finish()
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return cert
}

// newTestSigner returns a Signer with fakes whose workspaces live in tempDir
func newTestSigner(fake *fakeSigner, tempDir string) *Signer {
	return New(Options{
		CodeSigner: fake,
		Observer:   nopObserver{},
		Logger:     testLogger(),
		TempDir:    tempDir,
	})
}

// assertNoWorkspace fails when a workspace is left in tempDir
func assertNoWorkspace(t *testing.T, tempDir string) {
	t.Helper()
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "appsigner-") {
			t.Errorf("workspace %s was not removed", e.Name())
		}
	}
}
