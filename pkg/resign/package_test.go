package resign

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageIPA(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")

	output := filepath.Join(t.TempDir(), "nested", "out.ipa")
	require.NoError(t, Package(ws, output))

	files := readZip(t, mustRead(t, output))
	assert.Contains(t, files, "Payload/App.app/Info.plist")
	assert.Contains(t, files, "Payload/App.app/PlugIns/Widget.appex/Info.plist")
}

func TestPackageReplacesExistingOutput(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")

	output := filepath.Join(t.TempDir(), "out.ipa")
	writeFile(t, output, "stale")
	require.NoError(t, Package(ws, output))
	assert.Contains(t, readZip(t, mustRead(t, output)), "Payload/App.app/App")
}

func TestPackageApp(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")

	output := filepath.Join(t.TempDir(), "Signed.app")
	writeFile(t, filepath.Join(output, "stale"), "old")
	require.NoError(t, Package(ws, output))

	assert.FileExists(t, filepath.Join(output, "Info.plist"))
	assert.FileExists(t, filepath.Join(output, "Frameworks", "libswiftCore.dylib"))
	assert.NoFileExists(t, filepath.Join(output, "stale"))
}

func TestPackageAppNeedsSingleBundle(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")
	writeInfoPlist(t, filepath.Join(ws.PayloadDir, "Other.app"), map[string]interface{}{"CFBundleIdentifier": "com.other"})

	output := filepath.Join(t.TempDir(), "Signed.app")
	assert.ErrorIs(t, Package(ws, output), ErrPackaging)
	assert.NoDirExists(t, output)
}

func TestPackageFailureRemovesOutput(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")

	parent := filepath.Join(t.TempDir(), "file")
	writeFile(t, parent, "not a directory")
	output := filepath.Join(parent, "out.ipa")

	assert.ErrorIs(t, Package(ws, output), ErrPackaging)
	_, err := os.Stat(output)
	assert.Error(t, err)
}

func TestPackageRefusesDirectoryOutput(t *testing.T) {
	ws := newWorkspace(t)
	buildApp(t, ws.PayloadDir, "com.old.app")

	output := filepath.Join(t.TempDir(), "builds")
	writeFile(t, filepath.Join(output, "precious.txt"), "keep me")

	assert.ErrorIs(t, Package(ws, output), ErrPackaging)

	content, err := os.ReadFile(filepath.Join(output, "precious.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(content))
}
