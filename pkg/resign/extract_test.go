package resign

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputKind(t *testing.T) {
	tests := []struct {
		name    string
		want    InputKind
		wantErr bool
	}{
		{"App.ipa", KindIPA, false},
		{"App.IPA", KindIPA, false},
		{"tweak.deb", KindDeb, false},
		{"App.app", KindApp, false},
		{"/builds/App.app/", KindApp, false},
		{"Build.xcarchive", KindXCArchive, false},
		{"App.zip", 0, true},
		{"App", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInputKind(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(ws.Destroy)
	return ws
}

func TestExtractIPA(t *testing.T) {
	ipa := buildIPA(t, func(payload string) {
		buildApp(t, payload, "com.old.app")
	})
	ws := newWorkspace(t)

	require.NoError(t, Extract(context.Background(), KindIPA, ipa, ws))
	assert.FileExists(t, filepath.Join(ws.PayloadDir, "App.app", "Info.plist"))
}

func TestExtractAppBundle(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	ws := newWorkspace(t)

	require.NoError(t, Extract(context.Background(), KindApp, app, ws))
	assert.FileExists(t, filepath.Join(ws.PayloadDir, "App.app", "PlugIns", "Widget.appex", "Info.plist"))
	assert.FileExists(t, filepath.Join(app, "Info.plist"), "the input is left untouched")
}

func TestExtractXCArchive(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "Build.xcarchive")
	buildApp(t, filepath.Join(archive, "Products", "Applications"), "com.old.app")
	ws := newWorkspace(t)

	require.NoError(t, Extract(context.Background(), KindXCArchive, archive, ws))
	assert.FileExists(t, filepath.Join(ws.PayloadDir, "App.app", "Info.plist"))

	empty := filepath.Join(t.TempDir(), "Empty.xcarchive")
	require.NoError(t, os.MkdirAll(empty, 0755))
	assert.ErrorIs(t, Extract(context.Background(), KindXCArchive, empty, newWorkspace(t)), ErrPayloadMissing)
}

func TestExtractMissingInput(t *testing.T) {
	err := Extract(context.Background(), KindIPA, filepath.Join(t.TempDir(), "missing.ipa"), newWorkspace(t))
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestExtractIPAWithoutPayload(t *testing.T) {
	ipa := filepath.Join(t.TempDir(), "Empty.ipa")
	writeZip(t, ipa, map[string][]byte{"iTunesMetadata.plist": []byte("x")})

	assert.ErrorIs(t, Extract(context.Background(), KindIPA, ipa, newWorkspace(t)), ErrPayloadMissing)
}
