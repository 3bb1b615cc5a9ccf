package resign

import (
	"path/filepath"
	"testing"

	"github.com/aluedeke/go-appsigner/pkg/codesign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteBundleIdentifiers(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	watchExt := filepath.Join(app, "PlugIns", "WatchKit.appex")
	writeInfoPlist(t, watchExt, map[string]interface{}{
		"CFBundleIdentifier":             "com.old.app.watchkitextension",
		"WKCompanionAppBundleIdentifier": "com.old.app",
		"NSExtension": map[string]interface{}{
			"NSExtensionAttributes": map[string]interface{}{
				"WKAppBundleIdentifier": "com.old.app.watchkitapp",
			},
		},
	})
	watchApp := filepath.Join(watchExt, "Watch.app")
	writeInfoPlist(t, watchApp, map[string]interface{}{
		"CFBundleIdentifier": "com.old.app.watchkitapp",
	})

	require.NoError(t, RewriteBundleIdentifiers(codesign.PlistMetadata{}, app, "com.old.app", "com.new.app"))

	assert.Equal(t, "com.new.app", readInfoPlist(t, app)["CFBundleIdentifier"])
	assert.Equal(t, "com.new.app.widget", readInfoPlist(t, filepath.Join(app, "PlugIns", "Widget.appex"))["CFBundleIdentifier"])

	ext := readInfoPlist(t, watchExt)
	assert.Equal(t, "com.new.app.watchkitextension", ext["CFBundleIdentifier"])
	assert.Equal(t, "com.new.app", ext["WKCompanionAppBundleIdentifier"])
	attrs := ext["NSExtension"].(map[string]interface{})["NSExtensionAttributes"].(map[string]interface{})
	assert.Equal(t, "com.new.app.watchkitapp", attrs["WKAppBundleIdentifier"])

	assert.Equal(t, "com.new.app.watchkitapp", readInfoPlist(t, watchApp)["CFBundleIdentifier"])

	// the widget has no companion key and gets none
	_, ok := readInfoPlist(t, filepath.Join(app, "PlugIns", "Widget.appex"))["WKCompanionAppBundleIdentifier"]
	assert.False(t, ok)
}

func TestRewriteBundleIdentifiersRejectsForeignIdentifier(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	writeInfoPlist(t, filepath.Join(app, "PlugIns", "Other.appex"), map[string]interface{}{
		"CFBundleIdentifier": "org.other.extension",
	})

	err := RewriteBundleIdentifiers(codesign.PlistMetadata{}, app, "com.old.app", "com.new.app")
	assert.ErrorIs(t, err, ErrMetadataWrite)
	assert.Equal(t, "com.old.app", readInfoPlist(t, app)["CFBundleIdentifier"], "the root is written last")
}

func TestReplaceRoot(t *testing.T) {
	id, err := replaceRoot("com.old.app.widget", "com.old.app", "com.new.app")
	require.NoError(t, err)
	assert.Equal(t, "com.new.app.widget", id)

	_, err = replaceRoot("com.other.widget", "com.old.app", "com.new.app")
	assert.Error(t, err)
}

func TestRewriteBundleIdentifiersWatchApp(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	watchApp := filepath.Join(app, "Watch", "Watch.app")
	writeInfoPlist(t, watchApp, map[string]interface{}{
		"CFBundleIdentifier":             "com.old.app.watchkitapp",
		"WKCompanionAppBundleIdentifier": "com.old.app",
	})
	watchExt := filepath.Join(watchApp, "PlugIns", "WatchExtension.appex")
	writeInfoPlist(t, watchExt, map[string]interface{}{
		"CFBundleIdentifier": "com.old.app.watchkitapp.watchkitextension",
		"NSExtension": map[string]interface{}{
			"NSExtensionAttributes": map[string]interface{}{
				"WKAppBundleIdentifier": "com.old.app.watchkitapp",
			},
		},
	})

	require.NoError(t, RewriteBundleIdentifiers(codesign.PlistMetadata{}, app, "com.old.app", "com.new.app"))

	watch := readInfoPlist(t, watchApp)
	assert.Equal(t, "com.new.app.watchkitapp", watch["CFBundleIdentifier"])
	assert.Equal(t, "com.new.app", watch["WKCompanionAppBundleIdentifier"])

	ext := readInfoPlist(t, watchExt)
	assert.Equal(t, "com.new.app.watchkitapp.watchkitextension", ext["CFBundleIdentifier"])
	attrs := ext["NSExtension"].(map[string]interface{})["NSExtensionAttributes"].(map[string]interface{})
	assert.Equal(t, watch["CFBundleIdentifier"], attrs["WKAppBundleIdentifier"], "the extension names the rewritten watch app")
}

func TestRewriteBundleIdentifiersNestedExtensions(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	outer := filepath.Join(app, "PlugIns", "A.appex")
	writeInfoPlist(t, outer, map[string]interface{}{"CFBundleIdentifier": "com.old.app.a"})
	inner := filepath.Join(outer, "PlugIns", "B.appex")
	writeInfoPlist(t, inner, map[string]interface{}{"CFBundleIdentifier": "com.old.app.a.b"})
	nestedApp := filepath.Join(inner, "W.app")
	writeInfoPlist(t, nestedApp, map[string]interface{}{"CFBundleIdentifier": "com.old.app.a.b.w"})

	require.NoError(t, RewriteBundleIdentifiers(codesign.PlistMetadata{}, app, "com.old.app", "com.new.app"))

	assert.Equal(t, "com.new.app.a", readInfoPlist(t, outer)["CFBundleIdentifier"])
	assert.Equal(t, "com.new.app.a.b", readInfoPlist(t, inner)["CFBundleIdentifier"])
	assert.Equal(t, "com.new.app.a.b.w", readInfoPlist(t, nestedApp)["CFBundleIdentifier"])
}

func TestNestedBundles(t *testing.T) {
	app := buildApp(t, t.TempDir(), "com.old.app")
	writeInfoPlist(t, filepath.Join(app, "Watch", "Watch.app"), map[string]interface{}{})
	writeInfoPlist(t, filepath.Join(app, "PlugIns", "Widget.appex", "PlugIns", "Inner.appex", "Deep.app"), map[string]interface{}{})
	writeInfoPlist(t, filepath.Join(app, "Resources", "Helper.app"), map[string]interface{}{})

	bundles, err := nestedBundles(app)
	require.NoError(t, err)

	var rel []string
	for _, b := range bundles {
		r, err := filepath.Rel(app, b)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{
		"PlugIns/Widget.appex",
		"PlugIns/Widget.appex/PlugIns/Inner.appex",
		"PlugIns/Widget.appex/PlugIns/Inner.appex/Deep.app",
		"Watch/Watch.app",
	}, rel)
}
