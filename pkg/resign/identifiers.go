package resign

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aluedeke/go-appsigner/pkg/codesign"
)

// MetadataService reads and writes string keys of plist files. More than one
// key addresses a nested dictionary entry.
type MetadataService interface {
	ReadKey(path string, keys ...string) (string, bool)
	WriteKey(path, value string, keys ...string) error
	DeleteKey(path string, keys ...string) error
}

var watchAppKey = []string{"NSExtension", "NSExtensionAttributes", "WKAppBundleIdentifier"}

// RewriteBundleIdentifiers moves the bundle at bundlePath and the bundles
// nested inside it from oldRoot to newRoot: every app extension, every app
// inside an extension and every watch app below Watch/. Each nested
// identifier keeps its suffix after oldRoot; the root identifier is written
// last.
func RewriteBundleIdentifiers(meta MetadataService, bundlePath, oldRoot, newRoot string) error {
	nested, err := nestedBundles(bundlePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataWrite, err)
	}

	for _, bundle := range nested {
		if err := rewriteIdentifier(meta, bundle, oldRoot, newRoot); err != nil {
			return err
		}

		plistPath := codesign.InfoPlistPath(bundle)
		if _, ok := meta.ReadKey(plistPath, codesign.KeyCompanionAppIdentifier); ok {
			if err := meta.WriteKey(plistPath, newRoot, codesign.KeyCompanionAppIdentifier); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
			}
		}
		if filepath.Ext(bundle) != ".appex" {
			continue
		}
		if old, ok := meta.ReadKey(plistPath, watchAppKey...); ok {
			id, err := replaceRoot(old, oldRoot, newRoot)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
			}
			if err := meta.WriteKey(plistPath, id, watchAppKey...); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
			}
		}
	}

	plistPath := codesign.InfoPlistPath(bundlePath)
	if err := meta.WriteKey(plistPath, newRoot, codesign.KeyBundleIdentifier); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
	}
	return nil
}

func rewriteIdentifier(meta MetadataService, bundle, oldRoot, newRoot string) error {
	plistPath := codesign.InfoPlistPath(bundle)
	old, ok := meta.ReadKey(plistPath, codesign.KeyBundleIdentifier)
	if !ok {
		return nil
	}

	id, err := replaceRoot(old, oldRoot, newRoot)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
	}
	if err := meta.WriteKey(plistPath, id, codesign.KeyBundleIdentifier); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataWrite, plistPath, err)
	}
	return nil
}

// replaceRoot swaps the oldRoot prefix of id for newRoot
func replaceRoot(id, oldRoot, newRoot string) (string, error) {
	if !strings.HasPrefix(id, oldRoot) {
		return "", fmt.Errorf("identifier %q is not derived from %q", id, oldRoot)
	}
	return newRoot + id[len(oldRoot):], nil
}

// nestedBundles returns, sorted by path and each once, the app extensions
// below root, the apps inside an app extension and the apps below root/Watch
func nestedBundles(root string) ([]string, error) {
	watchDir := filepath.Join(root, "Watch") + string(os.PathSeparator)

	var found []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root || !info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".appex":
			found = append(found, path)
		case ".app":
			if strings.HasPrefix(path, watchDir) || insideExtension(root, path) {
				found = append(found, path)
			}
		}
		return nil
	})
	sort.Strings(found)
	return found, err
}

// insideExtension reports whether an ancestor of path below root is an app extension
func insideExtension(root, path string) bool {
	for dir := filepath.Dir(path); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if filepath.Ext(dir) == ".appex" {
			return true
		}
	}
	return false
}
