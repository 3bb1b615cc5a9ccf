package codesign

import (
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// Info.plist keys touched while resigning
const (
	KeyBundleIdentifier       = "CFBundleIdentifier"
	KeyBundleExecutable       = "CFBundleExecutable"
	KeyDisplayName            = "CFBundleDisplayName"
	KeyBundleVersion          = "CFBundleVersion"
	KeyShortVersion           = "CFBundleShortVersionString"
	KeyResourceSpecification  = "CFBundleResourceSpecification"
	KeyCompanionAppIdentifier = "WKCompanionAppBundleIdentifier"
)

// InfoPlistPath returns the path of the Info.plist of a bundle
func InfoPlistPath(bundlePath string) string {
	return filepath.Join(bundlePath, "Info.plist")
}

// PlistMetadata reads and writes string keys of property list files.
// Nested dictionary entries are addressed by passing more than one key.
// Files are written back in the format they were read in.
type PlistMetadata struct{}

// ReadKey returns the string value at the key path and whether it exists
func (PlistMetadata) ReadKey(path string, keys ...string) (string, bool) {
	doc, _, err := readPlistFile(path)
	if err != nil {
		return "", false
	}

	value, ok := lookup(doc, keys)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// WriteKey sets the string value at the key path, creating intermediate
// dictionaries as needed
func (PlistMetadata) WriteKey(path, value string, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no key given for %s", path)
	}

	doc, format, err := readPlistFile(path)
	if err != nil {
		return err
	}

	parent := doc
	for _, key := range keys[:len(keys)-1] {
		child, ok := parent[key].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			parent[key] = child
		}
		parent = child
	}
	parent[keys[len(keys)-1]] = value

	return writePlistFile(path, doc, format)
}

// DeleteKey removes the entry at the key path. Deleting a missing key is not an error.
func (PlistMetadata) DeleteKey(path string, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no key given for %s", path)
	}

	doc, format, err := readPlistFile(path)
	if err != nil {
		return err
	}

	parentValue, ok := lookup(doc, keys[:len(keys)-1])
	if !ok {
		return nil
	}
	parent, ok := parentValue.(map[string]interface{})
	if !ok {
		return nil
	}
	if _, ok := parent[keys[len(keys)-1]]; !ok {
		return nil
	}
	delete(parent, keys[len(keys)-1])

	return writePlistFile(path, doc, format)
}

// GetAppBundleID reads the bundle ID from an app's Info.plist
func GetAppBundleID(appPath string) (string, error) {
	bundleID, ok := PlistMetadata{}.ReadKey(InfoPlistPath(appPath), KeyBundleIdentifier)
	if !ok {
		return "", fmt.Errorf("%s not found in %s", KeyBundleIdentifier, InfoPlistPath(appPath))
	}
	return bundleID, nil
}

// GetAppExecutableName reads the executable name from an app's Info.plist
func GetAppExecutableName(appPath string) (string, error) {
	execName, ok := PlistMetadata{}.ReadKey(InfoPlistPath(appPath), KeyBundleExecutable)
	if !ok {
		return "", fmt.Errorf("%s not found in %s", KeyBundleExecutable, InfoPlistPath(appPath))
	}
	return execName, nil
}

func lookup(doc map[string]interface{}, keys []string) (interface{}, bool) {
	var value interface{} = doc
	for _, key := range keys {
		dict, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, ok = dict[key]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func readPlistFile(path string) (map[string]interface{}, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	var doc map[string]interface{}
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}
	return doc, format, nil
}

func writePlistFile(path string, doc map[string]interface{}, format int) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case plist.BinaryFormat, plist.OpenStepFormat, plist.GNUStepFormat:
		data, err = plist.Marshal(doc, format)
	default:
		data, err = plist.MarshalIndent(doc, plist.XMLFormat, "\t")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
