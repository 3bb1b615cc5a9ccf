package resign

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Request describes one resigning job
type Request struct {
	// Input is a local path or an http(s) URL
	Input string
	// Output is the package to write. Defaults to "<input>-resigned.ipa" next
	// to a local input.
	Output string
	// Identity is the keychain signing identity, e.g. "Apple Development: Jane Doe (TEAM123)"
	Identity string
	// Profile optionally replaces the embedded provisioning profile
	Profile string

	BundleID     string
	DisplayName  string
	Version      string
	ShortVersion string

	// SkipPreflight disables the test signature before the input is touched
	SkipPreflight bool
}

// Validate checks the request for missing required values
func (r Request) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return newError(KindInput, "validate", "", fmt.Errorf("input is required"))
	}
	if strings.TrimSpace(r.Identity) == "" {
		return newError(KindInput, "validate", "", fmt.Errorf("signing certificate is required"))
	}
	if r.IsRemote() {
		if _, err := url.Parse(r.Input); err != nil {
			return newError(KindInput, "validate", r.Input, err)
		}
	}
	return nil
}

// IsRemote reports whether Input is an http(s) URL
func (r Request) IsRemote() bool {
	lower := strings.ToLower(r.Input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// inputName returns the file name of the input, for URLs the last path element
func (r Request) inputName() string {
	if r.IsRemote() {
		if u, err := url.Parse(r.Input); err == nil {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(r.Input)
}

// OutputPath returns the effective output path
func (r Request) OutputPath() string {
	if r.Output != "" {
		return r.Output
	}

	name := r.inputName()
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if r.IsRemote() {
		return stem + "-resigned.ipa"
	}
	return filepath.Join(filepath.Dir(filepath.Clean(r.Input)), stem+"-resigned.ipa")
}
