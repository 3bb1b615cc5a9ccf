package codesign

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Default locations of Apple's command line tools
const (
	DefaultCodesignPath = "/usr/bin/codesign"
	DefaultSecurityPath = "/usr/bin/security"
)

// Tool signs and verifies files by running Apple's codesign tool, and looks up
// signing identities with the security tool. The keychain holds the private
// keys; this package never touches key material.
type Tool struct {
	CodesignPath string
	SecurityPath string
}

// NewTool returns a Tool using the default tool locations
func NewTool() *Tool {
	return &Tool{
		CodesignPath: DefaultCodesignPath,
		SecurityPath: DefaultSecurityPath,
	}
}

// Sign force-signs path with identity. The entitlements file is attached only
// when entitlementsPath is set and the file exists. The combined tool output is
// returned for diagnostics.
func (t *Tool) Sign(ctx context.Context, path, identity, entitlementsPath string) (string, error) {
	args := []string{"-vvv", "-fs", identity, "--no-strict"}
	if entitlementsPath != "" && fileExists(entitlementsPath) {
		args = append(args, "--entitlements="+entitlementsPath)
	}
	args = append(args, path)

	out, err := t.run(ctx, t.codesign(), args...)
	if err != nil {
		if strings.Contains(out, "resource fork, Finder information, or similar detritus") {
			return out, fmt.Errorf("codesign failed due to extended attributes on %s: %w", path, err)
		}
		return out, fmt.Errorf("codesign failed for %s: %w", path, err)
	}
	return out, nil
}

// Verify checks the signature of path with codesign -v
func (t *Tool) Verify(ctx context.Context, path string) (string, error) {
	out, err := t.run(ctx, t.codesign(), "-v", path)
	if err != nil {
		return out, fmt.Errorf("signature verification failed for %s: %w", path, err)
	}
	return out, nil
}

// Identities lists the valid code signing identities in the user's keychains
func (t *Tool) Identities(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, t.security(), "find-identity", "-v", "-p", "codesigning")
	if err != nil {
		return nil, fmt.Errorf("failed to list signing identities: %s: %w", strings.TrimSpace(out), err)
	}
	return ParseIdentityOutput(out), nil
}

// Certificate returns the keychain certificate whose common name matches name
func (t *Tool) Certificate(ctx context.Context, name string) (*x509.Certificate, error) {
	out, err := t.run(ctx, t.security(), "find-certificate", "-c", name, "-p")
	if err != nil {
		return nil, fmt.Errorf("certificate %q not found: %w", name, err)
	}

	block, _ := pem.Decode([]byte(out))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate returned for %q", name)
	}
	return x509.ParseCertificate(block.Bytes)
}

// Repair imports the Apple WWDR intermediate and root certificates into the
// default keychain. A broken or missing intermediate is the most common reason
// a valid identity fails to sign. The certificates are staged in dir.
func (t *Tool) Repair(ctx context.Context, dir string) error {
	certs, err := AppleCACertificates()
	if err != nil {
		return err
	}

	names := []string{"AppleWWDRCAG3.cer", "AppleRootCA.cer"}
	args := []string{"add-certificates"}
	for i, cert := range certs {
		path := filepath.Join(dir, names[i])
		if err := os.WriteFile(path, cert.Raw, 0644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", names[i], err)
		}
		defer os.Remove(path)
		args = append(args, path)
	}

	out, err := t.run(ctx, t.security(), args...)
	if err != nil && !strings.Contains(out, "already exists") {
		return fmt.Errorf("failed to import Apple certificates: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

func (t *Tool) run(ctx context.Context, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := exec.LookPath(name); err != nil {
		return "", fmt.Errorf("%s not found, install the Xcode command line tools with: xcode-select --install", filepath.Base(name))
	}

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

func (t *Tool) codesign() string {
	if t.CodesignPath != "" {
		return t.CodesignPath
	}
	return DefaultCodesignPath
}

func (t *Tool) security() string {
	if t.SecurityPath != "" {
		return t.SecurityPath
	}
	return DefaultSecurityPath
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
