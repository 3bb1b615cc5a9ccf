package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aluedeke/go-appsigner/pkg/codesign"
)

// profileSource records where the profile of a bundle came from
type profileSource int

const (
	profileNone profileSource = iota
	profileExplicit
	profileEmbedded
)

func (s profileSource) String() string {
	switch s {
	case profileExplicit:
		return "explicit"
	case profileEmbedded:
		return "embedded"
	default:
		return "none"
	}
}

// bundleContext is the per-bundle state of a run
type bundleContext struct {
	path         string
	infoPlist    string
	profile      *codesign.ProvisioningProfile
	source       profileSource
	entitlements string
	newID        string
}

// processBundle resigns one top-level bundle of the Payload directory
func (r *run) processBundle(ctx context.Context, path string) error {
	name := filepath.Base(path)
	r.status("Processing %s", name)

	bc := &bundleContext{
		path:      path,
		infoPlist: codesign.InfoPlistPath(path),
		newID:     r.req.BundleID,
	}

	// entitlements of the previous bundle must never apply to this one
	if err := os.Remove(r.ws.EntitlementsPath); err != nil && !os.IsNotExist(err) {
		return r.fail(KindIO, "remove entitlements", r.ws.EntitlementsPath, err)
	}

	if err := r.meta.DeleteKey(bc.infoPlist, codesign.KeyResourceSpecification); err != nil {
		r.log.WithError(err).Debug("unable to delete resource specification")
	}

	if err := r.resolveProfile(bc); err != nil {
		return err
	}

	r.prepareExecutable(bc)

	if bc.newID != "" {
		oldID, ok := r.meta.ReadKey(bc.infoPlist, codesign.KeyBundleIdentifier)
		if !ok {
			return r.fail(KindIO, "read bundle identifier", bc.infoPlist, ErrMetadataWrite)
		}
		if oldID != bc.newID {
			r.status("Changing App ID to %s", bc.newID)
			if err := RewriteBundleIdentifiers(r.meta, path, oldID, bc.newID); err != nil {
				return r.fail(KindIO, "rewrite identifiers", path, err)
			}
		}
	}

	overrides := []struct {
		key, value, label string
	}{
		{codesign.KeyDisplayName, r.req.DisplayName, "display name"},
		{codesign.KeyBundleVersion, r.req.Version, "version"},
		{codesign.KeyShortVersion, r.req.ShortVersion, "short version"},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		r.status("Changing %s to %s", o.label, o.value)
		if err := r.meta.WriteKey(bc.infoPlist, o.value, o.key); err != nil {
			return r.fail(KindIO, "write "+o.label, bc.infoPlist, fmt.Errorf("%w: %v", ErrMetadataWrite, err))
		}
	}

	warnings, err := r.expandEggs(ctx, path, bc.entitlements)
	r.addWarnings(warnings)
	if err != nil {
		return r.fail(KindIO, "process eggs", path, err)
	}

	r.status("Codesigning %s", name)
	warnings, err = r.signMembers(ctx, path, bc.entitlements)
	r.addWarnings(warnings)
	if err != nil {
		return r.fail(KindIO, "sign members", path, err)
	}

	if err := ctx.Err(); err != nil {
		return r.fail(KindCanceled, "sign", path, err)
	}
	if err := r.sign(ctx, path, bc.entitlements); err != nil {
		r.warn("%v", err)
	}

	r.status("Verifying %s", name)
	if err := ctx.Err(); err != nil {
		return r.fail(KindCanceled, "verify", path, err)
	}
	if out, err := r.signer.Verify(ctx, path); err != nil {
		r.log.Debug(out)
		return r.fail(KindSigning, "verify", path, fmt.Errorf("%w: %v", ErrVerification, err))
	}

	r.bundles = append(r.bundles, name)
	return nil
}

// resolveProfile picks the profile of the bundle, writes its entitlements and
// settles the effective new bundle identifier
func (r *run) resolveProfile(bc *bundleContext) error {
	embedded := filepath.Join(bc.path, codesign.EmbeddedProfileName)

	switch {
	case r.req.Profile != "":
		if err := os.Remove(embedded); err != nil && !os.IsNotExist(err) {
			return r.fail(KindIO, "remove embedded profile", embedded, err)
		}
		if err := copyFile(r.req.Profile, embedded, 0644); err != nil {
			return r.fail(KindIO, "copy profile", r.req.Profile, err)
		}
		bc.source = profileExplicit
	case fileExists(embedded):
		bc.source = profileEmbedded
	default:
		r.log.Debug("no provisioning profile")
		return nil
	}

	r.status("Parsing %s provisioning profile", bc.source)
	profile, err := codesign.LoadProvisioningProfile(embedded)
	if err != nil {
		r.warn("unable to parse provisioning profile: %v", err)
		return nil
	}
	bc.profile = profile

	if err := codesign.WriteEntitlements(profile, r.ws.EntitlementsPath); err != nil {
		r.warn("unable to extract entitlements from provisioning profile: %v", err)
	} else {
		bc.entitlements = r.ws.EntitlementsPath
		r.logEntitlements(bc.entitlements)
	}

	if profile.IsExpired() {
		if bc.source == profileExplicit {
			return r.fail(KindProfile, "check profile", r.req.Profile, fmt.Errorf("%w: %s", ErrProfileExpired, profile.ExpirationDate.Format("2006-01-02")))
		}
		r.warn("embedded provisioning profile %q expired on %s", profile.Name, profile.ExpirationDate.Format("2006-01-02"))
	}

	if r.certificate != nil && len(profile.DeveloperCertificates) > 0 && !profile.MatchesCertificate(r.certificate) {
		r.warn("provisioning profile %q does not include the certificate of %s", profile.Name, r.req.Identity)
	}

	appID := profile.AppID()
	if appID == "" || profile.IsWildcard() {
		return nil
	}
	if bc.newID == "" {
		bc.newID = appID
		return nil
	}
	if appID != bc.newID {
		return r.fail(KindProfile, "check profile", embedded,
			fmt.Errorf("%w: profile app ID %s, requested %s", ErrIdentifierConflict, appID, bc.newID))
	}
	return nil
}

// prepareExecutable marks the main executable as executable and checks that
// it is a Mach-O binary
func (r *run) prepareExecutable(bc *bundleContext) {
	execName, ok := r.meta.ReadKey(bc.infoPlist, codesign.KeyBundleExecutable)
	if !ok || strings.TrimSpace(execName) == "" {
		return
	}
	execPath := filepath.Join(bc.path, execName)

	info, err := os.Stat(execPath)
	if err != nil {
		r.warn("main executable %s not found", execName)
		return
	}
	if err := os.Chmod(execPath, info.Mode().Perm()|0111); err != nil {
		r.warn("unable to mark %s executable: %v", execName, err)
	}

	binary, err := codesign.InspectBinary(execPath)
	if err != nil {
		r.warn("main executable %s: %v", execName, err)
		return
	}
	r.log.WithField("arch", strings.Join(binary.Arches, ",")).WithField("signed", binary.Signed).Debug(execName)
}

// logEntitlements reads back the written entitlements and lists their keys
func (r *run) logEntitlements(path string) {
	entitlements, err := codesign.ReadEntitlements(path)
	if err != nil {
		r.log.WithError(err).Debug("unable to read back entitlements")
		return
	}
	keys := make([]string, 0, len(entitlements))
	for key := range entitlements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	r.log.WithField("keys", strings.Join(keys, ",")).Debug("entitlements")
}
