package codesign

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ProfilesDir is where Xcode installs provisioning profiles, relative to the home directory
const ProfilesDir = "Library/MobileDevice/Provisioning Profiles"

// DefaultProfilesDir returns the installed provisioning profiles directory of the current user
func DefaultProfilesDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ProfilesDir), nil
}

// LoadProfiles parses every .mobileprovision file in dir. Files that fail to
// parse are returned by name in skipped.
func LoadProfiles(dir string) (profiles []*ProvisioningProfile, skipped []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mobileprovision") {
			continue
		}
		profile, err := LoadProvisioningProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped = append(skipped, entry.Name())
			continue
		}
		profiles = append(profiles, profile)
	}
	return profiles, skipped, nil
}

// CurrentProfiles drops the profiles expired at now and keeps the most
// recently created profile per application identifier. The result is sorted
// by name, then application identifier.
func CurrentProfiles(profiles []*ProvisioningProfile, now time.Time) []*ProvisioningProfile {
	newest := make(map[string]*ProvisioningProfile)
	for _, p := range profiles {
		if !p.ExpirationDate.After(now) {
			continue
		}
		appID := p.ApplicationIdentifier()
		if current, ok := newest[appID]; !ok || p.CreationDate.After(current.CreationDate) {
			newest[appID] = p
		}
	}

	current := make([]*ProvisioningProfile, 0, len(newest))
	for _, p := range newest {
		current = append(current, p)
	}
	sort.Slice(current, func(i, j int) bool {
		if current[i].Name != current[j].Name {
			return current[i].Name < current[j].Name
		}
		return current[i].ApplicationIdentifier() < current[j].ApplicationIdentifier()
	})
	return current
}
