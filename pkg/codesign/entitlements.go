package codesign

import (
	"errors"
	"fmt"
	"os"

	"howett.net/plist"
)

// ErrNoEntitlements is returned when a provisioning profile carries no entitlements dictionary
var ErrNoEntitlements = errors.New("provisioning profile has no entitlements")

// ExtractEntitlements extracts entitlements from a provisioning profile as XML plist bytes
func ExtractEntitlements(profile *ProvisioningProfile) ([]byte, error) {
	if profile == nil || profile.Entitlements == nil {
		return nil, ErrNoEntitlements
	}

	return EntitlementsToXML(profile.Entitlements)
}

// WriteEntitlements writes the profile's entitlements to path as an XML plist
func WriteEntitlements(profile *ProvisioningProfile, path string) error {
	data, err := ExtractEntitlements(profile)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write entitlements: %w", err)
	}

	return nil
}

// ReadEntitlements parses the entitlements plist at path
func ReadEntitlements(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entitlements: %w", err)
	}
	return ParseEntitlementsXML(data)
}

// EntitlementsToXML converts entitlements map to XML plist bytes
func EntitlementsToXML(entitlements map[string]interface{}) ([]byte, error) {
	data, err := plist.MarshalIndent(entitlements, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entitlements to XML: %w", err)
	}
	return data, nil
}

// ParseEntitlementsXML parses XML plist entitlements into a map
func ParseEntitlementsXML(data []byte) (map[string]interface{}, error) {
	var entitlements map[string]interface{}
	_, err := plist.Unmarshal(data, &entitlements)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entitlements XML: %w", err)
	}
	return entitlements, nil
}
