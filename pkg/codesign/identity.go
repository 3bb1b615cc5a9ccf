package codesign

import (
	"fmt"
	"regexp"
	"strings"
)

// identityPattern matches the numbered lines of find-identity output:
//
//	$ security find-identity -v -p codesigning
//	  1) AABBCCDDEE1234567890AABBCCDDEE12345678 "Apple Development: Jane Doe (TEAM123)"
//	     1 valid identities found
var identityPattern = regexp.MustCompile(`^\s*\d+\)\s+[0-9A-Fa-f]+\s+"(.+)"`)

// ParseIdentityOutput returns the quoted identity names listed by
// `security find-identity`, in keychain order
func ParseIdentityOutput(output string) []string {
	var identities []string

	for _, line := range strings.Split(output, "\n") {
		matches := identityPattern.FindStringSubmatch(line)
		if len(matches) == 2 {
			identities = append(identities, matches[1])
		}
	}

	return identities
}

// ValidateIdentity checks that identity is one of the available identities.
// The returned error lists what is installed so the user can pick one.
func ValidateIdentity(identity string, available []string) error {
	for _, id := range available {
		if id == identity {
			return nil
		}
	}

	if len(available) == 0 {
		return fmt.Errorf("signing identity %q not found, no valid signing identities are installed", identity)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "signing identity %q not found\navailable identities:", identity)
	for _, id := range available {
		fmt.Fprintf(&b, "\n  - %s", id)
	}
	return fmt.Errorf("%s", b.String())
}
