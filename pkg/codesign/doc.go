// Package codesign holds the iOS signing primitives used by the resign
// pipeline.
//
// Provisioning profiles are unwrapped from their CMS container and decoded
// into ProvisioningProfile. Entitlements are derived from the profile and
// written as an XML plist for the codesign tool. PlistMetadata reads and
// writes Info.plist keys without changing the file's format.
//
// Signing itself is delegated to Apple's codesign tool through Tool, which
// also lists keychain identities with the security tool and can import the
// Apple intermediate certificates when a valid identity fails to sign.
//
// # Basic Usage
//
//	tool := codesign.NewTool()
//	profile, err := codesign.LoadProvisioningProfile("app.mobileprovision")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := codesign.WriteEntitlements(profile, "entitlements.plist"); err != nil {
//	    log.Fatal(err)
//	}
//	_, err = tool.Sign(ctx, "Payload/App.app", "Apple Development: Jane Doe (TEAM123)", "entitlements.plist")
package codesign
