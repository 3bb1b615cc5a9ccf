package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluedeke/go-appsigner/pkg/codesign"
	"github.com/aluedeke/go-appsigner/pkg/config"
	"github.com/aluedeke/go-appsigner/pkg/logging"
	"github.com/aluedeke/go-appsigner/pkg/resign"
	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

const usage = `go-appsigner - iOS App Signer

Resign iOS applications (.ipa, .deb, .app or .xcarchive) with a keychain signing
identity and an optional provisioning profile.

Usage:
  go-appsigner resign --input=<path> [--output=<path>] [--certificate=<name>] [--profile=<path>] [--bundleid=<id>] [--displayname=<name>] [--bundle-version=<v>] [--short-version=<v>] [--skip-preflight] [--config=<path>] [--debug]
  go-appsigner info --input=<path> [--debug]
  go-appsigner info --profile=<path> [--udid=<id>]
  go-appsigner identities
  go-appsigner profiles [--dir=<path>] [--debug]
  go-appsigner -h | --help
  go-appsigner --version

Commands:
  resign      Resign an application with a new signing identity
  info        Display information about an application or provisioning profile
  identities  List the code signing identities in the keychain
  profiles    List the installed provisioning profiles that have not expired

Options:
  --input=<path>          Input .ipa, .deb, .app or .xcarchive, or an http(s) URL
  --output=<path>         Output .ipa (or .app), defaults to <input>-resigned.ipa
  --certificate=<name>    Signing identity name (or APPSIGNER_CERTIFICATE env var)
  --profile=<path>        Provisioning profile to embed (or APPSIGNER_PROFILE env var)
  --bundleid=<id>         New bundle identifier
  --displayname=<name>    New display name
  --bundle-version=<v>    New CFBundleVersion
  --short-version=<v>     New CFBundleShortVersionString
  --skip-preflight        Skip the test signature before resigning
  --config=<path>         YAML defaults file (or APPSIGNER_CONFIG env var)
  --udid=<id>             Check whether the profile provisions this device
  --dir=<path>            Provisioning profiles directory, defaults to ~/Library/MobileDevice/Provisioning Profiles
  --debug                 Verbose output
  -h --help               Show this help message
  --version               Show version

Examples:
  # Resign an IPA with a new profile and bundle identifier
  go-appsigner resign --input=MyApp.ipa --certificate="Apple Development: Jane Doe (TEAM123)" \
      --profile=dev.mobileprovision --bundleid=com.example.myapp

  # Resign a jailbreak package
  go-appsigner resign --input=tweak.deb --certificate="Apple Development: Jane Doe (TEAM123)"

  # View provisioning profile information
  go-appsigner info --profile=dev.mobileprovision
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	debug, _ := opts.Bool("--debug")
	logger := logging.New(os.Stderr, debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd, _ := opts.Bool("resign"); cmd {
		err = runResign(ctx, opts, logger)
	} else if cmd, _ := opts.Bool("info"); cmd {
		err = runInfo(ctx, opts, logger)
	} else if cmd, _ := opts.Bool("identities"); cmd {
		err = runIdentities(ctx)
	} else if cmd, _ := opts.Bool("profiles"); cmd {
		err = runProfiles(opts, logger)
	}

	if err != nil {
		logger.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

func runResign(ctx context.Context, opts docopt.Opts, logger *logrus.Logger) error {
	configPath, _ := opts.String("--config")
	cfg, err := config.Resolve(configPath, os.Getenv)
	if err != nil {
		return err
	}

	input, _ := opts.String("--input")
	output, _ := opts.String("--output")
	certificate, _ := opts.String("--certificate")
	profile, _ := opts.String("--profile")
	bundleID, _ := opts.String("--bundleid")
	displayName, _ := opts.String("--displayname")
	bundleVersion, _ := opts.String("--bundle-version")
	shortVersion, _ := opts.String("--short-version")
	skipPreflight, _ := opts.Bool("--skip-preflight")

	req := resign.Request{
		Input:         input,
		Output:        output,
		Identity:      config.First(certificate, cfg.Certificate),
		Profile:       config.First(profile, cfg.Profile),
		BundleID:      bundleID,
		DisplayName:   displayName,
		Version:       bundleVersion,
		ShortVersion:  shortVersion,
		SkipPreflight: skipPreflight || cfg.SkipPreflight,
	}
	if req.Identity == "" {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("--certificate is required (or set %s)", config.EnvCertificate)
	}

	tool := codesign.NewTool()
	if cfg.CodesignPath != "" {
		tool.CodesignPath = cfg.CodesignPath
	}
	if cfg.SecurityPath != "" {
		tool.SecurityPath = cfg.SecurityPath
	}

	observer := resign.NewAsyncObserver(resign.LogObserver{Logger: logger}, 256)
	signer := resign.New(resign.Options{
		CodeSigner:      tool,
		Identities:      tool,
		Repairer:        tool,
		Observer:        observer,
		Logger:          logger,
		DownloadRetries: cfg.DownloadRetries,
	})

	outcome, err := signer.Run(ctx, req)
	observer.Close()
	if err != nil {
		var runErr *resign.Error
		if errors.As(err, &runErr) && len(runErr.Warnings) > 0 {
			logger.Warnf("%d warnings before the failure", len(runErr.Warnings))
		}
		return err
	}

	if outcome.Warnings > 0 {
		logger.WithField(logging.StepField, fmt.Sprintf("completed with %d warnings: %s", outcome.Warnings, outcome.OutputPath)).Warn("")
		for _, w := range outcome.WarningMessages {
			logger.Warn(w)
		}
		return nil
	}
	logger.WithField(logging.StepField, "resigned "+outcome.OutputPath).Info("")
	return nil
}

func runInfo(ctx context.Context, opts docopt.Opts, logger *logrus.Logger) error {
	inputPath, _ := opts.String("--input")
	profilePath, _ := opts.String("--profile")
	udid, _ := opts.String("--udid")

	if inputPath != "" {
		return showAppInfo(ctx, inputPath, logger)
	} else if profilePath != "" {
		return showProfileInfo(profilePath, udid)
	}

	return fmt.Errorf("either --input or --profile is required")
}

func runIdentities(ctx context.Context) error {
	identities, err := codesign.NewTool().Identities(ctx)
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		return fmt.Errorf("no valid signing identities are installed")
	}
	for _, id := range identities {
		fmt.Println(id)
	}
	return nil
}

func runProfiles(opts docopt.Opts, logger *logrus.Logger) error {
	dir, _ := opts.String("--dir")
	if dir == "" {
		var err error
		if dir, err = codesign.DefaultProfilesDir(); err != nil {
			return err
		}
	}

	profiles, skipped, err := codesign.LoadProfiles(dir)
	if err != nil {
		return err
	}
	for _, name := range skipped {
		logger.WithField("file", name).Debug("unable to parse provisioning profile")
	}

	current := codesign.CurrentProfiles(profiles, time.Now())
	logger.WithField(logging.StepField, fmt.Sprintf("found %d provisioning profiles, %d current", len(profiles), len(current))).Info("")
	for _, p := range current {
		fmt.Printf("%s (%s)\n", p.Name, p.TeamID())
		fmt.Printf("  App ID:   %s\n", p.ApplicationIdentifier())
		fmt.Printf("  Created:  %s\n", p.CreationDate.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Expires:  %s\n", p.ExpirationDate.Format("2006-01-02 15:04:05"))
		fmt.Printf("  File:     %s\n", p.Filename)
	}
	return nil
}

func showAppInfo(ctx context.Context, inputPath string, logger *logrus.Logger) error {
	kind, err := resign.ParseInputKind(inputPath)
	if err != nil {
		return err
	}

	ws, err := resign.NewWorkspace("", logger)
	if err != nil {
		return err
	}
	defer ws.Destroy()

	if err := resign.Extract(ctx, kind, inputPath, ws); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(inputPath), err)
	}

	entries, err := os.ReadDir(ws.PayloadDir)
	if err != nil {
		return err
	}

	fmt.Println("Application Information")
	fmt.Println("=======================")
	fmt.Printf("File:        %s (%s)\n", inputPath, kind)

	meta := codesign.PlistMetadata{}
	for _, entry := range entries {
		appPath := filepath.Join(ws.PayloadDir, entry.Name())
		plistPath := codesign.InfoPlistPath(appPath)

		fmt.Println()
		fmt.Printf("App Name:    %s\n", entry.Name())
		if bundleID, err := codesign.GetAppBundleID(appPath); err == nil {
			fmt.Printf("Bundle ID:   %s\n", bundleID)
		} else {
			logger.WithError(err).Warn("unable to read bundle identifier")
		}
		for _, field := range []struct{ label, key string }{
			{"Name:        ", codesign.KeyDisplayName},
			{"Version:     ", codesign.KeyShortVersion},
			{"Build:       ", codesign.KeyBundleVersion},
		} {
			if value, ok := meta.ReadKey(plistPath, field.key); ok {
				fmt.Printf("%s%s\n", field.label, value)
			}
		}

		if execName, err := codesign.GetAppExecutableName(appPath); err == nil {
			fmt.Printf("Executable:  %s\n", execName)
			if binary, err := codesign.InspectBinary(filepath.Join(appPath, execName)); err == nil {
				fmt.Printf("Arch:        %s\n", strings.Join(binary.Arches, ", "))
				fmt.Printf("Signed:      %v\n", binary.Signed)
			}
		}

		if members, err := resign.DiscoverSignables(appPath); err == nil && len(members) > 0 {
			fmt.Printf("Signable:    %d nested members\n", len(members))
		}

		profile, err := codesign.LoadProvisioningProfile(filepath.Join(appPath, codesign.EmbeddedProfileName))
		if err != nil {
			continue
		}
		fmt.Println()
		fmt.Println("Embedded Provisioning Profile")
		fmt.Println("-----------------------------")
		fmt.Printf("Name:           %s\n", profile.Name)
		fmt.Printf("Team ID:        %s\n", profile.TeamID())
		fmt.Printf("App ID:         %s\n", profile.ApplicationIdentifier())
		fmt.Printf("Expired:        %v\n", profile.IsExpired())
		fmt.Printf("Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02"))
		printCertificates(profile)
	}

	return nil
}

func showProfileInfo(profilePath, udid string) error {
	profile, err := codesign.LoadProvisioningProfile(profilePath)
	if err != nil {
		return err
	}

	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:           %s\n", profilePath)
	fmt.Printf("Name:           %s\n", profile.Name)
	fmt.Printf("Team ID:        %s\n", profile.TeamID())
	fmt.Printf("App ID:         %s\n", profile.ApplicationIdentifier())
	fmt.Printf("Wildcard:       %v\n", profile.IsWildcard())
	fmt.Printf("UUID:           %s\n", profile.UUID)
	fmt.Printf("Created:        %s\n", profile.CreationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:        %v\n", profile.IsExpired())
	printCertificates(profile)

	if udid != "" {
		fmt.Printf("Device %s:  allowed=%v\n", udid, profile.IsDeviceAllowed(udid))
	}

	if len(profile.ProvisionedDevices) > 0 {
		fmt.Printf("Devices:        %d\n", len(profile.ProvisionedDevices))
		fmt.Println()
		fmt.Println("Provisioned Devices:")
		for _, udid := range profile.ProvisionedDevices {
			fmt.Printf("  - %s\n", udid)
		}
	}

	if len(profile.Entitlements) > 0 {
		fmt.Println()
		fmt.Println("Entitlements:")
		keys := make([]string, 0, len(profile.Entitlements))
		for key := range profile.Entitlements {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("  %s: %v\n", key, profile.Entitlements[key])
		}
	}

	return nil
}

func printCertificates(profile *codesign.ProvisioningProfile) {
	certs, err := profile.GetCertificates()
	if err != nil {
		return
	}
	fmt.Printf("Certificates:   %d\n", len(certs))
	for i, cert := range certs {
		fmt.Printf("  [%d] %s\n", i+1, cert.Subject.CommonName)
		fmt.Printf("      Serial: %s\n", cert.SerialNumber.String())
		fmt.Printf("      Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
		if len(cert.Subject.OrganizationalUnit) > 0 {
			fmt.Printf("      Team ID: %s\n", cert.Subject.OrganizationalUnit[0])
		}
	}
}
