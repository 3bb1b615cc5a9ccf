package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const eggExtension = ".egg"

// findEggs returns every egg file below dir, sorted by path
func findEggs(dir string) ([]string, error) {
	var eggs []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && filepath.Ext(path) == eggExtension {
			eggs = append(eggs, path)
		}
		return nil
	})
	sort.Strings(eggs)
	return eggs, err
}

// expandEggs processes every egg below dir innermost first: the egg is
// extracted into a scratch directory, its own eggs are processed, its members
// are signed, and the scratch directory is archived back over the egg. An egg
// that cannot be extracted is skipped with a warning.
func (r *run) expandEggs(ctx context.Context, dir, entitlements string) ([]string, error) {
	eggs, err := findEggs(dir)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for _, egg := range eggs {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}

		scratch, err := r.ws.NextEggDir()
		if err != nil {
			return warnings, err
		}

		r.log.WithField("egg", filepath.Base(egg)).Debug("extracting egg")
		if err := ExtractZip(egg, scratch); err != nil {
			warnings = append(warnings, fmt.Sprintf("unable to extract egg %s: %v", filepath.Base(egg), err))
			continue
		}

		nested, err := r.expandEggs(ctx, scratch, entitlements)
		warnings = append(warnings, nested...)
		if err != nil {
			return warnings, err
		}

		signed, err := r.signMembers(ctx, scratch, entitlements)
		warnings = append(warnings, signed...)
		if err != nil {
			return warnings, err
		}

		if err := rearchiveEgg(scratch, egg); err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

// rearchiveEgg replaces egg with an archive of dir. The archive is written to
// a sibling first so a failure leaves the original egg in place.
func rearchiveEgg(dir, egg string) error {
	tmp := egg + ".tmp"
	if err := CreateZip(dir, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to archive egg %s: %w", filepath.Base(egg), err)
	}
	if err := os.Rename(tmp, egg); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace egg %s: %w", filepath.Base(egg), err)
	}
	return nil
}
