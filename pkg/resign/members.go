package resign

import (
	"context"
	"os"
	"path/filepath"
)

// signableExtensions are the file and bundle extensions handed to codesign
var signableExtensions = map[string]bool{
	".dylib":     true,
	".so":        true,
	".0":         true,
	".vis":       true,
	".pvr":       true,
	".framework": true,
	".appex":     true,
	".app":       true,
}

// IsSignable reports whether name has a signable extension
func IsSignable(name string) bool {
	return signableExtensions[filepath.Ext(name)]
}

// DiscoverSignables returns the signable members below root in post-order:
// every member comes after the members nested inside it. root itself is not
// included. Symbolic links are not followed.
func DiscoverSignables(root string) ([]string, error) {
	var found []string
	if err := discover(root, &found); err != nil {
		return nil, err
	}
	return found, nil
}

func discover(dir string, found *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if entry.IsDir() {
			if err := discover(path, found); err != nil {
				return err
			}
		}
		if IsSignable(entry.Name()) {
			*found = append(*found, path)
		}
	}
	return nil
}

// signMembers signs every signable member below dir. Per-file failures are
// returned as warnings; only cancellation stops the pass.
func (r *run) signMembers(ctx context.Context, dir, entitlements string) ([]string, error) {
	members, err := DiscoverSignables(dir)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		if err := r.sign(ctx, member, entitlements); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	return warnings, nil
}

// sign signs one file and reports it to the observer
func (r *run) sign(ctx context.Context, path, entitlements string) error {
	r.obs.SignStarted(path)
	out, err := r.signer.Sign(ctx, path, r.req.Identity, entitlements)
	r.obs.SignFinished(path, out, err)
	return err
}
