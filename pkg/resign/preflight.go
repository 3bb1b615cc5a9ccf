package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"
)

// Repairer fixes the local signing setup after a failed test signature
type Repairer interface {
	Repair(ctx context.Context, dir string) error
}

// Preflight signs and verifies a copy of the running executable in dir to
// prove that identity can sign before any input is touched. After a failed
// attempt the repairer, if any, runs once and the test is repeated once.
func Preflight(ctx context.Context, signer CodeSigner, repairer Repairer, identity, dir string, log logrus.FieldLogger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityTest, err)
	}
	return preflight(ctx, signer, repairer, exe, identity, dir, log)
}

func preflight(ctx context.Context, signer CodeSigner, repairer Repairer, exe, identity, dir string, log logrus.FieldLogger) error {
	test := filepath.Join(dir, "test-sign")
	defer os.Remove(test)

	attempt := 0
	err := retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		if attempt > 1 && repairer != nil {
			log.Warn("codesigning test failed, trying to repair the signing setup")
			if err := repairer.Repair(ctx, dir); err != nil {
				log.WithError(err).Warn("unable to repair the signing setup")
			}
		}

		if err := copyFile(exe, test, 0755); err != nil {
			return err
		}
		if out, err := signer.Sign(ctx, test, identity, ""); err != nil {
			log.WithError(err).Debug(out)
		}
		if _, err := signer.Verify(ctx, test); err != nil {
			return err
		}
		return nil
	}, retry.Attempts(2), retry.Delay(100*time.Millisecond), retry.MaxDelay(time.Second))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", ErrIdentityTest, identity, err)
	}
	return nil
}
