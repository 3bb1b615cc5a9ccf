package resign

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Download fetches url into dest, retrying failed attempts. A failed or
// canceled download leaves no file behind.
func Download(ctx context.Context, client *http.Client, url, dest string, attempts uint) error {
	if client == nil {
		client = http.DefaultClient
	}
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fetch(ctx, client, url, dest)
	}, retry.Attempts(attempts), retry.Delay(time.Second), retry.MaxDelay(10*time.Second))
	if err != nil {
		os.Remove(dest)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("error downloading file: %w", err)
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
	}
	return err
}
