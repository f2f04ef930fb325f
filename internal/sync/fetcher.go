package sync

import (
	"context"
	"fmt"

	"github.com/mailmirror/mailmirror/internal/mail"
)

// safeFetchBodies downloads one chunk of bodies, retrying exactly once over
// a fresh connection if the fetch fails for any reason other than a MIME
// decode error. Encoding failures are fatal for the folder and propagate.
func (r *run) safeFetchBodies(ctx context.Context, folder string, uids []uint32) ([]mail.FetchedMessage, error) {
	fetched, err := r.client.FetchBodies(ctx, uids)
	if err == nil {
		return fetched, nil
	}
	if mail.IsEncoding(err) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	r.logger.Warn("body fetch failed, reconnecting",
		"folder", folder, "uids", len(uids), "error", err)
	r.engine.metrics.reconnects.Add(1)

	fresh, dialErr := r.engine.dialer.Dial(ctx, r.client.EmailAddress())
	if dialErr != nil {
		return nil, fmt.Errorf("reconnect after fetch failure: %w (fetch error: %v)", dialErr, err)
	}
	_ = r.client.Close()
	r.client = fresh

	if _, err := fresh.SelectFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("re-select %q after reconnect: %w", folder, err)
	}
	fetched, err = fresh.FetchBodies(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("body fetch after reconnect: %w", err)
	}
	return fetched, nil
}
