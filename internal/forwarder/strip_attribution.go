package forwarder

import (
	"context"

	"github.com/go-faster/errors"

	"spectra-core/internal/recovery"
	"spectra-core/internal/telegram/pool"
)

// StripAttribution re-posts every message in channelID as a fresh message
// and deletes the original, removing Telegram's own "Forwarded from" header
// that a direct forward always carries. It stops at the first delete that
// fails with a Permission-class error. Any other repost or delete failure
// skips that message and the run continues; when the delete failed, the
// original stays in the channel next to its repost.
func (f *Forwarder) StripAttribution(ctx context.Context, channelID string, account string) (int, error) {
	client, err := f.pool.GetClient(ctx, account)
	if err != nil {
		return 0, errors.Wrap(err, "get client")
	}

	entity, err := client.ResolveEntity(ctx, channelID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve channel")
	}

	it := client.IterMessages(entity, pool.IterMessagesOptions{})
	reposted := 0
	for {
		msg, ok, err := it.Next(ctx)
		if err != nil {
			return reposted, errors.Wrap(err, "iterate messages")
		}
		if !ok {
			break
		}

		if err := client.RepostViaDownload(ctx, msg, entity, "", f.scratchDir); err != nil {
			continue // one message failing to repost is not fatal to the run
		}
		if err := client.DeleteMessages(ctx, entity, []int{msg.ID}); err != nil {
			if recovery.Classify(err).Category == recovery.CategoryPermission {
				return reposted, nil // not an admin here; stop before creating duplicates
			}
			continue
		}
		reposted++
	}
	return reposted, nil
}
