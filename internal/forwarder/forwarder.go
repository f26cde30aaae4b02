// Package forwarder is the forwarder state machine (C7): it turns a scan of
// an origin channel's history into groups (C5), filters duplicates (C3),
// forwards each surviving group through the client pool (C4), attributes it
// (C6), and records the outcome. No step here talks to Telegram directly —
// every upstream call goes through a pool.Client rented for the run.
package forwarder

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"spectra-core/internal/attribution"
	"spectra-core/internal/config"
	"spectra-core/internal/dedup"
	"spectra-core/internal/grouping"
	"spectra-core/internal/recovery"
	"spectra-core/internal/telegram/pool"
)

// ClientPool is the subset of *pool.Pool the forwarder rents sessions
// from; an interface so tests can substitute a fake pool.
type ClientPool interface {
	GetClient(ctx context.Context, accountID string) (*pool.Client, error)
}

// Oracle is the subset of *dedup.Oracle the forwarder consults per group.
type Oracle interface {
	IsDuplicate(ctx context.Context, files []dedup.FileCandidate) (bool, error)
	Record(ctx context.Context, files []dedup.FileCandidate, originChannelID int64) error
}

// Attributor is the subset of *attribution.Formatter the forwarder uses to
// render a group's header.
type Attributor interface {
	Format(ctx context.Context, p attribution.Params) (string, error)
}

// Forwarder wires C3-C6 into the ForwardMessages/ForwardAllAccessibleChannels/
// ForwardFilesBySchedule/ProcessFileForwardQueue verbs. One instance is
// shared across a whole run.
type Forwarder struct {
	pool       ClientPool
	store      ScheduleStore
	oracle     Oracle
	attrib     Attributor
	cfg        *config.Config
	scratchDir string
	bwLimiter  *rate.Limiter
}

// New builds a Forwarder. scratchDir is where downloaded media lands before
// a restricted-forward repost or a dedup hash computation; files are always
// removed before the call returns, successful or not. When
// scheduler.bandwidth_limit_kbps is configured above zero, the file forward
// queue's drain routine is throttled to that aggregate byte rate.
func New(p ClientPool, store ScheduleStore, oracle Oracle, attrib Attributor, cfg *config.Config, scratchDir string) *Forwarder {
	f := &Forwarder{pool: p, store: store, oracle: oracle, attrib: attrib, cfg: cfg, scratchDir: scratchDir}
	if kbps := cfg.SchedulerOptions().BandwidthLimitKbps; kbps > 0 {
		bytesPerSecond := kbps * 1024
		f.bwLimiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
	return f
}

// Options configures one ForwardMessages call.
type Options struct {
	Account        string
	StartMessageID int
}

// Result is ForwardMessages' return value: the watermark to persist as the
// next run's StartMessageID, and the accumulated stats.
type Result struct {
	NewLastID int
	Stats     pool.Stats
}

// ForwardMessages implements §4.7's top-level algorithm: fetch origin's
// history since StartMessageID, group it, and forward each surviving group
// to destination.
func (f *Forwarder) ForwardMessages(ctx context.Context, origin, destination string, opts Options) (Result, error) {
	client, err := f.pool.GetClient(ctx, opts.Account)
	if err != nil {
		return Result{}, errors.Wrap(err, "get client")
	}

	originEntity, err := client.ResolveEntity(ctx, origin)
	if err != nil {
		return Result{}, errors.Wrap(err, "resolve origin")
	}
	destEntity, err := client.ResolveEntity(ctx, destination)
	if err != nil {
		return Result{}, errors.Wrap(err, "resolve destination")
	}

	return f.forwardFromEntity(ctx, client, originEntity, destEntity, opts.StartMessageID)
}

func (f *Forwarder) forwardFromEntity(ctx context.Context, client *pool.Client, originEntity, destEntity pool.Entity, startMessageID int) (Result, error) {
	messages, err := fetchAscending(ctx, client, originEntity, startMessageID)
	if err != nil {
		return Result{}, err
	}

	result := Result{NewLastID: startMessageID}
	if len(messages) == 0 {
		return result, nil
	}

	grpOpts := f.cfg.GroupingOptions()
	groups := grouping.Group(messages, grouping.Normalize(grpOpts.Strategy), time.Duration(grpOpts.TimeWindowSeconds)*time.Second)

	fwdOpts := f.cfg.ForwardingOptions()
	for _, group := range groups {
		outcome, err := f.processGroup(ctx, client, originEntity, destEntity, group, fwdOpts)
		if err != nil {
			return result, err // Auth errors stop the whole operation, per §7.
		}
		if outcome.forwarded {
			result.NewLastID = group[0].ID
			result.Stats.MessagesForwarded += len(group)
			result.Stats.FilesForwarded += outcome.filesForwarded
			result.Stats.BytesForwarded += outcome.bytesForwarded
		}
	}
	return result, nil
}

// fetchAscending collects entity's full history since minID and reverses it
// to ascending id order, per §4.7 step 3 (Telegram's history RPC is
// newest-first).
func fetchAscending(ctx context.Context, client *pool.Client, entity pool.Entity, minID int) ([]pool.Message, error) {
	it := client.IterMessages(entity, pool.IterMessagesOptions{MinID: minID})
	var out []pool.Message
	for {
		msg, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "iterate messages")
		}
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return reverseMessages(out), nil
}

// reverseMessages returns msgs in reverse order without mutating its input.
func reverseMessages(msgs []pool.Message) []pool.Message {
	out := make([]pool.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

type groupOutcome struct {
	forwarded      bool
	filesForwarded int
	bytesForwarded int64
}

// tallyGroup counts group's media files and total bytes; forwarded is left
// false, the caller sets it once the forward itself has actually succeeded.
func tallyGroup(group []pool.Message) groupOutcome {
	var outcome groupOutcome
	for _, m := range group {
		if m.HasMedia {
			outcome.filesForwarded++
			outcome.bytesForwarded += m.MediaBytes
		}
	}
	return outcome
}

// processGroup runs one group through the Pending -> Checked -> PrimaryForwarded
// -> (Recorded, SecondaryForwarded?, SavedFannedOut?) -> Done machine
// described in §4.7. A returned error is always an Auth-class failure that
// must stop the whole run; every other failure is absorbed into a Skipped/
// Failed outcome and the caller moves on to the next group.
func (f *Forwarder) processGroup(ctx context.Context, client *pool.Client, origin, destination pool.Entity, group []pool.Message, fwdOpts config.ForwardingOptions) (groupOutcome, error) {
	candidates, cleanup, err := f.downloadCandidates(ctx, client, origin, group)
	defer cleanup()
	if err != nil {
		return groupOutcome{}, nil // download failures are never fatal to the run
	}

	if fwdOpts.EnableDeduplication && f.oracle != nil && len(candidates) > 0 {
		dup, err := f.oracle.IsDuplicate(ctx, candidates)
		if err != nil {
			return groupOutcome{}, nil
		}
		if dup {
			return groupOutcome{}, nil // Pending -> Skipped(duplicate)
		}
	}

	ids := make([]int, len(group))
	for i, m := range group {
		ids[i] = m.ID
	}

	header, err := f.renderAttribution(ctx, client, origin, destination, group[0], fwdOpts)
	if err != nil {
		return groupOutcome{}, nil
	}

	if err := f.forwardGroup(ctx, client, origin, destination, group, ids, header); err != nil {
		class := recovery.Classify(err)
		if class.Category == recovery.CategoryAuth {
			return groupOutcome{}, err // stop the whole operation
		}
		return groupOutcome{}, nil // Checked -> Failed(permission|flood|rpc)
	}

	// PrimaryForwarded -> Recorded: dedup side effects only happen for a
	// fully forwarded group, never for a partially-forwarded one.
	if len(candidates) > 0 && f.oracle != nil {
		_ = f.oracle.Record(ctx, candidates, origin.ID())
	}

	outcome := tallyGroup(group)
	outcome.forwarded = true

	if fwdOpts.SecondaryUniqueDestination != "" {
		f.forwardToSecondary(ctx, client, origin, group, ids, header, fwdOpts.SecondaryUniqueDestination)
	}
	if fwdOpts.ForwardToAllSavedMessages {
		f.fanOutToSavedMessages(ctx, group, origin)
	}

	return outcome, nil
}

// forwardGroup attempts a direct forward for every message in the group; on
// a restricted-forwarding error it falls back to the download-repost
// workaround message by message, per §4.7 step 5(b).
func (f *Forwarder) forwardGroup(ctx context.Context, client *pool.Client, origin, destination pool.Entity, group []pool.Message, ids []int, header string) error {
	err := client.ForwardMessages(ctx, origin, destination, ids, 0)
	if err == nil {
		return nil
	}
	if !errors.Is(err, recovery.ErrForwardsRestricted) {
		return err
	}

	for _, m := range group {
		if rerr := client.RepostViaDownload(ctx, m, destination, header, f.scratchDir); rerr != nil {
			return rerr
		}
		header = "" // attribution only prefixes the first reposted message
	}
	return nil
}

func (f *Forwarder) forwardToSecondary(ctx context.Context, client *pool.Client, origin pool.Entity, group []pool.Message, ids []int, header string, secondary string) {
	secondaryEntity, err := client.ResolveEntity(ctx, secondary)
	if err != nil {
		return
	}
	_ = f.forwardGroup(ctx, client, origin, secondaryEntity, group, ids, header)
}

// fanOutToSavedMessages forwards group to every active account's own Saved
// Messages chat, per §4.4's "iterates the active account set, swapping
// clients as needed" contract. One account's failure never blocks another's.
func (f *Forwarder) fanOutToSavedMessages(ctx context.Context, group []pool.Message, origin pool.Entity) {
	accounts := f.cfg.ActiveAccounts()
	var wg errgroup.Group
	for _, acc := range accounts {
		acc := acc
		wg.Go(func() error {
			client, err := f.pool.GetClient(ctx, acc.SessionName)
			if err != nil {
				return nil
			}
			return client.ForwardToSavedMessages(ctx, group, origin)
		})
	}
	_ = wg.Wait()
}

// downloadCandidates downloads every media file in group into the
// forwarder's scratch directory so the dedup oracle can hash it, per §9's
// "memoization is safe, same bytes -> same hash" resolution. The returned
// cleanup func always removes every downloaded file, whether or not the
// group ends up forwarded.
func (f *Forwarder) downloadCandidates(ctx context.Context, client *pool.Client, origin pool.Entity, group []pool.Message) ([]dedup.FileCandidate, func(), error) {
	var candidates []dedup.FileCandidate
	var paths []string
	cleanup := func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}

	for _, m := range group {
		if !m.HasMedia || m.MediaID == "" {
			continue
		}
		path := filepath.Join(f.scratchDir, "dedup-"+strconv.Itoa(m.ID))
		if _, err := client.DownloadMedia(ctx, m, path); err != nil {
			continue // failed downloads are never treated as duplicates
		}
		paths = append(paths, path)
		candidates = append(candidates, dedup.FileCandidate{
			FileID:    m.MediaID,
			MIMEType:  m.MediaMIME,
			LocalPath: path,
			ChannelID: origin.ID(),
			MessageID: int64(m.ID),
			TopicID:   int64(m.TopicID),
		})
	}
	return candidates, cleanup, nil
}

// renderAttribution resolves the sending user's display name and builds the
// header text for the group's first message, honoring fwdOpts's
// ForwardWithAttribution flag.
func (f *Forwarder) renderAttribution(ctx context.Context, client *pool.Client, origin, destination pool.Entity, first pool.Message, fwdOpts config.ForwardingOptions) (string, error) {
	if !fwdOpts.ForwardWithAttribution || f.attrib == nil {
		return "", nil
	}
	senderName := ""
	if first.SenderID != 0 {
		if senderEntity, err := client.ResolveEntity(ctx, strconv.FormatInt(first.SenderID, 10)); err == nil {
			senderName = senderEntity.Name()
		}
	}
	return f.attrib.Format(ctx, attribution.Params{
		MessageID:         first.ID,
		SourceChannelName: origin.Name(),
		SourceChannelID:   origin.ID(),
		SenderName:        senderName,
		SenderID:          first.SenderID,
		Timestamp:         time.Unix(first.Date, 0).UTC(),
		DestinationID:     destination.ID(),
	})
}
