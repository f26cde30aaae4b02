package forwarder

import (
	"context"
	"errors"
	"strconv"

	"spectra-core/internal/recovery"
	"spectra-core/internal/telegram/pool"
)

// ChannelResult is one channel's outcome within a ForwardAllAccessibleChannels
// run.
type ChannelResult struct {
	ChannelID int64
	Result    Result
	Err       error
}

// Report aggregates ForwardAllAccessibleChannels' per-channel outcomes into
// the three buckets §4.7/§7 require; the full per-channel detail lives in
// Successful/Failed/Banned, truncation to ten entries is a logging-layer
// concern, not this type's.
type Report struct {
	Successful []ChannelResult
	Failed     []ChannelResult
	Banned     []ChannelResult
	Stats      pool.Stats
}

// ForwardAllAccessibleChannels iterates every channel any account has ever
// observed (C2.GetAllUniqueChannels) and attempts ForwardMessages once per
// channel, using that channel's best-known account. A channel's failure
// never aborts the rest of the run; per §9's resolved open question, no
// fallback to a second account is attempted here.
func (f *Forwarder) ForwardAllAccessibleChannels(ctx context.Context, destination string) (Report, error) {
	channels, err := f.store.GetAllUniqueChannels(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, ch := range channels {
		origin := strconv.FormatInt(ch.ChannelID, 10)
		result, err := f.ForwardMessages(ctx, origin, destination, Options{Account: ch.BestAccountPhone})
		cr := ChannelResult{ChannelID: ch.ChannelID, Result: result, Err: err}

		switch {
		case err == nil:
			report.Successful = append(report.Successful, cr)
		case errors.Is(err, recovery.ErrUserBanned), errors.Is(err, recovery.ErrChannelPrivate):
			report.Banned = append(report.Banned, cr)
		default:
			report.Failed = append(report.Failed, cr)
		}
		report.Stats.MessagesForwarded += result.Stats.MessagesForwarded
		report.Stats.FilesForwarded += result.Stats.FilesForwarded
		report.Stats.BytesForwarded += result.Stats.BytesForwarded
	}
	return report, nil
}
