// Package attribution renders the "[Forwarded from ...]" header the
// forwarder prepends to a group's first message (C6), and records which
// source channels were attributed.
package attribution

import (
	"context"
	"strconv"
	"strings"
	"time"

	"spectra-core/internal/config"
)

// Params are the recognized template fields, matching the
// sender_name/sender_id/source_channel_name/source_channel_id/message_id/
// timestamp set.
type Params struct {
	MessageID         int
	SourceChannelName string
	SourceChannelID   int64
	SenderName        string
	SenderID          int64
	Timestamp         time.Time
	// DestinationID is checked against DisableAttributionForGroups, not
	// SourceChannelID — the config disables attribution per destination.
	DestinationID int64
}

// StatsRecorder is the subset of the storage engine Format needs to credit
// a successful attribution to its source channel.
type StatsRecorder interface {
	IncrAttributionStats(ctx context.Context, sourceChannelID int64) error
}

// Formatter renders attribution headers from a config-driven template.
type Formatter struct {
	template string
	tsLayout string
	disabled map[int64]bool
	stats    StatsRecorder
}

// New builds a Formatter from the configured template, timestamp layout
// (a Go reference-time layout, e.g. "2006-01-02 15:04") and disabled
// destination list.
func New(opts config.AttributionOptions, stats StatsRecorder) *Formatter {
	disabled := make(map[int64]bool, len(opts.DisableAttributionForGroups))
	for _, id := range opts.DisableAttributionForGroups {
		disabled[id] = true
	}
	layout := opts.TimestampFormat
	if layout == "" {
		layout = time.RFC3339
	}
	return &Formatter{template: opts.Template, tsLayout: layout, disabled: disabled, stats: stats}
}

// Format renders the header for p, or returns "" without touching stats
// if p.DestinationID is in the disabled list. A successful, non-empty
// render increments the source channel's attribution counter.
func (f *Formatter) Format(ctx context.Context, p Params) (string, error) {
	if f.disabled[p.DestinationID] {
		return "", nil
	}

	replacer := strings.NewReplacer(
		"{sender_name}", p.SenderName,
		"{sender_id}", strconv.FormatInt(p.SenderID, 10),
		"{source_channel_name}", p.SourceChannelName,
		"{source_channel_id}", strconv.FormatInt(p.SourceChannelID, 10),
		"{message_id}", strconv.Itoa(p.MessageID),
		"{timestamp}", p.Timestamp.Format(f.tsLayout),
	)
	out := replacer.Replace(f.template)
	if out == "" {
		return "", nil
	}
	if f.stats != nil {
		if err := f.stats.IncrAttributionStats(ctx, p.SourceChannelID); err != nil {
			return out, err
		}
	}
	return out, nil
}
