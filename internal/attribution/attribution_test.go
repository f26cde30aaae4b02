package attribution_test

import (
	"context"
	"testing"
	"time"

	"spectra-core/internal/attribution"
	"spectra-core/internal/config"
)

type fakeStats struct {
	calls []int64
	err   error
}

func (f *fakeStats) IncrAttributionStats(_ context.Context, sourceChannelID int64) error {
	f.calls = append(f.calls, sourceChannelID)
	return f.err
}

func TestFormat(t *testing.T) {
	t.Parallel()

	opts := config.AttributionOptions{
		Template:        "[Forwarded from {source_channel_name} (ID: {source_channel_id})] {sender_name}",
		TimestampFormat: "2006-01-02",
	}
	stats := &fakeStats{}
	f := attribution.New(opts, stats)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := f.Format(context.Background(), attribution.Params{
		MessageID:         456,
		SourceChannelName: "source_name",
		SourceChannelID:   789,
		SenderName:        "sender_name",
		SenderID:          101,
		Timestamp:         ts,
		DestinationID:     1,
	})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "[Forwarded from source_name (ID: 789)] sender_name"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
	if len(stats.calls) != 1 || stats.calls[0] != 789 {
		t.Fatalf("IncrAttributionStats calls = %v, want [789]", stats.calls)
	}
}

func TestFormatDisabledForDestination(t *testing.T) {
	t.Parallel()

	opts := config.AttributionOptions{
		Template:                    "{sender_name}",
		DisableAttributionForGroups: []int64{123},
	}
	stats := &fakeStats{}
	f := attribution.New(opts, stats)

	got, err := f.Format(context.Background(), attribution.Params{SenderName: "sender_name", DestinationID: 123})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Format() = %q, want empty string for disabled destination", got)
	}
	if len(stats.calls) != 0 {
		t.Fatalf("IncrAttributionStats should not be called for disabled destination, got %v", stats.calls)
	}
}

func TestFormatPropagatesStatsError(t *testing.T) {
	t.Parallel()

	opts := config.AttributionOptions{Template: "{sender_name}"}
	wantErr := context.Canceled
	stats := &fakeStats{err: wantErr}
	f := attribution.New(opts, stats)

	got, err := f.Format(context.Background(), attribution.Params{SenderName: "x", SourceChannelID: 1})
	if err != wantErr {
		t.Fatalf("Format() error = %v, want %v", err, wantErr)
	}
	if got != "x" {
		t.Fatalf("Format() should still return the rendered text on stats error, got %q", got)
	}
}
