package grouping_test

import (
	"reflect"
	"testing"
	"time"

	"spectra-core/internal/grouping"
	"spectra-core/internal/telegram/pool"
)

func msg(id int, sender int64, date int64) pool.Message {
	return pool.Message{ID: id, SenderID: sender, Date: date}
}

func TestGroupNone(t *testing.T) {
	t.Parallel()

	messages := []pool.Message{msg(1, 10, 0), msg(2, 10, 0), msg(3, 20, 0)}
	got := grouping.Group(messages, grouping.StrategyNone, 0)
	want := [][]pool.Message{{messages[0]}, {messages[1]}, {messages[2]}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Group(none) = %#v, want %#v", got, want)
	}
}

func TestGroupByTime(t *testing.T) {
	t.Parallel()

	window := 300 * time.Second
	cases := []struct {
		name string
		in   []pool.Message
		want [][]pool.Message
	}{
		{
			name: "sameSenderWithinWindowMerges",
			in:   []pool.Message{msg(1, 10, 0), msg(2, 10, 100), msg(3, 10, 299)},
			want: [][]pool.Message{{msg(1, 10, 0), msg(2, 10, 100), msg(3, 10, 299)}},
		},
		{
			name: "windowBreakSplits",
			in:   []pool.Message{msg(1, 10, 0), msg(2, 10, 301)},
			want: [][]pool.Message{{msg(1, 10, 0)}, {msg(2, 10, 301)}},
		},
		{
			name: "senderChangeSplitsEvenWithinWindow",
			in:   []pool.Message{msg(1, 10, 0), msg(2, 20, 1)},
			want: [][]pool.Message{{msg(1, 10, 0)}, {msg(2, 20, 1)}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := grouping.Group(tc.in, grouping.StrategyTime, window)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Group(time) = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestGroupByFilename(t *testing.T) {
	t.Parallel()

	withFile := func(id int, sender int64, name string) pool.Message {
		m := msg(id, sender, 0)
		m.MediaFile = name
		return m
	}

	cases := []struct {
		name string
		in   []pool.Message
		want [][]pool.Message
	}{
		{
			name: "multiPartArchiveGroupedAndOrderedByPartNumber",
			in: []pool.Message{
				withFile(3, 1, "movie.part2.rar"),
				withFile(1, 1, "movie.part1.rar"),
			},
			want: [][]pool.Message{
				{withFile(1, 1, "movie.part1.rar"), withFile(3, 1, "movie.part2.rar")},
			},
		},
		{
			name: "singleFileFallsBackToSingleton",
			in: []pool.Message{
				withFile(1, 1, "readme.txt"),
			},
			want: [][]pool.Message{
				{withFile(1, 1, "readme.txt")},
			},
		},
		{
			name: "differentSendersNeverGrouped",
			in: []pool.Message{
				withFile(1, 1, "clip.part1.mp4"),
				withFile(2, 2, "clip.part2.mp4"),
			},
			want: [][]pool.Message{
				{withFile(1, 1, "clip.part1.mp4")},
				{withFile(2, 2, "clip.part2.mp4")},
			},
		},
		{
			name: "noFilenameIsLoneMessage",
			in: []pool.Message{
				msg(1, 1, 0),
			},
			want: [][]pool.Message{
				{msg(1, 1, 0)},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := grouping.Group(tc.in, grouping.StrategyFilename, 0)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Group(filename) = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestGroupPartitionLaw(t *testing.T) {
	t.Parallel()

	withFile := func(id int, sender int64, name string) pool.Message {
		m := msg(id, sender, int64(id)*1000)
		m.MediaFile = name
		return m
	}

	messages := []pool.Message{
		withFile(1, 1, "a.part1.zip"),
		withFile(2, 1, "a.part2.zip"),
		withFile(3, 2, "b.txt"),
		msg(4, 3, 4000),
		withFile(5, 1, "c.part1.zip"),
	}

	for _, strategy := range []grouping.Strategy{grouping.StrategyNone, grouping.StrategyTime, grouping.StrategyFilename} {
		groups := grouping.Group(messages, strategy, 300*time.Second)

		seen := make(map[int]bool)
		total := 0
		for _, g := range groups {
			if len(g) == 0 {
				t.Fatalf("strategy %s produced an empty group", strategy)
			}
			for _, m := range g {
				if seen[m.ID] {
					t.Fatalf("strategy %s: message %d appeared in more than one group", strategy, m.ID)
				}
				seen[m.ID] = true
				total++
			}
		}
		if total != len(messages) {
			t.Fatalf("strategy %s: got %d messages across groups, want %d", strategy, total, len(messages))
		}

		for i := 1; i < len(groups); i++ {
			if groups[i-1][0].ID >= groups[i][0].ID {
				t.Fatalf("strategy %s: groups not ordered by first message id ascending", strategy)
			}
		}
	}
}

