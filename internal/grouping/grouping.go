// Package grouping partitions a channel's messages into forward units
// (C5): singletons, sender/time bursts, or multi-part files sharing a
// base name. The forwarder treats each returned group as an atomic unit —
// it is forwarded, deduplicated and recorded as one.
package grouping

import (
	"time"

	"spectra-core/internal/telegram/pool"
)

// Strategy selects how Group partitions a message list.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyTime     Strategy = "time"
	StrategyFilename Strategy = "filename"
)

// Normalize maps an unrecognized or empty strategy string to StrategyNone
// rather than returning an error. The config loader is stricter: it maps an
// empty strategy to "none" but rejects an unrecognized one with a
// ConfigError.
func Normalize(s string) Strategy {
	switch Strategy(s) {
	case StrategyNone, StrategyTime, StrategyFilename:
		return Strategy(s)
	default:
		return StrategyNone
	}
}

// Group partitions messages, which must already be in ascending id order,
// into an ordered list of groups. The partition is exhaustive and disjoint
// (every message appears exactly once) and groups are ordered by their
// first message's id ascending.
func Group(messages []pool.Message, strategy Strategy, timeWindow time.Duration) [][]pool.Message {
	if len(messages) == 0 {
		return nil
	}
	switch strategy {
	case StrategyTime:
		return groupByTime(messages, timeWindow)
	case StrategyFilename:
		return groupByFilename(messages)
	default:
		return groupNone(messages)
	}
}

func groupNone(messages []pool.Message) [][]pool.Message {
	groups := make([][]pool.Message, len(messages))
	for i, m := range messages {
		groups[i] = []pool.Message{m}
	}
	return groups
}

// groupByTime starts a new group whenever the sender changes or the gap
// since the previous message in the current group exceeds timeWindow.
func groupByTime(messages []pool.Message, timeWindow time.Duration) [][]pool.Message {
	var groups [][]pool.Message
	current := []pool.Message{messages[0]}

	windowSecs := int64(timeWindow / time.Second)
	for i := 1; i < len(messages); i++ {
		prev := current[len(current)-1]
		curr := messages[i]
		sameSender := curr.SenderID == prev.SenderID
		withinWindow := curr.Date-prev.Date <= windowSecs
		if sameSender && withinWindow {
			current = append(current, curr)
			continue
		}
		groups = append(groups, current)
		current = []pool.Message{curr}
	}
	groups = append(groups, current)
	return groups
}
