package grouping

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"spectra-core/internal/telegram/pool"
)

// multiPartExtensions lists compound extensions that must be recognized
// whole, before the generic single-extension split runs — otherwise
// "archive.tar.gz" would be read as base "archive.tar", ext ".gz".
var multiPartExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz"}

var (
	standalonePartDotPart   = regexp.MustCompile(`(?i)^\.part(\d+)$`)
	standalonePartUnderPart = regexp.MustCompile(`(?i)^_part(\d+)$`)
	standalonePartParen     = regexp.MustCompile(`(?i)^\s*\((\d+)\)$`)

	endDotPart   = regexp.MustCompile(`(?i)(\.part(\d+))$`)
	endUnderPart = regexp.MustCompile(`(?i)(_part(\d+))$`)
	endParen     = regexp.MustCompile(`(?i)(\s*\((\d+)\))$`)
	endDotNum    = regexp.MustCompile(`(?i)(\.(\d{1,4}))$`)
	endUnderNum  = regexp.MustCompile(`(?i)(_(\d{1,4}))$`)
)

type filenameParts struct {
	base       string
	partString string
	partNumber int
	ext        string
}

// parseFilenameForGrouping strips a recognized part indicator and
// extension from filename, returning the remaining base name. ok is false
// only for an empty filename.
func parseFilenameForGrouping(filename string) (filenameParts, bool) {
	if filename == "" {
		return filenameParts{}, false
	}

	nameSansExt := filename
	ext := ""
	lower := strings.ToLower(filename)
	for _, multi := range multiPartExtensions {
		if strings.HasSuffix(lower, multi) {
			nameSansExt = filename[:len(filename)-len(multi)]
			ext = multi
			break
		}
	}

	if ext == "" {
		if i := strings.LastIndex(nameSansExt, "."); i >= 0 {
			ext = nameSansExt[i:]
			nameSansExt = nameSansExt[:i]
		}
	}

	// The "extension" may itself be a part indicator (e.g. "clip.part1"
	// has no real extension at all, just a part suffix).
	if ext != "" {
		for _, re := range []*regexp.Regexp{standalonePartDotPart, standalonePartUnderPart, standalonePartParen} {
			if m := re.FindStringSubmatch(ext); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return filenameParts{base: nameSansExt, partString: ext, partNumber: n, ext: ""}, true
				}
			}
		}
	}

	type endPattern struct {
		re       *regexp.Regexp
		wholeIdx int
		numIdx   int
	}
	patterns := []endPattern{
		{endDotPart, 1, 2},
		{endUnderPart, 1, 2},
		{endParen, 0, 2},
		{endDotNum, 1, 2},
		{endUnderNum, 1, 2},
	}

	for _, p := range patterns {
		loc := p.re.FindStringSubmatchIndex(nameSansExt)
		if loc == nil {
			continue
		}
		numberStr := nameSansExt[loc[2*p.numIdx]:loc[2*p.numIdx+1]]
		var partString string
		var start int
		if p.wholeIdx == 0 {
			partString = nameSansExt[loc[0]:loc[1]]
			start = loc[0]
		} else {
			partString = nameSansExt[loc[2*p.wholeIdx]:loc[2*p.wholeIdx+1]]
			start = loc[2*p.wholeIdx]
		}
		baseName := nameSansExt[:start]
		if p.wholeIdx == 0 && strings.HasSuffix(baseName, " ") && !strings.HasPrefix(partString, " ") {
			baseName = strings.TrimRight(baseName, " ")
		}
		if baseName == "" && partString == nameSansExt {
			return filenameParts{base: nameSansExt, ext: ext}, true
		}
		n, err := strconv.Atoi(numberStr)
		if err != nil {
			continue
		}
		return filenameParts{base: baseName, partString: partString, partNumber: n, ext: ext}, true
	}

	return filenameParts{base: nameSansExt, ext: ext}, true
}

type filenameGroupKey struct {
	senderID int64
	base     string
	ext      string
}

// groupByFilename clusters messages by (sender, lowercased base,
// lowercased extension); a candidate group of size 1 falls back to a
// singleton rather than forcing every file into a "group" of its own.
func groupByFilename(messages []pool.Message) [][]pool.Message {
	candidates := make(map[filenameGroupKey][]pool.Message)
	var order []filenameGroupKey
	var lone []pool.Message

	for _, m := range messages {
		if m.SenderID == 0 || m.MediaFile == "" {
			lone = append(lone, m)
			continue
		}
		parts, ok := parseFilenameForGrouping(m.MediaFile)
		if !ok || parts.base == "" || parts.ext == "" {
			lone = append(lone, m)
			continue
		}
		key := filenameGroupKey{senderID: m.SenderID, base: strings.ToLower(parts.base), ext: strings.ToLower(parts.ext)}
		if _, seen := candidates[key]; !seen {
			order = append(order, key)
		}
		candidates[key] = append(candidates[key], m)
	}

	var final [][]pool.Message
	for _, key := range order {
		group := candidates[key]
		if len(group) < 2 {
			lone = append(lone, group...)
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			pi, _ := parseFilenameForGrouping(group[i].MediaFile)
			pj, _ := parseFilenameForGrouping(group[j].MediaFile)
			if pi.partNumber != pj.partNumber {
				return pi.partNumber < pj.partNumber
			}
			return group[i].ID < group[j].ID
		})
		final = append(final, group)
	}
	for _, m := range lone {
		final = append(final, []pool.Message{m})
	}

	sort.SliceStable(final, func(i, j int) bool {
		return final[i][0].ID < final[j][0].ID
	})
	return final
}
