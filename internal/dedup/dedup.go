// Package dedup is the deduplication oracle (C3): exact SHA-256 matching
// backed by an in-memory fingerprint cache and the archive's file_hashes
// table, plus optional perceptual (image) and fuzzy (content-sketch)
// near-duplicate detection.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-faster/errors"

	"spectra-core/internal/storage"
)

// Scope selects whether near-duplicate candidates are drawn from the whole
// archive or restricted to one channel's inventory, per the
// deduplication.scope configuration key.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeChannel Scope = "channel"
)

// ParseScope maps the config's deduplication.scope string onto a Scope,
// defaulting unrecognized or empty values to ScopeGlobal.
func ParseScope(s string) Scope {
	if Scope(s) == ScopeChannel {
		return ScopeChannel
	}
	return ScopeGlobal
}

// Options configures an Oracle. Zero-value Options disables near-duplicate
// detection, matching the "steps 1-3 only" edge case.
type Options struct {
	EnableNearDuplicates bool
	PerceptualThreshold  int // Hamming distance <= threshold counts as duplicate
	FuzzyThreshold       int // similarity >= threshold counts as duplicate
	Scope                Scope
}

// FileCandidate is one file carried by a message group, as handed to the
// oracle by the forwarder.
type FileCandidate struct {
	FileID    string
	MIMEType  string
	LocalPath string // scratch path the caller downloaded the file to
	ChannelID int64  // origin channel, used when Scope == ScopeChannel
	MessageID int64  // message the file was attached to, for inventory recording
	TopicID   int64  // forum topic the message belongs to, if any
}

// Classifier assigns a file-type category to a recorded file, used to feed
// the file-type sorting supplement's category_stats/sorting_audit_log
// tables. Optional: an Oracle with no classifier set skips categorization.
type Classifier interface {
	Classify(localPath, mimeType string) string
}

// Oracle is the deduplication oracle. One Oracle instance is shared across
// an entire process; it is safe for concurrent use.
type Oracle struct {
	store      *storage.Store
	opts       Options
	classifier Classifier

	exact *ristretto.Cache[string, bool] // SHA-256 hex -> seen

	mu      sync.Mutex // guards the near-duplicate candidate slices (append-only)
	phashes []phashEntry
	fhashes []fhashEntry
	scratch map[string]*memoGroup // per-group scratch-file/digest memoization (Open Question #1)
}

type phashEntry struct {
	fileID    string
	hash      uint64
	channelID int64
}

type fhashEntry struct {
	fileID    string
	sig       string
	channelID int64
}

// memoGroup caches the hashes computed for a file within one forwarder
// group so IsDuplicate and the later Record call never download or hash
// the same bytes twice.
type memoGroup struct {
	sha256 string
	phash  string
	fhash  string
}

// New builds an Oracle backed by store, loading every known hash row into
// the in-memory candidate set.
func New(ctx context.Context, store *storage.Store, opts Options) (*Oracle, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 1e6,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create fingerprint cache")
	}

	o := &Oracle{
		store:   store,
		opts:    opts,
		exact:   cache,
		scratch: make(map[string]*memoGroup),
	}

	scopeFilter := int64(0) // seeding always loads the whole known set; per-call scope filters reads
	rows, err := store.AllFileHashes(ctx, scopeFilter)
	if err != nil {
		return nil, errors.Wrap(err, "seed dedup oracle")
	}
	for _, row := range rows {
		o.exact.Set(row.SHA256, true, 1)
		if row.PHash != "" {
			if h, err := strconv.ParseUint(row.PHash, 16, 64); err == nil {
				o.phashes = append(o.phashes, phashEntry{fileID: row.FileID, hash: h})
			}
		}
		if row.FHash != "" {
			o.fhashes = append(o.fhashes, fhashEntry{fileID: row.FileID, sig: row.FHash})
		}
	}
	o.exact.Wait()
	return o, nil
}

// SetClassifier wires a file-type classifier into the oracle so Record also
// updates the sorting supplement's per-category statistics. Nil disables
// categorization without disturbing anything else Record does.
func (o *Oracle) SetClassifier(c Classifier) {
	o.classifier = c
}

// groupKey identifies a memoization scratch pad. Callers pass the same
// groupKey across IsDuplicate and Record for one forwarder group.
func groupKey(fileID string) string { return fileID }

// IsDuplicate inspects every file in files and reports whether any of them
// is a duplicate. Per §4.3, any duplicate taints the whole group — callers
// should skip the entire group rather than individual files.
func (o *Oracle) IsDuplicate(ctx context.Context, files []FileCandidate) (bool, error) {
	for _, f := range files {
		dup, err := o.isFileDuplicate(ctx, f)
		if err != nil {
			return false, err
		}
		if dup {
			return true, nil
		}
	}
	return false, nil
}

func (o *Oracle) isFileDuplicate(ctx context.Context, f FileCandidate) (bool, error) {
	if f.LocalPath == "" {
		// Download failures are handed to us as a candidate with no local
		// path; per §4.3 these are never treated as duplicates.
		return false, nil
	}

	sum, err := sha256File(f.LocalPath)
	if err != nil {
		return false, nil // failed read: treated as non-duplicate, not recorded
	}
	if sum == emptyFileSHA256 {
		return false, nil // zero-length downloads are never duplicates
	}

	memo := &memoGroup{sha256: sum}
	o.rememberScratch(f.FileID, memo)

	if _, seen := o.exact.Get(sum); seen {
		return true, nil
	}

	channelScope := int64(0)
	if o.opts.Scope == ScopeChannel {
		channelScope = f.ChannelID
	}
	if _, ok, err := o.store.FileHashBySHA256(ctx, sum, channelScope); err != nil {
		return false, errors.Wrap(err, "lookup sha256")
	} else if ok {
		return true, nil
	}

	if !o.opts.EnableNearDuplicates {
		return false, nil
	}

	if strings.HasPrefix(f.MIMEType, "image/") {
		ph, err := perceptualHashFile(f.LocalPath)
		if err == nil {
			memo.phash = strconv.FormatUint(ph, 16)
			if dup := o.matchPerceptual(ph, f.ChannelID); dup {
				return true, nil
			}
		}
		return false, nil
	}

	fh, err := fuzzyHashFile(f.LocalPath)
	if err != nil {
		return false, nil
	}
	memo.fhash = fh
	return o.matchFuzzy(fh, f.ChannelID), nil
}

func (o *Oracle) matchPerceptual(hash uint64, channelID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.phashes {
		if o.opts.Scope == ScopeChannel && entry.channelID != channelID {
			continue
		}
		if hammingDistance64(hash, entry.hash) <= o.opts.PerceptualThreshold {
			return true
		}
	}
	return false
}

func (o *Oracle) matchFuzzy(sig string, channelID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.fhashes {
		if o.opts.Scope == ScopeChannel && entry.channelID != channelID {
			continue
		}
		if compareFuzzyHashes(sig, entry.sig) >= o.opts.FuzzyThreshold {
			return true
		}
	}
	return false
}

// Record persists the hashes computed for files (reusing the per-group
// memoization from IsDuplicate when present, recomputing only if absent)
// and appends inventory rows under originChannelID. The in-memory
// fingerprint set is updated after a successful write.
func (o *Oracle) Record(ctx context.Context, files []FileCandidate, originChannelID int64) error {
	for _, f := range files {
		if f.LocalPath == "" {
			continue
		}
		memo := o.takeScratch(f.FileID)
		if memo == nil {
			sum, err := sha256File(f.LocalPath)
			if err != nil || sum == emptyFileSHA256 {
				continue
			}
			memo = &memoGroup{sha256: sum}
			if o.opts.EnableNearDuplicates {
				if strings.HasPrefix(f.MIMEType, "image/") {
					if ph, err := perceptualHashFile(f.LocalPath); err == nil {
						memo.phash = strconv.FormatUint(ph, 16)
					}
				} else if fh, err := fuzzyHashFile(f.LocalPath); err == nil {
					memo.fhash = fh
				}
			}
		}

		if err := o.store.AddFileHash(ctx, f.FileID, memo.sha256, memo.phash, memo.fhash); err != nil {
			return errors.Wrap(err, "record file hash")
		}
		if err := o.store.AddChannelFileInventory(ctx, originChannelID, f.FileID, f.MessageID, f.TopicID); err != nil {
			return errors.Wrap(err, "record channel file inventory")
		}
		o.classify(ctx, f)

		o.exact.Set(memo.sha256, true, 1)
		o.mu.Lock()
		if memo.phash != "" {
			if h, err := strconv.ParseUint(memo.phash, 16, 64); err == nil {
				o.phashes = append(o.phashes, phashEntry{fileID: f.FileID, hash: h, channelID: originChannelID})
			}
		}
		if memo.fhash != "" {
			o.fhashes = append(o.fhashes, fhashEntry{fileID: f.FileID, sig: memo.fhash, channelID: originChannelID})
		}
		o.mu.Unlock()
	}
	o.exact.Wait()
	return nil
}

// classify assigns f a category and folds it into category_stats/
// sorting_audit_log. A failure here never affects recording the file's
// hash or inventory row; categorization is a best-effort sidecar.
func (o *Oracle) classify(ctx context.Context, f FileCandidate) {
	if o.classifier == nil {
		return
	}
	category := o.classifier.Classify(f.LocalPath, f.MIMEType)
	size := int64(0)
	if fi, err := os.Stat(f.LocalPath); err == nil {
		size = fi.Size()
	}
	groupID, _, _ := o.store.GetGroupIDForCategory(ctx, category)
	_ = o.store.UpdateCategoryStats(ctx, category, f.FileID, groupID, 1, size)
}

func (o *Oracle) rememberScratch(fileID string, memo *memoGroup) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scratch[groupKey(fileID)] = memo
}

func (o *Oracle) takeScratch(fileID string) *memoGroup {
	o.mu.Lock()
	defer o.mu.Unlock()
	memo, ok := o.scratch[groupKey(fileID)]
	if !ok {
		return nil
	}
	delete(o.scratch, groupKey(fileID))
	return memo
}

const emptyFileSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func perceptualHashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return perceptualHash(f)
}

func fuzzyHashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return fuzzyHash(f)
}
