package pool

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

const historyPageSize = 100

// IterMessagesOptions mirrors §4.4's IterMessages parameters.
type IterMessagesOptions struct {
	MinID   int // exclusive lower bound; 0 means "from the beginning"
	Reverse bool
	ReplyTo int // when set, only messages in this forum topic are returned
}

// MessageIterator pages through an entity's history, fetching lazily so a
// long scan never holds more than one page of messages in memory at once.
// Telegram's history RPC returns newest-first; per §4.7 step 3 the
// forwarder collects a full scan and reverses it, so by default Next
// yields newest-first and Reverse flips each page before buffering it.
type MessageIterator struct {
	c    *Client
	peer tg.InputPeerClass
	opts IterMessagesOptions

	buf       []Message
	offset    int
	exhausted bool
}

// IterMessages returns a lazily-paged stream of messages from entity.
func (c *Client) IterMessages(entity Entity, opts IterMessagesOptions) *MessageIterator {
	return &MessageIterator{c: c, peer: entity.InputPeer(), opts: opts}
}

// Next returns the next message, or ok=false once the stream is exhausted.
func (it *MessageIterator) Next(ctx context.Context) (Message, bool, error) {
	if len(it.buf) == 0 {
		if it.exhausted {
			return Message{}, false, nil
		}
		if err := it.fillPage(ctx); err != nil {
			return Message{}, false, err
		}
		if len(it.buf) == 0 {
			return Message{}, false, nil
		}
	}
	msg := it.buf[0]
	it.buf = it.buf[1:]
	return msg, true, nil
}

func (it *MessageIterator) fillPage(ctx context.Context) error {
	req := &tg.MessagesGetHistoryRequest{
		Peer:     it.peer,
		OffsetID: it.offset,
		Limit:    historyPageSize,
	}

	var raw tg.MessagesMessagesClass
	err := it.c.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = it.c.api.MessagesGetHistory(ctx, req)
		return callErr
	})
	if err != nil {
		return errors.Wrap(err, "get history")
	}

	raws := rawMessages(raw)
	if len(raws) == 0 {
		it.exhausted = true
		return nil
	}
	if len(raws) < historyPageSize {
		it.exhausted = true
	}

	var page []Message
	smallest := 0
	for _, rm := range raws {
		if rm.ID <= it.opts.MinID {
			it.exhausted = true
			continue
		}
		if it.opts.ReplyTo != 0 && topicID(rm) != it.opts.ReplyTo {
			continue
		}
		page = append(page, toMessage(rm))
		if smallest == 0 || rm.ID < smallest {
			smallest = rm.ID
		}
	}
	if smallest != 0 {
		it.offset = smallest
	}

	if it.opts.Reverse {
		for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
			page[i], page[j] = page[j], page[i]
		}
	}
	it.buf = page
	return nil
}

func randomID(parts ...int64) int64 {
	h := fnv.New64a()
	var b [8]byte
	for _, p := range parts {
		for i := range b {
			b[i] = byte(p >> (8 * i))
		}
		_, _ = h.Write(b[:])
	}
	return int64(h.Sum64())
}

// ForwardMessages forwards ids from origin to destination in one RPC call,
// using a deterministic random_id per message so a retried call after a
// timeout never double-forwards the same message.
func (c *Client) ForwardMessages(ctx context.Context, origin, destination Entity, ids []int, replyToTopic int) error {
	if len(ids) == 0 {
		return nil
	}
	dstID := destination.identity()
	randomIDs := make([]int64, len(ids))
	for i, id := range ids {
		randomIDs[i] = randomID(int64(id), dstID)
	}

	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: origin.InputPeer(),
		ID:       append([]int(nil), ids...),
		ToPeer:   destination.InputPeer(),
		RandomID: randomIDs,
	}
	if replyToTopic != 0 {
		req.TopMsgID = replyToTopic
	}

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.MessagesForwardMessages(ctx, req)
		return err
	})
}

// SendMessage sends text to destination.
func (c *Client) SendMessage(ctx context.Context, destination Entity, text string, replyTo int) error {
	req := &tg.MessagesSendMessageRequest{
		Peer:     destination.InputPeer(),
		Message:  text,
		RandomID: randomID(destination.identity(), int64(len(text))),
	}
	if replyTo != 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.MessagesSendMessage(ctx, req)
		return err
	})
}

// DownloadMedia downloads msg's media to path, returning the final path.
// Callers must check msg.HasMedia first; text-only messages return an
// error here rather than silently no-op-ing.
func (c *Client) DownloadMedia(ctx context.Context, msg Message, path string) (string, error) {
	if !msg.HasMedia || msg.Raw == nil {
		return "", errors.New("pool: message has no media to download")
	}
	loc, ok := mediaLocation(msg.Raw.Media)
	if !ok {
		return "", errors.New("pool: unsupported media type")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "ensure download dir")
	}

	dl := downloader.NewDownloader()
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		_, dlErr := dl.Download(c.api, loc).ToPath(ctx, path)
		return dlErr
	})
	if err != nil {
		return "", errors.Wrap(err, "download media")
	}
	return path, nil
}

// DeleteMessages deletes ids from entity.
func (c *Client) DeleteMessages(ctx context.Context, entity Entity, ids []int) error {
	if channel, ok := entity.asInputChannel(); ok {
		req := &tg.ChannelsDeleteMessagesRequest{Channel: channel, ID: ids}
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			_, err := c.api.ChannelsDeleteMessages(ctx, req)
			return err
		})
	}
	req := &tg.MessagesDeleteMessagesRequest{ID: ids}
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.MessagesDeleteMessages(ctx, req)
		return err
	})
}

// GetParticipants lists up to limit member user ids of a channel entity.
func (c *Client) GetParticipants(ctx context.Context, entity Entity, limit int) ([]int64, error) {
	channel, ok := entity.asInputChannel()
	if !ok {
		return nil, errors.New("pool: GetParticipants requires a channel entity")
	}

	var out []int64
	offset := 0
	const page = 200
	for len(out) < limit {
		req := &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   page,
		}
		var resp tg.ChannelsChannelParticipantsClass
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = c.api.ChannelsGetParticipants(ctx, req)
			return callErr
		})
		if err != nil {
			return out, errors.Wrap(err, "get participants")
		}
		full, ok := resp.(*tg.ChannelsChannelParticipants)
		if !ok || len(full.Participants) == 0 {
			break
		}
		for _, p := range full.Participants {
			if id, ok := participantUserID(p); ok {
				out = append(out, id)
				if len(out) >= limit {
					break
				}
			}
		}
		offset += len(full.Participants)
		if len(full.Participants) < page {
			break
		}
	}
	return out, nil
}

// GetMessages fetches specific messages by id from entity. Unlike
// IterMessages this does not page through history; it is for the file
// forward queue's drain routine, which only knows a message id and needs
// the message object back to inspect and re-download its media.
func (c *Client) GetMessages(ctx context.Context, entity Entity, ids []int) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}

	var raw tg.MessagesMessagesClass
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		if channel, ok := entity.asInputChannel(); ok {
			raw, callErr = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: channel, ID: inputIDs})
		} else {
			raw, callErr = c.api.MessagesGetMessages(ctx, inputIDs)
		}
		return callErr
	})
	if err != nil {
		return nil, errors.Wrap(err, "get messages")
	}

	raws := rawMessages(raw)
	out := make([]Message, len(raws))
	for i, rm := range raws {
		out[i] = toMessage(rm)
	}
	return out, nil
}

// ForwardToSavedMessages forwards each message in group to the account's
// own Saved Messages chat.
func (c *Client) ForwardToSavedMessages(ctx context.Context, group []Message, origin Entity) error {
	self, err := c.selfEntity(ctx)
	if err != nil {
		return err
	}
	ids := make([]int, len(group))
	for i, m := range group {
		ids[i] = m.ID
	}
	return c.ForwardMessages(ctx, origin, self, ids, 0)
}

// repostText combines an attribution header with the original message body,
// separated by a blank line, matching the attribution + "\n\n" + text layout
// used everywhere else attribution is prepended. Either half may be empty.
func repostText(attribution, text string) string {
	if attribution == "" {
		return strings.TrimSpace(text)
	}
	if text == "" {
		return strings.TrimSpace(attribution)
	}
	return attribution + "\n\n" + text
}

// RepostViaDownload works around a forward restriction: download msg's
// media to a temp file under scratchDir, send it as a new message (with
// optional attribution text) to destination, and always clean up the
// scratch file, including on error.
func (c *Client) RepostViaDownload(ctx context.Context, msg Message, destination Entity, attribution, scratchDir string) error {
	if !msg.HasMedia {
		return c.SendMessage(ctx, destination, repostText(attribution, msg.Text), 0)
	}

	tmpPath := filepath.Join(scratchDir, "repost-"+strconv.Itoa(msg.ID))
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := c.DownloadMedia(ctx, msg, tmpPath); err != nil {
		return errors.Wrap(err, "download for repost")
	}

	uploaded, err := uploadFile(ctx, c, tmpPath)
	if err != nil {
		return errors.Wrap(err, "upload repost media")
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     destination.InputPeer(),
		Media:    uploaded,
		Message:  repostText(attribution, msg.Text),
		RandomID: randomID(destination.identity(), int64(msg.ID)),
	}
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := c.api.MessagesSendMedia(ctx, req)
		return err
	})
}
