package pool

import (
	"context"
	"mime"
	"path/filepath"
	"strconv"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

// rawMessages unwraps the three concrete shapes messages.getHistory can
// return and drops service messages (message deletions, pins, etc.), which
// carry no payload the rest of the system cares about.
func rawMessages(c tg.MessagesMessagesClass) []*tg.Message {
	var classes []tg.MessageClass
	switch v := c.(type) {
	case *tg.MessagesMessages:
		classes = v.Messages
	case *tg.MessagesMessagesSlice:
		classes = v.Messages
	case *tg.MessagesChannelMessages:
		classes = v.Messages
	}

	out := make([]*tg.Message, 0, len(classes))
	for _, m := range classes {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

func toMessage(rm *tg.Message) Message {
	msg := Message{
		ID:      rm.ID,
		Date:    int64(rm.Date),
		Text:    rm.Message,
		Raw:     rm,
		TopicID: topicID(rm),
	}

	if ch, ok := rm.PeerID.(*tg.PeerChannel); ok {
		msg.ChannelID = ch.ChannelID
	}
	switch from := rm.FromID.(type) {
	case *tg.PeerUser:
		msg.SenderID = from.UserID
	default:
		if user, ok := rm.PeerID.(*tg.PeerUser); ok {
			msg.SenderID = user.UserID
		}
	}

	if mt, name, size, id, ok := mediaInfo(rm.Media); ok {
		msg.HasMedia = true
		msg.MediaMIME = mt
		msg.MediaFile = name
		msg.MediaBytes = size
		msg.MediaID = id
	}
	return msg
}

// topicID returns the forum topic a message belongs to, or 0 if it is not
// a reply within a topic thread.
func topicID(rm *tg.Message) int {
	if reply, ok := rm.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok && header.ForumTopic {
			return header.ReplyToTopID
		}
	}
	return 0
}

// mediaInfo extracts a MIME type, filename, byte size and stable file id
// from a message's media, when it carries a document or photo. The file id
// is the upstream document/photo id, which is constant across every
// message that reshares the same upload and is what the dedup oracle keys
// file_hashes rows by.
func mediaInfo(media tg.MessageMediaClass) (mimeType, name string, size int64, fileID string, ok bool) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return "", "", 0, "", false
		}
		name := documentFileName(doc)
		return doc.MimeType, name, doc.Size, "doc:" + strconv.FormatInt(doc.ID, 10), true
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return "", "", 0, "", false
		}
		return "image/jpeg", "", largestPhotoSize(photo), "photo:" + strconv.FormatInt(photo.ID, 10), true
	default:
		return "", "", 0, "", false
	}
}

func documentFileName(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return fn.FileName
		}
	}
	return ""
}

func largestPhotoSize(photo *tg.Photo) int64 {
	var max int64
	for _, s := range photo.Sizes {
		if sz, ok := s.(*tg.PhotoSize); ok && int64(sz.Size) > max {
			max = int64(sz.Size)
		}
	}
	return max
}

// mediaLocation builds the InputFileLocationClass downloader.Downloader
// needs from a message's media.
func mediaLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, false
		}
		return doc.AsInputDocumentFileLocation(), true
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, false
		}
		thumbType := "x"
		for _, s := range photo.Sizes {
			if sz, ok := s.(*tg.PhotoSize); ok {
				thumbType = sz.Type
			}
		}
		return photo.AsInputPhotoFileLocation(thumbType), true
	default:
		return nil, false
	}
}

func participantUserID(p tg.ChannelParticipantClass) (int64, bool) {
	switch v := p.(type) {
	case *tg.ChannelParticipant:
		return v.UserID, true
	case *tg.ChannelParticipantSelf:
		return v.UserID, true
	case *tg.ChannelParticipantAdmin:
		return v.UserID, true
	case *tg.ChannelParticipantCreator:
		return v.UserID, true
	case *tg.ChannelParticipantBanned:
		if peer, ok := v.Peer.(*tg.PeerUser); ok {
			return peer.UserID, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// uploadFile streams a local file for use as MessagesSendMedia's payload,
// guessing the MIME type from the file extension.
func uploadFile(ctx context.Context, c *Client, path string) (tg.InputMediaClass, error) {
	u := uploader.NewUploader(c.api)
	f, err := u.FromPath(ctx, path)
	if err != nil {
		return nil, err
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "application/octet-stream"
	}
	return &tg.InputMediaUploadedDocument{File: f, MimeType: mt}, nil
}
