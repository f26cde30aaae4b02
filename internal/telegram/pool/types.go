package pool

import (
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
)

// Entity is a resolved Telegram peer: a user, chat or channel the pool can
// build an InputPeerClass and InputUser/InputChannel from.
type Entity struct {
	peer   peers.Peer
	IsUser bool
	UserID int64 // populated when IsUser, used for attribution lookups
}

// InputPeer returns the InputPeerClass gotd RPC calls expect as a
// destination or source peer.
func (e Entity) InputPeer() tg.InputPeerClass {
	return e.peer.InputPeer()
}

// identity is a stable numeric seed for deterministic random_id
// construction; it is not a public API, only ForwardMessages/SendMessage
// use it.
func (e Entity) identity() int64 {
	return e.peer.ID()
}

// channelPeer is satisfied by whatever concrete type peers.Manager returns
// for a channel, value or pointer; asserting against this narrow interface
// avoids depending on gotd's exact peers.Channel representation.
type channelPeer interface {
	InputChannel() tg.InputChannelClass
}

// asInputChannel reports whether the entity is a channel and, if so,
// returns the InputChannel the Channels* RPC family requires.
func (e Entity) asInputChannel() (*tg.InputChannel, bool) {
	cp, ok := e.peer.(channelPeer)
	if !ok {
		return nil, false
	}
	ic, ok := cp.InputChannel().(*tg.InputChannel)
	return ic, ok
}

// Message is the subset of a fetched tg.Message the rest of the system
// needs: enough to group, dedupe, attribute and forward without every
// caller re-parsing the raw RPC type.
type Message struct {
	ID         int
	ChannelID  int64
	SenderID   int64
	Date       int64
	Text       string
	Raw        *tg.Message
	HasMedia   bool
	MediaMIME  string
	MediaFile  string // best-effort original filename, empty if unknown
	MediaBytes int64
	MediaID    string // stable upstream document/photo id, used as the dedup oracle's file key
	TopicID    int    // forum topic this message belongs to, 0 if none
}

// Stats accumulates forwarding outcomes across a run, returned by the
// forwarder's top-level verbs.
type Stats struct {
	MessagesForwarded int
	FilesForwarded    int
	BytesForwarded    int64
}
