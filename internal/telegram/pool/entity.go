package pool

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// ResolveEntity resolves handle against the account's peer cache, trying,
// in order: a @username/t.me handle, a raw integer user id, a channel peer,
// then a chat peer — the order §4.4 specifies. The first successful
// resolution wins.
func (c *Client) ResolveEntity(ctx context.Context, handle string) (Entity, error) {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "https://t.me/")
	handle = strings.TrimPrefix(handle, "t.me/")
	handle = strings.TrimPrefix(handle, "@")

	if handle == "" {
		return Entity{}, errors.New("pool: empty entity handle")
	}

	if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
		if e, err := c.resolveByID(ctx, id); err == nil {
			return e, nil
		}
	} else if peer, err := c.peers.Mgr.Resolve(ctx, handle); err == nil {
		return Entity{peer: peer}, nil
	}

	return Entity{}, errors.Errorf("pool: could not resolve entity %q", handle)
}

// resolveByID tries id as a user, then a channel, then a chat, matching the
// "integer id, channel peer, chat peer" tail of §4.4's resolution order.
func (c *Client) resolveByID(ctx context.Context, id int64) (Entity, error) {
	if user, err := c.peers.Mgr.ResolveUserID(ctx, id); err == nil {
		return Entity{peer: user, IsUser: true, UserID: id}, nil
	}
	if channel, err := c.peers.Mgr.ResolveChannelID(ctx, id); err == nil {
		return Entity{peer: channel}, nil
	}
	if chat, err := c.peers.Mgr.ResolveChatID(ctx, id); err == nil {
		return Entity{peer: chat}, nil
	}
	return Entity{}, errors.Errorf("pool: no user/channel/chat with id %d", id)
}

// visibleNamer is satisfied by every concrete peers.Peer implementation
// (User, Chat, Channel); asserting against this narrow interface avoids
// depending on gotd's exact peer type for something as simple as a display
// name, mirroring the channelPeer pattern in types.go.
type visibleNamer interface {
	VisibleName() string
}

// Name returns the entity's display name (title or first/last name), or ""
// if the underlying peer does not expose one.
func (e Entity) Name() string {
	if vn, ok := e.peer.(visibleNamer); ok {
		return vn.VisibleName()
	}
	return ""
}

// ID returns the entity's numeric Telegram id, used for attribution
// headers and reporting.
func (e Entity) ID() int64 {
	return e.peer.ID()
}

// selfEntity resolves the account's own "Saved Messages" peer, used by
// ForwardToSavedMessages.
func (c *Client) selfEntity(ctx context.Context) (Entity, error) {
	self, err := c.peers.Mgr.Self(ctx)
	if err != nil {
		return Entity{}, errors.Wrap(err, "resolve self")
	}
	return Entity{peer: self, IsUser: true, UserID: self.ID()}, nil
}
