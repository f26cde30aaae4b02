// Package recovery is the shared error-classification, retry, and
// redaction layer used by every upstream-facing component (C9 in the
// design). No component decides recoverability by inspecting an error's Go
// type; they all go through Classify, which maps raw errors onto a small,
// stable taxonomy.
package recovery

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gotd/td/tgerr"
)

// Category is the top-level error bucket.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNetwork
	CategoryRateLimit
	CategoryAuth
	CategoryPermission
	CategoryDataIntegrity
	CategorySystem
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "Network"
	case CategoryRateLimit:
		return "RateLimit"
	case CategoryAuth:
		return "Auth"
	case CategoryPermission:
		return "Permission"
	case CategoryDataIntegrity:
		return "DataIntegrity"
	case CategorySystem:
		return "System"
	default:
		return "Unknown"
	}
}

// Severity ranks how urgently an error needs operator attention.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityCritical:
		return "Critical"
	default:
		return "Error"
	}
}

// Classification is the result of running an error through Classify.
type Classification struct {
	Category    Category
	Severity    Severity
	Recoverable bool
}

// Permission-class sentinel errors recognized by name from the upstream
// client layer (C4). They are declared here, not in the client package, so
// classification never depends on a concrete RPC error type.
var (
	ErrChannelPrivate    = errors.New("recovery: channel is private")
	ErrUserBanned        = errors.New("recovery: user banned in channel")
	ErrChatAdminRequired = errors.New("recovery: chat admin rights required")
	ErrAuthKeyInvalid    = errors.New("recovery: auth key invalid or expired")
)

// rpcSentinels maps the RPC error type strings the upstream client actually
// raises onto the package's permission/auth sentinels. Classify never
// inspects a *tgerr.Error's Type directly — everything downstream of C4
// reasons about the sentinels, not about MTProto wire names.
var rpcSentinels = map[string]error{
	"CHANNEL_PRIVATE":        ErrChannelPrivate,
	"CHANNEL_INVALID":        ErrChannelPrivate,
	"USER_BANNED_IN_CHANNEL": ErrUserBanned,
	"CHAT_ADMIN_REQUIRED":    ErrChatAdminRequired,
	"CHAT_WRITE_FORBIDDEN":   ErrChatAdminRequired,
	"AUTH_KEY_INVALID":       ErrAuthKeyInvalid,
	"AUTH_KEY_UNREGISTERED":  ErrAuthKeyInvalid,
	"SESSION_REVOKED":        ErrAuthKeyInvalid,
}

// ErrForwardsRestricted is the distinct, recoverable condition where a
// channel has disabled forwarding (CHAT_FORWARDS_RESTRICTED): the forwarder
// falls back to the download-repost workaround rather than treating it as a
// permission failure that stops the group.
var ErrForwardsRestricted = errors.New("recovery: forwards restricted on source channel")

// WrapRPCError recognizes the upstream RPC error types the client layer
// must classify by name (Permission/Auth sentinels and the restricted-
// forwarding condition) and joins the matching sentinel onto err so
// Classify and errors.Is both see it. Errors with no recognized RPC type
// are returned unchanged.
func WrapRPCError(err error) error {
	if err == nil {
		return nil
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return err
	}
	if rpcErr.Type == "CHAT_FORWARDS_RESTRICTED" {
		return errors.Join(err, ErrForwardsRestricted)
	}
	if sentinel, ok := rpcSentinels[rpcErr.Type]; ok {
		return errors.Join(err, sentinel)
	}
	return err
}

// Classify maps err onto the §4.9 taxonomy. Flood waits are always
// RateLimit/Recoverable; permission errors are Permission/non-recoverable;
// auth-key errors are Auth/Critical/non-recoverable; network/timeout errors
// are Network/Recoverable; anything else is Unknown/Recoverable (the caller
// is responsible for reclassifying a repeated Unknown as fatal, per §7).
//
// Callers that need to distinguish restricted-forwarding (recoverable, via
// the download-repost workaround) from the stop-the-group conditions should
// check errors.Is(err, ErrForwardsRestricted) before calling Classify, since
// Classify reports that condition as Permission/non-recoverable, the same
// category as the stop-the-group conditions.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityInfo, Recoverable: true}
	}

	if _, ok := tgerr.AsFloodWait(err); ok {
		return Classification{Category: CategoryRateLimit, Severity: SeverityWarning, Recoverable: true}
	}

	switch {
	case errors.Is(err, ErrForwardsRestricted):
		// Not a retry candidate (repeating the same forward will never
		// succeed), but also not a stop-the-group condition: callers check
		// errors.Is separately and fall back to the download-repost path.
		return Classification{Category: CategoryPermission, Severity: SeverityWarning, Recoverable: false}
	case errors.Is(err, ErrChannelPrivate), errors.Is(err, ErrUserBanned), errors.Is(err, ErrChatAdminRequired):
		return Classification{Category: CategoryPermission, Severity: SeverityError, Recoverable: false}
	case errors.Is(err, ErrAuthKeyInvalid):
		return Classification{Category: CategoryAuth, Severity: SeverityCritical, Recoverable: false}
	}

	if isNetworkError(err) {
		return Classification{Category: CategoryNetwork, Severity: SeverityWarning, Recoverable: true}
	}

	return Classification{Category: CategoryUnknown, Severity: SeverityWarning, Recoverable: true}
}

// isNetworkError mirrors the teacher's connection-manager classification:
// closed connections, exhausted retries, deadlines, and EOF all count as
// network trouble; context cancellation does not.
func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
