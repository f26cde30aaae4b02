package pool

import (
	"context"
	"fmt"
	"net"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"

	"spectra-core/internal/config"
)

// dialerFor builds a dcs.Resolver that routes every DC connection through
// the configured proxy. Only SOCKS5 is supported here: config validation
// also accepts "socks4" and "http", and dialerFor returns an error for
// those. A nil cfg means "dial directly" and returns dcs.DefaultResolver().
func dialerFor(cfg *config.Proxy) (dcs.Resolver, error) {
	if cfg == nil {
		return dcs.DefaultResolver(), nil
	}
	if cfg.Type != "socks5" {
		return nil, errors.Errorf("pool: unsupported proxy type %q", cfg.Type)
	}

	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "build socks5 dialer")
	}

	return dcs.Plain(dcs.PlainOptions{
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			if d, ok := dialer.(proxy.ContextDialer); ok {
				return d.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		},
	}), nil
}
