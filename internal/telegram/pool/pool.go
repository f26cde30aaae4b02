// Package pool is the Telegram Client Pool (C4): it produces authorized,
// proxy-wrapped, flood-aware MTProto clients keyed by account and exposes
// the upstream verbs the forwarder and scheduler need. Every verb routes
// through internal/recovery's Retrier so flood waits and transient network
// errors are handled uniformly, per §4.9's integration contract.
package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"spectra-core/internal/config"
	"spectra-core/internal/ioutil"
	"spectra-core/internal/recovery"
	"spectra-core/internal/telegram/authflow"
	"spectra-core/internal/telegram/peercache"
)

// ErrAuth reports that an account's session exists but is no longer
// authorized; GetClient disconnects the client and returns this instead of
// silently re-prompting for interactive login mid-operation.
type ErrAuth struct {
	SessionName string
	Err         error
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("pool: account %q is not authorized: %v", e.SessionName, e.Err)
}

func (e *ErrAuth) Unwrap() error { return e.Err }

// Client is one account's live connection: the gotd client, its RPC
// surface, its peer cache, and the bookkeeping needed to hand it out and
// tear it down cleanly.
type Client struct {
	sessionName string
	acc         config.Account
	sessionDir  string

	tgClient *telegram.Client
	api      *tg.Client
	peers    *peercache.Cache
	retrier  *recovery.Retrier

	cancel context.CancelFunc
	done   chan struct{} // closed when the Run goroutine exits

	readyOnce sync.Once
	ready     chan struct{}
	readyErr  error
}

// Pool owns every account's client, created lazily on first use and kept
// alive (reused) across calls until Close.
type Pool struct {
	cfg        *config.Config
	sessionDir string

	mu      sync.Mutex
	clients map[string]*Client
}

// New builds a Pool. sessionDir holds one ".session" file and one
// ".peers.db" file per configured account.
func New(cfg *config.Config, sessionDir string) *Pool {
	return &Pool{cfg: cfg, sessionDir: sessionDir, clients: make(map[string]*Client)}
}

// GetClient returns a connected, authorized client for the named account
// (accountID matches config.Account.SessionName), constructing and
// connecting it on first use. An empty accountID picks per
// config.Config.PickAccount's selection rule.
func (p *Pool) GetClient(ctx context.Context, accountID string) (*Client, error) {
	acc, err := p.cfg.PickAccount(accountID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	c, ok := p.clients[acc.SessionName]
	if !ok {
		c = p.newClient(acc)
		p.clients[acc.SessionName] = c
		go c.run(p.cfg.Proxy())
	}
	p.mu.Unlock()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.readyErr != nil {
		p.mu.Lock()
		delete(p.clients, acc.SessionName)
		p.mu.Unlock()
		return nil, c.readyErr
	}
	return c, nil
}

func (p *Pool) newClient(acc config.Account) *Client {
	return &Client{
		sessionName: acc.SessionName,
		acc:         acc,
		sessionDir:  p.sessionDir,
		retrier:     recovery.New(),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// run connects the account, completes auth if necessary, and then blocks
// for the client's lifetime; it is the sole long-lived goroutine per
// account, mirroring the teacher's client.Run(ctx, ...) ownership model.
func (c *Client) run(proxyCfg *config.Proxy) {
	defer close(c.done)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	dialer, err := dialerFor(proxyCfg)
	if err != nil {
		c.fail(err)
		return
	}
	if err := ioutil.EnsureDir(c.sessionFilePath()); err != nil {
		c.fail(fmt.Errorf("ensure session dir: %w", err))
		return
	}

	sessionPath := c.sessionFilePath()
	opts := telegram.Options{
		SessionStorage: &fileSessionStorage{path: sessionPath},
		Resolver:       dialer,
		Device: telegram.DeviceConfig{
			DeviceModel:   "spectra-core",
			SystemVersion: "linux",
			AppVersion:    "1.0.0",
		},
	}

	c.tgClient = telegram.NewClient(c.acc.APIID, c.acc.APIHash, opts)

	runErr := c.tgClient.Run(runCtx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return err
		}
		c.api = c.tgClient.API()

		peerCache, err := peercache.Open(c.api, c.peerCacheFilePath())
		if err != nil {
			return errors.Wrap(err, "open peer cache")
		}
		c.peers = peerCache
		if err := c.peers.Mgr.Init(ctx); err != nil {
			return errors.Wrap(err, "init peers manager")
		}

		c.readyOnce.Do(func() { close(c.ready) })
		<-ctx.Done()
		return nil
	})

	if runErr != nil {
		c.fail(runErr)
		return
	}
	if c.peers != nil {
		_ = c.peers.Close()
	}
}

func (c *Client) authorize(ctx context.Context) error {
	status, err := c.tgClient.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "auth status")
	}
	if status.Authorized {
		return nil
	}

	term, err := authflow.NewTerminal(c.acc.PhoneNumber)
	if err != nil {
		return &ErrAuth{SessionName: c.sessionName, Err: err}
	}
	defer term.Close()

	flow := auth.NewFlow(term, auth.SendCodeOptions{})
	if err := c.tgClient.Auth().IfNecessary(ctx, flow); err != nil {
		return &ErrAuth{SessionName: c.sessionName, Err: err}
	}
	return nil
}

func (c *Client) fail(err error) {
	c.readyErr = err
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Client) sessionFilePath() string {
	return filepath.Join(c.sessionDir, c.sessionName+".session")
}

func (c *Client) peerCacheFilePath() string {
	return filepath.Join(c.sessionDir, c.sessionName+".peers.db")
}

// Close disconnects the account's client and waits for its goroutine to
// exit. Safe to call even if run() never reached the ready state.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	return nil
}

// Close disconnects every pooled account client, in no particular order.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
}
