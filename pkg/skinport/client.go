// Package skinport is a client for the Skinport marketplace: typed REST
// accessors and the real-time sale feed delivered over Socket.IO.
package skinport

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/internal/dispatcher"
	"github.com/alejoacosta74/skinport-go/internal/events"
	"github.com/alejoacosta74/skinport-go/internal/ws"
	"github.com/sirupsen/logrus"
)

type (
	// Handler processes one feed event on its own goroutine.
	Handler = dispatcher.Handler
	// Registration is returned by Listen; Unregister removes the handler for
	// the next connection.
	Registration = dispatcher.Registration
	ErrorPolicy  = dispatcher.ErrorPolicy
	State        = ws.State
	Backoff      = ws.Backoff
)

const (
	IsolateErrors   = dispatcher.IsolateErrors
	PropagateErrors = dispatcher.PropagateErrors

	StateIdle       = ws.Idle
	StateConnecting = ws.Connecting
	StateJoining    = ws.Joining
	StateLive       = ws.Live
	StateClosed     = ws.Closed
)

// DefaultBackoff is the reconnect policy used unless WithBackoff is given.
func DefaultBackoff() Backoff { return ws.DefaultBackoff() }

// SaleFeedParams selects one sale feed. Zero fields take the defaults of
// DefaultSaleFeedParams.
type SaleFeedParams struct {
	AppID    AppID
	Currency Currency
	Locale   Locale
}

func DefaultSaleFeedParams() SaleFeedParams {
	return SaleFeedParams{AppID: AppCSGO, Currency: CurrencyEUR, Locale: LocaleEN}
}

func (p SaleFeedParams) join() ws.JoinParams {
	d := DefaultSaleFeedParams()
	if p.AppID == 0 {
		p.AppID = d.AppID
	}
	if p.Currency == "" {
		p.Currency = d.Currency
	}
	if p.Locale == "" {
		p.Locale = d.Locale
	}
	return ws.JoinParams{AppID: int(p.AppID), Currency: p.Currency.String(), Locale: p.Locale.String()}
}

type config struct {
	wsOpts   []ws.Option
	regOpts  []dispatcher.Option
	httpOpts []HTTPOption
	bus      events.Bus
	creds    *credentials
	level    *logrus.Level
}

// Option configures a Client.
type Option func(*config)

// WithEndpoint overrides the real-time feed URL.
func WithEndpoint(url string) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithURL(url))
	}
}

// WithHeader adds headers to the websocket upgrade request.
func WithHeader(h http.Header) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithHeader(h))
	}
}

// WithTLSConfig replaces the TLS 1.3 pinning of the feed connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithTLSConfig(cfg))
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithBackoff(b))
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithConnectTimeout(d))
	}
}

func WithJoinTimeout(d time.Duration) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithJoinTimeout(d))
	}
}

// WithDrainTimeout bounds how long handlers may keep running after a
// connection ends.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *config) {
		c.wsOpts = append(c.wsOpts, ws.WithDrainTimeout(d))
	}
}

// WithErrorPolicy decides whether a failing handler tears the connection down.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(c *config) {
		c.regOpts = append(c.regOpts, dispatcher.WithErrorPolicy(p))
	}
}

// WithQueueSize sets the number of events buffered per channel.
func WithQueueSize(n int) Option {
	return func(c *config) {
		c.regOpts = append(c.regOpts, dispatcher.WithQueueSize(n))
	}
}

// WithEventBus shares a bus with metrics and relays. Without it the client
// creates its own.
func WithEventBus(bus events.Bus) Option {
	return func(c *config) {
		c.bus = bus
	}
}

// WithREST passes options to the REST sub-client.
func WithREST(opts ...HTTPOption) Option {
	return func(c *config) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}

// WithCredentials sets the API key used for authenticated REST calls.
func WithCredentials(clientID, clientSecret string) Option {
	return func(c *config) {
		c.creds = &credentials{id: clientID, secret: clientSecret}
	}
}

// WithLogLevel sets the level of the package-wide logrus logger.
func WithLogLevel(level logrus.Level) Option {
	return func(c *config) {
		c.level = &level
	}
}

// Client combines the REST sub-client with the real-time feed connection.
type Client struct {
	http     *HTTPClient
	registry *dispatcher.Registry
	conn     *ws.Client
	bus      events.Bus
	ownsBus  bool
	logger   *logrus.Entry

	mu     sync.Mutex
	feeds  []SaleFeedParams
	closed bool
}

func NewClient(opts ...Option) *Client {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.level != nil {
		logrus.SetLevel(*cfg.level)
	}

	c := &Client{
		bus:    cfg.bus,
		logger: logrus.WithField("component", "skinport"),
	}
	if c.bus == nil {
		c.bus = events.NewEventBus()
		c.ownsBus = true
	}

	c.http = NewHTTPClient(append([]HTTPOption{WithRequestBus(c.bus)}, cfg.httpOpts...)...)
	if cfg.creds != nil {
		c.http.SetAuth(cfg.creds.id, cfg.creds.secret)
	}

	c.registry = dispatcher.NewRegistry(append([]dispatcher.Option{dispatcher.WithEventBus(c.bus)}, cfg.regOpts...)...)
	c.conn = ws.NewClient(append([]ws.Option{
		ws.WithEventBus(c.bus),
		ws.WithBinder(func() ws.Dispatcher { return c.registry.Bind() }),
	}, cfg.wsOpts...)...)
	return c
}

// HTTP returns the REST sub-client.
func (c *Client) HTTP() *HTTPClient { return c.http }

// EventBus carries every dispatched event, connection transitions and REST
// request outcomes.
func (c *Client) EventBus() events.Bus { return c.bus }

// State returns the feed connection state.
func (c *Client) State() State { return c.conn.State() }

// Epoch counts completed feed handshakes.
func (c *Client) Epoch() uint64 { return c.conn.Epoch() }

// SetAuth sets the REST API credentials.
func (c *Client) SetAuth(clientID, clientSecret string) {
	c.http.SetAuth(clientID, clientSecret)
}

// Listen registers h for channel. It may be called before or while connected;
// a handler registered while connected takes effect on the next connection.
// A later registration for the same channel replaces the earlier one.
func (c *Client) Listen(channel string, h Handler) (*Registration, error) {
	return c.registry.Register(channel, h)
}

// OnSaleFeed registers a handler for listed and sold items.
func (c *Client) OnSaleFeed(fn func(ctx context.Context, feed SaleFeed) error) (*Registration, error) {
	if fn == nil {
		return c.Listen(string(common.ChannelSaleFeed), nil)
	}
	return c.Listen(string(common.ChannelSaleFeed), func(ctx context.Context, payload any) error {
		feed, err := DecodeSaleFeed(payload)
		if err != nil {
			return err
		}
		return fn(ctx, feed)
	})
}

// OnMaintenanceUpdated registers a handler for site maintenance notices. The
// payload is passed as decoded.
func (c *Client) OnMaintenanceUpdated(fn func(ctx context.Context, payload any) error) (*Registration, error) {
	if fn == nil {
		return c.Listen(string(common.ChannelMaintenanceUpdated), nil)
	}
	return c.Listen(string(common.ChannelMaintenanceUpdated), Handler(fn))
}

// OnSteamStatusUpdated registers a handler for Steam availability changes.
func (c *Client) OnSteamStatusUpdated(fn func(ctx context.Context, status SteamStatus) error) (*Registration, error) {
	if fn == nil {
		return c.Listen(string(common.ChannelSteamStatusUpdated), nil)
	}
	return c.Listen(string(common.ChannelSteamStatusUpdated), func(ctx context.Context, payload any) error {
		status, err := DecodeSteamStatus(payload)
		if err != nil {
			return err
		}
		return fn(ctx, status)
	})
}

// AddSaleFeed subscribes to one more feed on every later connection.
func (c *Client) AddSaleFeed(p SaleFeedParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds = append(c.feeds, p)
}

// Connect opens the feed connection and blocks until it ends. It joins the
// feeds added with AddSaleFeed plus params, or the default feed when there are
// none. Connect timeouts, duplicate connects and exhausted reconnects are
// logged and return nil.
func (c *Client) Connect(ctx context.Context, params ...SaleFeedParams) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	feeds := append(append([]SaleFeedParams(nil), c.feeds...), params...)
	c.mu.Unlock()

	if len(feeds) == 0 {
		feeds = []SaleFeedParams{DefaultSaleFeedParams()}
	}
	joins := make([]ws.JoinParams, len(feeds))
	for i, f := range feeds {
		joins[i] = f.join()
	}

	c.logger.WithField("feeds", len(joins)).Debug("Connecting to sale feed")
	return c.conn.Connect(ctx, joins...)
}

// Close closes the REST session and, when connected, the feed connection.
// The client cannot be used afterwards. Calling Close again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.http.Close()
	if c.conn.State().Active() {
		c.logger.Debug("Closing feed connection")
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	if c.ownsBus {
		if eb, ok := c.bus.(interface{ Shutdown() }); ok {
			eb.Shutdown()
		}
	}
	return err
}

// Run connects and blocks until SIGINT or SIGTERM arrives or the connection
// ends. Close always runs before Run returns, so Run must be the last call
// made on the client; register listeners before it.
func (c *Client) Run(params ...SaleFeedParams) error {
	return c.RunContext(context.Background(), params...)
}

// RunContext is Run bounded by ctx.
func (c *Client) RunContext(ctx context.Context, params ...SaleFeedParams) error {
	scope := newRunScope(ctx, c.logger)
	defer scope.release()
	defer func() {
		if err := c.Close(); err != nil {
			c.logger.WithError(err).Warn("Close failed")
		}
	}()

	return c.Connect(scope.ctx, params...)
}

// REST accessors

func (c *Client) GetItems(ctx context.Context, p ItemsParams) ([]Item, error) {
	return c.http.GetItems(ctx, p)
}

func (c *Client) GetSalesHistory(ctx context.Context, p SalesHistoryParams) ([]ItemWithSales, error) {
	return c.http.GetSalesHistory(ctx, p)
}

func (c *Client) GetSalesOutOfStock(ctx context.Context, p OutOfStockParams) ([]ItemOutOfStock, error) {
	return c.http.GetSalesOutOfStock(ctx, p)
}

func (c *Client) GetAccountTransactions(ctx context.Context, p TransactionsParams) (TransactionPage, error) {
	return c.http.GetAccountTransactions(ctx, p)
}

// Transactions iterates every account transaction.
func (c *Client) Transactions(p TransactionsParams) *TransactionIterator {
	return c.http.Transactions(p)
}
