package extron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config describes one switcher. It is validated once by NewClient.
type Config struct {
	Host       string
	Port       int
	Password   string
	NumInputs  int
	NumOutputs int

	CommandTimeout time.Duration
	LoginTimeout   time.Duration
	ConnectTimeout time.Duration
}

// Validate checks the connection and matrix parameters. A zero port means DefaultPort.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d not in 1..65535", c.Port))
	}
	if c.NumInputs < 1 {
		errs = append(errs, fmt.Errorf("num_inputs must be positive, got %d", c.NumInputs))
	}
	if c.NumOutputs < 1 {
		errs = append(errs, fmt.Errorf("num_outputs must be positive, got %d", c.NumOutputs))
	}
	return errors.Join(errs...)
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	dialer Dialer
}

// WithDialer replaces the TCP dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// Client is the API the host integration uses for one switcher.
type Client struct {
	cfg     Config
	session *Session
	matrix  *Matrix
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid switcher config: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionOpts := SessionOptions{
		CommandTimeout: cfg.CommandTimeout,
		LoginTimeout:   cfg.LoginTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}.withDefaults()

	o := clientOptions{
		dialer: TCPDialer{Timeout: sessionOpts.ConnectTimeout, WriteTimeout: sessionOpts.CommandTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}

	matrix := NewMatrix(cfg.NumInputs, cfg.NumOutputs)
	endpoint := Endpoint{Host: cfg.Host, Port: cfg.Port, Password: cfg.Password}

	return &Client{
		cfg:     cfg,
		session: NewSession(endpoint, o.dialer, matrix, sessionOpts, logger),
		matrix:  matrix,
		logger:  logger,
	}, nil
}

// Config returns the validated configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) State() State {
	return c.session.State()
}

func (c *Client) SessionID() string {
	return c.session.ID().String()
}

func (c *Client) LastActivity() time.Time {
	return c.session.LastActivity()
}

// Pending returns the number of queued and in-flight commands.
func (c *Client) Pending() int {
	return c.session.Pending()
}

// Stale reports whether the routing state needs a resync before it can be trusted.
func (c *Client) Stale() bool {
	return c.matrix.Stale()
}

// Available is what the integration shows per output: connected and in sync.
func (c *Client) Available() bool {
	return c.session.State() == StateReady && !c.matrix.Stale()
}

// SetRoute ties input to output and waits for the device to confirm it.
// Input 0 clears the output. Out-of-range values fail before anything is sent.
func (c *Client) SetRoute(ctx context.Context, output, input int, signal SignalClass) error {
	if signal != SignalVideo {
		return fmt.Errorf("%w: %q", ErrUnsupportedSignal, signal)
	}
	if err := c.matrix.Validate(output, input); err != nil {
		return err
	}

	if _, err := c.session.Submit(ctx, TieCommand{Input: input, Output: output}); err != nil {
		return fmt.Errorf("set output %d to input %d: %w", output, input, err)
	}
	return nil
}

// QueryRoute returns the input routed to output. When the state is stale
// and the session is Ready it resyncs first; otherwise the last known value
// is returned together with ErrStale.
func (c *Client) QueryRoute(ctx context.Context, output int, signal SignalClass) (int, error) {
	if signal != SignalVideo && signal != SignalAudio {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSignal, signal)
	}
	if err := c.matrix.Validate(output, 0); err != nil {
		return 0, err
	}

	if c.matrix.Stale() {
		if c.session.State() != StateReady {
			input, _ := c.matrix.Input(output, signal)
			return input, ErrStale
		}
		if err := c.session.Resync(ctx); err != nil {
			input, _ := c.matrix.Input(output, signal)
			return input, fmt.Errorf("%w: %w", ErrStale, err)
		}
	}
	return c.matrix.Input(output, signal)
}

// Subscribe registers fn for every routing change; see Matrix.Subscribe.
func (c *Client) Subscribe(fn func(Change)) func() {
	return c.matrix.Subscribe(fn)
}

// OnStateChange registers fn for session lifecycle transitions.
func (c *Client) OnStateChange(fn func(State)) func() {
	return c.session.OnStateChange(fn)
}

// Snapshot returns the last known routing without touching the wire.
func (c *Client) Snapshot() Snapshot {
	return c.matrix.Current()
}

func (c *Client) Resync(ctx context.Context) error {
	return c.session.Resync(ctx)
}

// Info asks the device for its matrix size.
func (c *Client) Info(ctx context.Context) (InfoReport, error) {
	v, err := c.session.Submit(ctx, InfoCommand{})
	if err != nil {
		return InfoReport{}, fmt.Errorf("information request: %w", err)
	}
	return v.(InfoReport), nil
}

// Output returns the addressable unit for output n (1-based).
func (c *Client) Output(n int) (*OutputUnit, error) {
	if err := c.matrix.Validate(n, 0); err != nil {
		return nil, err
	}
	return &OutputUnit{client: c, number: n}, nil
}

// Outputs returns one unit per configured output.
func (c *Client) Outputs() []*OutputUnit {
	units := make([]*OutputUnit, 0, c.cfg.NumOutputs)
	for n := 1; n <= c.cfg.NumOutputs; n++ {
		units = append(units, &OutputUnit{client: c, number: n})
	}
	return units
}
