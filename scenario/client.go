package scenario

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

const (
	// DefaultTimeout is the maximum amount of time given to one round trip
	// with the scenario service.
	DefaultTimeout = 30 * time.Second

	errInvalidDuration = "duration must be positive"
	errNoScenario      = "missing scenario path"
	errNodesAmount     = "negative nodes amount"
)

// Request is the message sent to the scenario service.
type Request struct {
	Duration int `json:"duration"`
}

// Response describes where the generated scenario lives and how large it is.
type Response struct {
	Scenario    string          `json:"scenario"`
	Clusters    json.RawMessage `json:"clusters"`
	NodesAmount int             `json:"nodes_amount"`
}

// Client requests the creation of a scenario.
type Client interface {
	RequestScenario(ctx context.Context, duration int) (Response, error)
}

// TCPClient talks to the scenario service with one JSON document per
// direction over a TCP connection.
type TCPClient struct {
	addr     string
	timeout  time.Duration
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
	dialer   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// ClientOption changes the behaviour of the TCP client.
type ClientOption func(c *TCPClient)

// WithTimeout sets the deadline of one round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *TCPClient) {
		c.timeout = d
	}
}

// WithRetry enables a bounded exponential backoff when the service cannot be
// reached. An attempt count lower than two disables it.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *TCPClient) {
		if attempts > 1 {
			c.attempts = uint(attempts)
			c.delay = delay
		}
	}
}

// WithLogger sets the logger of the client.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *TCPClient) {
		c.logger = l
	}
}

// NewTCPClient creates a client for the service listening at addr.
func NewTCPClient(addr string, opts ...ClientOption) *TCPClient {
	d := &net.Dialer{}

	c := &TCPClient{
		addr:     addr,
		timeout:  DefaultTimeout,
		attempts: 1,
		logger:   zap.NewNop(),
		dialer:   d.DialContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RequestScenario asks the service to build a scenario lasting the given
// duration and blocks until the reply is received.
func (c *TCPClient) RequestScenario(ctx context.Context, duration int) (Response, error) {
	if duration <= 0 {
		return Response{}, xerrors.New(errInvalidDuration)
	}

	if c.attempts <= 1 {
		return c.roundTrip(ctx, duration)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.delay

	attempt := 0

	return backoff.Retry(ctx, func() (Response, error) {
		attempt++

		resp, err := c.roundTrip(ctx, duration)
		if err == nil {
			return resp, nil
		}

		var chanErr *ChannelError
		if xerrors.As(err, &chanErr) && chanErr.Op == "decode" {
			return Response{}, backoff.Permanent(err)
		}

		c.logger.Warn("scenario request failed",
			zap.Int("attempt", attempt), zap.Error(err))

		return Response{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.attempts))
}

func (c *TCPClient) roundTrip(ctx context.Context, duration int) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer(ctx, "tcp", c.addr)
	if err != nil {
		return Response{}, &ChannelError{Op: "dial", Addr: c.addr, Err: err}
	}

	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetDeadline(deadline)
	}

	err = json.NewEncoder(conn).Encode(Request{Duration: duration})
	if err != nil {
		return Response{}, &ChannelError{Op: "write", Addr: c.addr, Err: err}
	}

	c.logger.Debug("scenario requested", zap.Int("duration", duration))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, &ChannelError{Op: "read", Addr: c.addr, Err: err}
	}

	resp, err := DecodeResponse(line)
	if err != nil {
		return Response{}, &ChannelError{Op: "decode", Addr: c.addr, Err: err}
	}

	return resp, nil
}

// DecodeResponse parses the reply of the service and checks that it holds a
// scenario location.
func DecodeResponse(data []byte) (Response, error) {
	resp := Response{}

	err := json.Unmarshal(data, &resp)
	if err != nil {
		return resp, xerrors.Errorf("couldn't decode the response: %w", err)
	}

	if resp.Scenario == "" {
		return resp, xerrors.New(errNoScenario)
	}

	if resp.NodesAmount < 0 {
		return resp, xerrors.New(errNodesAmount)
	}

	return resp, nil
}
