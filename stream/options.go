package stream

import (
	"context"
	"time"

	"github.com/marketflow/tvstream/types"
)

// Connection defaults; all of them can be overridden per client.
const (
	DefaultEndpoint = "wss://data.tradingview.com/socket.io/websocket"
	DefaultOrigin   = "https://www.tradingview.com"

	DefaultMaxReconnectAttempts = 5
	DefaultReconnectCap         = 30 * time.Second
	DefaultConnectTimeout       = 15 * time.Second
)

type (
	// CredentialSource supplies the auth material sent at bootstrap and
	// attached to metadata requests. Implementations may rotate material
	// between calls.
	CredentialSource interface {
		Credentials() types.Credentials
	}

	// StaticCredentials is a CredentialSource with fixed contents.
	StaticCredentials types.Credentials

	// DescriptorProvider resolves an indicator wire id into its metadata
	// descriptor.
	DescriptorProvider interface {
		Descriptor(ctx context.Context, id, version string, creds types.Credentials) (types.Descriptor, error)
	}

	// Option configures a Client at construction.
	Option func(*options)

	options struct {
		endpoint             string
		origin               string
		creds                CredentialSource
		descriptors          DescriptorProvider
		maxReconnectAttempts int
		reconnectCap         time.Duration
		connectTimeout       time.Duration
	}
)

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials() types.Credentials {
	return types.Credentials(s)
}

func defaultOptions() options {
	return options{
		endpoint:             DefaultEndpoint,
		origin:               DefaultOrigin,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		reconnectCap:         DefaultReconnectCap,
		connectTimeout:       DefaultConnectTimeout,
	}
}

// WithEndpoint points the client at a different chart endpoint, mostly
// useful against test servers.
func WithEndpoint(url string) Option {
	return func(o *options) {
		o.endpoint = url
	}
}

// WithOrigin overrides the Origin header sent on the websocket handshake.
func WithOrigin(origin string) Option {
	return func(o *options) {
		o.origin = origin
	}
}

// WithCredentials wires an auth source; without one the client runs
// anonymously.
func WithCredentials(src CredentialSource) Option {
	return func(o *options) {
		o.creds = src
	}
}

// WithDescriptorProvider overrides the process-wide metadata provider.
func WithDescriptorProvider(p DescriptorProvider) Option {
	return func(o *options) {
		o.descriptors = p
	}
}

// WithMaxReconnectAttempts bounds consecutive failed connect attempts before
// the engine gives up; a fresh Connect re-arms it.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *options) {
		o.maxReconnectAttempts = n
	}
}

// WithReconnectCap caps the exponential delay between connect attempts.
func WithReconnectCap(d time.Duration) Option {
	return func(o *options) {
		o.reconnectCap = d
	}
}

// WithConnectTimeout bounds how long Connect blocks awaiting the first
// successful bootstrap.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}
