package bucketd

// DefaultAddr is the canonical loopback endpoint of the master's RPC
// listener.
const DefaultAddr = "127.0.0.1:9990"

// Option configures a master or a worker client.
type Option func(*options)

// options holds the shared configuration knobs.
type options struct {
	addr   string
	logger Logger
	clock  Clock
}

func applyOptions(opts []Option) *options {
	o := &options{
		addr:   DefaultAddr,
		logger: NewDefaultLogger(),
		clock:  SystemClock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithAddr sets the RPC endpoint: the listen address for a master, the dial
// address for a worker.
func WithAddr(addr string) Option {
	return func(o *options) {
		o.addr = addr
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used to stamp metadata records.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}
