// Package flags contains all configuration runtime flags for
// the federator service.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"

	cmdflags "github.com/eidaws/eidaws/cmd/flags"
)

var (
	endpointRequestMethodValue string
	cacheTypeValue             string
)

var (
	// PortFlag defines the port the federator HTTP service listens on.
	PortFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port the federator HTTP service listens on",
		Value: 8080,
	}
	// MonitoringPortFlag defines the http port used to serve prometheus metrics.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus",
		Value: 8081,
	}
	// RoutingURLFlag points at the routing service consulted for every
	// federated request.
	RoutingURLFlag = &cli.StringFlag{
		Name:  "routing-url",
		Usage: "URL of the eidaws routing service query method",
		Value: "http://localhost:8002/eidaws/routing/1/query",
	}
	// RoutingConnLimitFlag caps concurrent connections to the routing
	// service.
	RoutingConnLimitFlag = &cli.IntFlag{
		Name:  "routing-connection-limit",
		Usage: "Maximum concurrent connections to the routing service",
		Value: 10,
	}
	// RoutingTimeoutFlag bounds a single routing call.
	RoutingTimeoutFlag = &cli.DurationFlag{
		Name:  "routing-timeout",
		Usage: "Timeout of a single routing service call",
		Value: 30 * time.Second,
	}
	// EndpointConnLimitFlag caps pooled connections across all endpoints.
	EndpointConnLimitFlag = &cli.IntFlag{
		Name:  "endpoint-connection-limit",
		Usage: "Maximum pooled connections across all federated endpoints",
		Value: 100,
	}
	// EndpointConnLimitPerHostFlag caps connections per endpoint host.
	EndpointConnLimitPerHostFlag = &cli.IntFlag{
		Name:  "endpoint-connection-limit-per-host",
		Usage: "Maximum concurrent connections per federated endpoint host",
		Value: 20,
	}
	// EndpointTimeoutFlag bounds one endpoint sub-request including reading
	// its body.
	EndpointTimeoutFlag = &cli.DurationFlag{
		Name:  "endpoint-timeout",
		Usage: "Timeout of a single endpoint sub-request",
		Value: 2 * time.Minute,
	}
	// EndpointTimeoutConnectFlag bounds establishing a connection to an
	// endpoint.
	EndpointTimeoutConnectFlag = &cli.DurationFlag{
		Name:  "endpoint-timeout-connect",
		Usage: "Timeout for establishing a connection to an endpoint",
		Value: 30 * time.Second,
	}
	// EndpointRequestMethodFlag selects how sub-requests are issued towards
	// the endpoints.
	EndpointRequestMethodFlag = cmdflags.EnumValue{
		Name:        "endpoint-request-method",
		Usage:       "HTTP method for endpoint sub-requests. Supports: GET, POST",
		Enum:        []string{"GET", "POST"},
		Value:       "GET",
		Destination: &endpointRequestMethodValue,
	}.GenericFlag()
	// PoolSizeFlag caps concurrently running sub-requests per federated
	// request.
	PoolSizeFlag = &cli.IntFlag{
		Name:  "pool-size",
		Usage: "Maximum concurrently dispatched sub-requests per federated request",
		Value: 16,
	}
	// StreamingTimeoutFlag bounds the federation of one request.
	StreamingTimeoutFlag = &cli.DurationFlag{
		Name:  "streaming-timeout",
		Usage: "Time budget for federating one request before it fails with 413",
		Value: 10 * time.Minute,
	}
	// MaxStreamEpochDurationFlag caps the window of a single routed stream
	// epoch.
	MaxStreamEpochDurationFlag = &cli.DurationFlag{
		Name:  "max-stream-epoch-duration",
		Usage: "Maximum window of a single routed stream epoch, 0 disables the limit",
	}
	// MaxTotalStreamEpochDurationFlag caps the summed windows of all routed
	// stream epochs.
	MaxTotalStreamEpochDurationFlag = &cli.DurationFlag{
		Name:  "max-total-stream-epoch-duration",
		Usage: "Maximum summed window of all routed stream epochs, 0 disables the limit",
	}
	// SplittingFactorFlag is the number of pieces an oversized window is
	// sliced into when an endpoint responds with 413.
	SplittingFactorFlag = &cli.IntFlag{
		Name:  "splitting-factor",
		Usage: "Number of pieces an oversized request window is split into",
		Value: 2,
	}
	// FallbackMSeedRecordSizeFlag substitutes the record length for MiniSEED
	// responses without a blockette 1000.
	FallbackMSeedRecordSizeFlag = &cli.IntFlag{
		Name:  "fallback-mseed-record-size",
		Usage: "Record size assumed for MiniSEED data without blockette 1000, 0 drops such data",
	}
	// TempDirFlag holds spilled worker buffers.
	TempDirFlag = &cli.StringFlag{
		Name:  "tempdir",
		Usage: "Directory for temporarily buffered sub-responses, empty uses the system default",
	}
	// BufferRolloverSizeFlag is the in-memory buffer size beyond which
	// worker payloads spill to disk.
	BufferRolloverSizeFlag = &cli.IntFlag{
		Name:  "buffer-rollover-size",
		Usage: "In-memory buffer size in bytes beyond which sub-responses spill to disk",
		Value: 512 << 10,
	}
	// RedisURLFlag locates the redis instance shared by the retry budget
	// and the redis cache backend.
	RedisURLFlag = &cli.StringFlag{
		Name:  "redis-url",
		Usage: "URL of the redis instance keeping the shared retry budget statistics",
		Value: "redis://localhost:6379/0",
	}
	// RedisPoolMinSizeFlag keeps this many idle redis connections open.
	RedisPoolMinSizeFlag = &cli.IntFlag{
		Name:  "redis-pool-minsize",
		Usage: "Minimum number of idle redis connections, 0 uses the library default",
	}
	// RedisPoolMaxSizeFlag caps the redis connection pool.
	RedisPoolMaxSizeFlag = &cli.IntFlag{
		Name:  "redis-pool-maxsize",
		Usage: "Maximum size of the redis connection pool, 0 uses the library default",
	}
	// RedisPoolTimeoutFlag bounds the wait for a free redis connection.
	RedisPoolTimeoutFlag = &cli.DurationFlag{
		Name:  "redis-pool-timeout",
		Usage: "Timeout waiting for a free redis connection, 0 uses the library default",
	}
	// RetryBudgetThresholdFlag is the error ratio above which an endpoint
	// is skipped.
	RetryBudgetThresholdFlag = &cli.Float64Flag{
		Name:  "retry-budget-threshold",
		Usage: "Error ratio in [0, 1] above which an endpoint is temporarily skipped",
		Value: 1.0,
	}
	// RetryBudgetTTLFlag is the rolling window the error ratio is computed
	// over.
	RetryBudgetTTLFlag = &cli.DurationFlag{
		Name:  "retry-budget-ttl",
		Usage: "Rolling window the endpoint error ratio is computed over",
		Value: time.Hour,
	}
	// RetryBudgetWindowSizeFlag caps the kept response codes per endpoint.
	RetryBudgetWindowSizeFlag = &cli.IntFlag{
		Name:  "retry-budget-window-size",
		Usage: "Maximum number of response codes kept per endpoint",
		Value: 10000,
	}
	// CacheTypeFlag selects the response cache backend.
	CacheTypeFlag = cmdflags.EnumValue{
		Name:        "cache-type",
		Usage:       "Response cache backend. Supports: null, memory, redis",
		Enum:        []string{"null", "memory", "redis"},
		Value:       "null",
		Destination: &cacheTypeValue,
	}.GenericFlag()
	// CacheURLFlag locates the redis instance of the redis cache backend.
	CacheURLFlag = &cli.StringFlag{
		Name:  "cache-url",
		Usage: "URL of the redis instance backing the redis response cache",
		Value: "redis://localhost:6379/0",
	}
	// CacheDefaultTimeoutFlag is the lifetime of cached responses.
	CacheDefaultTimeoutFlag = &cli.DurationFlag{
		Name:  "cache-default-timeout",
		Usage: "Lifetime of cached federated responses",
		Value: 5 * time.Minute,
	}
	// CacheCompressFlag gzip compresses cached responses.
	CacheCompressFlag = &cli.BoolFlag{
		Name:  "cache-compress",
		Usage: "Store cached responses gzip compressed",
		Value: true,
	}
	// ServeStaticFlag serves application.wadl documents from this directory.
	ServeStaticFlag = &cli.StringFlag{
		Name:  "serve-static",
		Usage: "Directory with per service application.wadl documents, empty disables them",
	}
	// CorsDomainFlag is a list of origins accepted for cross origin requests.
	CorsDomainFlag = &cli.StringFlag{
		Name:  "corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value: "*",
	}
)
