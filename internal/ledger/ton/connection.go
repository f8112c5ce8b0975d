package ton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/circuitbreaker"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
	"github.com/emperorhan/wallet-runtime/internal/ratelimit"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
)

// Config tunes every connection built by a Connector.
type Config struct {
	RPS                     float64
	Burst                   int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
}

// Connector builds lite-server connections from a global config URL.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, logger: logger.With("component", "ton")}
}

func (c *Connector) Connect(ctx context.Context, params model.NetworkParams) (ledger.Connection, error) {
	if params.ConfigURL == "" {
		return nil, apperror.InvalidRequest("network "+params.Key()+" has no config url", nil)
	}
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, params.ConfigURL); err != nil {
		return nil, fmt.Errorf("add lite-servers from %s: %w", params.ConfigURL, err)
	}
	api := &poolClient{APIClient: ton.NewAPIClient(pool), pool: pool}
	conn := newConnection(params, api, c.cfg, c.logger)
	c.logger.Info("lite-server pool connected", "network", params.Key())
	return conn, nil
}

// Connection is one lite-server pool. It implements ledger.Connection.
type Connection struct {
	params  model.NetworkParams
	api     liteAPI
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	nowFn   func() time.Time
}

func newConnection(params model.NetworkParams, api liteAPI, cfg Config, logger *slog.Logger) *Connection {
	network := params.Key()
	return &Connection{
		params:  params,
		api:     api,
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst, network),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			IsFailure: func(err error) bool {
				return !errors.Is(err, ledger.ErrBlockWaitTimeout) && apperror.Classify(err).IsTransient()
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(network).Set(float64(to))
				logger.Warn("lite-server circuit breaker state changed", "network", network, "from", from, "to", to)
			},
		}),
		logger: logger.With("network", network),
		nowFn:  time.Now,
	}
}

func (c *Connection) Params() model.NetworkParams {
	return c.params
}

func (c *Connection) Close() error {
	c.api.Close()
	c.logger.Info("lite-server pool closed")
	return nil
}

// call runs fn through the rate limiter and the circuit breaker.
func (c *Connection) call(ctx context.Context, method string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.breaker.Execute(fn)
	ratelimit.RecordRPCCall(c.params.Key(), method, err)
	return err
}

func (c *Connection) latestMaster(ctx context.Context) (*ton.BlockIDExt, error) {
	var block *ton.BlockIDExt
	err := c.call(ctx, "current_masterchain_info", func() error {
		var err error
		block, err = c.api.CurrentMasterchainInfo(ctx)
		return err
	})
	return block, err
}

func (c *Connection) GetLatestBlock(ctx context.Context, _ model.Address) (model.BlockID, error) {
	block, err := c.latestMaster(ctx)
	if err != nil {
		return "", err
	}
	return encodeBlockID(block), nil
}

// WaitForNextBlock waits for the masterchain block after current. Account
// states are read at masterchain blocks, so addr does not narrow the wait.
func (c *Connection) WaitForNextBlock(ctx context.Context, current model.BlockID, _ model.Address, timeout time.Duration) (model.BlockID, error) {
	block, err := decodeBlockID(current)
	if err != nil {
		return "", apperror.InvalidRequest("cannot wait after block", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var next *ton.BlockIDExt
	err = c.call(waitCtx, "wait_master_block", func() error {
		var err error
		next, err = c.api.WaitMasterBlock(waitCtx, block.SeqNo+1)
		if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return ledger.ErrBlockWaitTimeout
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return encodeBlockID(next), nil
}

func (c *Connection) SupportsBlockWait() bool {
	return true
}
