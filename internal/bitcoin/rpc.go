package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/retry"
)

// RPCConfig holds the bitcoind connection settings.
type RPCConfig struct {
	Host       string // host:port
	User       string
	Pass       string
	DisableTLS bool
	Params     *chaincfg.Params

	// OnBreakerChange observes circuit breaker transitions, typically a metric.
	OnBreakerChange func(name string, from, to circuit.State)
}

// RPCClient provides the subset of bitcoind's JSON-RPC API a solo miner needs.
// Every call is guarded by a circuit breaker and retried with backoff.
type RPCClient struct {
	client         *rpcclient.Client
	params         *chaincfg.Params
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewRPCClient creates a new bitcoind RPC client in HTTP POST mode.
//
// Parameters:
//   - cfg: Connection settings; Params defaults to mainnet
//
// Returns:
//   - *RPCClient: Configured RPC client ready for use
//   - error: Any error encountered during client creation
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	if cfg.Host == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "rpc_client_creation",
			"bitcoind host is required")
	}
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "rpc_client_creation",
			"failed to create Bitcoin RPC client").
			WithContext("host", cfg.Host)
	}

	cbConfig := circuit.RPCConfig()
	cbConfig.OnStateChange = cfg.OnBreakerChange

	return &RPCClient{
		client:         client,
		params:         cfg.Params,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}, nil
}

// Params returns the chain parameters the client was configured with.
func (c *RPCClient) Params() *chaincfg.Params {
	return c.params
}

// Close gracefully shuts down the RPC client and releases any resources.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// GetBlockTemplate retrieves a segwit block template from bitcoind.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout
//
// Returns:
//   - *btcjson.GetBlockTemplateResult: The mining template with transactions and metadata
//   - error: Any error from bitcoind
func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*btcjson.GetBlockTemplateResult, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*btcjson.GetBlockTemplateResult, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*btcjson.GetBlockTemplateResult, error) {
			req := &btcjson.TemplateRequest{
				Mode:         "template",
				Capabilities: []string{"coinbasetxn", "workid", "coinbase/append"},
				Rules:        []string{"segwit"},
			}

			template, err := c.client.GetBlockTemplateAsync(req).Receive()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "get_block_template",
					"failed to retrieve block template from bitcoind")
			}
			return template, nil
		})
	})
}

// SubmitBlock submits a solved block. Block submission is time critical so it
// uses the short SubmitConfig retry policy.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout
//   - block: The complete block
//
// Returns:
//   - error: Any error from bitcoind or the network
func (c *RPCClient) SubmitBlock(ctx context.Context, block *btcutil.Block) error {
	if block == nil {
		return errors.New(errors.ErrorTypeValidation, "submit_block", "block is nil")
	}

	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, retry.SubmitConfig(), func() error {
			if err := c.client.SubmitBlockAsync(block, nil).Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeBitcoin, "submit_block",
					"failed to submit block to bitcoind").
					WithContext("block_hash", block.Hash().String())
			}
			return nil
		})
	})
}

// Ping tests the connection to bitcoind.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			if err := c.client.PingAsync().Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "ping",
					"bitcoind connectivity check failed")
			}
			return nil
		})
	})
}
