package doisdk

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/types"
)

type ClientOption func(*doiClient)

// WithNetwork sets the chain parameters. Default: Doichain mainnet.
func WithNetwork(net *chaincfg.Params) ClientOption {
	return func(c *doiClient) {
		c.net = net
		c.Network = net.Name
	}
}

// WithGapLimit sets how many consecutive unused addresses end a path scan.
func WithGapLimit(gapLimit int) ClientOption {
	return func(c *doiClient) {
		c.GapLimit = gapLimit
	}
}

// WithBatchSize sets the initial batch size of path scans and its bounds.
func WithBatchSize(batchSize, minBatchSize, maxBatchSize int) ClientOption {
	return func(c *doiClient) {
		c.BatchSize = batchSize
		c.MinBatchSize = minBatchSize
		c.MaxBatchSize = maxBatchSize
	}
}

// WithStorageFee overrides the value locked in name outputs.
func WithStorageFee(fee int64) ClientOption {
	return func(c *doiClient) {
		c.StorageFee = fee
	}
}

// WithUnconfirmedFirst lists mempool transactions before confirmed ones.
func WithUnconfirmedFirst() ClientOption {
	return func(c *doiClient) {
		c.UnconfirmedFirst = true
	}
}

// WithNameOpStore publishes the name operations found by every scan to store.
func WithNameOpStore(store types.NameOpStore) ClientOption {
	return func(c *doiClient) {
		c.nameOpStore = store
	}
}

// WithPublishRetry bounds the attempts to publish name operations.
// Default: 3 attempts, 2 seconds apart.
func WithPublishRetry(maxAttempts int, delay time.Duration) ClientOption {
	return func(c *doiClient) {
		c.PublishRetry = types.RetryConfig{MaxAttempts: maxAttempts, Delay: delay}
	}
}

// WithContentFetcher enables GetNameMetadata.
func WithContentFetcher(fetcher types.ContentFetcher) ClientOption {
	return func(c *doiClient) {
		c.fetcher = fetcher
	}
}

func (c *doiClient) retryPolicy() utils.RetryPolicy {
	policy := utils.DefaultRetryPolicy()
	if c.PublishRetry.MaxAttempts > 0 {
		policy.MaxAttempts = c.PublishRetry.MaxAttempts
	}
	if c.PublishRetry.Delay > 0 {
		policy.Delay = c.PublishRetry.Delay
	}
	return policy
}
