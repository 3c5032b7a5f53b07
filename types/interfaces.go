package types

import (
	"context"
)

// ChainQuery is the request/response surface of the remote indexer. Every
// method is an idempotent read keyed by an electrum script hash, except for
// Broadcast.
type ChainQuery interface {
	ListUnspent(ctx context.Context, scriptHash string) ([]UnspentOutput, error)
	GetHistory(ctx context.Context, scriptHash string) ([]HistoryEntry, error)
	GetBalance(ctx context.Context, scriptHash string) (Balance, error)
	GetTransaction(ctx context.Context, txid string) (*RawTransaction, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	Close()
}

// NameOpStore caches discovered name operations. Upsert is idempotent: a
// record with an already stored txid replaces the previous one.
type NameOpStore interface {
	GetType() string
	Upsert(ctx context.Context, ops []NameOperation) (int, error)
	Get(ctx context.Context, txid string) (*NameOperation, error)
	GetByName(ctx context.Context, name string) ([]NameOperation, error)
	All(ctx context.Context) ([]NameOperation, error)
	Clean(ctx context.Context) error
	Close()
}

// ContentFetcher resolves a content identifier to its raw bytes.
type ContentFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}
