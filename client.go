package doisdk

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/doichain/go-sdk/classifier"
	"github.com/doichain/go-sdk/derivation"
	"github.com/doichain/go-sdk/explorer"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/nameop"
	"github.com/doichain/go-sdk/network"
	"github.com/doichain/go-sdk/scanner"
	kvstore "github.com/doichain/go-sdk/store/kv"
	"github.com/doichain/go-sdk/txbuilder"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	ipfsScheme       = "ipfs://"
	fetchConcurrency = 8
)

type doiClient struct {
	types.Config

	net         *chaincfg.Params
	query       types.ChainQuery
	nameOpStore types.NameOpStore
	fetcher     types.ContentFetcher

	scanner    *scanner.Scanner
	classifier *classifier.Classifier
	events     *utils.Broadcaster[scanner.ScanEvent]
}

// NewDoiClient builds a client on top of an already connected chain query
// service.
func NewDoiClient(query types.ChainQuery, opts ...ClientOption) (DoiClient, error) {
	if query == nil {
		return nil, ErrMissingChainQuery
	}

	client := &doiClient{
		Config: types.Config{
			Network:    network.DoichainMainnet,
			StorageFee: txbuilder.DefaultStorageFee,
		},
		net:    &network.Doichain,
		query:  query,
		events: utils.NewBroadcaster[scanner.ScanEvent](),
	}
	for _, opt := range opts {
		opt(client)
	}

	scannerOpts := []scanner.Option{
		scanner.WithGapLimit(client.GapLimit),
		scanner.WithBatchSize(client.BatchSize),
		scanner.WithEvents(client.events),
	}
	if client.MinBatchSize > 0 && client.MaxBatchSize >= client.MinBatchSize {
		scannerOpts = append(
			scannerOpts, scanner.WithBatchBounds(client.MinBatchSize, client.MaxBatchSize),
		)
	}
	client.scanner = scanner.NewScanner(query, client.net, scannerOpts...)
	client.classifier = classifier.NewClassifier(
		query, client.net, classifier.WithUnconfirmedFirst(client.UnconfirmedFirst),
	)

	return client, nil
}

// LoadDoiClient connects to the electrum server named in the config and
// opens the name operation store it asks for.
func LoadDoiClient(ctx context.Context, cfg types.Config, opts ...ClientOption) (DoiClient, error) {
	net, err := network.FromString(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.ExplorerURL == "" {
		return nil, fmt.Errorf("missing electrum server url")
	}

	explorerSvc, err := explorer.NewExplorer(
		ctx, cfg.ExplorerURL, net, explorer.WithRequestsPerSecond(cfg.RequestsPerSecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to setup explorer: %s", err)
	}

	cfgOpts := []ClientOption{
		func(c *doiClient) { c.Config = cfg },
		WithNetwork(net),
	}

	switch cfg.StoreType {
	case types.KVStore, types.InMemoryStore:
		dir := cfg.Datadir
		if cfg.StoreType == types.InMemoryStore {
			dir = ""
		}
		store, err := kvstore.NewNameOpStore(dir, kvstore.NewLogger("nameops"))
		if err != nil {
			explorerSvc.Close()
			return nil, err
		}
		cfgOpts = append(cfgOpts, WithNameOpStore(store))
	case "":
	default:
		explorerSvc.Close()
		return nil, fmt.Errorf("unknown store type %s", cfg.StoreType)
	}

	return NewDoiClient(explorerSvc, append(cfgOpts, opts...)...)
}

func (c *doiClient) GetVersion() string {
	return Version
}

func (c *doiClient) GetConfigData() types.Config {
	return c.Config
}

// GetAddressTxs classifies the history of a single address or of every
// address an extended key has used.
//
// Failures of the remote queries are logged and whatever was gathered is
// returned. Only a canceled context makes it return an error, together with
// the partial result.
func (c *doiClient) GetAddressTxs(ctx context.Context, addressOrXpub string) (*AddressTxs, error) {
	input := strings.TrimSpace(addressOrXpub)

	_, addrErr := utils.ParseAddress(input, c.net)
	if addrErr == nil {
		scan, err := c.scanner.ScanAddress(ctx, input)
		return c.finish(ctx, scan, false, err)
	}

	key, keyErr := derivation.ParseExtendedKey(input)
	if keyErr != nil {
		return nil, UnknownInputError{Input: input, AddressErr: addrErr, KeyErr: keyErr}
	}
	scan, err := c.scanner.ScanKey(ctx, key)
	return c.finish(ctx, scan, true, err)
}

func (c *doiClient) finish(
	ctx context.Context, scan *types.ScanResult, isExtendedKey bool, scanErr error,
) (*AddressTxs, error) {
	if scan == nil {
		scan = types.NewScanResult()
	}
	result := &AddressTxs{
		Transactions:   make([]types.ClassifiedTransaction, 0),
		NameOperations: make([]types.NameOperation, 0),
		Scan:           scan,
		IsExtendedKey:  isExtendedKey,
	}
	if scan.NextUnusedReceiveAddress != nil {
		result.NextUnusedAddress = scan.NextUnusedReceiveAddress.Address
	}
	if scan.NextUnusedChangeAddress != nil {
		result.NextUnusedChangeAddress = scan.NextUnusedChangeAddress.Address
	}

	if scanErr != nil {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log.WithError(scanErr).Error("failed to scan, returning partial result")
	}

	txs, err := c.classifier.ClassifyScan(ctx, scan)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		log.WithError(err).Error("failed to classify transactions")
		return result, nil
	}
	result.Transactions = txs
	result.NameOperations = classifier.ExtractNameOperations(txs)

	c.publishNameOperations(ctx, result.NameOperations)

	log.WithFields(log.Fields{
		"addresses":    len(scan.Addresses),
		"transactions": len(txs),
		"names":        len(result.NameOperations),
	}).Debug("address txs ready")
	return result, nil
}

func (c *doiClient) publishNameOperations(ctx context.Context, ops []types.NameOperation) {
	if c.nameOpStore == nil || len(ops) == 0 {
		return
	}

	err := c.retryPolicy().Do(ctx, "publish name operations", func(ctx context.Context) error {
		count, err := c.nameOpStore.Upsert(ctx, ops)
		if err != nil {
			return err
		}
		log.Debugf("published %d name operations", count)
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("failed to publish name operations")
	}
}

func (c *doiClient) GetUtxosAndNames(ctx context.Context, address string) (*UtxosAndNames, error) {
	script, err := utils.ToOutputScript(address, c.net)
	if err != nil {
		return nil, err
	}
	unspent, err := c.query.ListUnspent(ctx, utils.ScriptHash(script))
	if err != nil {
		return nil, types.RemoteQueryError{Address: address, Method: "listunspent", Err: err}
	}

	type slot struct {
		utxo *types.SpendableUtxo
		name string
	}
	slots := make([]slot, len(unspent))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, u := range unspent {
		g.Go(func() error {
			raw, err := c.query.GetTransaction(gctx, u.TxHash)
			if err != nil {
				return types.RemoteQueryError{Address: address, Method: "transaction.get", Err: err}
			}
			tx, err := utils.DecodeTx(raw.Hex)
			if err != nil {
				return err
			}
			if int(u.OutputIndex) >= len(tx.TxOut) {
				return fmt.Errorf("tx %s has no output %d", u.TxHash, u.OutputIndex)
			}

			pkScript := tx.TxOut[u.OutputIndex].PkScript
			if name, ok := nameop.Parse(pkScript); ok {
				slots[i].name = name.Name
				return nil
			}
			slots[i].utxo = &types.SpendableUtxo{
				Utxo: types.Utxo{
					TxHash:          u.TxHash,
					OutputIndex:     u.OutputIndex,
					Value:           u.Value,
					OwnerAddress:    address,
					ScriptPubKeyHex: hex.EncodeToString(pkScript),
					ScriptType:      utils.ScriptTypeOf(pkScript),
					Height:          u.Height,
				},
				PrevTxHex: raw.Hex,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &UtxosAndNames{
		Utxos: make([]types.SpendableUtxo, 0, len(unspent)),
		Names: make([]string, 0),
	}
	for _, s := range slots {
		if s.utxo != nil {
			result.Utxos = append(result.Utxos, *s.utxo)
			result.TotalValue += s.utxo.Value
			continue
		}
		result.Names = append(result.Names, s.name)
	}
	return result, nil
}

// GetNameMetadata resolves an ipfs:// name value into the metadata document
// it points to.
func (c *doiClient) GetNameMetadata(ctx context.Context, nameValue string) (*NameMetadata, error) {
	if c.fetcher == nil {
		return nil, ErrNoContentFetcher
	}
	cid, ok := strings.CutPrefix(strings.TrimSpace(nameValue), ipfsScheme)
	if !ok || cid == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNameValue, nameValue)
	}

	data, err := c.fetcher.Fetch(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", cid, err)
	}

	var metadata NameMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata at %s: %s", cid, err)
	}
	return &metadata, nil
}

func (c *doiClient) GetNameOperations(ctx context.Context, name string) ([]types.NameOperation, error) {
	if c.nameOpStore == nil {
		return nil, ErrNoNameOpStore
	}
	return c.nameOpStore.GetByName(ctx, name)
}

func (c *doiClient) BuildNameRegistration(
	req txbuilder.NameRegistrationRequest,
) (*types.UnsignedTransactionTemplate, error) {
	if req.Params == nil {
		req.Params = c.net
	}
	if req.StorageFee <= 0 {
		req.StorageFee = c.StorageFee
	}
	return txbuilder.BuildNameRegistration(req)
}

func (c *doiClient) BuildPurchase(
	req txbuilder.PurchaseRequest,
) (*types.UnsignedTransactionTemplate, error) {
	if req.Params == nil {
		req.Params = c.net
	}
	return txbuilder.BuildPurchase(req)
}

// PrepareNameRegistration selects the plain utxos of the funding address
// needed to register the name and builds the registration.
func (c *doiClient) PrepareNameRegistration(
	ctx context.Context, args NameRegistrationArgs,
) (*types.UnsignedTransactionTemplate, error) {
	if args.FundingAddress == "" {
		return nil, types.MissingParameterError{Fields: []string{"funding_address"}}
	}
	if args.RecipientAddress == "" {
		args.RecipientAddress = args.FundingAddress
	}
	if args.ChangeAddress == "" {
		args.ChangeAddress = args.FundingAddress
	}

	funds, err := c.GetUtxosAndNames(ctx, args.FundingAddress)
	if err != nil {
		return nil, err
	}

	storageFee := c.StorageFee
	if storageFee <= 0 {
		storageFee = txbuilder.DefaultStorageFee
	}
	amount := storageFee
	// name and change outputs
	numOutputs := 2
	if args.Pinning != nil && args.Pinning.Amount > 0 {
		amount += args.Pinning.Amount
		numOutputs++
	}

	selected, err := txbuilder.SelectUtxos(funds.Utxos, amount, numOutputs)
	if err != nil {
		return nil, err
	}

	return c.BuildNameRegistration(txbuilder.NameRegistrationRequest{
		Utxos:            selected,
		NameID:           args.Name,
		NameValue:        args.Value,
		RecipientAddress: args.RecipientAddress,
		ChangeAddress:    args.ChangeAddress,
		StorageFee:       storageFee,
		Pinning:          args.Pinning,
	})
}

func (c *doiClient) Broadcast(ctx context.Context, txHex string) (string, error) {
	return c.query.Broadcast(ctx, txHex)
}

// SubscribeScanEvents streams an event for every address queried by the
// following scans. A subscriber that does not keep up is dropped and its
// channel closed.
func (c *doiClient) SubscribeScanEvents(buf int) <-chan scanner.ScanEvent {
	return c.events.Subscribe(buf)
}

func (c *doiClient) UnsubscribeScanEvents(ch <-chan scanner.ScanEvent) {
	c.events.Unsubscribe(ch)
}

func (c *doiClient) Stop() {
	c.events.Close()
	c.query.Close()
	if c.nameOpStore != nil {
		c.nameOpStore.Close()
	}
}
