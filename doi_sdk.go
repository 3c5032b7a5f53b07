package doisdk

import (
	"context"

	"github.com/doichain/go-sdk/scanner"
	"github.com/doichain/go-sdk/txbuilder"
	"github.com/doichain/go-sdk/types"
)

var Version string

type DoiClient interface {
	GetVersion() string
	GetConfigData() types.Config
	// GetAddressTxs accepts either a single address or an extended public key.
	GetAddressTxs(ctx context.Context, addressOrXpub string) (*AddressTxs, error)
	GetUtxosAndNames(ctx context.Context, address string) (*UtxosAndNames, error)
	GetNameMetadata(ctx context.Context, nameValue string) (*NameMetadata, error)
	GetNameOperations(ctx context.Context, name string) ([]types.NameOperation, error)
	BuildNameRegistration(
		req txbuilder.NameRegistrationRequest,
	) (*types.UnsignedTransactionTemplate, error)
	BuildPurchase(req txbuilder.PurchaseRequest) (*types.UnsignedTransactionTemplate, error)
	PrepareNameRegistration(
		ctx context.Context, args NameRegistrationArgs,
	) (*types.UnsignedTransactionTemplate, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	SubscribeScanEvents(buf int) <-chan scanner.ScanEvent
	UnsubscribeScanEvents(ch <-chan scanner.ScanEvent)
	Stop()
}

// AddressTxs is everything known about an address or an extended key.
type AddressTxs struct {
	Transactions   []types.ClassifiedTransaction
	NameOperations []types.NameOperation
	Scan           *types.ScanResult
	// NextUnusedAddress and NextUnusedChangeAddress are the address itself
	// in single address mode.
	NextUnusedAddress       string
	NextUnusedChangeAddress string
	IsExtendedKey           bool
}

func (a *AddressTxs) Balance() types.Balance {
	if a.Scan == nil {
		return types.Balance{}
	}
	return a.Scan.TotalBalance()
}

// UtxosAndNames splits the unspent outputs of an address into plain funds
// and outputs locking a name, which must not be spent as funds.
type UtxosAndNames struct {
	Utxos      []types.SpendableUtxo
	Names      []string
	TotalValue int64
}

// NameMetadata is the JSON document a name value can point to.
type NameMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// NameRegistrationArgs registers a name funded by the plain utxos of
// FundingAddress. Recipient and change default to the funding address.
type NameRegistrationArgs struct {
	FundingAddress   string
	RecipientAddress string
	ChangeAddress    string
	Name             string
	Value            string
	Pinning          *txbuilder.PinningFee
}
