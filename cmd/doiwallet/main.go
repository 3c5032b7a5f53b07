package main

import (
	"encoding/json"
	"fmt"
	"os"

	doisdk "github.com/doichain/go-sdk"
	"github.com/doichain/go-sdk/config"
	"github.com/doichain/go-sdk/txbuilder"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	DatadirEnvVar = "DOI_WALLET_DATADIR"
)

var (
	Version   string
	doiClient doisdk.DoiClient
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "Doichain wallet CLI"
	app.Usage = "inspect and register Doichain names from the command line"
	app.Commands = append(
		app.Commands,
		&configCommand,
		&scanCommand,
		&balanceCommand,
		&utxosCommand,
		&namesCommand,
		&registerCommand,
		&broadcastCommand,
		&versionCommand,
	)
	app.Flags = []cli.Flag{datadirFlag, verboseFlag}
	app.Before = func(ctx *cli.Context) error {
		if ctx.Args().First() == "version" {
			return nil
		}
		client, err := getDoiClient(ctx)
		if err != nil {
			return fmt.Errorf("error initializing doichain client: %v", err)
		}
		doiClient = client
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if doiClient != nil {
			doiClient.Stop()
		}
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

var (
	datadirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Specify the data directory",
		Required: false,
		Value:    config.DefaultDatadir,
		EnvVars:  []string{DatadirEnvVar},
	}
	verboseFlag = &cli.BoolFlag{
		Name:        "verbose",
		Usage:       "enable debug logs",
		Value:       false,
		DefaultText: "false",
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "address funding the transaction",
		Required: true,
	}
	toFlag = &cli.StringFlag{
		Name:  "to",
		Usage: "address receiving the name, defaults to the funding address",
	}
	changeFlag = &cli.StringFlag{
		Name:  "change",
		Usage: "change address, defaults to the funding address",
	}
	nameFlag = &cli.StringFlag{
		Name:     "name",
		Usage:    "name to register",
		Required: true,
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "value stored with the name",
	}
	pinningAddressFlag = &cli.StringFlag{
		Name:  "pinning-address",
		Usage: "address of the pinning service",
	}
	pinningAmountFlag = &cli.Int64Flag{
		Name:  "pinning-amount",
		Usage: "amount in sats paid to the pinning service",
	}
	txFlag = &cli.StringFlag{
		Name:     "tx",
		Usage:    "hex encoded signed transaction",
		Required: true,
	}
)

var (
	configCommand = cli.Command{
		Name:  "config",
		Usage: "Shows wallet configuration",
		Action: func(ctx *cli.Context) error {
			return showConfig(ctx)
		},
	}
	scanCommand = cli.Command{
		Name:      "scan",
		Usage:     "Lists the transactions of an address or an extended public key",
		ArgsUsage: "<address|xpub>",
		Action: func(ctx *cli.Context) error {
			return scan(ctx)
		},
	}
	balanceCommand = cli.Command{
		Name:      "balance",
		Usage:     "Shows the balance of an address or an extended public key",
		ArgsUsage: "<address|xpub>",
		Action: func(ctx *cli.Context) error {
			return balance(ctx)
		},
	}
	utxosCommand = cli.Command{
		Name:      "utxos",
		Usage:     "Lists the spendable outputs and the names held by an address",
		ArgsUsage: "<address>",
		Action: func(ctx *cli.Context) error {
			return utxos(ctx)
		},
	}
	namesCommand = cli.Command{
		Name:      "names",
		Usage:     "Shows the known operations of a name",
		ArgsUsage: "<name>",
		Action: func(ctx *cli.Context) error {
			return names(ctx)
		},
	}
	registerCommand = cli.Command{
		Name:  "register",
		Usage: "Builds an unsigned name registration PSBT",
		Flags: []cli.Flag{
			addressFlag, toFlag, changeFlag, nameFlag, valueFlag,
			pinningAddressFlag, pinningAmountFlag,
		},
		Action: func(ctx *cli.Context) error {
			return register(ctx)
		},
	}
	broadcastCommand = cli.Command{
		Name:  "broadcast",
		Usage: "Broadcasts a signed transaction",
		Flags: []cli.Flag{txFlag},
		Action: func(ctx *cli.Context) error {
			return broadcast(ctx)
		},
	}
	versionCommand = cli.Command{
		Name:  "version",
		Usage: "Display version information",
		Action: func(ctx *cli.Context) error {
			fmt.Printf("Doichain wallet CLI version: %s\n", Version)
			return nil
		},
	}
)

func showConfig(_ *cli.Context) error {
	cfg := doiClient.GetConfigData()
	return printJSON(map[string]interface{}{
		"network":             cfg.Network,
		"electrum_url":        cfg.ExplorerURL,
		"datadir":             cfg.Datadir,
		"store_type":          cfg.StoreType,
		"gap_limit":           cfg.GapLimit,
		"batch_size":          cfg.BatchSize,
		"storage_fee":         types.SatsToCoins(cfg.StorageFee).String(),
		"unconfirmed_first":   cfg.UnconfirmedFirst,
		"requests_per_second": cfg.RequestsPerSecond,
	})
}

func scan(ctx *cli.Context) error {
	input, err := firstArg(ctx, "address or extended public key")
	if err != nil {
		return err
	}
	res, err := doiClient.GetAddressTxs(ctx.Context, input)
	if err != nil {
		return err
	}

	txs := make([]map[string]interface{}, 0, len(res.Transactions))
	for _, tx := range res.Transactions {
		entry := map[string]interface{}{
			"id":        tx.ID,
			"txid":      tx.Txid,
			"direction": tx.Direction,
			"amount":    types.SatsToCoins(tx.Value).String(),
			"address":   tx.Address,
			"unspent":   tx.IsUnspent,
			"height":    tx.Height,
		}
		if !tx.CreatedAt().IsZero() {
			entry["created_at"] = tx.CreatedAt().Format("2006-01-02 15:04:05")
		}
		if tx.HasName() {
			entry["name_id"] = tx.NameID
			entry["name_value"] = tx.NameValue
		}
		txs = append(txs, entry)
	}

	return printJSON(map[string]interface{}{
		"transactions":        txs,
		"name_operations":     res.NameOperations,
		"next_unused_address": res.NextUnusedAddress,
		"next_unused_change":  res.NextUnusedChangeAddress,
		"is_extended_key":     res.IsExtendedKey,
	})
}

func balance(ctx *cli.Context) error {
	input, err := firstArg(ctx, "address or extended public key")
	if err != nil {
		return err
	}
	res, err := doiClient.GetAddressTxs(ctx.Context, input)
	if err != nil {
		return err
	}

	bal := res.Balance()
	return printJSON(map[string]interface{}{
		"confirmed":   types.SatsToCoins(bal.Confirmed).String(),
		"unconfirmed": types.SatsToCoins(bal.Unconfirmed).String(),
		"total":       types.SatsToCoins(bal.Total()).String(),
	})
}

func utxos(ctx *cli.Context) error {
	address, err := firstArg(ctx, "address")
	if err != nil {
		return err
	}
	res, err := doiClient.GetUtxosAndNames(ctx.Context, address)
	if err != nil {
		return err
	}

	list := make([]map[string]interface{}, 0, len(res.Utxos))
	for _, u := range res.Utxos {
		list = append(list, map[string]interface{}{
			"outpoint":    u.Outpoint().String(),
			"amount":      types.SatsToCoins(u.Value).String(),
			"script_type": u.ScriptType,
			"height":      u.Height,
		})
	}
	return printJSON(map[string]interface{}{
		"utxos": list,
		"names": res.Names,
		"total": types.SatsToCoins(res.TotalValue).String(),
	})
}

func names(ctx *cli.Context) error {
	name, err := firstArg(ctx, "name")
	if err != nil {
		return err
	}
	ops, err := doiClient.GetNameOperations(ctx.Context, name)
	if err != nil {
		return err
	}
	return printJSON(ops)
}

func register(ctx *cli.Context) error {
	args := doisdk.NameRegistrationArgs{
		FundingAddress:   ctx.String(addressFlag.Name),
		RecipientAddress: ctx.String(toFlag.Name),
		ChangeAddress:    ctx.String(changeFlag.Name),
		Name:             ctx.String(nameFlag.Name),
		Value:            ctx.String(valueFlag.Name),
	}
	if addr := ctx.String(pinningAddressFlag.Name); addr != "" {
		args.Pinning = &txbuilder.PinningFee{
			Address: addr,
			Amount:  ctx.Int64(pinningAmountFlag.Name),
		}
	}

	tmpl, err := doiClient.PrepareNameRegistration(ctx.Context, args)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"psbt":         tmpl.Psbt,
		"fee":          types.SatsToCoins(tmpl.Fee).String(),
		"change":       types.SatsToCoins(tmpl.Change).String(),
		"total_input":  types.SatsToCoins(tmpl.TotalInput).String(),
		"total_output": types.SatsToCoins(tmpl.TotalOutput).String(),
	})
}

func broadcast(ctx *cli.Context) error {
	txid, err := doiClient.Broadcast(ctx.Context, ctx.String(txFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"txid": txid,
	})
}

func getDoiClient(ctx *cli.Context) (doisdk.DoiClient, error) {
	cfg, err := config.LoadConfig(ctx.String(datadirFlag.Name))
	if err != nil {
		return nil, err
	}

	log.SetLevel(cfg.LogLevel)
	if ctx.Bool(verboseFlag.Name) {
		log.SetLevel(log.DebugLevel)
	}

	opts := make([]doisdk.ClientOption, 0)
	if cfg.UnconfirmedFirst {
		opts = append(opts, doisdk.WithUnconfirmedFirst())
	}

	return doisdk.LoadDoiClient(ctx.Context, cfg.Config, opts...)
}

func firstArg(ctx *cli.Context, what string) (string, error) {
	arg := ctx.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return arg, nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
