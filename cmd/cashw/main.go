package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut04"
	"github.com/gocashu/gocashu/cashu/nuts/nut11"
	"github.com/gocashu/gocashu/cashu/nuts/nut18"
	"github.com/gocashu/gocashu/wallet"
	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"
)

var cashw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	// default config
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		if err := godotenv.Load(envPath); err == nil {
			config.CurrentMintURL = getMintURL()
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".cashw", "wallet")
	err = os.MkdirAll(path, 0700)
	if err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	mintUrl := os.Getenv("MINT_URL")
	if len(mintUrl) > 0 {
		return mintUrl
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	url := &url.URL{
		Scheme: "http",
		Host:   mintHost + ":" + mintPort,
	}
	return url.String()
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	cashw, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "cashw",
		Usage: "cashu wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			pubkeyCmd,
			mnemonicCmd,
			restoreCmd,
			createRequestCmd,
			decodeRequestCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balanceByMints := cashw.GetBalanceByMints()
	fmt.Printf("Balance by mint:\n\n")
	totalBalance := uint64(0)

	mints := cashw.TrustedMints()
	slices.Sort(mints)

	for i, mint := range mints {
		balance := balanceByMints[mint]
		fmt.Printf("Mint %v: %v ---- balance: %v sats\n", i+1, mint, balance)
		totalBalance += balance
	}

	fmt.Printf("\nTotal balance: %v sats\n", totalBalance)
	return nil
}

const quoteFlag = "quote"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request mint quote. It will return a lightning invoice to be paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  quoteFlag,
			Usage: "Specify paid quote to mint tokens",
		},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	// if paid quote was passed, request tokens from mint
	if ctx.IsSet(quoteFlag) {
		if err := mintTokens(ctx.String(quoteFlag)); err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	if err := requestMint(args.First()); err != nil {
		printErr(err)
	}

	return nil
}

func requestMint(amountStr string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	mintResponse, err := cashw.RequestMint(amount, "")
	if err != nil {
		return err
	}

	fmt.Printf("invoice: %v\n\n", mintResponse.Request)
	fmt.Printf("after paying the invoice you can redeem the ecash:\n\ncashw mint --quote %v\n", mintResponse.Quote)
	return nil
}

func mintTokens(quoteId string) error {
	quoteState, err := cashw.MintQuoteState(quoteId)
	if err != nil {
		return err
	}
	if quoteState.State == nut04.Unpaid {
		return errors.New("invoice has not been paid")
	}

	mintResult, err := cashw.MintTokens(quoteId)
	if err != nil {
		return err
	}

	fmt.Printf("%v sats successfully minted\n", mintResult.Proofs.Amount())
	return nil
}

const (
	lockFlag     = "lock"
	locktimeFlag = "locktime"
)

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generates token to be sent for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  lockFlag,
			Usage: "Lock the ecash to a public key",
		},
		&cli.Int64Flag{
			Name:  locktimeFlag,
			Usage: "Unix timestamp after which a locked token can be spent by anyone",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	mintURL := cashw.CurrentMint()

	var sendResult *wallet.SendResult
	if ctx.IsSet(lockFlag) {
		pubkey, err := nut11.ParsePublicKey(ctx.String(lockFlag))
		if err != nil {
			printErr(err)
		}

		var tags *nut11.P2PKTags
		if ctx.IsSet(locktimeFlag) {
			tags = &nut11.P2PKTags{Locktime: ctx.Int64(locktimeFlag)}
		}

		sendResult, err = cashw.SendToPubkey(amount, mintURL, pubkey, tags)
		if err != nil {
			printErr(err)
		}
	} else {
		sendResult, err = cashw.Send(amount, mintURL, "")
		if err != nil {
			printErr(err)
		}
	}

	token, err := sendResult.Token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	receiveResult, err := cashw.Receive(token)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", receiveResult.Proofs.Amount())
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}
	invoice := args.First()

	// check invoice passed is valid
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		printErr(fmt.Errorf("invalid invoice: %v", err))
	}
	fmt.Printf("paying invoice for %v sats\n", bolt11.MSatoshi/1000)

	meltQuote, err := cashw.RequestMeltQuote(invoice, cashw.CurrentMint())
	if err != nil {
		printErr(err)
	}

	meltResult, err := cashw.Melt(meltQuote.Quote)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("payment state: %s\n", meltResult.State)
	if len(meltResult.Preimage) > 0 {
		fmt.Printf("preimage: %v\n", meltResult.Preimage)
	}
	return nil
}

var pubkeyCmd = &cli.Command{
	Name:   "pubkey",
	Usage:  "Public key to which ecash can be locked for this wallet",
	Before: setupWallet,
	Action: pubkey,
}

func pubkey(ctx *cli.Context) error {
	receivePubkey, err := cashw.GetReceivePubkey()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", hex.EncodeToString(receivePubkey.SerializeCompressed()))
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore wallet",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Printf("%v\n", cashw.Mnemonic())
	return nil
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Usage:     "Restore wallet from mnemonic",
	ArgsUsage: "[MNEMONIC]",
	Action:    restore,
}

func restore(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("mnemonic not provided"))
	}

	config := walletConfig()
	amountRestored, err := wallet.Restore(config.WalletPath, args.First(), []string{config.CurrentMintURL})
	if err != nil {
		printErr(fmt.Errorf("error restoring wallet: %v", err))
	}

	fmt.Printf("restored %v sats\n", amountRestored)
	return nil
}

const (
	amountFlag      = "amount"
	descriptionFlag = "description"
)

var createRequestCmd = &cli.Command{
	Name:   "create-request",
	Usage:  "Create a payment request",
	Before: setupWallet,
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  amountFlag,
			Usage: "Amount requested",
		},
		&cli.StringFlag{
			Name:  descriptionFlag,
			Usage: "Description for the payment request",
		},
	},
	Action: createRequest,
}

func createRequest(ctx *cli.Context) error {
	paymentRequest := nut18.PaymentRequest{
		Description: ctx.String(descriptionFlag),
		Mints:       []string{cashw.CurrentMint()},
		Transports: []nut18.Transport{
			{Type: nut18.TransportPost, Target: cashw.CurrentMint()},
		},
	}
	if ctx.IsSet(amountFlag) {
		paymentRequest.Amount = ctx.Uint64(amountFlag)
		paymentRequest.Unit = cashu.Sat.String()
	}

	request, err := paymentRequest.Encode()
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v\n", request)
	return nil
}

var decodeRequestCmd = &cli.Command{
	Name:      "decode-request",
	Usage:     "Decode a payment request",
	ArgsUsage: "[REQUEST]",
	Action:    decodeRequest,
}

func decodeRequest(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("payment request not provided"))
	}

	paymentRequest, err := nut18.Decode(args.First())
	if err != nil {
		printErr(err)
	}

	if len(paymentRequest.PaymentId) > 0 {
		fmt.Printf("payment id: %v\n", paymentRequest.PaymentId)
	}
	if paymentRequest.Amount > 0 {
		fmt.Printf("amount: %v %v\n", paymentRequest.Amount, paymentRequest.Unit)
	}
	if len(paymentRequest.Description) > 0 {
		fmt.Printf("description: %v\n", paymentRequest.Description)
	}
	for _, mint := range paymentRequest.Mints {
		fmt.Printf("mint: %v\n", mint)
	}
	for _, transport := range paymentRequest.Transports {
		fmt.Printf("transport: %v %v\n", transport.Type, transport.Target)
	}
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
