package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut03"
	"github.com/gocashu/gocashu/cashu/nuts/nut04"
	"github.com/gocashu/gocashu/cashu/nuts/nut05"
	"github.com/gocashu/gocashu/cashu/nuts/nut10"
	"github.com/gocashu/gocashu/cashu/nuts/nut11"
	"github.com/gocashu/gocashu/cashu/nuts/nut12"
	"github.com/gocashu/gocashu/cashu/nuts/nut13"
	"github.com/gocashu/gocashu/cashu/nuts/nut14"
	"github.com/gocashu/gocashu/cashu/nuts/nut20"
	"github.com/gocashu/gocashu/crypto"
	"github.com/gocashu/gocashu/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

type Wallet struct {
	db storage.WalletDB

	mnemonic  string
	masterKey *hdkeychain.ExtendedKey

	unit cashu.Unit
	// default mint
	currentMint *walletMint
	// list of mints this wallet has interacted with
	mints map[string]walletMint
}

type walletMint struct {
	mintURL      string
	activeKeyset crypto.WalletKeyset
	// list of inactive keysets (if any) from mint
	inactiveKeysets map[string]crypto.WalletKeyset
}

// MintResult is what minting ecash after a paid quote produces.
type MintResult struct {
	Proofs cashu.Proofs
	DLEQ   nut12.VerificationResult
}

// SwapResult carries the new proofs partitioned at the original output
// boundary together with the DLEQ outcomes for the proofs that went in
// and the proofs that came out.
type SwapResult struct {
	Keep       cashu.Proofs
	Send       cashu.Proofs
	InputDLEQ  nut12.VerificationResult
	OutputDLEQ nut12.VerificationResult
}

type SendResult struct {
	Token      cashu.Token
	Change     cashu.Proofs
	OutputDLEQ nut12.VerificationResult
}

type ReceiveResult struct {
	Proofs     cashu.Proofs
	InputDLEQ  nut12.VerificationResult
	OutputDLEQ nut12.VerificationResult
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	seed := db.GetSeed()
	if len(seed) == 0 {
		// create and save new seed if none exists
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		seed = bip39.NewSeed(mnemonic, "")
		db.SaveMnemonicSeed(mnemonic, seed)
	}

	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:        db,
		mnemonic:  db.GetMnemonic(),
		masterKey: masterKey,
		unit:      cashu.Sat,
	}

	wallet.mints, err = wallet.loadWalletMints()
	if err != nil {
		return nil, err
	}

	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}

	currentMint, err := wallet.AddMint(mintURL.String())
	if err != nil {
		return nil, fmt.Errorf("error adding mint: %v", err)
	}
	wallet.currentMint = currentMint

	return wallet, nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

// AddMint adds the mint to the list of mints trusted by the wallet
func (w *Wallet) AddMint(mint string) (*walletMint, error) {
	url, err := url.Parse(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}
	mintURL := url.String()

	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	inactiveKeysets, err := GetMintInactiveKeysets(mintURL, w.unit)
	if err != nil {
		return nil, err
	}

	// keep the derivation counters of keysets the wallet already knows
	if stored := w.db.GetKeyset(activeKeyset.Id); stored != nil {
		activeKeyset.Counter = stored.Counter
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}
	for id, keyset := range inactiveKeysets {
		if stored := w.db.GetKeyset(id); stored != nil {
			keyset.Counter = stored.Counter
			if len(keyset.PublicKeys) == 0 {
				keyset.PublicKeys = stored.PublicKeys
			}
			inactiveKeysets[id] = keyset
		}
		if err := w.db.SaveKeyset(&keyset); err != nil {
			return nil, err
		}
	}
	newMint := walletMint{mintURL, *activeKeyset, inactiveKeysets}
	w.mints[mintURL] = newMint

	return &newMint, nil
}

func (w *Wallet) mint(mintURL string) (*walletMint, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintNotExist
	}
	return &mint, nil
}

func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	mintsBalances := make(map[string]uint64)

	for _, mint := range w.mints {
		var mintBalance uint64 = 0

		proofs := w.db.GetProofsByKeysetId(mint.activeKeyset.Id)
		mintBalance += proofs.Amount()
		for _, keyset := range mint.inactiveKeysets {
			proofs := w.db.GetProofsByKeysetId(keyset.Id)
			mintBalance += proofs.Amount()
		}

		mintsBalances[mint.mintURL] = mintBalance
	}

	return mintsBalances
}

// RequestMint requests a mint quote to the mint for the specified amount
func (w *Wallet) RequestMint(amount uint64, description string) (*nut04.PostMintQuoteBolt11Response, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	mint := w.currentMint

	mintQuoteRequest := nut04.PostMintQuoteBolt11Request{
		Amount:      amount,
		Unit:        w.unit.String(),
		Description: description,
	}

	// if mint supports NUT-20, lock the quote to a key
	var quotePrivateKey *secp256k1.PrivateKey
	mintInfo, err := GetMintInfo(mint.mintURL)
	if err == nil && mintInfo.Nuts.Supported(20) {
		quotePrivateKey, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		mintQuoteRequest.Pubkey = hex.EncodeToString(quotePrivateKey.PubKey().SerializeCompressed())
	}

	mintResponse, err := PostMintQuoteBolt11(mint.mintURL, mintQuoteRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           mint.mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          mintResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    mintResponse.Expiry,
		PrivateKey:     quotePrivateKey,
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return mintResponse, nil
}

// MintQuoteState returns the state of the mint quote from the mint
// and updates the quote stored by the wallet.
func (w *Wallet) MintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	quoteStateResponse, err := GetMintQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, err
	}

	if quote.State != quoteStateResponse.State {
		quote.State = quoteStateResponse.State
		if err := w.db.SaveMintQuote(*quote); err != nil {
			return nil, fmt.Errorf("error saving mint quote: %v", err)
		}
	}

	return quoteStateResponse, nil
}

// MintTokens will mint ecash for the paid mint quote with the canonical
// power of two distribution for the quote amount.
func (w *Wallet) MintTokens(quoteId string) (*MintResult, error) {
	return w.MintTokensWithDistribution(quoteId, nil)
}

// MintTokensWithDistribution mints ecash for the paid quote with the
// preferred amount distribution passed. The distribution has to add up
// to the quote amount.
func (w *Wallet) MintTokensWithDistribution(quoteId string, distribution []uint64) (*MintResult, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	if quote.State == nut04.Issued {
		return nil, cashu.MintQuoteAlreadyIssued
	}

	mint, err := w.mint(quote.Mint)
	if err != nil {
		return nil, err
	}
	activeKeyset, err := w.getActiveKeyset(mint.mintURL)
	if err != nil {
		return nil, err
	}

	var split []uint64
	if distribution != nil {
		if slices.Contains(distribution, uint64(0)) {
			return nil, ErrInvalidAmount
		}
		var distributionAmount uint64
		for _, amount := range distribution {
			distributionAmount += amount
		}
		if distributionAmount != quote.Amount {
			return nil, ErrDistributionMismatch
		}
		split = distribution
	} else {
		split = cashu.AmountSplit(quote.Amount)
	}

	counter := w.counterForKeyset(activeKeyset.Id)
	blindedMessages, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	postMintRequest := nut04.PostMintBolt11Request{Quote: quoteId, Outputs: blindedMessages}
	if quote.PrivateKey != nil {
		sig, err := nut20.SignMintQuote(quote.PrivateKey, quoteId, blindedMessages)
		if err != nil {
			return nil, fmt.Errorf("error signing mint quote: %v", err)
		}
		postMintRequest.Signature = hex.EncodeToString(sig.Serialize())
	}

	mintResponse, err := PostMintBolt11(mint.mintURL, postMintRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(mintResponse.Signatures, blindedMessages, secrets, rs, activeKeyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}
	dleqResult := nut12.VerifyProofsDLEQ(proofs, *activeKeyset)

	// only advance the counter after the mint signed the outputs
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blindedMessages))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}

	quote.State = nut04.Issued
	quote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return &MintResult{Proofs: proofs, DLEQ: dleqResult}, nil
}

// swap sends the inputs and outputs to the mint and unblinds the
// returned promises in the original output order. The boundary index
// partitions the outputs into a send part and a keep part.
func (w *Wallet) swap(
	mint *walletMint,
	inputs cashu.Proofs,
	outputs cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
	sendBoundary int,
) (*SwapResult, error) {
	if err := w.checkProofsUnit(mint, inputs); err != nil {
		return nil, err
	}

	inputDLEQ := w.verifyProofsDLEQ(mint, inputs)

	swapRequest := nut03.PostSwapRequest{
		Inputs:  inputs.StripDLEQ(),
		Outputs: outputs,
	}
	swapResponse, err := PostSwap(mint.mintURL, swapRequest)
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(swapResponse.Signatures, outputs, secrets, rs, keyset)
	if err != nil {
		return nil, fmt.Errorf("error constructing proofs: %v", err)
	}

	send := proofs[:sendBoundary]
	keep := proofs[sendBoundary:]

	outputDLEQ := nut12.VerifyProofsDLEQ(proofs, *keyset)

	return &SwapResult{
		Keep:       keep,
		Send:       send,
		InputDLEQ:  inputDLEQ,
		OutputDLEQ: outputDLEQ,
	}, nil
}

// Send selects proofs for the amount requested and swaps them for
// exact denominations if needed. The proofs to send are wrapped in a
// V4 token and any change is stored.
func (w *Wallet) Send(amount uint64, mintURL string, memo string) (*SendResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	mint, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	proofsToSend, outputDLEQ, err := w.getProofsForAmount(amount, mint, nil)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofsToSend, mintURL, w.unit, true)
	if err != nil {
		return nil, err
	}
	token.Memo = memo

	return &SendResult{Token: token, OutputDLEQ: outputDLEQ}, nil
}

// SendToPubkey sends ecash locked to the public key passed. The locked
// outputs carry random secrets so they do not consume deterministic
// derivation slots.
func (w *Wallet) SendToPubkey(
	amount uint64,
	mintURL string,
	pubkey *btcec.PublicKey,
	tags *nut11.P2PKTags,
) (*SendResult, error) {
	if pubkey == nil {
		return nil, errors.New("public key to lock ecash cannot be nil")
	}
	lockPubkey := hex.EncodeToString(pubkey.SerializeCompressed())
	var serializedTags [][]string
	if tags != nil {
		serializedTags = nut11.SerializeP2PKTags(*tags)
	}
	spendingCondition := nut10.SpendingCondition{
		Kind: nut10.P2PK,
		Data: lockPubkey,
		Tags: serializedTags,
	}

	return w.sendLocked(amount, mintURL, spendingCondition)
}

// SendHTLC sends ecash locked to the hash of the preimage passed.
func (w *Wallet) SendHTLC(amount uint64, mintURL string, preimage string, tags *nut11.P2PKTags) (*SendResult, error) {
	var serializedTags [][]string
	if tags != nil {
		serializedTags = nut11.SerializeP2PKTags(*tags)
	}
	secret, err := nut14.HTLCSecret(preimage, serializedTags)
	if err != nil {
		return nil, err
	}
	wellKnownSecret, err := nut10.DeserializeSecret(secret)
	if err != nil {
		return nil, err
	}
	spendingCondition := nut10.SpendingCondition{
		Kind: nut10.HTLC,
		Data: wellKnownSecret.Data.Data,
		Tags: serializedTags,
	}

	return w.sendLocked(amount, mintURL, spendingCondition)
}

func (w *Wallet) sendLocked(
	amount uint64,
	mintURL string,
	spendingCondition nut10.SpendingCondition,
) (*SendResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	mint, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	proofsToSend, outputDLEQ, err := w.getProofsForAmount(amount, mint, &spendingCondition)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofsToSend, mintURL, w.unit, true)
	if err != nil {
		return nil, err
	}

	return &SendResult{Token: token, OutputDLEQ: outputDLEQ}, nil
}

// Receive swaps the proofs in the token at the token's mint for fresh
// proofs. If the proofs are P2PK locked, the wallet signs the inputs
// with its receive key.
func (w *Wallet) Receive(token cashu.Token) (*ReceiveResult, error) {
	proofsToSwap := token.Proofs()
	if len(proofsToSwap) == 0 {
		return nil, errors.New("token has no proofs")
	}
	if tokenV3, ok := token.(*cashu.TokenV3); ok && len(tokenV3.Token) > 1 {
		return nil, errors.New("tokens with multiple mints not supported")
	}

	tokenMintURL, err := url.Parse(token.Mint())
	if err != nil {
		return nil, fmt.Errorf("invalid mint url in token: %v", err)
	}
	mint, err := w.mint(tokenMintURL.String())
	if err != nil {
		// add token mint if wallet has not seen it before
		mint, err = w.AddMint(tokenMintURL.String())
		if err != nil {
			return nil, err
		}
	}

	if err := w.checkProofsUnit(mint, proofsToSwap); err != nil {
		return nil, err
	}

	p2pkKey, err := DeriveP2PK(w.masterKey)
	if err != nil {
		return nil, err
	}
	lock, err := classifyLock(proofsToSwap, p2pkKey)
	if err != nil {
		return nil, err
	}
	switch lock {
	case lockPartial:
		return nil, ErrMixedSpendingConditions
	case lockMismatch:
		return nil, ErrLockingConditionMismatch
	case lockNoKey:
		return nil, ErrLockedProofsNoKey
	case lockMatch:
		proofsToSwap, err = nut11.AddSignatureToInputs(proofsToSwap, p2pkKey)
		if err != nil {
			return nil, fmt.Errorf("error signing inputs: %v", err)
		}
	}

	activeKeyset, err := w.getActiveKeyset(mint.mintURL)
	if err != nil {
		return nil, err
	}

	fees := w.feesForProofs(proofsToSwap, mint)
	if proofsToSwap.Amount() <= fees {
		return nil, ErrInsufficientMintBalance
	}
	split := cashu.AmountSplit(proofsToSwap.Amount() - fees)

	counter := w.counterForKeyset(activeKeyset.Id)
	outputs, secrets, rs, err := w.createBlindedMessages(split, activeKeyset.Id, &counter)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	swapResult, err := w.swap(mint, proofsToSwap, outputs, secrets, rs, activeKeyset, 0)
	if err != nil {
		return nil, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(outputs))); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}
	if err := w.db.SaveProofs(swapResult.Keep); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}

	return &ReceiveResult{
		Proofs:     swapResult.Keep,
		InputDLEQ:  swapResult.InputDLEQ,
		OutputDLEQ: swapResult.OutputDLEQ,
	}, nil
}

// RequestMeltQuote requests a melt quote to the mint for the bolt11
// invoice passed.
func (w *Wallet) RequestMeltQuote(request, mintURL string) (*nut05.PostMeltQuoteBolt11Response, error) {
	mint, err := w.mint(mintURL)
	if err != nil {
		return nil, err
	}

	meltQuoteRequest := nut05.PostMeltQuoteBolt11Request{Request: request, Unit: w.unit.String()}
	meltQuoteResponse, err := PostMeltQuoteBolt11(mint.mintURL, meltQuoteRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MeltQuote{
		QuoteId:        meltQuoteResponse.Quote,
		Mint:           mint.mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          meltQuoteResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: request,
		Amount:         meltQuoteResponse.Amount,
		FeeReserve:     meltQuoteResponse.FeeReserve,
		CreatedAt:      time.Now().Unix(),
		QuoteExpiry:    meltQuoteResponse.Expiry,
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving melt quote: %v", err)
	}

	return meltQuoteResponse, nil
}

// Melt pays the invoice in the melt quote. Proofs used are moved to a
// pending state until the quote resolves. Change for an overpaid
// lightning fee is recovered through blank outputs.
func (w *Wallet) Melt(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	mint, err := w.mint(quote.Mint)
	if err != nil {
		return nil, err
	}

	amountNeeded := quote.Amount + quote.FeeReserve
	proofs, err := w.selectProofsForAmount(amountNeeded, mint)
	if err != nil {
		return nil, err
	}

	activeKeyset, err := w.getActiveKeyset(mint.mintURL)
	if err != nil {
		return nil, err
	}

	// blank outputs to receive change for everything paid in over the
	// invoice amount
	overpaid := proofs.Amount() - quote.Amount
	counter := w.counterForKeyset(activeKeyset.Id)
	blankOutputs, blankSecrets, blankRs, err := w.createBlankOutputs(overpaid, activeKeyset.Id, &counter)
	if err != nil {
		return nil, err
	}

	for _, proof := range proofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, fmt.Errorf("error removing proofs: %v", err)
		}
	}
	if err := w.db.AddPendingProofsByQuoteId(proofs, quoteId); err != nil {
		return nil, fmt.Errorf("error adding pending proofs: %v", err)
	}

	meltRequest := nut05.PostMeltBolt11Request{
		Quote:   quoteId,
		Inputs:  proofs.StripDLEQ(),
		Outputs: blankOutputs,
	}
	meltResponse, err := PostMeltBolt11(mint.mintURL, meltRequest)
	if err != nil {
		// if the mint rejected the request the proofs were not touched
		// and can go back to the balance. On a transport error the
		// payment may still be in flight so the proofs stay pending
		// until MeltQuoteState resolves the quote.
		var cashuErr cashu.Error
		if errors.As(err, &cashuErr) {
			w.reclaimPendingByQuote(quoteId)
		}
		return nil, err
	}

	// the mint saw the blank outputs. Their derivation slots are gone
	// whether change comes back or not.
	if len(blankOutputs) > 0 {
		if err := w.db.IncrementKeysetCounter(activeKeyset.Id, uint32(len(blankOutputs))); err != nil {
			return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
		}
	}

	switch meltResponse.State {
	case nut05.Paid:
		if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
			return nil, fmt.Errorf("error removing pending proofs: %v", err)
		}

		quote.State = nut05.Paid
		quote.Preimage = meltResponse.Preimage
		quote.SettledAt = time.Now().Unix()
		if err := w.db.SaveMeltQuote(*quote); err != nil {
			return nil, fmt.Errorf("error saving melt quote: %v", err)
		}

		// if mint returned change for overpaid fees, unblind the prefix
		// of the blank outputs matching the promises returned. A failure
		// here is swallowed since the payment already settled.
		if len(meltResponse.Change) > 0 && len(blankOutputs) > 0 {
			change := meltResponse.Change
			if len(change) > len(blankOutputs) {
				change = change[:len(blankOutputs)]
			}
			changeProofs, err := constructProofs(
				change,
				blankOutputs[:len(change)],
				blankSecrets[:len(change)],
				blankRs[:len(change)],
				activeKeyset,
			)
			if err == nil {
				nut12.VerifyProofsDLEQ(changeProofs, *activeKeyset)
				w.db.SaveProofs(changeProofs)
			}
		}
	case nut05.Pending:
		// proofs stay pending. MeltQuoteState will resolve them.
		quote.State = nut05.Pending
		if err := w.db.SaveMeltQuote(*quote); err != nil {
			return nil, fmt.Errorf("error saving melt quote: %v", err)
		}
	case nut05.Unpaid:
		w.reclaimPendingByQuote(quoteId)
	}

	return meltResponse, nil
}

// MeltQuoteState checks with the mint the state of the melt quote and
// settles or reclaims pending proofs accordingly.
func (w *Wallet) MeltQuoteState(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	meltStateResponse, err := GetMeltQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, err
	}

	pendingProofs := w.db.GetPendingProofsByQuoteId(quoteId)
	switch meltStateResponse.State {
	case nut05.Paid:
		if len(pendingProofs) > 0 {
			if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
				return nil, fmt.Errorf("error removing pending proofs: %v", err)
			}
		}
		if quote.State != nut05.Paid {
			quote.State = nut05.Paid
			quote.Preimage = meltStateResponse.Preimage
			quote.SettledAt = time.Now().Unix()
			if err := w.db.SaveMeltQuote(*quote); err != nil {
				return nil, fmt.Errorf("error saving melt quote: %v", err)
			}
		}
	case nut05.Unpaid:
		// payment failed. swap pending proofs back to spendable
		if len(pendingProofs) > 0 {
			w.reclaimPendingByQuote(quoteId)
		}
		if quote.State != meltStateResponse.State {
			quote.State = meltStateResponse.State
			if err := w.db.SaveMeltQuote(*quote); err != nil {
				return nil, fmt.Errorf("error saving melt quote: %v", err)
			}
		}
	}

	return meltStateResponse, nil
}

// reclaimPendingByQuote puts proofs in a pending state for the quote
// back in the wallet balance.
func (w *Wallet) reclaimPendingByQuote(quoteId string) {
	pendingProofs := w.db.GetPendingProofsByQuoteId(quoteId)
	if len(pendingProofs) == 0 {
		return
	}

	proofs := make(cashu.Proofs, len(pendingProofs))
	Ys := make([]string, len(pendingProofs))
	for i, pendingProof := range pendingProofs {
		proofs[i] = cashu.Proof{
			Amount: pendingProof.Amount,
			Id:     pendingProof.Id,
			Secret: pendingProof.Secret,
			C:      pendingProof.C,
			DLEQ:   pendingProof.DLEQ,
		}
		Ys[i] = pendingProof.Y
	}

	w.db.SaveProofs(proofs)
	w.db.DeletePendingProofs(Ys)
}

// getProofsForAmount returns proofs from the wallet that add up to the
// exact amount requested. If the selected proofs overshoot, they are
// swapped at the mint for an exact send partition and the change is
// stored. A spending condition forces the swap path since the mint has
// to sign fresh locked outputs.
func (w *Wallet) getProofsForAmount(
	amount uint64,
	mint *walletMint,
	spendingCondition *nut10.SpendingCondition,
) (cashu.Proofs, nut12.VerificationResult, error) {
	selectedProofs, err := w.selectProofsForAmount(amount, mint)
	if err != nil {
		return nil, nut12.NoData, err
	}

	for _, proof := range selectedProofs {
		if nut10.SecretKindFrom(proof.Secret) != nut10.AnyoneCanSpend {
			return nil, nut12.NoData, ErrProofsWithSpendingConditions
		}
	}

	fees := w.feesForProofs(selectedProofs, mint)
	totalAmount := selectedProofs.Amount()

	// if amount selected is exact and no lock requested, send without
	// a roundtrip to the mint
	if totalAmount == amount+fees && spendingCondition == nil {
		for _, proof := range selectedProofs {
			if err := w.db.DeleteProof(proof.Secret); err != nil {
				return nil, nut12.NoData, fmt.Errorf("error removing proofs: %v", err)
			}
		}
		return selectedProofs, nut12.Valid, nil
	}

	activeKeyset, err := w.getActiveKeyset(mint.mintURL)
	if err != nil {
		return nil, nut12.NoData, err
	}

	if totalAmount < amount+fees {
		return nil, nut12.NoData, ErrInsufficientMintBalance
	}
	keepAmount := totalAmount - amount - fees

	sendSplit := cashu.AmountSplit(amount)
	keepSplit := cashu.AmountSplit(keepAmount)

	counter := w.counterForKeyset(activeKeyset.Id)
	var counterIncrease uint32

	var sendOutputs cashu.BlindedMessages
	var sendSecrets []string
	var sendRs []*secp256k1.PrivateKey
	if spendingCondition != nil {
		// locked outputs carry random nonces. they do not advance
		// the deterministic counter
		sendOutputs, sendSecrets, sendRs, err = createLockedBlindedMessages(sendSplit, activeKeyset.Id, *spendingCondition)
	} else {
		sendOutputs, sendSecrets, sendRs, err = w.createBlindedMessages(sendSplit, activeKeyset.Id, &counter)
		counterIncrease += uint32(len(sendOutputs))
	}
	if err != nil {
		return nil, nut12.NoData, fmt.Errorf("error creating blinded messages: %v", err)
	}

	keepOutputs, keepSecrets, keepRs, err := w.createBlindedMessages(keepSplit, activeKeyset.Id, &counter)
	if err != nil {
		return nil, nut12.NoData, fmt.Errorf("error creating blinded messages: %v", err)
	}
	counterIncrease += uint32(len(keepOutputs))

	outputs := append(sendOutputs, keepOutputs...)
	secrets := append(sendSecrets, keepSecrets...)
	rs := append(sendRs, keepRs...)

	swapResult, err := w.swap(mint, selectedProofs, outputs, secrets, rs, activeKeyset, len(sendOutputs))
	if err != nil {
		return nil, nut12.NoData, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, counterIncrease); err != nil {
		return nil, nut12.NoData, fmt.Errorf("error incrementing keyset counter: %v", err)
	}

	for _, proof := range selectedProofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, nut12.NoData, fmt.Errorf("error removing proofs: %v", err)
		}
	}
	if err := w.db.SaveProofs(swapResult.Keep); err != nil {
		return nil, nut12.NoData, fmt.Errorf("error storing change proofs: %v", err)
	}

	return swapResult.Send, swapResult.OutputDLEQ, nil
}

// selectProofsForAmount greedily picks proofs smallest first until the
// amount plus the input fees for the selection is covered. Proofs from
// inactive keysets are spent before proofs from the active one.
func (w *Wallet) selectProofsForAmount(amount uint64, mint *walletMint) (cashu.Proofs, error) {
	var activeProofs, inactiveProofs cashu.Proofs
	for _, keyset := range mint.inactiveKeysets {
		inactiveProofs = append(inactiveProofs, w.db.GetProofsByKeysetId(keyset.Id)...)
	}
	activeProofs = w.db.GetProofsByKeysetId(mint.activeKeyset.Id)

	sort.Slice(inactiveProofs, func(i, j int) bool {
		return inactiveProofs[i].Amount < inactiveProofs[j].Amount
	})
	sort.Slice(activeProofs, func(i, j int) bool {
		return activeProofs[i].Amount < activeProofs[j].Amount
	})

	selectedProofs := cashu.Proofs{}
	var selectedAmount uint64 = 0
	for _, proof := range append(inactiveProofs, activeProofs...) {
		if selectedAmount >= amount+w.feesForProofs(selectedProofs, mint) {
			break
		}
		selectedProofs = append(selectedProofs, proof)
		selectedAmount += proof.Amount
	}

	if selectedAmount < amount+w.feesForProofs(selectedProofs, mint) {
		return nil, ErrInsufficientMintBalance
	}

	return selectedProofs, nil
}

// feesForProofs computes the input fee for the proofs passed:
// ceil(sum of input_fee_ppk over the inputs / 1000)
func (w *Wallet) feesForProofs(proofs cashu.Proofs, mint *walletMint) uint64 {
	var feePpk uint = 0
	for _, proof := range proofs {
		if proof.Id == mint.activeKeyset.Id {
			feePpk += mint.activeKeyset.InputFeePpk
			continue
		}
		if keyset, ok := mint.inactiveKeysets[proof.Id]; ok {
			feePpk += keyset.InputFeePpk
		}
	}
	return uint64((feePpk + 999) / 1000)
}

// createBlindedMessages returns blinded messages for the split passed
// along with the secrets and blinding factors used. If counter is not
// nil, secrets are derived deterministically from the wallet master key
// and the counter advances by one per output.
func (w *Wallet) createBlindedMessages(
	split []uint64,
	keysetId string,
	counter *uint32,
) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitLen := len(split)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	var keysetPath *hdkeychain.ExtendedKey
	var err error
	if counter != nil && w.masterKey != nil {
		keysetPath, err = nut13.DeriveKeysetPath(w.masterKey, keysetId)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	for i, amt := range split {
		var secret string
		var r *secp256k1.PrivateKey
		if keysetPath != nil {
			secret, r, err = generateDeterministicSecret(keysetPath, *counter)
			if err != nil {
				return nil, nil, nil, err
			}
			*counter++
		} else {
			secret, r, err = generateRandomSecret()
			if err != nil {
				return nil, nil, nil, err
			}
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// createBlankOutputs returns the blank outputs used to receive change
// from a melt as defined in NUT-08.
func (w *Wallet) createBlankOutputs(changeReserve uint64, keysetId string, counter *uint32) (
	cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	if changeReserve == 0 {
		return nil, nil, nil, nil
	}

	count := int(math.Ceil(math.Log2(float64(changeReserve))))
	if count == 0 {
		count = 1
	}
	// blank output amounts are ignored by the mint
	split := make([]uint64, count)
	for i := 0; i < count; i++ {
		split[i] = 1
	}

	return w.createBlindedMessages(split, keysetId, counter)
}

func createLockedBlindedMessages(
	split []uint64,
	keysetId string,
	spendingCondition nut10.SpendingCondition,
) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitLen := len(split)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range split {
		secret, err := nut10.NewSecretFromSpendingCondition(spendingCondition)
		if err != nil {
			return nil, nil, nil, err
		}

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func generateRandomSecret() (string, *secp256k1.PrivateKey, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", nil, err
	}

	return hex.EncodeToString(secretBytes), r, nil
}

func generateDeterministicSecret(keysetPath *hdkeychain.ExtendedKey, counter uint32) (
	string, *secp256k1.PrivateKey, error) {
	secret, err := nut13.DeriveSecret(keysetPath, counter)
	if err != nil {
		return "", nil, err
	}

	r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
	if err != nil {
		return "", nil, err
	}

	return secret, r, nil
}

// constructProofs unblinds the promises and builds the proofs in the
// order of the blinded messages sent to the mint. If the promises come
// with a DLEQ proof, it is verified before unblinding and the blinding
// factor is attached to the resulting proof.
func constructProofs(
	promises cashu.BlindedSignatures,
	blindedMessages cashu.BlindedMessages,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {
	promisesLen := len(promises)
	if promisesLen != len(secrets) || promisesLen != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, promisesLen)
	for i, promise := range promises {
		pubkey, ok := keyset.PublicKeys[promise.Amount]
		if !ok {
			return nil, errors.New("key not found")
		}

		var dleq *cashu.DLEQProof
		if promise.DLEQ != nil && i < len(blindedMessages) {
			if !nut12.VerifyBlindSignatureDLEQ(*promise.DLEQ, pubkey, blindedMessages[i].B_, promise.C_) {
				return nil, errors.New("got blinded signature with invalid DLEQ proof")
			}
			dleq = &cashu.DLEQProof{
				E: promise.DLEQ.E,
				S: promise.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}

		C, err := unblindSignature(promise.C_, rs[i], pubkey)
		if err != nil {
			return nil, err
		}

		proofs[i] = cashu.Proof{
			Amount: promise.Amount,
			Secret: secrets[i],
			C:      C,
			Id:     promise.Id,
			DLEQ:   dleq,
		}
	}

	return proofs, nil
}

func unblindSignature(C_str string, r *secp256k1.PrivateKey, key *secp256k1.PublicKey) (
	string, error) {
	C_bytes, err := hex.DecodeString(C_str)
	if err != nil {
		return "", err
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return "", err
	}

	C := crypto.UnblindSignature(C_, r, key)
	Cstr := hex.EncodeToString(C.SerializeCompressed())
	return Cstr, nil
}

// verifyProofsDLEQ resolves the keyset for every proof and verifies the
// DLEQ proofs present. Proofs without DLEQ data report NoData.
func (w *Wallet) verifyProofsDLEQ(mint *walletMint, proofs cashu.Proofs) nut12.VerificationResult {
	byKeyset := make(map[string]cashu.Proofs)
	for _, proof := range proofs {
		byKeyset[proof.Id] = append(byKeyset[proof.Id], proof)
	}

	result := nut12.NoData
	for keysetId, keysetProofs := range byKeyset {
		keyset, err := w.keysetWithKeys(mint, keysetId)
		if err != nil {
			return nut12.Invalid
		}

		switch nut12.VerifyProofsDLEQ(keysetProofs, *keyset) {
		case nut12.Invalid:
			return nut12.Invalid
		case nut12.Valid:
			result = nut12.Valid
		}
	}
	return result
}

// checkProofsUnit errors if any proof comes from a keyset with a unit
// different from the wallet unit.
func (w *Wallet) checkProofsUnit(mint *walletMint, proofs cashu.Proofs) error {
	for _, proof := range proofs {
		keyset, err := w.keysetById(mint, proof.Id)
		if err != nil {
			return err
		}
		if keyset.Unit != w.unit.String() {
			return ErrUnitMismatch
		}
	}
	return nil
}

func (w *Wallet) CurrentMint() string {
	return w.currentMint.mintURL
}

func (w *Wallet) TrustedMints() []string {
	trustedMints := make([]string, 0, len(w.mints))
	for mintURL := range w.mints {
		trustedMints = append(trustedMints, mintURL)
	}
	return trustedMints
}

func (w *Wallet) Mnemonic() string {
	return w.mnemonic
}

type lockState int

const (
	lockStateNotLocked lockState = iota
	lockMatch
	lockMismatch
	lockNoKey
	lockPartial
)

// classifyLock inspects the spending conditions of the proofs: whether
// all of them are P2PK locked to the same key the private key passed
// can sign for. Proofs with mixed conditions are reported as partial
// and rejected by the caller.
func classifyLock(proofs cashu.Proofs, key *btcec.PrivateKey) (lockState, error) {
	locked := 0
	lockData := ""
	for _, proof := range proofs {
		kind := nut10.SecretKindFrom(proof.Secret)
		if kind == nut10.AnyoneCanSpend {
			continue
		}
		if kind != nut10.P2PK {
			return lockPartial, nil
		}

		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return lockStateNotLocked, fmt.Errorf("invalid locked secret: %v", err)
		}
		if locked == 0 {
			lockData = secret.Data.Data
		} else if secret.Data.Data != lockData {
			return lockPartial, nil
		}
		locked++
	}

	if locked == 0 {
		return lockStateNotLocked, nil
	}
	if locked != len(proofs) {
		return lockPartial, nil
	}

	if key == nil {
		return lockNoKey, nil
	}

	for _, proof := range proofs {
		secret, err := nut10.DeserializeSecret(proof.Secret)
		if err != nil {
			return lockStateNotLocked, fmt.Errorf("invalid locked secret: %v", err)
		}
		// an expired locktime without refund keys makes the proof
		// spendable by anyone
		if nut11.LocktimeExpired(secret) {
			tags, err := nut11.ParseP2PKTags(secret.Data.Tags)
			if err == nil && len(tags.Refund) == 0 {
				continue
			}
		}
		if !nut11.CanSign(secret, key) {
			return lockMismatch, nil
		}
	}

	return lockMatch, nil
}
