package wallet

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut04"
	"github.com/gocashu/gocashu/cashu/nuts/nut05"
	"github.com/gocashu/gocashu/cashu/nuts/nut12"
	"github.com/gocashu/gocashu/testutils"
)

func testWallet(t *testing.T, mintURL string) *Wallet {
	t.Helper()

	w, err := LoadWallet(Config{WalletPath: t.TempDir(), CurrentMintURL: mintURL})
	if err != nil {
		t.Fatalf("error loading wallet: %v", err)
	}
	t.Cleanup(func() { w.Shutdown() })
	return w
}

func fundWallet(t *testing.T, w *Wallet, amount uint64) cashu.Proofs {
	t.Helper()

	quote, err := w.RequestMint(amount, "")
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	mintResult, err := w.MintTokens(quote.Quote)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}
	return mintResult.Proofs
}

func proofAmounts(proofs cashu.Proofs) []uint64 {
	amounts := make([]uint64, len(proofs))
	for i, proof := range proofs {
		amounts[i] = proof.Amount
	}
	return amounts
}

func TestMintTokens(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	w := testWallet(t, fakeMint.URL)

	quote, err := w.RequestMint(15, "")
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	quoteState, err := w.MintQuoteState(quote.Quote)
	if err != nil {
		t.Fatalf("error checking quote state: %v", err)
	}
	if quoteState.State != nut04.Paid {
		t.Fatalf("expected quote state '%v' but got '%v'", nut04.Paid, quoteState.State)
	}

	mintResult, err := w.MintTokens(quote.Quote)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	expectedAmounts := []uint64{1, 2, 4, 8}
	if !reflect.DeepEqual(proofAmounts(mintResult.Proofs), expectedAmounts) {
		t.Errorf("expected amounts '%v' but got '%v' instead", expectedAmounts, proofAmounts(mintResult.Proofs))
	}
	if mintResult.Proofs.Amount() != 15 {
		t.Errorf("expected proofs total of '15' but got '%v' instead", mintResult.Proofs.Amount())
	}
	if mintResult.DLEQ != nut12.Valid {
		t.Errorf("expected DLEQ result '%v' but got '%v' instead", nut12.Valid, mintResult.DLEQ)
	}
	if w.GetBalance() != 15 {
		t.Errorf("expected balance of '15' but got '%v' instead", w.GetBalance())
	}

	// minting for the same quote again has to fail
	_, err = w.MintTokens(quote.Quote)
	if !errors.Is(err, cashu.MintQuoteAlreadyIssued) {
		t.Errorf("expected '%v' but got '%v' instead", cashu.MintQuoteAlreadyIssued, err)
	}
}

func TestMintTokensWithDistribution(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	w := testWallet(t, fakeMint.URL)

	quote, err := w.RequestMint(10, "")
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	// distribution that does not add up to the quote amount
	_, err = w.MintTokensWithDistribution(quote.Quote, []uint64{2, 4})
	if !errors.Is(err, ErrDistributionMismatch) {
		t.Fatalf("expected '%v' but got '%v' instead", ErrDistributionMismatch, err)
	}

	mintResult, err := w.MintTokensWithDistribution(quote.Quote, []uint64{2, 4, 4})
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}
	if !reflect.DeepEqual(proofAmounts(mintResult.Proofs), []uint64{2, 4, 4}) {
		t.Errorf("got amounts '%v' instead of preferred distribution", proofAmounts(mintResult.Proofs))
	}
}

func TestSend(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	w := testWallet(t, fakeMint.URL)

	fundWallet(t, w, 128)

	sendResult, err := w.Send(100, w.CurrentMint(), "")
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}

	// send proofs in the exact output construction order
	expectedSend := []uint64{4, 32, 64}
	if !reflect.DeepEqual(proofAmounts(sendResult.Token.Proofs()), expectedSend) {
		t.Errorf("expected send amounts '%v' but got '%v' instead",
			expectedSend, proofAmounts(sendResult.Token.Proofs()))
	}
	if sendResult.OutputDLEQ != nut12.Valid {
		t.Errorf("expected DLEQ result '%v' but got '%v' instead", nut12.Valid, sendResult.OutputDLEQ)
	}

	// change kept by the wallet
	if w.GetBalance() != 28 {
		t.Errorf("expected balance of '28' but got '%v' instead", w.GetBalance())
	}

	// sending more than the balance has to fail
	_, err = w.Send(1000, w.CurrentMint(), "")
	if !errors.Is(err, ErrInsufficientMintBalance) {
		t.Errorf("expected '%v' but got '%v' instead", ErrInsufficientMintBalance, err)
	}
}

func TestSendExactAmount(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	w := testWallet(t, fakeMint.URL)

	minted := fundWallet(t, w, 32)

	// sending the full balance wraps the stored proofs without a swap
	sendResult, err := w.Send(32, w.CurrentMint(), "")
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	if !reflect.DeepEqual(sendResult.Token.Proofs(), minted) {
		t.Errorf("expected token to wrap the stored proofs")
	}
	if sendResult.OutputDLEQ != nut12.Valid {
		t.Errorf("expected DLEQ result '%v' but got '%v' instead", nut12.Valid, sendResult.OutputDLEQ)
	}
	if w.GetBalance() != 0 {
		t.Errorf("expected balance of '0' but got '%v' instead", w.GetBalance())
	}
}

func TestReceive(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	sender := testWallet(t, fakeMint.URL)
	receiver := testWallet(t, fakeMint.URL)

	fundWallet(t, sender, 128)
	sendResult, err := sender.Send(100, sender.CurrentMint(), "")
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}

	receiveResult, err := receiver.Receive(sendResult.Token)
	if err != nil {
		t.Fatalf("error receiving token: %v", err)
	}

	if receiveResult.Proofs.Amount() != 100 {
		t.Errorf("expected received amount of '100' but got '%v' instead", receiveResult.Proofs.Amount())
	}
	if receiveResult.InputDLEQ != nut12.Valid {
		t.Errorf("expected input DLEQ result '%v' but got '%v' instead", nut12.Valid, receiveResult.InputDLEQ)
	}
	if receiveResult.OutputDLEQ != nut12.Valid {
		t.Errorf("expected output DLEQ result '%v' but got '%v' instead", nut12.Valid, receiveResult.OutputDLEQ)
	}
	if receiver.GetBalance() != 100 {
		t.Errorf("expected balance of '100' but got '%v' instead", receiver.GetBalance())
	}

	// receiving the same token again has to fail with already spent
	if _, err := receiver.Receive(sendResult.Token); err == nil {
		t.Error("expected error receiving already spent token")
	} else {
		var cashuErr cashu.Error
		if !errors.As(err, &cashuErr) || cashuErr.Code != cashu.ProofAlreadyUsedErrCode {
			t.Errorf("expected already spent error but got '%v' instead", err)
		}
	}
}

func TestReceiveTokenV3(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	sender := testWallet(t, fakeMint.URL)
	receiver := testWallet(t, fakeMint.URL)

	fundWallet(t, sender, 21)
	sendResult, err := sender.Send(21, sender.CurrentMint(), "")
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}

	// re-encode the proofs as a V3 token
	tokenV3, err := cashu.NewTokenV3(sendResult.Token.Proofs(), sendResult.Token.Mint(), cashu.Sat, true)
	if err != nil {
		t.Fatal(err)
	}
	serialized, err := tokenV3.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := cashu.DecodeToken(serialized)
	if err != nil {
		t.Fatal(err)
	}

	receiveResult, err := receiver.Receive(decoded)
	if err != nil {
		t.Fatalf("error receiving token: %v", err)
	}
	if receiveResult.Proofs.Amount() != 21 {
		t.Errorf("expected received amount of '21' but got '%v' instead", receiveResult.Proofs.Amount())
	}
}

func TestSendToPubkeyAndReceive(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	sender := testWallet(t, fakeMint.URL)
	receiver := testWallet(t, fakeMint.URL)
	thirdParty := testWallet(t, fakeMint.URL)

	fundWallet(t, sender, 64)

	receivePubkey, err := receiver.GetReceivePubkey()
	if err != nil {
		t.Fatal(err)
	}

	sendResult, err := sender.SendToPubkey(21, sender.CurrentMint(), receivePubkey, nil)
	if err != nil {
		t.Fatalf("error sending locked ecash: %v", err)
	}

	// a wallet with a different key cannot redeem the locked token
	_, err = thirdParty.Receive(sendResult.Token)
	if !errors.Is(err, ErrLockingConditionMismatch) {
		t.Errorf("expected '%v' but got '%v' instead", ErrLockingConditionMismatch, err)
	}

	receiveResult, err := receiver.Receive(sendResult.Token)
	if err != nil {
		t.Fatalf("error receiving locked token: %v", err)
	}
	if receiveResult.Proofs.Amount() != 21 {
		t.Errorf("expected received amount of '21' but got '%v' instead", receiveResult.Proofs.Amount())
	}
	if receiver.GetBalance() != 21 {
		t.Errorf("expected balance of '21' but got '%v' instead", receiver.GetBalance())
	}
}

func TestMelt(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 0)
	defer fakeMint.Close()
	fakeMint.LightningFee = 5
	w := testWallet(t, fakeMint.URL)

	fundWallet(t, w, 104)

	meltQuote, err := w.RequestMeltQuote(testutils.FakeInvoice(100, 5), w.CurrentMint())
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if meltQuote.Amount != 100 || meltQuote.FeeReserve != 5 {
		t.Fatalf("unexpected melt quote: %+v", meltQuote)
	}

	// proofs in the wallet do not cover amount + fee reserve
	_, err = w.Melt(meltQuote.Quote)
	if !errors.Is(err, ErrInsufficientMintBalance) {
		t.Fatalf("expected '%v' but got '%v' instead", ErrInsufficientMintBalance, err)
	}
	// failed melt leaves the balance untouched
	if w.GetBalance() != 104 {
		t.Fatalf("expected balance of '104' but got '%v' instead", w.GetBalance())
	}

	fundWallet(t, w, 16)

	meltResult, err := w.Melt(meltQuote.Quote)
	if err != nil {
		t.Fatalf("error melting: %v", err)
	}
	if meltResult.State != nut05.Paid {
		t.Fatalf("expected melt state '%v' but got '%v'", nut05.Paid, meltResult.State)
	}
	if len(meltResult.Preimage) == 0 {
		t.Error("expected preimage in melt response")
	}

	// 120 went in for a 100 sat invoice with a 5 sat lightning fee.
	// the overpaid 15 sats come back as change
	if w.GetBalance() != 15 {
		t.Errorf("expected balance of '15' but got '%v' instead", w.GetBalance())
	}

	quoteState, err := w.MeltQuoteState(meltQuote.Quote)
	if err != nil {
		t.Fatalf("error checking melt quote state: %v", err)
	}
	if quoteState.State != nut05.Paid {
		t.Errorf("expected melt state '%v' but got '%v'", nut05.Paid, quoteState.State)
	}

	// melting for the same quote again has to fail
	if _, err := w.Melt(meltQuote.Quote); err == nil {
		t.Error("expected error melting already paid quote")
	}
}

func TestSendWithFees(t *testing.T) {
	fakeMint := testutils.NewFakeMint("mintseed", 200)
	defer fakeMint.Close()
	w := testWallet(t, fakeMint.URL)

	fundWallet(t, w, 64)

	sendResult, err := w.Send(10, w.CurrentMint(), "")
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	if sendResult.Token.Amount() != 10 {
		t.Errorf("expected token amount of '10' but got '%v' instead", sendResult.Token.Amount())
	}

	// 64 input, 10 sent, 1 sat input fee
	if w.GetBalance() != 53 {
		t.Errorf("expected balance of '53' but got '%v' instead", w.GetBalance())
	}
}
