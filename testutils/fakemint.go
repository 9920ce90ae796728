// Package testutils provides an in-process mint backed by real BDHKE
// signing so wallet operations can be exercised without a lightning
// backend.
package testutils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut01"
	"github.com/gocashu/gocashu/cashu/nuts/nut02"
	"github.com/gocashu/gocashu/cashu/nuts/nut03"
	"github.com/gocashu/gocashu/cashu/nuts/nut04"
	"github.com/gocashu/gocashu/cashu/nuts/nut05"
	"github.com/gocashu/gocashu/cashu/nuts/nut06"
	"github.com/gocashu/gocashu/cashu/nuts/nut07"
	"github.com/gocashu/gocashu/cashu/nuts/nut10"
	"github.com/gocashu/gocashu/cashu/nuts/nut11"
	"github.com/gocashu/gocashu/crypto"
	"github.com/gorilla/mux"
)

const maxOrder = 32

type fakeKeyset struct {
	id          string
	unit        string
	active      bool
	inputFeePpk uint
	privateKeys map[uint64]*secp256k1.PrivateKey
	publicKeys  crypto.PublicKeys
}

type meltQuote struct {
	quote nut05.PostMeltQuoteBolt11Response
}

// FakeMint is a mint over httptest that signs with a real keyset and
// verifies proofs. Lightning payments always succeed: mint quotes are
// created paid and melt quotes settle immediately.
type FakeMint struct {
	URL    string
	server *httptest.Server

	mu         sync.Mutex
	keyset     *fakeKeyset
	spent      map[string]bool
	mintQuotes map[string]*nut04.PostMintQuoteBolt11Response
	quoteAmts  map[string]uint64
	meltQuotes map[string]*meltQuote
	issued     map[string]bool

	// LightningFee is the fee the fake lightning backend charges when
	// paying an invoice. The difference to the quote fee reserve comes
	// back as change.
	LightningFee uint64
}

func NewFakeMint(seed string, inputFeePpk uint) *FakeMint {
	keyset := newFakeKeyset(seed, inputFeePpk)
	fakeMint := &FakeMint{
		keyset:     keyset,
		spent:      make(map[string]bool),
		mintQuotes: make(map[string]*nut04.PostMintQuoteBolt11Response),
		quoteAmts:  make(map[string]uint64),
		meltQuotes: make(map[string]*meltQuote),
		issued:     make(map[string]bool),
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/keys", fakeMint.handleKeys).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", fakeMint.handleKeysets).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", fakeMint.handleKeysById).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", fakeMint.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/quote/bolt11", fakeMint.handleMintQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/bolt11/{id}", fakeMint.handleMintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/bolt11", fakeMint.handleMint).Methods(http.MethodPost)
	r.HandleFunc("/v1/swap", fakeMint.handleSwap).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/bolt11", fakeMint.handleMeltQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/bolt11/{id}", fakeMint.handleMeltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/bolt11", fakeMint.handleMelt).Methods(http.MethodPost)
	r.HandleFunc("/v1/checkstate", fakeMint.handleCheckState).Methods(http.MethodPost)
	r.HandleFunc("/v1/restore", fakeMint.handleRestore).Methods(http.MethodPost)

	fakeMint.server = httptest.NewServer(r)
	fakeMint.URL = fakeMint.server.URL
	return fakeMint
}

func (fm *FakeMint) Close() {
	fm.server.Close()
}

func (fm *FakeMint) KeysetId() string {
	return fm.keyset.id
}

func (fm *FakeMint) PublicKeys() crypto.PublicKeys {
	return fm.keyset.publicKeys
}

// FakeInvoice builds the invoice string the fake mint understands for
// melt quotes: the amount is carried in the invoice itself.
func FakeInvoice(amount uint64, feeReserve uint64) string {
	return fmt.Sprintf("lnfake:%d:%d", amount, feeReserve)
}

func newFakeKeyset(seed string, inputFeePpk uint) *fakeKeyset {
	privateKeys := make(map[uint64]*secp256k1.PrivateKey, maxOrder)
	publicKeys := make(crypto.PublicKeys, maxOrder)
	for i := 0; i < maxOrder; i++ {
		hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", seed, i)))
		privateKey := secp256k1.PrivKeyFromBytes(hash[:])
		amount := uint64(1) << i
		privateKeys[amount] = privateKey
		publicKeys[amount] = privateKey.PubKey()
	}

	return &fakeKeyset{
		id:          crypto.DeriveKeysetId(publicKeys),
		unit:        cashu.Sat.String(),
		active:      true,
		inputFeePpk: inputFeePpk,
		privateKeys: privateKeys,
		publicKeys:  publicKeys,
	}
}

func (fm *FakeMint) signOutputs(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, *cashu.Error) {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		if output.Id != fm.keyset.id {
			return nil, &cashu.UnknownKeysetErr
		}
		k, ok := fm.keyset.privateKeys[output.Amount]
		if !ok {
			return nil, &cashu.StandardErr
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, &cashu.StandardErr
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, &cashu.StandardErr
		}

		C_ := crypto.SignBlindedMessage(B_, k)

		e, s, err := crypto.GenerateDLEQ(k, B_, C_)
		if err != nil {
			return nil, &cashu.StandardErr
		}

		signatures[i] = cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     output.Id,
			DLEQ: &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
	}
	return signatures, nil
}

// verifyProofs checks the BDHKE equation, double spends and P2PK
// witnesses on the inputs.
func (fm *FakeMint) verifyProofs(proofs cashu.Proofs) *cashu.Error {
	for _, proof := range proofs {
		if proof.Id != fm.keyset.id {
			return &cashu.UnknownKeysetErr
		}
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return &cashu.InvalidProofErr
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())
		if fm.spent[Yhex] {
			return &cashu.ProofAlreadyUsedErr
		}

		k, ok := fm.keyset.privateKeys[proof.Amount]
		if !ok {
			return &cashu.InvalidProofErr
		}
		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return &cashu.InvalidProofErr
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			return &cashu.InvalidProofErr
		}
		if !crypto.Verify(proof.Secret, k, C) {
			return &cashu.InvalidProofErr
		}

		if nut10.SecretKindFrom(proof.Secret) == nut10.P2PK {
			if err := verifyP2PKWitness(proof); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyP2PKWitness(proof cashu.Proof) *cashu.Error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return &cashu.InvalidProofErr
	}

	var witness nut11.P2PKWitness
	if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil || len(witness.Signatures) == 0 {
		return &nut11.EmptyWitnessErr
	}

	pubkeys, err := nut11.PublicKeys(secret)
	if err != nil {
		return &cashu.InvalidProofErr
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	for _, signature := range witness.Signatures {
		sigBytes, err := hex.DecodeString(signature)
		if err != nil {
			continue
		}
		sig, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			continue
		}
		for _, pubkey := range pubkeys {
			if sig.Verify(hash[:], pubkey) {
				return nil
			}
		}
	}
	return &nut11.NotEnoughSignaturesErr
}

func (fm *FakeMint) markSpent(proofs cashu.Proofs) {
	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			continue
		}
		fm.spent[hex.EncodeToString(Y.SerializeCompressed())] = true
	}
}

func (fm *FakeMint) feeForInputs(inputs cashu.Proofs) uint64 {
	return uint64((uint(len(inputs))*fm.keyset.inputFeePpk + 999) / 1000)
}

func (fm *FakeMint) handleKeys(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	writeJson(w, nut01.GetKeysResponse{Keysets: []nut01.Keyset{{
		Id:   fm.keyset.id,
		Unit: fm.keyset.unit,
		Keys: fm.keyset.publicKeys,
	}}})
}

func (fm *FakeMint) handleKeysById(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	id := mux.Vars(r)["id"]
	if id != fm.keyset.id {
		writeError(w, http.StatusBadRequest, cashu.UnknownKeysetErr)
		return
	}
	writeJson(w, nut01.GetKeysResponse{Keysets: []nut01.Keyset{{
		Id:   fm.keyset.id,
		Unit: fm.keyset.unit,
		Keys: fm.keyset.publicKeys,
	}}})
}

func (fm *FakeMint) handleKeysets(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	writeJson(w, nut02.GetKeysetsResponse{Keysets: []nut02.Keyset{{
		Id:          fm.keyset.id,
		Unit:        fm.keyset.unit,
		Active:      fm.keyset.active,
		InputFeePpk: fm.keyset.inputFeePpk,
	}}})
}

func (fm *FakeMint) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJson(w, nut06.MintInfo{
		Name:    "fake mint",
		Version: "fakemint/0.1",
		Nuts: nut06.NutsMap{
			7: map[string]any{"supported": true},
			9: map[string]any{"supported": true},
		},
	})
}

func (fm *FakeMint) handleMintQuote(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut04.PostMintQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}
	if request.Unit != cashu.Sat.String() {
		writeError(w, http.StatusBadRequest, cashu.UnitNotSupportedErr)
		return
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		writeError(w, http.StatusInternalServerError, cashu.StandardErr)
		return
	}

	// fake lightning deposits settle instantly
	quote := &nut04.PostMintQuoteBolt11Response{
		Quote:   quoteId,
		Request: FakeInvoice(request.Amount, 0),
		State:   nut04.Paid,
	}
	fm.mintQuotes[quoteId] = quote
	fm.quoteAmts[quoteId] = request.Amount

	writeJson(w, quote)
}

func (fm *FakeMint) handleMintQuoteState(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	quote, ok := fm.mintQuotes[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}
	writeJson(w, quote)
}

func (fm *FakeMint) handleMint(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut04.PostMintBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	quote, ok := fm.mintQuotes[request.Quote]
	if !ok {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}
	if quote.State == nut04.Unpaid {
		writeError(w, http.StatusBadRequest, cashu.MintQuoteRequestNotPaid)
		return
	}
	if fm.issued[request.Quote] {
		writeError(w, http.StatusBadRequest, cashu.MintQuoteAlreadyIssued)
		return
	}
	if request.Outputs.Amount() != fm.quoteAmts[request.Quote] {
		writeError(w, http.StatusBadRequest, cashu.TransactionUnbalancedErr)
		return
	}

	signatures, cashuErr := fm.signOutputs(request.Outputs)
	if cashuErr != nil {
		writeError(w, http.StatusBadRequest, *cashuErr)
		return
	}

	fm.issued[request.Quote] = true
	quote.State = nut04.Issued

	writeJson(w, nut04.PostMintBolt11Response{Signatures: signatures})
}

func (fm *FakeMint) handleSwap(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut03.PostSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	if cashuErr := fm.verifyProofs(request.Inputs); cashuErr != nil {
		writeError(w, http.StatusBadRequest, *cashuErr)
		return
	}

	fee := fm.feeForInputs(request.Inputs)
	if request.Inputs.Amount() != request.Outputs.Amount()+fee {
		writeError(w, http.StatusBadRequest, cashu.TransactionUnbalancedErr)
		return
	}

	signatures, cashuErr := fm.signOutputs(request.Outputs)
	if cashuErr != nil {
		writeError(w, http.StatusBadRequest, *cashuErr)
		return
	}
	fm.markSpent(request.Inputs)

	writeJson(w, nut03.PostSwapResponse{Signatures: signatures})
}

func (fm *FakeMint) handleMeltQuote(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut05.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	var amount, feeReserve uint64
	if _, err := fmt.Sscanf(request.Request, "lnfake:%d:%d", &amount, &feeReserve); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		writeError(w, http.StatusInternalServerError, cashu.StandardErr)
		return
	}

	quote := &meltQuote{
		quote: nut05.PostMeltQuoteBolt11Response{
			Quote:      quoteId,
			Amount:     amount,
			FeeReserve: feeReserve,
			State:      nut05.Unpaid,
		},
	}
	fm.meltQuotes[quoteId] = quote

	writeJson(w, &quote.quote)
}

func (fm *FakeMint) handleMeltQuoteState(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	quote, ok := fm.meltQuotes[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}
	writeJson(w, &quote.quote)
}

func (fm *FakeMint) handleMelt(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut05.PostMeltBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	quote, ok := fm.meltQuotes[request.Quote]
	if !ok {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}
	if quote.quote.State == nut05.Paid {
		writeError(w, http.StatusBadRequest, cashu.MeltQuoteAlreadyPaid)
		return
	}

	if cashuErr := fm.verifyProofs(request.Inputs); cashuErr != nil {
		writeError(w, http.StatusBadRequest, *cashuErr)
		return
	}

	fee := fm.feeForInputs(request.Inputs)
	amountNeeded := quote.quote.Amount + quote.quote.FeeReserve + fee
	if request.Inputs.Amount() < amountNeeded {
		writeError(w, http.StatusBadRequest, cashu.TransactionUnbalancedErr)
		return
	}

	fm.markSpent(request.Inputs)
	quote.quote.State = nut05.Paid
	quote.quote.Preimage = "0000000000000000000000000000000000000000000000000000000000000000"

	// everything paid in over the invoice amount and the lightning fee
	// comes back as change over the blank outputs
	if request.Inputs.Amount() > quote.quote.Amount+fm.LightningFee && len(request.Outputs) > 0 {
		changeAmount := request.Inputs.Amount() - quote.quote.Amount - fm.LightningFee
		changeSplit := cashu.AmountSplit(changeAmount)
		if len(changeSplit) > len(request.Outputs) {
			changeSplit = changeSplit[:len(request.Outputs)]
		}

		changeOutputs := make(cashu.BlindedMessages, len(changeSplit))
		for i, amount := range changeSplit {
			output := request.Outputs[i]
			output.Amount = amount
			changeOutputs[i] = output
		}

		change, cashuErr := fm.signOutputs(changeOutputs)
		if cashuErr != nil {
			writeError(w, http.StatusBadRequest, *cashuErr)
			return
		}
		quote.quote.Change = change
	}

	writeJson(w, &quote.quote)
}

func (fm *FakeMint) handleCheckState(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	var request nut07.PostCheckStateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, cashu.StandardErr)
		return
	}

	states := make([]nut07.ProofState, len(request.Ys))
	for i, y := range request.Ys {
		state := nut07.Unspent
		if fm.spent[strings.ToLower(y)] || fm.spent[y] {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: y, State: state}
	}

	writeJson(w, nut07.PostCheckStateResponse{States: states})
}

// handleRestore answers with no signatures. The fake mint does not
// persist signed outputs, so restore scans terminate right away.
func (fm *FakeMint) handleRestore(w http.ResponseWriter, r *http.Request) {
	writeJson(w, struct {
		Outputs    cashu.BlindedMessages   `json:"outputs"`
		Signatures cashu.BlindedSignatures `json:"signatures"`
	}{Outputs: cashu.BlindedMessages{}, Signatures: cashu.BlindedSignatures{}})
}

func writeJson(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, statusCode int, cashuErr cashu.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(cashuErr)
}
