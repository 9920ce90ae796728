package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut07"
	"github.com/gocashu/gocashu/cashu/nuts/nut09"
	"github.com/gocashu/gocashu/cashu/nuts/nut13"
	"github.com/gocashu/gocashu/crypto"
	"github.com/tyler-smith/go-bip39"
)

const restoreBatchSize = 100

// Restore recovers the proofs of a wallet from its mnemonic by scanning
// the keysets of the mints passed in batches of outputs until it hits
// consecutive empty batches.
func Restore(walletPath, mnemonic string, mintsToRestore []string) (uint64, error) {
	// check if wallet db already exists, if there is one, throw error.
	dbpath := filepath.Join(walletPath, "wallet.db")
	_, err := os.Stat(dbpath)
	if err == nil {
		return 0, errors.New("wallet already exists")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return 0, err
	}

	// check mnemonic is valid
	if !bip39.IsMnemonicValid(mnemonic) {
		return 0, errors.New("invalid mnemonic")
	}

	db, err := InitStorage(walletPath)
	if err != nil {
		return 0, fmt.Errorf("error restoring wallet: %v", err)
	}
	defer db.Close()

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return 0, err
	}
	db.SaveMnemonicSeed(mnemonic, seed)

	proofsRestored := cashu.Proofs{}

	// for each mint get the keysets and do restore process for each keyset
	for _, mint := range mintsToRestore {
		mintInfo, err := GetMintInfo(mint)
		if err != nil {
			return 0, fmt.Errorf("error getting info from mint: %v", err)
		}

		if !mintInfo.Nuts.Supported(7) || !mintInfo.Nuts.Supported(9) {
			fmt.Println("mint does not support the necessary operations to restore wallet")
			continue
		}

		keysetsResponse, err := GetAllKeysets(mint)
		if err != nil {
			return 0, err
		}

		for _, keyset := range keysetsResponse.Keysets {
			if keyset.Unit != cashu.Sat.String() {
				continue
			}

			keysetKeys, err := GetKeysetKeys(mint, keyset.Id, keyset.Unit, keyset.FinalExpiry)
			if err != nil {
				return 0, err
			}

			walletKeyset := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mint,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				PublicKeys:  keysetKeys,
				InputFeePpk: keyset.InputFeePpk,
				FinalExpiry: keyset.FinalExpiry,
			}
			if err := db.SaveKeyset(&walletKeyset); err != nil {
				return 0, err
			}

			keysetProofs, counter, err := restoreKeysetProofs(mint, keyset.Id, keysetKeys, masterKey)
			if err != nil {
				return 0, err
			}
			proofsRestored = append(proofsRestored, keysetProofs...)

			if err := db.SaveProofs(keysetProofs); err != nil {
				return 0, fmt.Errorf("error saving restored proofs: %v", err)
			}
			// save keyset with the counter moving forward for the wallet
			if counter > 0 {
				if err := db.IncrementKeysetCounter(keyset.Id, counter); err != nil {
					return 0, fmt.Errorf("error incrementing keyset counter: %v", err)
				}
			}
		}
	}

	return proofsRestored.Amount(), nil
}

func restoreKeysetProofs(
	mint, keysetId string,
	keysetKeys crypto.PublicKeys,
	masterKey *hdkeychain.ExtendedKey,
) (cashu.Proofs, uint32, error) {
	keysetDerivationPath, err := nut13.DeriveKeysetPath(masterKey, keysetId)
	if err != nil {
		return nil, 0, err
	}

	keysetProofs := cashu.Proofs{}
	var counter uint32 = 0

	// stop when it reaches 3 consecutive empty batches
	emptyBatches := 0
	for emptyBatches < 3 {
		blindedMessages := make(cashu.BlindedMessages, restoreBatchSize)
		rs := make([]*secp256k1.PrivateKey, restoreBatchSize)
		secrets := make([]string, restoreBatchSize)

		for i := 0; i < restoreBatchSize; i++ {
			secret, r, err := generateDeterministicSecret(keysetDerivationPath, counter)
			if err != nil {
				return nil, 0, err
			}
			B_, r, err := crypto.BlindMessage(secret, r)
			if err != nil {
				return nil, 0, err
			}

			B_str := hex.EncodeToString(B_.SerializeCompressed())
			blindedMessages[i] = cashu.BlindedMessage{B_: B_str, Id: keysetId}
			rs[i] = r
			secrets[i] = secret
			counter++
		}

		restoreRequest := nut09.PostRestoreRequest{Outputs: blindedMessages}
		restoreResponse, err := PostRestore(mint, restoreRequest)
		if err != nil {
			return nil, 0, fmt.Errorf("error restoring signatures from mint '%v': %v", mint, err)
		}

		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			continue
		}
		if len(restoreResponse.Outputs) != len(restoreResponse.Signatures) {
			return nil, 0, errors.New("mint returned mismatched outputs and signatures")
		}

		// match the signatures returned to the batch outputs through
		// the returned outputs to know which rs and secrets to use
		Ys := make([]string, len(restoreResponse.Signatures))
		proofs := make(map[string]cashu.Proof, len(restoreResponse.Signatures))

		for i, signature := range restoreResponse.Signatures {
			var outputIdx = -1
			for j, output := range blindedMessages {
				if output.B_ == restoreResponse.Outputs[i].B_ {
					outputIdx = j
					break
				}
			}
			if outputIdx == -1 {
				return nil, 0, errors.New("mint returned unknown output")
			}

			pubkey, ok := keysetKeys[signature.Amount]
			if !ok {
				return nil, 0, errors.New("key not found")
			}

			C, err := unblindSignature(signature.C_, rs[outputIdx], pubkey)
			if err != nil {
				return nil, 0, err
			}

			Y, err := crypto.HashToCurve([]byte(secrets[outputIdx]))
			if err != nil {
				return nil, 0, err
			}
			Yhex := hex.EncodeToString(Y.SerializeCompressed())
			Ys[i] = Yhex

			proofs[Yhex] = cashu.Proof{
				Amount: signature.Amount,
				Secret: secrets[outputIdx],
				C:      C,
				Id:     signature.Id,
			}
		}

		proofStateRequest := nut07.PostCheckStateRequest{Ys: Ys}
		proofStateResponse, err := PostCheckProofState(mint, proofStateRequest)
		if err != nil {
			return nil, 0, err
		}

		for _, proofState := range proofStateResponse.States {
			// save unspent proofs
			if proofState.State == nut07.Unspent {
				keysetProofs = append(keysetProofs, proofs[proofState.Y])
			}
		}
		emptyBatches = 0
	}

	return keysetProofs, counter, nil
}
