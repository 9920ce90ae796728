package wallet

import (
	"fmt"

	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/crypto"
)

// GetMintActiveKeyset returns the first active keyset with the
// specified unit from the mint.
func GetMintActiveKeyset(mintURL string, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	keysets, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	for _, keyset := range keysets.Keysets {
		if keyset.Active && keyset.Unit == unit.String() {
			keys, err := GetKeysetKeys(mintURL, keyset.Id, keyset.Unit, keyset.FinalExpiry)
			if err != nil {
				return nil, err
			}
			return &crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mintURL,
				Unit:        keyset.Unit,
				Active:      true,
				PublicKeys:  keys,
				InputFeePpk: keyset.InputFeePpk,
				FinalExpiry: keyset.FinalExpiry,
			}, nil
		}
	}

	return nil, ErrNoActiveKeysetForUnit
}

func GetMintInactiveKeysets(mintURL string, unit cashu.Unit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if !keysetRes.Active && keysetRes.Unit == unit.String() {
			keyset := crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      keysetRes.Active,
				InputFeePpk: keysetRes.InputFeePpk,
				FinalExpiry: keysetRes.FinalExpiry,
			}
			inactiveKeysets[keyset.Id] = keyset
		}
	}
	return inactiveKeysets, nil
}

// GetKeysetKeys fetches the keys for the keyset id and verifies that
// the id derives from the keys returned.
func GetKeysetKeys(mintURL, id, unit string, finalExpiry *int64) (crypto.PublicKeys, error) {
	keysetsResponse, err := GetKeysetById(mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}

	if len(keysetsResponse.Keysets) == 0 {
		return nil, fmt.Errorf("mint does not have keyset with id '%v'", id)
	}

	keys := keysetsResponse.Keysets[0].Keys
	if !crypto.ValidateKeysetId(id, keys, unit, finalExpiry) {
		return nil, fmt.Errorf("got invalid keyset from mint. Derived id does not match '%v'", id)
	}

	return keys, nil
}

// loadWalletMints reads the keysets stored by the wallet and groups
// them into mints.
func (w *Wallet) loadWalletMints() (map[string]walletMint, error) {
	walletMints := make(map[string]walletMint)

	keysets := w.db.GetKeysets()
	for mintURL, mintKeysets := range keysets {
		var activeKeyset crypto.WalletKeyset
		inactiveKeysets := make(map[string]crypto.WalletKeyset)
		for _, keyset := range mintKeysets {
			if keyset.Active {
				activeKeyset = keyset
			} else {
				inactiveKeysets[keyset.Id] = keyset
			}
		}
		walletMints[mintURL] = walletMint{
			mintURL:         mintURL,
			activeKeyset:    activeKeyset,
			inactiveKeysets: inactiveKeysets,
		}
	}

	return walletMints, nil
}

// getActiveKeyset returns the active keyset for the mint passed.
// if the latest active keyset from the mint has changed, the previous
// active is inactivated in the db and the new one saved.
func (w *Wallet) getActiveKeyset(mintURL string) (*crypto.WalletKeyset, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return GetMintActiveKeyset(mintURL, w.unit)
	}

	allKeysets, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, err
	}

	activeKeyset := mint.activeKeyset
	activeChanged := true
	for _, keyset := range allKeysets.Keysets {
		if keyset.Active && keyset.Id == activeKeyset.Id {
			activeChanged = false
			if keyset.InputFeePpk != activeKeyset.InputFeePpk {
				activeKeyset.InputFeePpk = keyset.InputFeePpk
				if err := w.db.SaveKeyset(&activeKeyset); err != nil {
					return nil, err
				}
				mint.activeKeyset = activeKeyset
				w.mints[mintURL] = mint
			}
			break
		}
	}

	if activeChanged {
		// inactivate previous active
		activeKeyset.Active = false
		mint.inactiveKeysets[activeKeyset.Id] = activeKeyset
		if err := w.db.SaveKeyset(&activeKeyset); err != nil {
			return nil, err
		}

		newActiveKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
		if err != nil {
			return nil, err
		}

		// if the wallet had already seen this keyset, keep its counter
		if storedKeyset := w.db.GetKeyset(newActiveKeyset.Id); storedKeyset != nil {
			newActiveKeyset.Counter = storedKeyset.Counter
		}

		if err := w.db.SaveKeyset(newActiveKeyset); err != nil {
			return nil, err
		}
		delete(mint.inactiveKeysets, newActiveKeyset.Id)
		mint.activeKeyset = *newActiveKeyset
		w.mints[mintURL] = mint
		activeKeyset = *newActiveKeyset
	}

	return &activeKeyset, nil
}

func (w *Wallet) counterForKeyset(keysetId string) uint32 {
	return w.db.GetKeysetCounter(keysetId)
}

// keysetById returns the keyset of the mint with the id passed,
// without fetching keys if absent.
func (w *Wallet) keysetById(mint *walletMint, keysetId string) (*crypto.WalletKeyset, error) {
	if mint.activeKeyset.Id == keysetId {
		return &mint.activeKeyset, nil
	}
	if keyset, ok := mint.inactiveKeysets[keysetId]; ok {
		return &keyset, nil
	}
	if keyset := w.db.GetKeyset(keysetId); keyset != nil {
		return keyset, nil
	}
	return nil, cashu.UnknownKeysetErr
}

// keysetWithKeys returns the keyset with its public keys, fetching them
// from the mint if the wallet only stored the keyset header.
func (w *Wallet) keysetWithKeys(mint *walletMint, keysetId string) (*crypto.WalletKeyset, error) {
	keyset, err := w.keysetById(mint, keysetId)
	if err != nil {
		return nil, err
	}

	if len(keyset.PublicKeys) == 0 {
		keys, err := GetKeysetKeys(mint.mintURL, keyset.Id, keyset.Unit, keyset.FinalExpiry)
		if err != nil {
			return nil, err
		}
		keyset.PublicKeys = keys
		if err := w.db.SaveKeyset(keyset); err != nil {
			return nil, err
		}
		if inactive, ok := mint.inactiveKeysets[keyset.Id]; ok {
			inactive.PublicKeys = keys
			mint.inactiveKeysets[keyset.Id] = inactive
		}
	}

	return keyset, nil
}
