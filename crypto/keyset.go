package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type PublicKeys map[uint64]*secp256k1.PublicKey

// Custom marshaller to display sorted keys
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, len(pks))
	i := 0
	for k := range pks {
		amounts[i] = k
		i++
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		// marshal key
		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')
		// marshal value
		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

func sortedByAmount(keyset PublicKeys) []*secp256k1.PublicKey {
	type pubkey struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	pubkeys := make([]pubkey, len(keyset))
	i := 0
	for amount, key := range keyset {
		pubkeys[i] = pubkey{amount, key}
		i++
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount < pubkeys[j].amount
	})

	keys := make([]*secp256k1.PublicKey, len(pubkeys))
	for i, key := range pubkeys {
		keys[i] = key.pk
	}
	return keys
}

// DeriveKeysetId returns the string ID derived from the map keyset
// The steps to derive the ID are:
// - sort public keys by their amount in ascending order
// - concatenate all public keys to one byte array
// - HASH_SHA256 the concatenated public keys
// - take the first 14 characters of the hex-encoded hash
// - prefix it with the keyset ID version byte "00"
func DeriveKeysetId(keyset PublicKeys) string {
	keys := make([]byte, 0, len(keyset)*33)
	for _, key := range sortedByAmount(keyset) {
		keys = append(keys, key.SerializeCompressed()...)
	}
	hash := sha256.Sum256(keys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// DeriveKeysetIdV2 derives a version "01" keyset ID. In addition to the
// sorted public keys it commits to the keyset unit and, if set, the
// final expiry of the keyset.
func DeriveKeysetIdV2(keyset PublicKeys, unit string, finalExpiry *int64) string {
	keys := make([]byte, 0, len(keyset)*33)
	for _, key := range sortedByAmount(keyset) {
		keys = append(keys, key.SerializeCompressed()...)
	}
	keys = append(keys, []byte("unit:"+strings.ToLower(unit))...)
	if finalExpiry != nil {
		keys = append(keys, []byte("final_expiry:"+strconv.FormatInt(*finalExpiry, 10))...)
	}
	hash := sha256.Sum256(keys)

	return "01" + hex.EncodeToString(hash[:])
}

// DeriveKeysetIdLegacy derives the deprecated base64 keyset ID used
// before the hex versioned IDs. It concatenates the hex string
// representations of the sorted public keys and takes the first 12
// characters of the base64-encoded hash.
func DeriveKeysetIdLegacy(keyset PublicKeys) string {
	var keys strings.Builder
	for _, key := range sortedByAmount(keyset) {
		keys.WriteString(hex.EncodeToString(key.SerializeCompressed()))
	}
	hash := sha256.Sum256([]byte(keys.String()))

	return base64.StdEncoding.EncodeToString(hash[:])[:12]
}

// ValidateKeysetId recomputes the keyset ID from the keys and checks it
// against the id passed. It dispatches on the id form: 12-character
// base64 legacy IDs, "00"-prefixed hex IDs and "01"-prefixed hex IDs
// that also commit to unit and final expiry.
func ValidateKeysetId(id string, keyset PublicKeys, unit string, finalExpiry *int64) bool {
	switch {
	case len(id) == 12:
		return DeriveKeysetIdLegacy(keyset) == id
	case strings.HasPrefix(id, "00"):
		return DeriveKeysetId(keyset) == id
	case strings.HasPrefix(id, "01"):
		return DeriveKeysetIdV2(keyset, unit, finalExpiry) == id
	default:
		return false
	}
}

// UrlSafeKeysetId substitutes the standard base64 characters in legacy
// keyset IDs so the id can be used in a URL path. Hex IDs pass through.
func UrlSafeKeysetId(id string) string {
	id = strings.ReplaceAll(id, "+", "-")
	return strings.ReplaceAll(id, "/", "_")
}

// KeysetsMap maps a mint url to map of string keyset id to keyset
type KeysetsMap map[string]map[string]WalletKeyset

type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  PublicKeys
	Counter     uint32
	InputFeePpk uint
	FinalExpiry *int64
}

type walletKeysetTemp struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64][]byte
	Counter     uint32
	InputFeePpk uint
	FinalExpiry *int64 `json:",omitempty"`
}

func (wk *WalletKeyset) MarshalJSON() ([]byte, error) {
	temp := &walletKeysetTemp{
		Id:      wk.Id,
		MintURL: wk.MintURL,
		Unit:    wk.Unit,
		Active:  wk.Active,
		PublicKeys: func() map[uint64][]byte {
			m := make(map[uint64][]byte)
			for k, v := range wk.PublicKeys {
				m[k] = v.SerializeCompressed()
			}
			return m
		}(),
		Counter:     wk.Counter,
		InputFeePpk: wk.InputFeePpk,
		FinalExpiry: wk.FinalExpiry,
	}

	return json.Marshal(temp)
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	temp := &walletKeysetTemp{}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.Counter = temp.Counter
	wk.InputFeePpk = temp.InputFeePpk
	wk.FinalExpiry = temp.FinalExpiry

	wk.PublicKeys = make(PublicKeys)
	for k, v := range temp.PublicKeys {
		kp, err := secp256k1.ParsePubKey(v)
		if err != nil {
			return err
		}

		wk.PublicKeys[k] = kp
	}

	return nil
}

func MapPubKeys(keys map[uint64]string) (PublicKeys, error) {
	publicKeys := make(PublicKeys, len(keys))
	for amount, key := range keys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %v", err)
		}
		publicKeys[amount] = pubkey
	}
	return publicKeys, nil
}
