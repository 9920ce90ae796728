package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/cashu/nuts/nut11"
	"github.com/gocashu/gocashu/crypto"
)

func generateTestKeyset(seed string) (*crypto.WalletKeyset, map[uint64]*secp256k1.PrivateKey) {
	privateKeys := make(map[uint64]*secp256k1.PrivateKey, 16)
	publicKeys := make(crypto.PublicKeys, 16)
	for i := 0; i < 16; i++ {
		hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", seed, i)))
		privateKey := secp256k1.PrivKeyFromBytes(hash[:])
		amount := uint64(1) << i
		privateKeys[amount] = privateKey
		publicKeys[amount] = privateKey.PubKey()
	}

	keyset := &crypto.WalletKeyset{
		Id:         crypto.DeriveKeysetId(publicKeys),
		Unit:       "sat",
		Active:     true,
		PublicKeys: publicKeys,
	}
	return keyset, privateKeys
}

func testWalletWithMasterKey(t *testing.T) *Wallet {
	t.Helper()

	seed, err := hdkeychain.GenerateSeed(16)
	if err != nil {
		t.Fatal(err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	return &Wallet{masterKey: master}
}

func TestCreateBlindedMessages(t *testing.T) {
	keyset, _ := generateTestKeyset("mysecretkey")
	testWallet := testWalletWithMasterKey(t)

	tests := []struct {
		amount uint64
	}{
		{420},
		{10000000},
		{2500},
	}

	for _, test := range tests {
		var counter uint32 = 0
		split := cashu.AmountSplit(test.amount)
		blindedMessages, secrets, rs, err := testWallet.createBlindedMessages(split, keyset.Id, &counter)
		if err != nil {
			t.Fatalf("error creating blinded messages: %v", err)
		}

		if blindedMessages.Amount() != test.amount {
			t.Errorf("expected '%v' but got '%v' instead", test.amount, blindedMessages.Amount())
		}
		if len(secrets) != len(split) || len(rs) != len(split) {
			t.Errorf("secrets and rs do not match split length")
		}
		if counter != uint32(len(split)) {
			t.Errorf("expected counter '%v' but got '%v' instead", len(split), counter)
		}

		for _, message := range blindedMessages {
			if message.Id != keyset.Id {
				t.Errorf("expected '%v' but got '%v' instead", keyset.Id, message.Id)
			}
		}
	}
}

func TestCreateBlindedMessagesDeterministic(t *testing.T) {
	keyset, _ := generateTestKeyset("mysecretkey")
	testWallet := testWalletWithMasterKey(t)

	split := cashu.AmountSplit(63)

	var counter uint32 = 0
	_, firstSecrets, _, err := testWallet.createBlindedMessages(split, keyset.Id, &counter)
	if err != nil {
		t.Fatal(err)
	}

	// same starting counter derives the same secrets
	var counterAgain uint32 = 0
	_, sameSecrets, _, err := testWallet.createBlindedMessages(split, keyset.Id, &counterAgain)
	if err != nil {
		t.Fatal(err)
	}
	for i := range firstSecrets {
		if firstSecrets[i] != sameSecrets[i] {
			t.Fatalf("derivation at the same counter is not deterministic")
		}
	}

	// outputs generated after the reported counter increase are disjoint
	_, nextSecrets, _, err := testWallet.createBlindedMessages(split, keyset.Id, &counter)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, secret := range firstSecrets {
		seen[secret] = true
	}
	for _, secret := range nextSecrets {
		if seen[secret] {
			t.Fatalf("secret '%v' derived twice across successive operations", secret)
		}
	}
}

func TestConstructProofs(t *testing.T) {
	keyset, privateKeys := generateTestKeyset("mysecretkey")
	testWallet := testWalletWithMasterKey(t)

	var counter uint32 = 0
	split := []uint64{2, 8, 32}
	blindedMessages, secrets, rs, err := testWallet.createBlindedMessages(split, keyset.Id, &counter)
	if err != nil {
		t.Fatal(err)
	}

	// sign the outputs the way the mint would
	signatures := make(cashu.BlindedSignatures, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			t.Fatal(err)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			t.Fatal(err)
		}
		C_ := crypto.SignBlindedMessage(B_, privateKeys[msg.Amount])
		signatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
	}

	proofs, err := constructProofs(signatures, blindedMessages, secrets, rs, keyset)
	if err != nil {
		t.Fatalf("error constructing proofs: %v", err)
	}

	for i, proof := range proofs {
		if proof.Amount != split[i] {
			t.Errorf("expected amount '%v' but got '%v' instead", split[i], proof.Amount)
		}
		if proof.Secret != secrets[i] {
			t.Errorf("proof secret does not match")
		}

		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			t.Fatal(err)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			t.Fatal(err)
		}
		if !crypto.Verify(proof.Secret, privateKeys[proof.Amount], C) {
			t.Errorf("unblinded signature does not verify against mint key")
		}
	}
}

func TestConstructProofsError(t *testing.T) {
	keyset, _ := generateTestKeyset("mysecretkey")

	signatures := cashu.BlindedSignatures{
		{Amount: 2, C_: "badc_", Id: keyset.Id},
		{Amount: 8, C_: "badc_", Id: keyset.Id},
	}
	secrets := []string{"secret1"}
	rs := []*secp256k1.PrivateKey{secp256k1.PrivKeyFromBytes([]byte{0x01})}

	// lengths do not match
	if _, err := constructProofs(signatures, nil, secrets, rs, keyset); err == nil {
		t.Error("expected error constructing proofs with mismatched lengths")
	}

	// invalid C_
	secrets = append(secrets, "secret2")
	rs = append(rs, secp256k1.PrivKeyFromBytes([]byte{0x02}))
	if _, err := constructProofs(signatures, nil, secrets, rs, keyset); err == nil {
		t.Error("expected error constructing proofs with invalid signature")
	}
}

func TestClassifyLock(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	lockedSecret := func(k *btcec.PrivateKey) string {
		secret, err := nut11.P2PKSecret(hex.EncodeToString(k.PubKey().SerializeCompressed()))
		if err != nil {
			t.Fatal(err)
		}
		return secret
	}

	plainProofs := cashu.Proofs{
		{Amount: 2, Secret: "407915bc212be61a77e3e6d2aeb4c727"},
		{Amount: 4, Secret: "fe15109314e61d7756b0f8ee0f23a624"},
	}
	lockedProofs := cashu.Proofs{
		{Amount: 2, Secret: lockedSecret(key)},
		{Amount: 4, Secret: lockedSecret(key)},
	}
	mixedProofs := cashu.Proofs{
		{Amount: 2, Secret: lockedSecret(key)},
		{Amount: 4, Secret: "407915bc212be61a77e3e6d2aeb4c727"},
	}
	mixedKeysProofs := cashu.Proofs{
		{Amount: 2, Secret: lockedSecret(key)},
		{Amount: 4, Secret: lockedSecret(otherKey)},
	}

	tests := []struct {
		proofs   cashu.Proofs
		key      *btcec.PrivateKey
		expected lockState
	}{
		{plainProofs, key, lockStateNotLocked},
		{lockedProofs, key, lockMatch},
		{lockedProofs, otherKey, lockMismatch},
		{lockedProofs, nil, lockNoKey},
		{mixedProofs, key, lockPartial},
		{mixedKeysProofs, key, lockPartial},
	}

	for _, test := range tests {
		state, err := classifyLock(test.proofs, test.key)
		if err != nil {
			t.Fatalf("error classifying proofs: %v", err)
		}
		if state != test.expected {
			t.Errorf("expected lock state '%v' but got '%v' instead", test.expected, state)
		}
	}
}
