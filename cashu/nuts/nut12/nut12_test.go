package nut12

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/crypto"
)

func signedProof(t *testing.T, secret string, amount uint64, mintKey *secp256k1.PrivateKey, withDLEQ bool) cashu.Proof {
	t.Helper()

	r := secp256k1.PrivKeyFromBytes([]byte{0x05})
	B_, r, err := crypto.BlindMessage(secret, r)
	if err != nil {
		t.Fatal(err)
	}
	C_ := crypto.SignBlindedMessage(B_, mintKey)
	C := crypto.UnblindSignature(C_, r, mintKey.PubKey())

	proof := cashu.Proof{
		Amount: amount,
		Id:     "009a1f293253e41e",
		Secret: secret,
		C:      hex.EncodeToString(C.SerializeCompressed()),
	}

	if withDLEQ {
		e, s, err := crypto.GenerateDLEQ(mintKey, B_, C_)
		if err != nil {
			t.Fatal(err)
		}
		proof.DLEQ = &cashu.DLEQProof{
			E: hex.EncodeToString(e.Serialize()),
			S: hex.EncodeToString(s.Serialize()),
			R: hex.EncodeToString(r.Serialize()),
		}
	}

	return proof
}

func TestVerifyProofDLEQ(t *testing.T) {
	mintKey := secp256k1.PrivKeyFromBytes([]byte{0x01})
	proof := signedProof(t, "9a6cd06ff3881222bbd875f1018ba06a", 2, mintKey, true)

	if !VerifyProofDLEQ(proof, mintKey.PubKey()) {
		t.Error("valid DLEQ proof on proof did not verify")
	}

	otherKey := secp256k1.PrivKeyFromBytes([]byte{0x02})
	if VerifyProofDLEQ(proof, otherKey.PubKey()) {
		t.Error("DLEQ proof verified against wrong mint key")
	}
}

func TestVerifyProofsDLEQ(t *testing.T) {
	mintKey := secp256k1.PrivKeyFromBytes([]byte{0x01})
	keyset := crypto.WalletKeyset{
		Id:         "009a1f293253e41e",
		Unit:       "sat",
		PublicKeys: crypto.PublicKeys{2: mintKey.PubKey()},
	}

	withDLEQ := signedProof(t, "9a6cd06ff3881222bbd875f1018ba06a", 2, mintKey, true)
	withoutDLEQ := signedProof(t, "cd9ffd4e4df0d17b8e024ba2a2e9c180", 2, mintKey, false)

	// no proof carries DLEQ data
	if result := VerifyProofsDLEQ(cashu.Proofs{withoutDLEQ}, keyset); result != NoData {
		t.Errorf("expected '%v' but got '%v' instead", NoData, result)
	}

	// absence on some proofs does not fail verification of the rest
	if result := VerifyProofsDLEQ(cashu.Proofs{withDLEQ, withoutDLEQ}, keyset); result != Valid {
		t.Errorf("expected '%v' but got '%v' instead", Valid, result)
	}

	// an invalid proof fails the whole list
	tampered := withDLEQ
	tampered.DLEQ = &cashu.DLEQProof{
		E: withDLEQ.DLEQ.E,
		S: withDLEQ.DLEQ.S,
		R: "0000000000000000000000000000000000000000000000000000000000000001",
	}
	if result := VerifyProofsDLEQ(cashu.Proofs{tampered, withoutDLEQ}, keyset); result != Invalid {
		t.Errorf("expected '%v' but got '%v' instead", Invalid, result)
	}

	// unknown amount in keyset
	unknownAmount := signedProof(t, "407915bc212be61a77e3e6d2aeb4c727", 4, mintKey, true)
	if result := VerifyProofsDLEQ(cashu.Proofs{unknownAmount}, keyset); result != Invalid {
		t.Errorf("expected '%v' but got '%v' instead", Invalid, result)
	}
}

func TestVerifyBlindSignatureDLEQ(t *testing.T) {
	mintKey := secp256k1.PrivKeyFromBytes([]byte{0x01})
	r := secp256k1.PrivKeyFromBytes([]byte{0x05})

	B_, r, err := crypto.BlindMessage("9a6cd06ff3881222bbd875f1018ba06a", r)
	if err != nil {
		t.Fatal(err)
	}
	C_ := crypto.SignBlindedMessage(B_, mintKey)
	e, s, err := crypto.GenerateDLEQ(mintKey, B_, C_)
	if err != nil {
		t.Fatal(err)
	}

	dleq := cashu.DLEQProof{
		E: hex.EncodeToString(e.Serialize()),
		S: hex.EncodeToString(s.Serialize()),
	}
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	C_str := hex.EncodeToString(C_.SerializeCompressed())

	if !VerifyBlindSignatureDLEQ(dleq, mintKey.PubKey(), B_str, C_str) {
		t.Error("valid DLEQ proof on blind signature did not verify")
	}

	otherKey := secp256k1.PrivKeyFromBytes([]byte{0x02})
	if VerifyBlindSignatureDLEQ(dleq, otherKey.PubKey(), B_str, C_str) {
		t.Error("DLEQ proof verified against wrong mint key")
	}
}
