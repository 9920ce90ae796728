package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf"},
		// Note that this message will take a few iterations of the loop before finding
		// a valid point
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "026cdbe15362df59cd1dd3c9c11de8aedac2106eca69236ecd9fbe117af897be4f"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Errorf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Errorf("error mapping to curve: %v", err)
		}
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func TestBlindSignUnblind(t *testing.T) {
	tests := []struct {
		secret         string
		blindingFactor string
		mintKey        string
	}{
		{
			secret:         "test_message",
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			mintKey:        "0000000000000000000000000000000000000000000000000000000000000001",
		},
		{
			secret:         "hello",
			blindingFactor: "6d7e0abffc83267de28ed8ecc8760f17697e51252e13333ba69b4ddad1f95d05",
			mintKey:        "7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f",
		},
	}

	for _, test := range tests {
		rbytes, err := hex.DecodeString(test.blindingFactor)
		if err != nil {
			t.Fatalf("error decoding blinding factor: %v", err)
		}
		r := secp256k1.PrivKeyFromBytes(rbytes)

		B_, r, err := BlindMessage(test.secret, r)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}

		mintKeyBytes, err := hex.DecodeString(test.mintKey)
		if err != nil {
			t.Fatalf("error decoding mint private key: %v", err)
		}
		k := secp256k1.PrivKeyFromBytes(mintKeyBytes)

		C_ := SignBlindedMessage(B_, k)
		C := UnblindSignature(C_, r, k.PubKey())

		// C == k * hashToCurve(secret)
		if !Verify(test.secret, k, C) {
			t.Errorf("unblinded signature does not verify for secret '%v'", test.secret)
		}

		// verification against a different key has to fail
		otherKey := secp256k1.PrivKeyFromBytes([]byte{0x42})
		if Verify(test.secret, otherKey, C) {
			t.Errorf("signature verified with wrong mint key")
		}
	}
}

func TestDLEQ(t *testing.T) {
	k := secp256k1.PrivKeyFromBytes([]byte{0x01})
	r := secp256k1.PrivKeyFromBytes([]byte{0x02})

	B_, r, err := BlindMessage("deadbeef", r)
	if err != nil {
		t.Fatal(err)
	}
	C_ := SignBlindedMessage(B_, k)

	e, s, err := GenerateDLEQ(k, B_, C_)
	if err != nil {
		t.Fatalf("error generating DLEQ proof: %v", err)
	}

	if !VerifyDLEQ(e, s, k.PubKey(), B_, C_) {
		t.Error("valid DLEQ proof did not verify")
	}

	// proof generated by a different key has to fail
	otherKey := secp256k1.PrivKeyFromBytes([]byte{0x03})
	if VerifyDLEQ(e, s, otherKey.PubKey(), B_, C_) {
		t.Error("DLEQ proof verified against wrong public key")
	}

	// tampered scalar has to fail
	var sNeg secp256k1.ModNScalar
	sNeg.NegateVal(&s.Key)
	tampered := secp256k1.NewPrivateKey(&sNeg)
	if VerifyDLEQ(e, tampered, k.PubKey(), B_, C_) {
		t.Error("tampered DLEQ proof verified")
	}
}
