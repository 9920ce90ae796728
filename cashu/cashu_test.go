package cashu

import (
	"math"
	"math/big"
	"reflect"
	"strings"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 64, expected: []uint64{64}},
		{amount: 255, expected: []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
		{amount: 0, expected: []uint64{}},
	}

	for _, test := range tests {
		result := AmountSplit(test.amount)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, result)
		}
	}
}

func FuzzAmountSplit(f *testing.F) {
	f.Add(uint64(13))
	f.Add(uint64(1 << 40))
	f.Add(uint64(math.MaxUint64))

	f.Fuzz(func(t *testing.T, amount uint64) {
		split := AmountSplit(amount)

		var sum uint64 = 0
		var prev uint64 = 0
		for _, amt := range split {
			if amt&(amt-1) != 0 || amt == 0 {
				t.Fatalf("'%v' in split is not a power of 2", amt)
			}
			if amt <= prev {
				t.Fatalf("split is not strictly increasing: %v", split)
			}
			prev = amt
			sum += amt
		}
		if sum != amount {
			t.Fatalf("split of '%v' adds up to '%v'", amount, sum)
		}
	})
}

func TestAmountChecked(t *testing.T) {
	split := AmountSplit(math.MaxUint64)
	overflowBlindedMessages := make(BlindedMessages, len(split)+1)
	for i, amount := range split {
		overflowBlindedMessages[i] = BlindedMessage{Amount: amount}
	}
	overflowBlindedMessages[len(split)] = BlindedMessage{Amount: 4}

	tests := []struct {
		blindedMessages BlindedMessages
		expectedAmount  uint64
		expectedErr     error
	}{
		{
			blindedMessages: BlindedMessages{
				BlindedMessage{Amount: 2},
				BlindedMessage{Amount: 4},
				BlindedMessage{Amount: 8},
				BlindedMessage{Amount: 64},
			},
			expectedAmount: 78,
			expectedErr:    nil,
		},
		{
			blindedMessages: overflowBlindedMessages,
			expectedAmount:  0,
			expectedErr:     ErrAmountOverflows,
		},
	}

	for _, test := range tests {
		totalAmount, err := test.blindedMessages.AmountChecked()
		if totalAmount != test.expectedAmount {
			t.Fatalf("expected total amount of '%v' but got '%v'", test.expectedAmount, totalAmount)
		}

		if err != test.expectedErr {
			t.Fatalf("expected error '%v' but got '%v'", test.expectedErr, err)
		}
	}
}

func FuzzOverflowAddUint64(f *testing.F) {
	cases := [][2]uint64{
		{21, 42},
		{math.MaxUint64, 10},
	}
	for _, seed := range cases {
		f.Add(seed[0], seed[1])
	}

	f.Fuzz(func(t *testing.T, a uint64, b uint64) {
		bigA := new(big.Int).SetUint64(a)
		bigB := new(big.Int).SetUint64(b)
		bigA.Add(bigA, bigB)

		result, overflow := OverflowAddUint64(a, b)
		expectOverflow := bigA.BitLen() > 64
		if overflow != expectOverflow {
			t.Fatalf("expected overflow '%v' but got '%v'", expectOverflow, overflow)
		}
		if !overflow && result != bigA.Uint64() {
			t.Fatalf("expected result '%v' but got '%v'", bigA.Uint64(), result)
		}
	})
}

func testProofs() Proofs {
	return Proofs{
		{
			Amount: 2,
			Id:     "009a1f293253e41e",
			Secret: "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837",
			C:      "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea",
		},
		{
			Amount: 8,
			Id:     "009a1f293253e41e",
			Secret: "fe15109314e61d7756b0f8ee0f23a624acaa3f4e042f61433c728c7057b931be",
			C:      "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059",
			DLEQ: &DLEQProof{
				E: "5f8a5f0b338e66772ae5ae0a024c5f15f4538efeee884b2fcb28df7b05c1a722",
				S: "a46dd047d0d2b4b5b6799970e0c3b3e9e1603c40d7fbf1b0b4b0e6a2a1e05e96",
				R: "d2c2e9a9d945a02cc33d3928e2b40fa33f790d6a33e9b4b1b9f26af04d2154e1",
			},
		},
	}
}

func TestTokenV3(t *testing.T) {
	proofs := testProofs()
	token, err := NewTokenV3(proofs, "http://localhost:3338", Sat, true)
	if err != nil {
		t.Fatalf("error creating token: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if !strings.HasPrefix(serialized, "cashuA") {
		t.Fatalf("invalid token prefix: %v", serialized[:6])
	}

	decoded, err := DecodeTokenV3(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if !reflect.DeepEqual(*decoded, token) {
		t.Errorf("expected '%v' but got '%v' instead", token, *decoded)
	}
	if decoded.Amount() != 10 {
		t.Errorf("expected amount '10' but got '%v' instead", decoded.Amount())
	}
	if decoded.Mint() != "http://localhost:3338" {
		t.Errorf("invalid mint url: %v", decoded.Mint())
	}
}

func TestTokenV4(t *testing.T) {
	proofs := testProofs()
	token, err := NewTokenV4(proofs, "http://localhost:3338", Sat, true)
	if err != nil {
		t.Fatalf("error creating token: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if !strings.HasPrefix(serialized, "cashuB") {
		t.Fatalf("invalid token prefix: %v", serialized[:6])
	}

	decoded, err := DecodeTokenV4(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if !reflect.DeepEqual(decoded.Proofs(), proofs) {
		t.Errorf("expected '%v' but got '%v' instead", proofs, decoded.Proofs())
	}
	if decoded.Amount() != 10 {
		t.Errorf("expected amount '10' but got '%v' instead", decoded.Amount())
	}
}

func TestDecodeToken(t *testing.T) {
	proofs := testProofs()

	tokenV3, _ := NewTokenV3(proofs, "http://localhost:3338", Sat, false)
	tokenV4, _ := NewTokenV4(proofs, "http://localhost:3338", Sat, false)

	serializedV3, _ := tokenV3.Serialize()
	serializedV4, _ := tokenV4.Serialize()

	for _, serialized := range []string{serializedV3, serializedV4} {
		token, err := DecodeToken(serialized)
		if err != nil {
			t.Fatalf("error decoding token: %v", err)
		}
		if token.Amount() != proofs.Amount() {
			t.Errorf("expected amount '%v' but got '%v' instead", proofs.Amount(), token.Amount())
		}
	}

	if _, err := DecodeToken("cashuCabc"); err == nil {
		t.Error("expected error decoding token with unknown version")
	}
	if _, err := DecodeToken("casshuA"); err == nil {
		t.Error("expected error decoding invalid token")
	}
}
