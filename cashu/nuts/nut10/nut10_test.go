package nut10

import (
	"testing"
)

func TestSerializeSecret(t *testing.T) {
	secretData := WellKnownSecret{
		Kind: P2PK,
		Data: SecretData{
			Nonce: "da62796403af76c80cd6ce9153ed3746",
			Data:  "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e",
			Tags: [][]string{
				{"sigflag", "SIG_ALL"},
			},
		},
	}

	serialized, err := SerializeSecret(secretData)
	if err != nil {
		t.Fatalf("error serializing secret: %v", err)
	}

	expected := `["P2PK", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e","tags":[["sigflag","SIG_ALL"]]}]`
	if serialized != expected {
		t.Errorf("expected '%v' but got '%v' instead", expected, serialized)
	}
}

func TestDeserializeSecret(t *testing.T) {
	secret := `["P2PK", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e","tags":[["sigflag","SIG_ALL"]]}]`

	wellKnownSecret, err := DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("error deserializing secret: %v", err)
	}

	if wellKnownSecret.Kind != P2PK {
		t.Errorf("expected secret kind '%v' but got '%v' instead", P2PK, wellKnownSecret.Kind)
	}
	if wellKnownSecret.Data.Nonce != "da62796403af76c80cd6ce9153ed3746" {
		t.Errorf("invalid nonce: %v", wellKnownSecret.Data.Nonce)
	}
	if wellKnownSecret.Data.Data != "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e" {
		t.Errorf("invalid data: %v", wellKnownSecret.Data.Data)
	}
	if len(wellKnownSecret.Data.Tags) != 1 || wellKnownSecret.Data.Tags[0][1] != "SIG_ALL" {
		t.Errorf("invalid tags: %v", wellKnownSecret.Data.Tags)
	}
}

func TestSecretKindFrom(t *testing.T) {
	tests := []struct {
		secret   string
		expected SecretKind
	}{
		{
			secret:   `["P2PK", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e"}]`,
			expected: P2PK,
		},
		{
			secret:   `["HTLC", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"023192200a0cfd3867e48eb63b03ff599c7e46c8f4e41146b2d281173a6c9f1f54"}]`,
			expected: HTLC,
		},
		// a random secret is an anyone-can-spend secret
		{
			secret:   "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837",
			expected: AnyoneCanSpend,
		},
		// unknown kinds fall back to opaque secrets
		{
			secret:   `["OTHER", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"033281"}]`,
			expected: AnyoneCanSpend,
		},
	}

	for _, test := range tests {
		kind := SecretKindFrom(test.secret)
		if kind != test.expected {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, kind)
		}
	}
}

func TestNewSecretFromSpendingCondition(t *testing.T) {
	spendingCondition := SpendingCondition{
		Kind: P2PK,
		Data: "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e",
		Tags: [][]string{{"locktime", "1689418329"}},
	}

	secret, err := NewSecretFromSpendingCondition(spendingCondition)
	if err != nil {
		t.Fatalf("error creating secret: %v", err)
	}

	wellKnownSecret, err := DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("error deserializing secret: %v", err)
	}
	if wellKnownSecret.Kind != P2PK {
		t.Errorf("expected secret kind '%v' but got '%v' instead", P2PK, wellKnownSecret.Kind)
	}
	if len(wellKnownSecret.Data.Nonce) != 64 {
		t.Errorf("invalid nonce length: %v", len(wellKnownSecret.Data.Nonce))
	}

	if _, err := NewSecretFromSpendingCondition(SpendingCondition{Kind: AnyoneCanSpend}); err == nil {
		t.Error("expected error creating secret with invalid kind")
	}
}
