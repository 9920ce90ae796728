// Package nut10 implements the well-known secret format of [NUT-10]
// used for proofs with spending conditions.
//
// [NUT-10]: https://github.com/cashubtc/nuts/blob/main/10.md
package nut10

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

type SecretKind int

const (
	AnyoneCanSpend SecretKind = iota
	P2PK
	HTLC
)

func (kind SecretKind) String() string {
	switch kind {
	case P2PK:
		return "P2PK"
	case HTLC:
		return "HTLC"
	default:
		return "anyonecanspend"
	}
}

type WellKnownSecret struct {
	Kind SecretKind
	Data SecretData
}

type SecretData struct {
	Nonce string     `json:"nonce"`
	Data  string     `json:"data"`
	Tags  [][]string `json:"tags,omitempty"`
}

// SecretKindFrom returns the spending condition kind carried in the
// secret string. A secret that does not parse as a well-known secret is
// an anyone-can-spend secret.
func SecretKindFrom(secret string) SecretKind {
	var rawJsonSecret []json.RawMessage
	// if not valid json, assume it is a random secret
	if err := json.Unmarshal([]byte(secret), &rawJsonSecret); err != nil {
		return AnyoneCanSpend
	}

	// Well-known secret should have a length of at least 2
	if len(rawJsonSecret) < 2 {
		return AnyoneCanSpend
	}

	var kind string
	if err := json.Unmarshal(rawJsonSecret[0], &kind); err != nil {
		return AnyoneCanSpend
	}

	switch kind {
	case "P2PK":
		return P2PK
	case "HTLC":
		return HTLC
	}

	return AnyoneCanSpend
}

// SerializeSecret returns the json string to be put in the secret field of a proof
func SerializeSecret(secret WellKnownSecret) (string, error) {
	jsonSecret, err := json.Marshal(secret.Data)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("[\"%s\", %v]", secret.Kind, string(jsonSecret)), nil
}

// DeserializeSecret parses the `["<kind>", {...}]` array form.
// It returns an error if the secret is not valid according to NUT-10.
func DeserializeSecret(secret string) (WellKnownSecret, error) {
	var rawJsonSecret []json.RawMessage
	if err := json.Unmarshal([]byte(secret), &rawJsonSecret); err != nil {
		return WellKnownSecret{}, err
	}

	// Well-known secret should have a length of at least 2
	if len(rawJsonSecret) < 2 {
		return WellKnownSecret{}, errors.New("invalid secret: length < 2")
	}

	var kind string
	if err := json.Unmarshal(rawJsonSecret[0], &kind); err != nil {
		return WellKnownSecret{}, errors.New("invalid kind for secret")
	}

	var wellKnownSecret WellKnownSecret
	switch kind {
	case "P2PK":
		wellKnownSecret.Kind = P2PK
	case "HTLC":
		wellKnownSecret.Kind = HTLC
	default:
		return WellKnownSecret{}, fmt.Errorf("invalid kind for secret: %v", kind)
	}

	if err := json.Unmarshal(rawJsonSecret[1], &wellKnownSecret.Data); err != nil {
		return WellKnownSecret{}, fmt.Errorf("invalid secret: %v", err)
	}

	return wellKnownSecret, nil
}

type SpendingCondition struct {
	Kind SecretKind
	Data string
	Tags [][]string
}

func NewSecretFromSpendingCondition(spendingCondition SpendingCondition) (string, error) {
	if spendingCondition.Kind != P2PK && spendingCondition.Kind != HTLC {
		return "", fmt.Errorf("invalid kind '%s' to create new secret", spendingCondition.Kind)
	}

	// generate random nonce
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	secret := WellKnownSecret{
		Kind: spendingCondition.Kind,
		Data: SecretData{
			Nonce: hex.EncodeToString(nonceBytes),
			Data:  spendingCondition.Data,
			Tags:  spendingCondition.Tags,
		},
	}

	return SerializeSecret(secret)
}
