// Package nut18 implements payment requests as defined in [NUT-18].
//
// [NUT-18]: https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const PaymentRequestPrefix = "creqA"

var (
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	// a payment request that specifies an amount has to specify the unit
	ErrAmountWithoutUnit    = errors.New("amount specified without a unit")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

type TransportType string

const (
	TransportNostr TransportType = "nostr"
	TransportPost  TransportType = "post"
)

type PaymentRequest struct {
	PaymentId   string       `json:"i,omitempty" cbor:"i,omitempty"`
	Amount      uint64       `json:"a,omitempty" cbor:"a,omitempty"`
	Unit        string       `json:"u,omitempty" cbor:"u,omitempty"`
	SingleUse   bool         `json:"s,omitempty" cbor:"s,omitempty"`
	Mints       []string     `json:"m,omitempty" cbor:"m,omitempty"`
	Description string       `json:"d,omitempty" cbor:"d,omitempty"`
	Transports  []Transport  `json:"t,omitempty" cbor:"t,omitempty"`
	Nut10       *NUT10Option `json:"nut10,omitempty" cbor:"nut10,omitempty"`
}

type Transport struct {
	Type   TransportType `json:"t" cbor:"t"`
	Target string        `json:"a" cbor:"a"`
	Tags   [][]string    `json:"g,omitempty" cbor:"g,omitempty"`
}

// NUT10Option is the locking condition the receiver asks the sender to
// put on the proofs.
type NUT10Option struct {
	Kind string     `json:"k" cbor:"k"`
	Data string     `json:"d" cbor:"d"`
	Tags [][]string `json:"t,omitempty" cbor:"t,omitempty"`
}

// Validate checks the payment request laws: an amount needs a unit and
// transports have to be of a known type.
func (pr *PaymentRequest) Validate() error {
	if pr.Amount > 0 && len(pr.Unit) == 0 {
		return ErrAmountWithoutUnit
	}
	for _, transport := range pr.Transports {
		if transport.Type != TransportNostr && transport.Type != TransportPost {
			return ErrUnsupportedTransport
		}
	}
	return nil
}

func (pr *PaymentRequest) Encode() (string, error) {
	if err := pr.Validate(); err != nil {
		return "", err
	}

	requestBytes, err := cbor.Marshal(pr)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}

	return PaymentRequestPrefix + base64.RawURLEncoding.EncodeToString(requestBytes), nil
}

func Decode(request string) (*PaymentRequest, error) {
	if !strings.HasPrefix(request, PaymentRequestPrefix) {
		return nil, ErrInvalidPaymentRequest
	}

	requestBytes, err := base64.URLEncoding.DecodeString(request[len(PaymentRequestPrefix):])
	if err != nil {
		requestBytes, err = base64.RawURLEncoding.DecodeString(request[len(PaymentRequestPrefix):])
		if err != nil {
			return nil, fmt.Errorf("error decoding payment request: %v", err)
		}
	}

	var paymentRequest PaymentRequest
	if err := cbor.Unmarshal(requestBytes, &paymentRequest); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}

	if err := paymentRequest.Validate(); err != nil {
		return nil, err
	}

	return &paymentRequest, nil
}
