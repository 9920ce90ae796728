// Package nut12 implements verification of the DLEQ proofs
// defined in [NUT-12].
//
// [NUT-12]: https://github.com/cashubtc/nuts/blob/main/12.md
package nut12

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/gocashu/cashu"
	"github.com/gocashu/gocashu/crypto"
)

// VerificationResult is the outcome of checking DLEQ proofs.
// Many deployed mints do not attach DLEQ fields yet, so absence is
// reported as NoData rather than a failure.
type VerificationResult int

const (
	Valid VerificationResult = iota
	Invalid
	NoData
)

func (result VerificationResult) String() string {
	switch result {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case NoData:
		return "no DLEQ data"
	}
	return "unknown"
}

// VerifyProofsDLEQ checks the DLEQ proofs on every proof that carries
// one. It returns Invalid on the first failing proof, NoData if none of
// the proofs carried a DLEQ proof, Valid otherwise.
func VerifyProofsDLEQ(proofs cashu.Proofs, keyset crypto.WalletKeyset) VerificationResult {
	withData := false
	for _, proof := range proofs {
		if proof.DLEQ == nil {
			continue
		}

		pubkey, ok := keyset.PublicKeys[proof.Amount]
		if !ok {
			return Invalid
		}
		if !VerifyProofDLEQ(proof, pubkey) {
			return Invalid
		}
		withData = true
	}

	if !withData {
		return NoData
	}
	return Valid
}

// VerifyProofDLEQ verifies the DLEQ on an unblinded proof. It rebuilds
// B_ = hashToCurve(secret) + rG and C_ = C + rA from the blinding
// factor carried in the proof and runs the blind signature check.
func VerifyProofDLEQ(proof cashu.Proof, A *secp256k1.PublicKey) bool {
	e, s, r, err := ParseDLEQ(*proof.DLEQ)
	if err != nil || r == nil {
		return false
	}

	B_, _, err := crypto.BlindMessage(proof.Secret, r)
	if err != nil {
		return false
	}

	CBytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return false
	}
	C, err := secp256k1.ParsePubKey(CBytes)
	if err != nil {
		return false
	}

	var CPoint, APoint secp256k1.JacobianPoint
	C.AsJacobian(&CPoint)
	A.AsJacobian(&APoint)

	// C_ = C + r*A
	var C_Point, rAPoint secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&r.Key, &APoint, &rAPoint)
	rAPoint.ToAffine()
	secp256k1.AddNonConst(&CPoint, &rAPoint, &C_Point)
	C_Point.ToAffine()
	C_ := secp256k1.NewPublicKey(&C_Point.X, &C_Point.Y)

	return crypto.VerifyDLEQ(e, s, A, B_, C_)
}

// VerifyBlindSignatureDLEQ verifies the DLEQ on a promise before
// unblinding.
func VerifyBlindSignatureDLEQ(
	dleq cashu.DLEQProof,
	A *secp256k1.PublicKey,
	B_str string,
	C_str string,
) bool {
	e, s, _, err := ParseDLEQ(dleq)
	if err != nil {
		return false
	}

	B_bytes, err := hex.DecodeString(B_str)
	if err != nil {
		return false
	}
	B_, err := secp256k1.ParsePubKey(B_bytes)
	if err != nil {
		return false
	}

	C_bytes, err := hex.DecodeString(C_str)
	if err != nil {
		return false
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return false
	}

	return crypto.VerifyDLEQ(e, s, A, B_, C_)
}

func ParseDLEQ(dleq cashu.DLEQProof) (
	*secp256k1.PrivateKey,
	*secp256k1.PrivateKey,
	*secp256k1.PrivateKey,
	error,
) {
	ebytes, err := hex.DecodeString(dleq.E)
	if err != nil {
		return nil, nil, nil, err
	}
	e := secp256k1.PrivKeyFromBytes(ebytes)

	sbytes, err := hex.DecodeString(dleq.S)
	if err != nil {
		return nil, nil, nil, err
	}
	s := secp256k1.PrivKeyFromBytes(sbytes)

	if dleq.R == "" {
		return e, s, nil, nil
	}

	rbytes, err := hex.DecodeString(dleq.R)
	if err != nil {
		return nil, nil, nil, err
	}
	r := secp256k1.PrivKeyFromBytes(rbytes)

	return e, s, r, nil
}
