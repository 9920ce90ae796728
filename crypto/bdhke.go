package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domain separator for hash_to_curve as defined in NUT-00
const DomainSeparator = "Secp256k1_HashToCurve_Cashu_"

var ErrNoValidPoint = errors.New("no valid point found")

// HashToCurve maps a message to a point on the secp256k1 curve.
// It hashes the domain separator concatenated with the message and
// then looks for a valid x coordinate appending an incrementing
// 4-byte little-endian counter until one lifts with an 0x02 prefix.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(DomainSeparator), message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		hash := sha256.Sum256(append(msgToHash[:], counter...))

		pkhash := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err == nil {
			return point, nil
		}
	}
	return nil, ErrNoValidPoint
}

// B_ = Y + rG
func BlindMessage(secret string, r *secp256k1.PrivateKey) (
	*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {

	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	// blindedMessage = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// result = k * B_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// k * HashToCurve(secret) == C
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// HashE hashes the concatenation of the compressed serializations
// of the public keys passed. Used for the DLEQ challenge.
func HashE(pubkeys []*secp256k1.PublicKey) [32]byte {
	keys := make([]byte, 0, len(pubkeys)*33)
	for _, pk := range pubkeys {
		keys = append(keys, pk.SerializeCompressed()...)
	}
	return sha256.Sum256(keys)
}

// GenerateDLEQ generates a proof that the same key k was used to sign
// B_ as the one committed to by the public key A = kG.
//
//	R1 = pG, R2 = pB_
//	e = hash(R1, R2, A, C_)
//	s = p + ek
func GenerateDLEQ(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey, *secp256k1.PrivateKey, error) {

	p, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	R1 := p.PubKey()

	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&p.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	ehash := HashE([]*secp256k1.PublicKey{R1, R2, k.PubKey(), C_})
	e := secp256k1.PrivKeyFromBytes(ehash[:])

	// s = p + ek
	var s secp256k1.ModNScalar
	s.Mul2(&e.Key, &k.Key).Add(&p.Key)
	return e, secp256k1.NewPrivateKey(&s), nil
}

// VerifyDLEQ verifies the DLEQ proof (e, s) for the blinded pair (B_, C_)
// against the mint public key A.
//
//	R1 = sG - eA
//	R2 = sB_ - eC_
//	e == hash(R1, R2, A, C_)
func VerifyDLEQ(
	e *secp256k1.PrivateKey,
	s *secp256k1.PrivateKey,
	A *secp256k1.PublicKey,
	B_ *secp256k1.PublicKey,
	C_ *secp256k1.PublicKey,
) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	var Apoint, eANeg, sG, r1point secp256k1.JacobianPoint
	A.AsJacobian(&Apoint)
	secp256k1.ScalarMultNonConst(&eNeg, &Apoint, &eANeg)
	s.PubKey().AsJacobian(&sG)
	secp256k1.AddNonConst(&sG, &eANeg, &r1point)
	r1point.ToAffine()
	R1 := secp256k1.NewPublicKey(&r1point.X, &r1point.Y)

	var B_point, sB_, C_point, eC_Neg, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&B_point)
	secp256k1.ScalarMultNonConst(&s.Key, &B_point, &sB_)
	C_.AsJacobian(&C_point)
	secp256k1.ScalarMultNonConst(&eNeg, &C_point, &eC_Neg)
	secp256k1.AddNonConst(&sB_, &eC_Neg, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	hash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	return secp256k1.PrivKeyFromBytes(hash[:]).Key.Equals(&e.Key)
}
