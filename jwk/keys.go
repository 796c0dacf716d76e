package jwk

import (
	"encoding/pem"

	"github.com/ggoodman/portier-go/internal/der"
)

// PublicKey is a decoded JWK. The set of implementations is closed: RSAKey,
// ECKey and OKPKey.
type PublicKey interface {
	// SubjectPublicKeyInfo returns the DER encoding of the key.
	SubjectPublicKeyInfo() []byte

	publicKey()
}

var (
	oidRSAEncryption = []uint64{1, 2, 840, 113549, 1, 1, 1}
	oidECPublicKey   = []uint64{1, 2, 840, 10045, 2, 1}
)

var ecCurveOIDs = map[string][]uint64{
	"P-256":     {1, 2, 840, 10045, 3, 1, 7},
	"P-384":     {1, 3, 132, 0, 34},
	"P-521":     {1, 3, 132, 0, 35},
	"secp256k1": {1, 3, 132, 0, 10},
}

var okpCurveOIDs = map[string][]uint64{
	"X25519":  {1, 3, 101, 110},
	"X448":    {1, 3, 101, 111},
	"Ed25519": {1, 3, 101, 112},
	"Ed448":   {1, 3, 101, 113},
}

// RSAKey holds the big-endian modulus and public exponent of an RSA key.
type RSAKey struct {
	N []byte
	E []byte
}

func (*RSAKey) publicKey() {}

// SubjectPublicKeyInfo implements PublicKey.
func (k *RSAKey) SubjectPublicKeyInfo() []byte {
	rsaPublicKey := der.EncodeSequence(
		der.EncodeUnsignedInteger(k.N),
		der.EncodeUnsignedInteger(k.E),
	)
	alg := der.EncodeSequence(der.EncodeOID(oidRSAEncryption...), der.Null)
	return der.EncodeSequence(alg, der.EncodeBitString(rsaPublicKey))
}

// ECKey is an elliptic curve point on a named curve.
type ECKey struct {
	Curve string
	X     []byte
	Y     []byte
}

func (*ECKey) publicKey() {}

// SubjectPublicKeyInfo implements PublicKey. The point is emitted in
// uncompressed form.
func (k *ECKey) SubjectPublicKeyInfo() []byte {
	point := make([]byte, 0, 1+len(k.X)+len(k.Y))
	point = append(point, 0x04)
	point = append(point, k.X...)
	point = append(point, k.Y...)

	alg := der.EncodeSequence(
		der.EncodeOID(oidECPublicKey...),
		der.EncodeOID(ecCurveOIDs[k.Curve]...),
	)
	return der.EncodeSequence(alg, der.EncodeBitString(point))
}

// OKPKey is an octet key pair public key (Ed25519, Ed448, X25519, X448).
type OKPKey struct {
	Curve string
	X     []byte
}

func (*OKPKey) publicKey() {}

// SubjectPublicKeyInfo implements PublicKey. OKP algorithm identifiers carry
// no parameters.
func (k *OKPKey) SubjectPublicKeyInfo() []byte {
	alg := der.EncodeSequence(der.EncodeOID(okpCurveOIDs[k.Curve]...))
	return der.EncodeSequence(alg, der.EncodeBitString(k.X))
}

// Raw returns the key bytes as used directly by EdDSA verifiers.
func (k *OKPKey) Raw() []byte {
	return append([]byte(nil), k.X...)
}

// EncodePEM wraps a DER SubjectPublicKeyInfo in PUBLIC KEY armor with the
// base64 body folded at 64 columns.
func EncodePEM(spki []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}))
}
