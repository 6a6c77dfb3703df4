// Package digest provides one-shot and streaming hash/HMAC computation for
// the algorithms the secure-channel pipe needs to fingerprint certificates:
// MD5, SHA-1, SHA-256, SHA-384 and SHA-512.
package digest

import (
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/view"
)

// Algorithm identifies one of the supported digest functions.
type Algorithm int

const (
	MD5 Algorithm = iota
	SHA1
	SHA256
	SHA384
	SHA512
)

// Size returns the digest_size of alg in bytes: {16,20,32,48,64}, or 0 if
// alg is not recognized.
func (alg Algorithm) Size() int {
	switch alg {
	case MD5:
		return 16
	case SHA1:
		return 20
	case SHA256:
		return 32
	case SHA384:
		return 48
	case SHA512:
		return 64
	default:
		return 0
	}
}

func (alg Algorithm) String() string {
	switch alg {
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil //nolint:gosec
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, errkind.Newf(errkind.InvalidArgument, "digest: unknown algorithm %d", alg)
	}
}

// Hash is a streaming digest context bound to one Algorithm. The zero value
// is not usable; obtain one via New or NewHMAC.
type Hash struct {
	alg hash.Hash
	id  Algorithm
}

// New returns a freshly initialized streaming context for alg.
func New(alg Algorithm) (*Hash, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	return &Hash{alg: h, id: alg}, nil
}

// NewHMAC returns a freshly initialized keyed context for alg. An empty key
// is legal.
func NewHMAC(alg Algorithm, key view.Bytes) (*Hash, error) {
	switch alg {
	case MD5, SHA1, SHA256, SHA384, SHA512:
	default:
		return nil, errkind.Newf(errkind.InvalidArgument, "digest: unknown algorithm %d", alg)
	}
	ctor := func() hash.Hash {
		h, _ := newHash(alg)
		return h
	}
	return &Hash{alg: hmac.New(ctor, key.Data()), id: alg}, nil
}

// Algorithm reports which digest function this context uses.
func (h *Hash) Algorithm() Algorithm {
	return h.id
}

// Update feeds more data into the context. Safe to call any number of
// times; Update(a); Update(b) is equivalent to Update(concat(a, b)).
func (h *Hash) Update(data view.Bytes) {
	if data.Empty() {
		return
	}
	h.alg.Write(data.Data())
}

// Finish writes digest_size(Algorithm) bytes into out and resets the
// context to its initial state so the Hash can be reused. Fails with
// errkind.NoBufferSpace when out is too small.
func (h *Hash) Finish(out view.MutableBytes) (produced int, err error) {
	size := h.alg.Size()
	if out.Len() < size {
		return 0, errkind.Newf(errkind.NoBufferSpace, "digest: output buffer needs %d bytes, got %d", size, out.Len())
	}
	sum := h.alg.Sum(nil)
	n := copy(out.Data(), sum)
	h.alg.Reset()
	return n, nil
}

// OneShot computes new(alg)+Update(data)+Finish(out) in a single call.
func OneShot(alg Algorithm, data view.Bytes, out view.MutableBytes) (produced int, err error) {
	h, err := New(alg)
	if err != nil {
		return 0, err
	}
	h.Update(data)
	return h.Finish(out)
}

// OneShotHMAC computes NewHMAC(alg,key)+Update(data)+Finish(out) in a
// single call.
func OneShotHMAC(alg Algorithm, key, data view.Bytes, out view.MutableBytes) (produced int, err error) {
	h, err := NewHMAC(alg, key)
	if err != nil {
		return 0, err
	}
	h.Update(data)
	return h.Finish(out)
}

// Hex renders a digest as lowercase hex, for logging fingerprints.
func Hex(p []byte) string {
	return hex.EncodeToString(p)
}
