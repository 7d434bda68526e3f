// Package containerid derives the content-address of a container blob:
// an HMAC-SHA256 of the blob under the configured container_secret,
// truncated to its first 8 bytes and rendered as a base-36 string. See
// spec.md §3 ("Container") and §6 ("Container ID format (authoritative)").
package containerid

import (
	"crypto/hmac"
	"crypto/sha256"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Compute returns the container_id for blob under the given secret.
//
// d = the first 8 bytes of HMAC-SHA256(secret, blob), big-endian, as a
// u64. While d != 0: emit alphabet[d%36], then d /= 36. Emission order
// is least-significant digit first; the empty string results only when
// d is already zero (kept as an explicit, if unreachable in practice,
// case rather than special-cased away).
func Compute(secret, blob []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(blob)
	sum := mac.Sum(nil)

	var d uint64
	for i := 0; i < 8; i++ {
		d = d<<8 | uint64(sum[i])
	}

	if d == 0 {
		return ""
	}

	var digits []byte
	for d != 0 {
		digits = append(digits, alphabet[d%36])
		d /= 36
	}
	return string(digits)
}
