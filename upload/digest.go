package upload

import (
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Digest is a raw MD5 content digest. MD5 matches what S3-compatible stores
// verify through the Content-MD5 header and report through part ETags.
type Digest [md5.Size]byte

// Hex returns the digest in lowercase hex, the form stores embed in ETags.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Base64 returns the digest in standard base64, the Content-MD5 header form.
func (d Digest) Base64() string {
	return base64.StdEncoding.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// ParseHexDigest parses a lowercase or uppercase hex MD5 string.
func ParseHexDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest %q: %w", s, err)
	}
	if len(raw) != md5.Size {
		return d, fmt.Errorf("parse digest %q: expected %d bytes, got %d", s, md5.Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// DigestBytes computes the digest of a byte slice. Safe for concurrent use,
// no shared state.
func DigestBytes(b []byte) Digest {
	return md5.Sum(b) //nolint:gosec
}

// DigestReader computes the digest of everything readable from r and returns
// the number of bytes consumed.
func DigestReader(r io.Reader) (Digest, int64, error) {
	var d Digest
	h := md5.New() //nolint:gosec
	n, err := io.Copy(h, r)
	if err != nil {
		return d, n, fmt.Errorf("digest stream: %w", err)
	}
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// CombinedDigest derives the whole-object digest from per-part digests: the
// MD5 of the concatenated raw digest bytes, in ascending part order. This is
// the algorithm S3-compatible stores use for multipart ETags.
func CombinedDigest(digests []Digest) Digest {
	h := md5.New() //nolint:gosec
	for _, d := range digests {
		h.Write(d[:])
	}
	var combined Digest
	copy(combined[:], h.Sum(nil))
	return combined
}

// CombinedETag renders the combined digest in the store's multipart ETag form,
// "<hex>-<part count>", so it can be compared against the completion report.
func CombinedETag(digests []Digest) string {
	return fmt.Sprintf("%s-%d", CombinedDigest(digests).Hex(), len(digests))
}
