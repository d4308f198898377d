package pathinfo

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

var digests = map[string]struct {
	name string
	new  func() hash.Hash
}{
	"MD5":    {"MD5", md5.New},
	"SHA1":   {"SHA1", sha1.New},
	"SHA224": {"SHA-224", sha256.New224},
	"SHA256": {"SHA-256", sha256.New},
	"SHA384": {"SHA-384", sha512.New384},
	"SHA512": {"SHA-512", sha512.New},
}

// NewDigest returns a hash for checksumType and its canonical name.
// Names are case-insensitive and may omit the dash ("sha256", "SHA-256").
func NewDigest(checksumType string) (hash.Hash, string, error) {
	key := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(checksumType)), "-", "")
	d, ok := digests[key]
	if !ok {
		return nil, "", fmt.Errorf("unsupported checksum type %q", checksumType)
	}
	return d.new(), d.name, nil
}

// ValidateChecksumType checks that checksumType is supported.
func ValidateChecksumType(checksumType string) error {
	_, _, err := NewDigest(checksumType)
	return err
}
