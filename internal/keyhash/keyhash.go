// Package keyhash maps store keys to on-disk file names.
package keyhash

import (
	"crypto/md5"
	"encoding/hex"
)

// Size is the length of every name returned by Name.
const Size = md5.Size * 2

// Name returns the lowercase hex MD5 digest of key. The result only uses
// [0-9a-f], so it is safe as a file name on every platform.
func Name(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
