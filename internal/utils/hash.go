package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 returns the hex md5 of data
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
