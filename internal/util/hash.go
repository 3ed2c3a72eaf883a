// Package util provides small shared helpers.
package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUserID returns the stable one-way digest of a raw user id.
// Persistence jobs and pub/sub channels carry this digest instead of
// the raw id so that background workers never see it.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte("user:" + userID))
	return hex.EncodeToString(sum[:])
}

// HashDeviceFingerprint returns the digest used to key a device within
// a user's connection set.
func HashDeviceFingerprint(fingerprint string) string {
	sum := sha256.Sum256([]byte("device:" + fingerprint))
	return hex.EncodeToString(sum[:])
}
