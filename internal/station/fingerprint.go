// SPDX-License-Identifier: MIT

package station

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint hashes the newline-delimited JSON serialization of stations.
// The result is stable for identical station slices regardless of where they
// were loaded from.
func Fingerprint(stations []Station) (string, error) {
	hasher := sha256.New()
	for _, s := range stations {
		serialized, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		hasher.Write(serialized)
		hasher.Write([]byte("\n"))
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
