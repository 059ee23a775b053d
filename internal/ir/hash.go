package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainMutation prefixes mutation digests.
// Version suffix enables future algorithm migration.
const DomainMutation = "replipush/mutation/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MutationDigest identifies one mutation of one client group.
// Two deliveries of the same mutation (same group, client, id, name and
// semantically equal args) always produce the same digest.
func MutationDigest(clientGroupID string, m Mutation) (string, error) {
	obj := map[string]any{
		"client_group_id": clientGroupID,
		"client_id":       m.ClientID,
		"id":              m.ID,
		"name":            m.Name,
		"args":            json.RawMessage(m.Args),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("mutation digest: %w", err)
	}

	return hashWithDomain(DomainMutation, canonical), nil
}
