package badger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marmos91/dittopam/pkg/identity"
)

// Key namespace.
//
// Records are stored as JSON under a primary key; lookups by alias, UPN and
// certificate go through index keys whose values are empty. Every index key
// ends with the owning record's name so that a prefix scan yields all
// matches, which is how ambiguity is detected. Components are lowercased and
// separated by NUL, which Record.Validate rejects inside names.
//
// Data Type      Prefix  Key Format                              Value
// ====================================================================================
// Record         "u:"    u:<domain>\0<name>                      identity.Record (JSON)
// Name index     "n:"    n:<domain>\0<name-or-alias>\0<name>     empty
// UPN index      "p:"    p:<domain>\0<upn>\0<name>               empty
// Cert index     "c:"    c:<sha256(der) hex>\0<domain>\0<name>   empty

const (
	prefixRecord = "u:"
	prefixName   = "n:"
	prefixUPN    = "p:"
	prefixCert   = "c:"

	sep = "\x00"
)

func lower(s string) string { return strings.ToLower(s) }

func keyRecord(domain, name string) []byte {
	return []byte(prefixRecord + lower(domain) + sep + lower(name))
}

func keyName(domain, alias, name string) []byte {
	return []byte(prefixName + lower(domain) + sep + lower(alias) + sep + lower(name))
}

func keyNamePrefix(domain, alias string) []byte {
	return []byte(prefixName + lower(domain) + sep + lower(alias) + sep)
}

func keyUPN(domain, upn, name string) []byte {
	return []byte(prefixUPN + lower(domain) + sep + lower(upn) + sep + lower(name))
}

func keyUPNPrefix(domain, upn string) []byte {
	return []byte(prefixUPN + lower(domain) + sep + lower(upn) + sep)
}

func certDigest(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func keyCert(der []byte, domain, name string) []byte {
	return []byte(prefixCert + certDigest(der) + sep + lower(domain) + sep + lower(name))
}

func keyCertPrefix(der []byte) []byte {
	return []byte(prefixCert + certDigest(der) + sep)
}

// indexKeys returns every index key owned by rec.
func indexKeys(rec *identity.Record) [][]byte {
	keys := [][]byte{keyName(rec.Domain, rec.Name, rec.Name)}
	for _, a := range rec.Aliases {
		keys = append(keys, keyName(rec.Domain, a, rec.Name))
	}
	if rec.UPN != "" {
		keys = append(keys, keyUPN(rec.Domain, rec.UPN, rec.Name))
	}
	for _, der := range rec.Certificates {
		keys = append(keys, keyCert(der, rec.Domain, rec.Name))
	}
	return keys
}

// splitIndexTail returns the NUL-separated components that follow prefix in
// an index key.
func splitIndexTail(key, prefix []byte) []string {
	return strings.Split(string(key[len(prefix):]), sep)
}

func encodeRecord(rec *identity.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*identity.Record, error) {
	var rec identity.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
