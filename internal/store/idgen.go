package store

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	apiKeyPrefix   = "CLOVER:"
	apiKeyLength   = 50
	apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateUserID returns a UUIDv4 not currently used by any user. Generation
// never fails; on collision it simply retries.
func (s *Store) GenerateUserID() string {
	for {
		id := uuid.NewString()
		s.usersMu.RLock()
		_, taken := s.users[id]
		s.usersMu.RUnlock()
		if !taken {
			return id
		}
	}
}

// GenerateClientID returns a UUIDv4 not currently used by any client.
func (s *Store) GenerateClientID() string {
	for {
		id := uuid.NewString()
		s.clientsMu.RLock()
		_, taken := s.clients[id]
		s.clientsMu.RUnlock()
		if !taken {
			return id
		}
	}
}

// GenerateMessageID returns a UUIDv4 not currently in the live message table.
func (s *Store) GenerateMessageID() string {
	for {
		id := uuid.NewString()
		s.messagesMu.RLock()
		_, taken := s.messages[id]
		s.messagesMu.RUnlock()
		if !taken {
			return id
		}
	}
}

// GenerateAPIKey returns a fresh "CLOVER:"-prefixed key string not currently
// registered in the key table.
func (s *Store) GenerateAPIKey() string {
	for {
		key := newAPIKey()
		s.keysMu.RLock()
		_, taken := s.apiKeys[key]
		s.keysMu.RUnlock()
		if !taken {
			return key
		}
	}
}

// newAPIKey builds one candidate key from crypto/rand. Use GenerateAPIKey
// to get a collision-checked key.
func newAPIKey() string {
	buf := make([]byte, 0, len(apiKeyPrefix)+apiKeyLength)
	buf = append(buf, apiKeyPrefix...)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < apiKeyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform entropy source is
			// broken, which is unrecoverable for key generation.
			panic(err)
		}
		buf = append(buf, apiKeyAlphabet[n.Int64()])
	}
	return string(buf)
}
