package crypto

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// QueryHashAlg is the query_hash_alg claim value the exchange expects.
const QueryHashAlg = "SHA512"

// Signer builds the Authorization header value for an exchange request.
// params are the exact request parameters the token must be bound to; nil or
// empty means the request carries none.
type Signer interface {
	Sign(params map[string]string) (string, error)
}

// JWTSigner signs exchange requests with an HS256 JWT carrying the access
// key, a one-time nonce and, for requests with parameters, a SHA-512 hash of
// the canonical query string.
type JWTSigner struct {
	accessKey string
	secretKey []byte
	nonce     func() string
}

// NewJWTSigner validates the credentials and returns a signer. Blank keys
// are a configuration error so the process fails before any request is made.
func NewJWTSigner(accessKey, secretKey string) (*JWTSigner, error) {
	if strings.TrimSpace(accessKey) == "" {
		return nil, fmt.Errorf("crypto: access key is empty: %w", domain.ErrConfig)
	}
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("crypto: secret key is empty: %w", domain.ErrConfig)
	}
	return &JWTSigner{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		nonce:     func() string { return uuid.New().String() },
	}, nil
}

// Sign returns "Bearer <token>" for a request carrying params.
func (s *JWTSigner) Sign(params map[string]string) (string, error) {
	token, err := s.Token(BuildClaims(s.accessKey, s.nonce(), params))
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Token signs an already-built claim set.
func (s *JWTSigner) Token(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign claims: %w: %v", domain.ErrSigning, err)
	}
	return signed, nil
}

// BuildClaims assembles the claim set for one request. query_hash and
// query_hash_alg are only present when params is non-empty.
func BuildClaims(accessKey, nonce string, params map[string]string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"access_key": accessKey,
		"nonce":      nonce,
	}
	if len(params) > 0 {
		claims["query_hash"] = QueryHash(CanonicalQuery(params))
		claims["query_hash_alg"] = QueryHashAlg
	}
	return claims
}

// QueryHash is the hex-encoded SHA-512 of a canonical query string.
func QueryHash(query string) string {
	sum := sha512.Sum512([]byte(query))
	return hex.EncodeToString(sum[:])
}

// String returns a redacted representation suitable for logging.
func (s *JWTSigner) String() string {
	key := s.accessKey
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("JWTSigner{access_key=%s****}", key)
}

var _ Signer = (*JWTSigner)(nil)
