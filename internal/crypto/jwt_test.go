package crypto

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

const (
	testAccessKey = "access-key-0123456789"
	testSecretKey = "secret-key-abcdefghij"
)

func parseToken(t *testing.T, token, secret string) (jwt.MapClaims, error) {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return claims, err
}

func TestCanonicalQuery_SortsKeys(t *testing.T) {
	got := CanonicalQuery(map[string]string{"side": "bid", "market": "X-Y"})
	assert.Equal(t, "market=X-Y&side=bid", got)
}

func TestCanonicalQuery_Empty(t *testing.T) {
	assert.Equal(t, "", CanonicalQuery(nil))
	assert.Equal(t, "", CanonicalQuery(map[string]string{}))
}

func TestCanonicalQuery_EncodesSpaceAsPercent20(t *testing.T) {
	got := CanonicalQuery(map[string]string{"note": "a b", "a": "1&2"})
	assert.Equal(t, "a=1%262&note=a%20b", got)
}

func TestCanonicalQuery_ReservedCharacters(t *testing.T) {
	got := CanonicalQuery(map[string]string{"v": "a-b_c.d~e*f/g=h+i"})
	assert.Equal(t, "v=a-b_c.d~e%2Af%2Fg%3Dh%2Bi", got)
}

func TestCanonicalQuery_OrderParamsPassThrough(t *testing.T) {
	got := CanonicalQuery(map[string]string{
		"market":   "KRW-BTC",
		"volume":   "0.00012345",
		"uuid":     "9ca023a5-851b-4fec-9f0a-48cd83c2eaae",
		"ord_type": "market",
	})
	assert.Equal(t, "market=KRW-BTC&ord_type=market&uuid=9ca023a5-851b-4fec-9f0a-48cd83c2eaae&volume=0.00012345", got)
}

func TestCanonicalQueryPtr_SkipsNil(t *testing.T) {
	price := "5000"
	got := CanonicalQueryPtr(map[string]*string{
		"market": strPtr("KRW-BTC"),
		"price":  &price,
		"volume": nil,
	})
	assert.Equal(t, "market=KRW-BTC&price=5000", got)
}

func TestNewJWTSigner_RejectsBlankKeys(t *testing.T) {
	_, err := NewJWTSigner("", testSecretKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewJWTSigner(testAccessKey, "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestSign_NoParams(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)

	header, err := s.Sign(nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "Bearer "))

	claims, err := parseToken(t, strings.TrimPrefix(header, "Bearer "), testSecretKey)
	require.NoError(t, err)
	assert.Equal(t, testAccessKey, claims["access_key"])
	assert.NotEmpty(t, claims["nonce"])
	assert.NotContains(t, claims, "query_hash")
	assert.NotContains(t, claims, "query_hash_alg")
}

func TestSign_WithParamsBindsQueryHash(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)

	params := map[string]string{"side": "bid", "market": "KRW-BTC", "price": "10000", "ord_type": "price"}
	header, err := s.Sign(params)
	require.NoError(t, err)

	claims, err := parseToken(t, strings.TrimPrefix(header, "Bearer "), testSecretKey)
	require.NoError(t, err)
	assert.Equal(t, QueryHash("market=KRW-BTC&ord_type=price&price=10000&side=bid"), claims["query_hash"])
	assert.Equal(t, "SHA512", claims["query_hash_alg"])
}

func TestSign_FreshNoncePerCall(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)

	a, err := s.Sign(nil)
	require.NoError(t, err)
	b, err := s.Sign(nil)
	require.NoError(t, err)

	ca, err := parseToken(t, strings.TrimPrefix(a, "Bearer "), testSecretKey)
	require.NoError(t, err)
	cb, err := parseToken(t, strings.TrimPrefix(b, "Bearer "), testSecretKey)
	require.NoError(t, err)
	assert.NotEqual(t, ca["nonce"], cb["nonce"])
}

func TestToken_VerifiesOnlyWithSameSecret(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)

	token, err := s.Token(BuildClaims(testAccessKey, "fixed-nonce", map[string]string{"market": "KRW-ETH"}))
	require.NoError(t, err)

	_, err = parseToken(t, token, testSecretKey)
	require.NoError(t, err)

	_, err = parseToken(t, token, "another-secret")
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestToken_TamperedClaimFailsVerification(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)

	token, err := s.Token(BuildClaims(testAccessKey, "fixed-nonce", nil))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	claims["nonce"] = "other-nonce"
	forged, err := json.Marshal(claims)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	_, err = parseToken(t, strings.Join(parts, "."), testSecretKey)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWTSigner_StringRedactsKeys(t *testing.T) {
	s, err := NewJWTSigner(testAccessKey, testSecretKey)
	require.NoError(t, err)
	assert.NotContains(t, s.String(), testSecretKey)
	assert.NotContains(t, s.String(), testAccessKey)
}

func strPtr(s string) *string { return &s }
