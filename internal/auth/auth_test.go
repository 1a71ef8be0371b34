package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars"

func TestMintAndVerify(t *testing.T) {
	m := NewManager(testSecret)

	token, err := m.Mint("user-1", "analyst", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "analyst", claims.Role)
}

func TestVerify_BearerPrefixStripped(t *testing.T) {
	m := NewManager(testSecret)

	token, err := m.Mint("user-1", "analyst", time.Hour)
	require.NoError(t, err)

	claims, err := m.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestVerify_EmptyToken(t *testing.T) {
	m := NewManager(testSecret)

	_, err := m.Verify("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = m.Verify("Bearer ")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	other := NewManager("a-completely-different-secret")
	token, err := other.Mint("user-1", "analyst", time.Hour)
	require.NoError(t, err)

	m := NewManager(testSecret)
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	m := NewManager(testSecret)

	token, err := m.Mint("user-1", "analyst", -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsUnsignedAlg(t *testing.T) {
	// alg=none tokens must never pass, whatever the payload says.
	claims := &Claims{UserID: "attacker", Role: "admin"}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	m := NewManager(testSecret)
	_, err = m.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	// Header wins
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r))

	// Query fallback (socket handshake path)
	r = httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(r))

	// Nothing present
	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, "", TokenFromRequest(r))
}
