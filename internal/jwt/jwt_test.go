package jwt

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateAndGetSubject(t *testing.T) {
	j := New(WithSecretKey("test-secret"), WithExpiration(time.Minute))
	ctx := context.Background()

	token, err := j.Generate(ctx, "demo@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	subject, err := j.GetSubject(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "demo@example.com", subject)
}

func TestJWT_ExpiredToken(t *testing.T) {
	j := New(WithSecretKey("test-secret"), WithExpiration(-time.Minute)) // already expired
	ctx := context.Background()

	token, err := j.Generate(ctx, "demo@example.com")
	require.NoError(t, err)

	_, err = j.GetSubject(ctx, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWT_WrongSecret(t *testing.T) {
	ctx := context.Background()
	token, err := New(WithSecretKey("secret-a")).Generate(ctx, "demo@example.com")
	require.NoError(t, err)

	_, err = New(WithSecretKey("secret-b")).GetSubject(ctx, token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestJWT_InvalidToken(t *testing.T) {
	j := New(WithSecretKey("secret"))

	_, err := j.GetSubject(context.Background(), "invalid.token.string")
	assert.Error(t, err)
}

func TestJWT_RejectsOtherAlgorithms(t *testing.T) {
	j := New(WithSecretKey("secret"))
	claims := jwt.RegisteredClaims{Subject: "demo@example.com"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = j.GetSubject(context.Background(), token)
	assert.Error(t, err)
}

func TestJWT_MissingSubject(t *testing.T) {
	j := New(WithSecretKey("secret"))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = j.GetSubject(context.Background(), token)
	assert.Error(t, err)
}

func TestJWT_GetTokenFromRequest(t *testing.T) {
	j := New()
	ctx := context.Background()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lower case scheme", header: "bearer abc", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc", wantErr: true},
		{name: "too many parts", header: "Bearer a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			got, err := j.GetTokenFromRequest(ctx, req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	j := New()
	assert.Equal(t, time.Hour, j.Exp)
	assert.Empty(t, j.SecretKey)
}
