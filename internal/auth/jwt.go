package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier checks access tokens issued by the accounts service. Tokens are
// either HS256 with a shared secret or RS256 against a public key.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
}

func NewHS256Verifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// NewRS256Verifier loads a PEM encoded RSA public key from path.
func NewRS256Verifier(path, issuer string) (*Verifier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{publicKey: pub, issuer: issuer}, nil
}

func (v *Verifier) key(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret != nil {
			return v.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if v.publicKey != nil {
			return v.publicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
}

// Verify returns the principal named by the token. The user id comes from
// "sub", falling back to "user_id".
func (v *Verifier) Verify(tokenStr string) (domain.Principal, error) {
	if tokenStr == "" {
		return domain.Principal{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenStr, v.key, opts...)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return domain.Principal{}, ErrInvalidToken
	}

	uid, _ := claims["sub"].(string)
	if uid == "" {
		uid, _ = claims["user_id"].(string)
	}
	if uid == "" {
		return domain.Principal{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	return domain.Principal{UserID: uid, Role: domain.Role(role)}, nil
}
