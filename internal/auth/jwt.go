package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// Claims are the console's own tokens.
type Claims struct {
	UserId int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func NewToken(secret string, userid int64, email string, ttlmin int) (string, error) {
	claims := Claims{
		UserId: userid,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Duration(ttlmin) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			Issuer:    "pmsinbox",
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func ParseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		// Ensure the token is using HMAC (HS256, HS384, HS512)
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// SessionFromToken reads the user identity out of a backend bearer token
// without verifying it; the backend verifies its own tokens. Opaque
// (non-JWT) tokens yield an empty session and no error.
func SessionFromToken(token string) (model.Session, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return model.Session{}, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return model.Session{}, fmt.Errorf("auth: parse bearer token: %w", err)
	}

	var s model.Session
	for _, key := range []string{"user_id", "uid", "sub"} {
		if v, ok := claims[key]; ok {
			if id := claimString(v); id != "" {
				s.ID = model.ID(id)
				break
			}
		}
	}
	if v, ok := claims["email"]; ok {
		s.Email = claimString(v)
	}
	return s, nil
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
