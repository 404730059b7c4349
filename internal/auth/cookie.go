package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const CookieName = "auth_token"

var errInvalidCookie = errors.New("invalid session cookie")

type sessionClaims struct {
	SessionToken string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieCodec signs session tokens into the auth cookie. Expiry lives in the
// session row, so the JWT itself carries none.
type CookieCodec struct {
	secret []byte
	secure bool
}

func NewCookieCodec(secret string, secure bool) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), secure: secure}
}

func (c *CookieCodec) Encode(sessionToken string, issuedAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionToken: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the session token inside.
func (c *CookieCodec) Decode(value string) (string, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.SessionToken == "" {
		return "", errInvalidCookie
	}
	return claims.SessionToken, nil
}

// FromHeader extracts the session token from a raw Cookie header.
func (c *CookieCodec) FromHeader(header string) (string, error) {
	if header == "" {
		return "", errInvalidCookie
	}
	cookies, err := http.ParseCookie(header)
	if err != nil {
		return "", errInvalidCookie
	}
	for _, cookie := range cookies {
		if cookie.Name == CookieName {
			return c.Decode(cookie.Value)
		}
	}
	return "", errInvalidCookie
}

func (c *CookieCodec) Cookie(value string) http.Cookie {
	return http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Expired is the cookie that clears the auth cookie in the browser.
func (c *CookieCodec) Expired() http.Cookie {
	cookie := c.Cookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	return cookie
}
