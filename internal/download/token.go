// Package download は許可ディレクトリ配下のファイルを配信するゲートウェイです。
package download

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"

	"github.com/yourusername/easypdf/internal/apperr"
)

const (
	tokenIssuer = "easypdf-download"
	keySalt     = "easypdf/download-token/v1"
	defaultTTL  = time.Hour
)

// Claims はダウンロードトークンのペイロードです。有効期限は exp に埋め込みます。
type Claims struct {
	Path   string `json:"path"`
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer は HS256 で署名したダウンロードトークンを発行・検証します。
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer は secret から署名鍵を導出します。secret が空の場合は起動ごとの乱数鍵を使います。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token key: %w", err)
		}
		return key, nil
	}
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	return key, nil
}

// Issue は publicPath 用のトークンと有効期限を返します。userID を指定した場合はその利用者専用です。
func (t *TokenIssuer) Issue(publicPath, userID string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Path:   publicPath,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify はトークンの署名・有効期限・対象パス・利用者を検証します。失敗はすべて FORBIDDEN です。
func (t *TokenIssuer) Verify(token, publicPath, callerID string) error {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		msg := "ダウンロードトークンが無効です。"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "ダウンロードトークンの有効期限が切れています。"
		}
		return apperr.New(apperr.CodeForbidden, msg, err)
	}
	if claims.Path != publicPath {
		return apperr.New(apperr.CodeForbidden, "ダウンロードトークンが無効です。", errors.New("token path mismatch"))
	}
	if claims.UserID != "" && claims.UserID != callerID {
		return apperr.New(apperr.CodeForbidden, "ダウンロードトークンが無効です。", errors.New("token user mismatch"))
	}
	return nil
}

// DownloadURL はトークン付きのダウンロードURLを返します。
func (t *TokenIssuer) DownloadURL(publicPath, userID string) (string, error) {
	token, _, err := t.Issue(publicPath, userID)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("path", publicPath)
	q.Set("token", token)
	return "/api/download?" + q.Encode(), nil
}
