package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the download token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the download token has expired
	ErrTokenExpired = errors.New("token expired")
)

const (
	// DefaultLinkExpiry is the default lifetime of a signed download link
	DefaultLinkExpiry = 15 * time.Minute

	linkIssuer   = "inboxkeep"
	linkAudience = "attachment-download"
)

// LinkClaims identifies one attachment a signed link may download
type LinkClaims struct {
	AttachmentID uint `json:"attachment_id"`
	jwt.RegisteredClaims
}

// LinkSigner issues and verifies short-lived download links so attachments
// can be fetched by plain anchors without the API key
type LinkSigner struct {
	secretKey []byte
	expiry    time.Duration
}

// NewLinkSigner creates a LinkSigner. A zero expiry uses DefaultLinkExpiry.
func NewLinkSigner(secretKey []byte, expiry time.Duration) *LinkSigner {
	if expiry <= 0 {
		expiry = DefaultLinkExpiry
	}
	return &LinkSigner{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// Sign returns a token for the attachment and its expiry time
func (s *LinkSigner) Sign(attachmentID uint) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := &LinkClaims{
		AttachmentID: attachmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    linkIssuer,
			Audience:  jwt.ClaimStrings{linkAudience},
			Subject:   strconv.FormatUint(uint64(attachmentID), 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify returns the attachment ID carried by a valid token
func (s *LinkSigner) Verify(tokenString string) (uint, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LinkClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(linkIssuer), jwt.WithAudience(linkAudience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*LinkClaims)
	if !ok || !token.Valid || claims.AttachmentID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.AttachmentID, nil
}
