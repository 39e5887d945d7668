package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
)

const (
	claimsContextKey  = "auth_claims"
	serviceContextKey = "service_subject"
	bearerPrefix      = "Bearer "
	signatureHeader   = "X-Signature"
)

var errInvalidServiceToken = errors.New("invalid service token")

// serviceAuth accepts HS256 bearer tokens minted for internal callers.
func serviceAuth(signingKey []byte, issuer string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, func(token *jwt.Token) (interface{}, error) {
			return signingKey, nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, errInvalidServiceToken.Error()))
			return
		}
		ctx.Set(serviceContextKey, claims.Subject)
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// validSignature checks a hex HMAC-SHA256 of payload.
func validSignature(payload []byte, signature string, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(given, mac.Sum(nil))
}
