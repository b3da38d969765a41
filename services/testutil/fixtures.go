package testutil

import (
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	DemoClientID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderClientID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	OperatorID     = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
)

func GenerateJWT(subject uuid.UUID, secret []byte, ttl time.Duration, now time.Time, roles ...string) (string, error) {
	if len(roles) == 0 {
		roles = []string{"operator"}
	}
	claims := auth.Claims{
		Roles:  roles,
		Scopes: []string{"ledger"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "swap-backoffice",
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return auth.Sign(claims, secret)
}

// AdminJWT issues a short-lived token carrying the admin role.
func AdminJWT(secret []byte) (string, error) {
	return GenerateJWT(OperatorID, secret, time.Hour, time.Now(), "operator", "admin")
}
