package operation

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/google/uuid"
)

// EncodeCursor builds the opaque page token pointing just past (ts, id).
func EncodeCursor(ts time.Time, id uuid.UUID) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id.String())
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, apperr.Invalid("cursor", "malformed")
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, apperr.Invalid("cursor", "malformed")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, apperr.Invalid("cursor", "malformed timestamp")
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, apperr.Invalid("cursor", "malformed id")
	}
	return ts, id, nil
}

// Before reports whether op sorts after the cursor position in newest-first order.
func Before(op Operation, ts time.Time, id uuid.UUID) bool {
	if op.CreatedAt.Equal(ts) {
		return op.ID.String() < id.String()
	}
	return op.CreatedAt.Before(ts)
}
