package session

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// aliveMargin is subtracted from a token's lifetime when probing expiry,
// so a token about to lapse mid-request is treated as already dead.
const aliveMargin = 10 * time.Second

// Alive reports whether a JWT-shaped session token is still within its
// lifetime. This is a best-effort local probe: the server remains the
// authority on expiry, and the core recovery path never depends on it.
// Opaque or malformed tokens, and JWTs without an exp claim, report
// false.
func Alive(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some issuers emit standard base64; try that before giving up.
		payload, err = base64.RawStdEncoding.DecodeString(parts[1])
		if err != nil {
			return false
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return false
	}
	if claims.Exp == 0 {
		return false
	}

	return time.Unix(claims.Exp, 0).After(time.Now().Add(aliveMargin))
}
