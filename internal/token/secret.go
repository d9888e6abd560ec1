package token

import (
	"fmt"
	"strings"
	"time"
)

const (
	// placeholderSecret ships in example env files; a deployment still using
	// it has not been configured.
	placeholderSecret = "change-me-in-production"

	minSecretLen = 32

	// legacyDefaultAccessTTL is the unconfigured 24h expiry some older
	// deployments carried. Treated the same as a missing setting.
	legacyDefaultAccessTTL = 24 * time.Hour
)

// CheckSecret validates signing configuration once at process startup. It is
// a deployment guard, not a per-request check: production processes must
// refuse to start when it fails.
func CheckSecret(secret string, accessTTL time.Duration) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("token: signing secret is not set")
	}
	if secret == placeholderSecret {
		return fmt.Errorf("token: signing secret is still the placeholder value")
	}
	if len(secret) < minSecretLen {
		return fmt.Errorf("token: signing secret must be at least %d characters", minSecretLen)
	}
	if accessTTL == legacyDefaultAccessTTL {
		return fmt.Errorf("token: access token TTL of %s is the unconfigured legacy default", legacyDefaultAccessTTL)
	}
	return nil
}
