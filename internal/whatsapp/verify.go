package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Query parameters and headers used by Meta.
const (
	ParamMode        = "hub.mode"
	ParamVerifyToken = "hub.verify_token"
	ParamChallenge   = "hub.challenge"
	SignatureHeader  = "X-Hub-Signature-256"

	modeSubscribe   = "subscribe"
	signaturePrefix = "sha256="
)

// VerifySubscription answers the webhook verification handshake. It returns
// the challenge to echo and true when mode is "subscribe" and the token matches.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != modeSubscribe || token == "" || expectedToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// ValidateSignature checks the X-Hub-Signature-256 header against the raw body.
// An empty app secret disables the check.
func ValidateSignature(body []byte, header, appSecret string) error {
	if appSecret == "" {
		return nil
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrMissingSignature
	}

	received, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(received, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
