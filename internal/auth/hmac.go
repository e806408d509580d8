package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow bounds how far a peer message's timestamp may drift from the
// local clock before it is rejected, matching the LAN peer layer's 5-minute
// tolerance for clock skew between machines on the same network.
const ReplayWindow = 5 * time.Minute

// SignPeerMessage HMAC-SHA256-signs "<body>:<unix-timestamp>" with secret —
// body is conventionally the blob hash, matching §4.7's "HMAC-SHA-256 over
// the string \"<hash>:<unix-timestamp>\"" — returning a
// "<timestamp>:<hexmac>" token suitable for a peer request header.
func SignPeerMessage(secret []byte, body string, now time.Time) string {
	ts := now.Unix()
	mac := computeMAC(secret, ts, body)
	return fmt.Sprintf("%d:%s", ts, hex.EncodeToString(mac))
}

// VerifyPeerMessage checks a "<timestamp>:<hexmac>" token against body and
// secret, rejecting it with ErrReplay if the embedded timestamp falls
// outside ReplayWindow of now, or ErrUnauthenticated if the MAC doesn't
// match.
func VerifyPeerMessage(secret []byte, body, token string, now time.Time) error {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: malformed peer token", ErrUnauthenticated)
	}
	tsSeconds, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrUnauthenticated)
	}
	ts := time.Unix(tsSeconds, 0)
	if skew := now.Sub(ts); skew > ReplayWindow || skew < -ReplayWindow {
		return ErrReplay
	}

	want := computeMAC(secret, tsSeconds, body)
	got, err := hex.DecodeString(parts[1])
	if err != nil || len(got) != len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
		return fmt.Errorf("%w: mac mismatch", ErrUnauthenticated)
	}
	return nil
}

func computeMAC(secret []byte, ts int64, body string) []byte {
	h := hmac.New(sha256.New, secret)
	fmt.Fprintf(h, "%s:%d", body, ts)
	return h.Sum(nil)
}
