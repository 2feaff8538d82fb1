package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// signer produces the venue's v2 request authentication headers. The
// signature covers timestamp + method + path(with query) + body, HMAC
// SHA-256 with the API secret, base64 encoded. The passphrase itself is
// signed the same way.
type signer struct {
	key        string
	secret     string
	passphrase string
	keyVersion string

	// offset corrects the local clock against venue server time after a
	// timestamp rejection. Atomic: resync writes race with concurrent
	// request signing.
	offsetMS atomic.Int64
}

func newSigner(key, secret, passphrase, keyVersion string) *signer {
	if keyVersion == "" {
		keyVersion = "2"
	}
	return &signer{key: key, secret: secret, passphrase: passphrase, keyVersion: keyVersion}
}

func (s *signer) timestampMS() int64 {
	return time.Now().UnixMilli() + s.offsetMS.Load()
}

// setServerTime recalibrates the timestamp offset from a venue time probe
func (s *signer) setServerTime(serverMS int64) {
	s.offsetMS.Store(serverMS - time.Now().UnixMilli())
}

func (s *signer) hmacB64(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// sign writes the authentication headers onto an outgoing request.
// pathWithQuery must include the query string exactly as sent.
func (s *signer) sign(req *http.Request, method, pathWithQuery string, body []byte) {
	ts := strconv.FormatInt(s.timestampMS(), 10)
	payload := ts + method + pathWithQuery + string(body)

	req.Header.Set("KC-API-KEY", s.key)
	req.Header.Set("KC-API-SIGN", s.hmacB64(payload))
	req.Header.Set("KC-API-TIMESTAMP", ts)
	req.Header.Set("KC-API-PASSPHRASE", s.hmacB64(s.passphrase))
	req.Header.Set("KC-API-KEY-VERSION", s.keyVersion)
	req.Header.Set("Content-Type", "application/json")
}
