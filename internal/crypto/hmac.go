// Package crypto signs private exchange API requests.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Credentials are the API key material of one exchange account.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Empty reports whether no key is configured.
func (c Credentials) Empty() bool { return c.Key == "" || c.Secret == "" }

// OKXHeaders returns the OK-ACCESS-* headers. The signature is
// base64(HMAC-SHA256(secret, timestamp+METHOD+path+body)) with an ISO-8601
// millisecond timestamp.
func (c Credentials) OKXHeaders(method, path, body string) map[string]string {
	return c.OKXHeadersAt(method, path, body, time.Now())
}

// OKXHeadersAt is OKXHeaders with an explicit timestamp.
func (c Credentials) OKXHeadersAt(method, path, body string, at time.Time) map[string]string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z")
	sig := base64.StdEncoding.EncodeToString(macSHA256([]byte(c.Secret), ts+method+path+body))
	return map[string]string{
		"OK-ACCESS-KEY":        c.Key,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": c.Passphrase,
	}
}

// BybitRecvWindow is sent with every signed Bybit request.
const BybitRecvWindow = "5000"

// BybitHeaders returns the X-BAPI-* headers. The signature is
// hex(HMAC-SHA256(secret, timestamp+key+recvWindow+payload)) where payload is
// the raw query string for GET requests.
func (c Credentials) BybitHeaders(payload string) map[string]string {
	return c.BybitHeadersAt(payload, time.Now())
}

// BybitHeadersAt is BybitHeaders with an explicit timestamp.
func (c Credentials) BybitHeadersAt(payload string, at time.Time) map[string]string {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	sig := hex.EncodeToString(macSHA256([]byte(c.Secret), ts+c.Key+BybitRecvWindow+payload))
	return map[string]string{
		"X-BAPI-API-KEY":     c.Key,
		"X-BAPI-SIGN":        sig,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": BybitRecvWindow,
	}
}

// GateHeaders returns the Gate.io v4 KEY/Timestamp/SIGN headers. The signed
// string is METHOD\npath\nquery\nhex(SHA512(body))\ntimestamp and the
// signature is hex(HMAC-SHA512(secret, signed)).
func (c Credentials) GateHeaders(method, path, query, body string) map[string]string {
	return c.GateHeadersAt(method, path, query, body, time.Now())
}

// GateHeadersAt is GateHeaders with an explicit timestamp.
func (c Credentials) GateHeadersAt(method, path, query, body string, at time.Time) map[string]string {
	ts := strconv.FormatInt(at.Unix(), 10)
	hashed := sha512.Sum512([]byte(body))
	signed := method + "\n" + path + "\n" + query + "\n" + hex.EncodeToString(hashed[:]) + "\n" + ts
	mac := hmac.New(sha512.New, []byte(c.Secret))
	mac.Write([]byte(signed))
	return map[string]string{
		"KEY":       c.Key,
		"Timestamp": ts,
		"SIGN":      hex.EncodeToString(mac.Sum(nil)),
	}
}

// MEXCRecvWindow is sent with every signed MEXC request.
const MEXCRecvWindow = "5000"

// MEXCQuery returns the signed query string for a MEXC v3 private GET:
// params plus recvWindow and timestamp, followed by
// signature=hex(HMAC-SHA256(secret, query)).
func (c Credentials) MEXCQuery(params url.Values) string {
	return c.MEXCQueryAt(params, time.Now())
}

// MEXCQueryAt is MEXCQuery with an explicit timestamp.
func (c Credentials) MEXCQueryAt(params url.Values, at time.Time) string {
	q := make(url.Values, len(params)+2)
	for k, v := range params {
		q[k] = v
	}
	q.Set("recvWindow", MEXCRecvWindow)
	q.Set("timestamp", strconv.FormatInt(at.UnixMilli(), 10))
	payload := q.Encode()
	return payload + "&signature=" + hex.EncodeToString(macSHA256([]byte(c.Secret), payload))
}

// MEXCHeaders returns the API key header of a signed MEXC request.
func (c Credentials) MEXCHeaders() map[string]string {
	return map[string]string{"X-MEXC-APIKEY": c.Key}
}

func macSHA256(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
