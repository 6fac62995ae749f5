package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// params is an ordered query-string builder. Venue signatures are computed
// over the parameters in insertion order, so url.Values (which sorts keys on
// Encode) cannot be used for the signed payload.
type params struct {
	keys   []string
	values map[string]string
}

func newParams() *params {
	return &params{values: make(map[string]string)}
}

func (p *params) Set(key, value string) *params {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Encode renders the query string in insertion order with URL-escaped values.
func (p *params) Encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[k]))
	}
	return b.String()
}

// sign appends the millisecond timestamp, computes HMAC-SHA256 over the
// encoded query with the API secret, and returns the final query string with
// the signature parameter appended.
func sign(p *params, secret string, now time.Time) string {
	p.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	payload := p.Encode()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))

	return payload + "&signature=" + sig
}
