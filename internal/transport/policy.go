// Package transport performs outbound HTTP for adapters and the fetch
// pipeline under a per-source policy: headers, cookies, referer, user agent
// and a throttle.
package transport

import (
	"maps"
	"net/http"

	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when a policy does not name one.
const DefaultUserAgent = "Mozilla/5.0 (compatible; boorufind/1.0; +https://github.com/ppiankov/boorufind)"

// Policy declares what a source requires on raw content and API requests.
type Policy struct {
	Headers   map[string]string
	Cookies   map[string]string
	Referer   string
	UserAgent string

	// RatePerSecond throttles requests to the source. Zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// Apply sets the policy's headers and cookies on req.
func (p Policy) Apply(req *http.Request) {
	ua := p.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	if p.Referer != "" {
		req.Header.Set("Referer", p.Referer)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	for name, value := range p.Cookies {
		if value == "" {
			continue
		}
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// Merge returns p overlaid with the non-empty fields of o.
func (p Policy) Merge(o Policy) Policy {
	out := p
	out.Headers = maps.Clone(p.Headers)
	out.Cookies = maps.Clone(p.Cookies)
	if len(o.Headers) > 0 && out.Headers == nil {
		out.Headers = make(map[string]string, len(o.Headers))
	}
	maps.Copy(out.Headers, o.Headers)
	if len(o.Cookies) > 0 && out.Cookies == nil {
		out.Cookies = make(map[string]string, len(o.Cookies))
	}
	maps.Copy(out.Cookies, o.Cookies)
	if o.Referer != "" {
		out.Referer = o.Referer
	}
	if o.UserAgent != "" {
		out.UserAgent = o.UserAgent
	}
	if o.RatePerSecond > 0 {
		out.RatePerSecond = o.RatePerSecond
		out.Burst = o.Burst
	}
	return out
}

// Limiter builds the throttle described by the policy, or nil when unthrottled.
func (p Policy) Limiter() *rate.Limiter {
	if p.RatePerSecond <= 0 {
		return nil
	}
	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
}
