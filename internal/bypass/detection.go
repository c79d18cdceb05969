package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of an upstream response the detectors inspect.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Detector examines a response to determine if bot protection, a login wall
// or a rate limiter blocked or challenged the request.
type Detector func(res *Response) (detected bool, source string)

// DefaultDetectors returns the standard list of detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectLoginWall,
		detectRateLimit,
	}
}

// Analyze runs the response through detectors and returns the first source
// that triggered, or "" when none did.
func Analyze(res *Response, detectors []Detector) (string, bool) {
	if res == nil {
		return "", false
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return source, true
		}
	}
	return "", false
}

func getHeader(h http.Header, key string) string {
	if h == nil {
		return ""
	}
	return h.Get(key)
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(res *Response) (bool, string) {
	// Status codes 403 or 503 are common for CF challenges
	if res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusServiceUnavailable {
		server := strings.ToLower(getHeader(res.Header, "Server"))
		if strings.Contains(server, "cloudflare") {
			return true, "Cloudflare"
		}

		if bytes.Contains(res.Body, []byte("cf-browser-verification")) ||
			bytes.Contains(res.Body, []byte("cloudflare-nginx")) ||
			bytes.Contains(res.Body, []byte("cf-turnstile")) ||
			bytes.Contains(res.Body, []byte("Attention Required! | Cloudflare")) {
			return true, "Cloudflare"
		}
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(res *Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		server := strings.ToLower(getHeader(res.Header, "Server"))
		if strings.Contains(server, "akamai") {
			return true, "Akamai"
		}

		// generic "Reference #" block page
		if bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied")) {
			return true, "Akamai"
		}
	}
	return false, ""
}

func detectDataDome(res *Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		server := strings.ToLower(getHeader(res.Header, "Server"))
		if strings.Contains(server, "datadome") {
			return true, "DataDome"
		}
		if getHeader(res.Header, "X-DataDome") != "" || getHeader(res.Header, "X-DataDome-Response") != "" {
			return true, "DataDome"
		}
		if bytes.Contains(res.Body, []byte("geo.captcha-delivery.com")) {
			return true, "DataDome"
		}
	}
	return false, ""
}

func detectPerimeterX(res *Response) (bool, string) {
	if res.StatusCode == http.StatusForbidden {
		if getHeader(res.Header, "X-Px-Captcha") != "" {
			return true, "PerimeterX"
		}
		if bytes.Contains(res.Body, []byte("client.perimeterx.net")) ||
			bytes.Contains(res.Body, []byte("px-captcha")) ||
			bytes.Contains(res.Body, []byte("_pxBlock")) {
			return true, "PerimeterX"
		}
	}
	return false, ""
}

// detectLoginWall catches expired or missing session credentials. Instagram
// answers with require_login / checkpoint_required bodies or bounces to the
// login page.
func detectLoginWall(res *Response) (bool, string) {
	if strings.Contains(res.FinalURL, "/accounts/login") {
		return true, "LoginWall"
	}
	if res.StatusCode != http.StatusUnauthorized && res.StatusCode != http.StatusForbidden &&
		res.StatusCode != http.StatusBadRequest {
		return false, ""
	}
	if bytes.Contains(res.Body, []byte("require_login")) ||
		bytes.Contains(res.Body, []byte("checkpoint_required")) ||
		bytes.Contains(res.Body, []byte("login_required")) {
		return true, "LoginWall"
	}
	if res.StatusCode == http.StatusUnauthorized {
		return true, "LoginWall"
	}
	return false, ""
}

func detectRateLimit(res *Response) (bool, string) {
	if res.StatusCode == http.StatusTooManyRequests {
		return true, "RateLimited"
	}
	if res.StatusCode >= 400 && bytes.Contains(res.Body, []byte("Please wait a few minutes")) {
		return true, "RateLimited"
	}
	return false, ""
}
