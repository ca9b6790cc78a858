package logger

import "net/url"

// RedactURL masks the password of a URL so camera credentials never reach
// the logs. Strings that do not parse as URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
