package recovery

import "regexp"

// redactionPatterns implements §4.9's mandatory log/persist redaction:
// key=value secrets, bearer tokens, Telegram bot tokens, and long base64
// blobs are replaced with a fixed placeholder before a message is logged or
// persisted.
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|token|api_id|api_hash)=[^\s&]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`),
	regexp.MustCompile(`\d{10,}:\w{35}`),
	regexp.MustCompile(`[A-Za-z0-9+/]{50,}={0,2}`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact scrubs msg of every pattern in redactionPatterns. It is applied to
// every error message before it reaches a log sink or a persisted row.
func Redact(msg string) string {
	for _, re := range redactionPatterns {
		msg = re.ReplaceAllString(msg, redactedPlaceholder)
	}
	return msg
}
