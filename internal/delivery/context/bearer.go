package context

import "strings"

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an Authorization header value.
// ok is false unless the header is "Bearer " followed by a non-empty token.
// The scheme is matched case-sensitively.
func BearerToken(header string) (string, bool) {
	token, found := strings.CutPrefix(header, bearerPrefix)
	if !found || token == "" {
		return "", false
	}

	return token, true
}
