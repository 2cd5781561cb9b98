package telegram

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// buildPollRequest builds a getUpdates request for a single update starting at
// offset. timeout=0 keeps the server from holding the request open; the
// tick loop does the waiting instead.
func buildPollRequest(host, token string, offset int64) []byte {
	return []byte("GET /bot" + token + "/getUpdates?offset=" + strconv.FormatInt(offset, 10) +
		"&timeout=0&limit=1 HTTP/1.1\r\nHost: " + host + "\r\n\r\n")
}

// buildSendRequest builds a form-encoded sendMessage POST for m.
func buildSendRequest(host, token string, m OutgoingMessage) []byte {
	body := "chat_id=" + quote(strconv.FormatInt(m.ChatID, 10)) + "&text=" + quote(m.Text)
	head := fmt.Sprintf(
		"POST /bot%s/sendMessage HTTP/1.1\r\nHost: %s\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n\r\n",
		token, host, len(body),
	)
	return []byte(head + body)
}

// quote percent-encodes s for a form body. Only ASCII letters, digits and
// "-_.~" pass through; space becomes %20 rather than '+'.
func quote(s string) string {
	// QueryEscape already escapes a literal '+' as %2B, so every '+' left
	// in its output stands for a space.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// BotID returns the public numeric part of a bot token ("123:secret" ->
// "123"), suitable for logs and storage keys.
func BotID(token string) string {
	id, _, _ := strings.Cut(token, ":")
	return id
}

func redact(req []byte, token string) string {
	if token == "" {
		return string(req)
	}
	return strings.ReplaceAll(string(req), token, "<token>")
}
