package notifier

import (
	"fmt"
	"strings"
)

// buildMIME assembles a basic HTML MIME message with headers.
func buildMIME(from string, to string, subject string, body string) ([]byte, error) {
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("source address is required")
	}
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("destination address is required")
	}
	if strings.ContainsAny(subject, "\r\n") {
		return nil, fmt.Errorf("subject contains invalid characters")
	}

	var b strings.Builder
	b.WriteString("From: ")
	b.WriteString(from)
	b.WriteString("\r\n")
	b.WriteString("To: ")
	b.WriteString(to)
	b.WriteString("\r\n")
	b.WriteString("Subject: ")
	b.WriteString(subject)
	b.WriteString("\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return []byte(b.String()), nil
}
