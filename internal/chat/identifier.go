package chat

import (
	"regexp"
	"strings"

	"github.com/rollupim/supportchat/internal/orders"
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	orderCodePattern = regexp.MustCompile(`(?i)\b([a-z]{1,4}-?[0-9]{2,})\b`)
	phoneLikePattern = regexp.MustCompile(`\+?[0-9][0-9\s\-()]{6,}[0-9]`)
	digitRunPattern  = regexp.MustCompile(`\b[0-9]{6,}\b`)
)

// ExtractIdentifier pulls order identifiers out of free text: an email
// address, an order code like "R-102", or a phone-like digit run. A message
// with none of these returns an empty identifier and is treated as a plain
// question.
func ExtractIdentifier(text string) orders.Identifier {
	var id orders.Identifier

	rest := text
	if m := emailPattern.FindString(rest); m != "" {
		id.Email = m
		rest = emailPattern.ReplaceAllString(rest, " ")
	}
	if m := orderCodePattern.FindString(rest); m != "" {
		id.OrderID = m
	}
	if id.Empty() {
		if m := phoneLikePattern.FindString(rest); m != "" {
			id.Phone = strings.Join(strings.Fields(m), "")
		} else if m := digitRunPattern.FindString(rest); m != "" {
			id.OrderID = m
		}
	}
	return id
}
