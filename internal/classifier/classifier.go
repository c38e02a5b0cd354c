// Package classifier decides whether a client log line is a trade whisper.
//
// A line qualifies when it is an incoming whisper
//
//	[<engine tag>] @From <sender>: <body>
//
// where the engine tag is the first bracketed tag on the line, so chat that
// quotes another whisper is not attributed to the quoted sender.
//
// and its body carries both a buy/sell intent phrase and a price or listing
// phrase. Requiring both keeps ordinary chat that merely mentions buying or
// prices out of the alerts. A trailing parenthetical such as the stash tab
// annotation is ignored while matching but kept in the returned message.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/oicur0t/tradealert/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	whisperPattern    = regexp.MustCompile(`^[^\[]*\[[^\]]+\] @From (?:<[^>]*>\s*)?([^:]+): (.*)$`)
	annotationPattern = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

	intentPattern = regexp.MustCompile(`(?i)\b(?:buy|buying|purchase|wtb|wts|wtt|want to buy|would like to buy|trade for)\b`)
	pricePattern  = regexp.MustCompile(`(?i)listed for|\bprice\s+.+?\s+in\s+\S+|\b\d+(?:\.\d+)?\s+\S+\s+in\s+\S+|offer`)

	listingPattern = regexp.MustCompile(`(?i)^(?:Hi,?\s*)?I(?: would|'d) like to buy your (.+?) listed for (\d+(?:\.\d+)?) (\S+) in (.+?)(?:\s*\(stash tab "([^"]*)"(?:; position: left (\d+), top (\d+))?\))?\s*$`)
)

// Match is the result of a successful classification
type Match struct {
	Sender  string
	Message string
	Listing *models.Listing
}

// Classify reports whether line is a trade request and extracts the sender
// and message body. It has no side effects.
func Classify(line string) (Match, bool) {
	line = strings.TrimRight(line, "\r\n")

	parts := whisperPattern.FindStringSubmatch(line)
	if len(parts) != 3 {
		return Match{}, false
	}

	sender := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	if sender == "" || body == "" {
		return Match{}, false
	}

	considered := annotationPattern.ReplaceAllString(body, "")
	if !intentPattern.MatchString(considered) || !pricePattern.MatchString(considered) {
		return Match{}, false
	}

	return Match{
		Sender:  sender,
		Message: body,
		Listing: ParseListing(body),
	}, true
}

// ParseListing extracts item, price and stash position from a whisper that
// follows the trade site template. It returns nil for free-form messages.
func ParseListing(body string) *models.Listing {
	m := listingPattern.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	amount, err := decimal.NewFromString(m[2])
	if err != nil {
		return nil
	}

	listing := &models.Listing{
		Item:     strings.TrimSpace(m[1]),
		Amount:   amount,
		Currency: m[3],
		League:   strings.TrimSpace(m[4]),
		StashTab: m[5],
	}
	if m[6] != "" {
		listing.Left, _ = strconv.Atoi(m[6])
		listing.Top, _ = strconv.Atoi(m[7])
	}
	return listing
}
