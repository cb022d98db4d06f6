package parser

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// NotificationType is the kind of portal notification found in the mailbox
type NotificationType string

const (
	NewInquiry NotificationType = "NEW_INQUIRY"
	Reply      NotificationType = "REPLY"
	Unknown    NotificationType = "UNKNOWN"
)

// Classification is the result of reading a notification's subject and sender
type Classification struct {
	Type  NotificationType `json:"type"`
	Name  string           `json:"name"`
	Email string           `json:"email,omitempty"`
}

// Actionable reports whether the notification starts a new inquiry
func (c Classification) Actionable() bool {
	return c.Type == NewInquiry
}

var (
	replyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(?:re|aw|fwd?)\s*:`),
		regexp.MustCompile(`(?i)^\s*(.+?)\s+(?:replied|responded)\b`),
		regexp.MustCompile(`(?i)^\s*new (?:reply|message) from\s+(.+?)\s*$`),
	}

	inquiryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*new (?:rental |lead |tenant )?inquiry from\s+(.+?)(?:\s+(?:about|for|regarding|re)\s+.*)?\s*$`),
		regexp.MustCompile(`(?i)^\s*(.+?)\s+(?:is interested in|wants to rent|requested (?:a )?(?:tour|showing) (?:of|at))\s+.+$`),
		regexp.MustCompile(`(?i)^\s*(.+?)\s+(?:sent|has sent)\s+(?:you\s+)?an? inquiry\b`),
		regexp.MustCompile(`(?i)^\s*(?:rental )?inquiry (?:about|for)\s+.+?\s+from\s+(.+?)\s*$`),
	}

	automatedLocalParts = regexp.MustCompile(`(?i)^(?:no-?reply|do-?not-?reply|notifications?|alerts?|mailer(?:-daemon)?|support|leads?)$`)
	nameTrim            = regexp.MustCompile(`^["'\s]+|["'\s.,!:;]+$`)
)

// Classify reads a notification subject and From header and decides whether it
// is a new inquiry, a reply in an existing conversation, or something else.
// The tenant name comes from the subject when a pattern captures it, otherwise
// from the sender display name; the email is only kept when the sender is not
// an automated portal address.
func Classify(subject, from string) Classification {
	subject = strings.TrimSpace(subject)
	displayName, address := parseSender(from)

	result := Classification{Type: Unknown}
	if !isAutomated(address) {
		result.Email = address
	}

	for _, re := range replyPatterns {
		if m := re.FindStringSubmatch(subject); m != nil {
			result.Type = Reply
			result.Name = firstNonEmpty(captured(m), displayName)
			return result
		}
	}

	for _, re := range inquiryPatterns {
		if m := re.FindStringSubmatch(subject); m != nil {
			result.Type = NewInquiry
			result.Name = firstNonEmpty(captured(m), displayName)
			return result
		}
	}

	result.Name = displayName
	return result
}

// MatchesSender reports whether a tenant name matches a configured sender name,
// ignoring case and surrounding whitespace
func MatchesSender(name, sender string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	sender = strings.ToLower(strings.TrimSpace(sender))
	if name == "" || sender == "" {
		return false
	}
	return strings.Contains(name, sender) || strings.Contains(sender, name)
}

func parseSender(from string) (string, string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		if strings.Contains(from, "@") && !strings.ContainsAny(from, " <>") {
			return "", strings.ToLower(from)
		}
		return cleanName(from), ""
	}
	return cleanName(addr.Name), strings.ToLower(addr.Address)
}

func isAutomated(address string) bool {
	if address == "" {
		return true
	}
	local := address
	if i := strings.IndexByte(address, '@'); i >= 0 {
		local = address[:i]
	}
	return automatedLocalParts.MatchString(local)
}

func captured(m []string) string {
	if len(m) < 2 {
		return ""
	}
	return cleanName(m[1])
}

func cleanName(s string) string {
	return strings.TrimSpace(nameTrim.ReplaceAllString(s, ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
