package rail

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// PhonePlan describes the local numbering plan accepted for mobile-money wallets.
type PhonePlan struct {
	// CountryCode without the leading plus, e.g. "265".
	CountryCode string
	// LeadingDigits lists the digits a subscriber number may start with.
	LeadingDigits string
	// SubscriberDigits is the length of the national subscriber number.
	SubscriberDigits int

	re *regexp.Regexp
}

// MalawiPhonePlan accepts +265 numbers whose nine-digit subscriber part
// starts with 1 or 8.
func MalawiPhonePlan() PhonePlan {
	return NewPhonePlan("265", "18", 9)
}

// NewPhonePlan compiles a numbering plan.
func NewPhonePlan(countryCode, leadingDigits string, subscriberDigits int) PhonePlan {
	p := PhonePlan{
		CountryCode:      countryCode,
		LeadingDigits:    leadingDigits,
		SubscriberDigits: subscriberDigits,
	}
	cc := regexp.QuoteMeta(countryCode)
	p.re = regexp.MustCompile(
		`^(\+` + cc + `|` + cc + `|0)?[` + regexp.QuoteMeta(leadingDigits) + `][0-9]{` +
			strconv.Itoa(subscriberDigits-1) + `}$`,
	)
	return p
}

// Valid reports whether phone matches the plan. Whitespace is ignored.
func (p PhonePlan) Valid(phone string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(stripSpaces(phone))
}

// Normalize returns the canonical +<country><subscriber> form of a valid
// number. Normalizing a canonical number returns it unchanged.
func (p PhonePlan) Normalize(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) > p.SubscriberDigits {
		digits = digits[len(digits)-p.SubscriberDigits:]
	}
	return "+" + p.CountryCode + digits
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
