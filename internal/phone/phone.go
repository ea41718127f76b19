package phone

import "strings"

// Canonicalize reduces any surface form of a phone number to the digits-only
// token used as the equality key everywhere in the system. It returns the
// empty string when the input carries no digits.
//
// The CRM hands back numbers like "+52 33 1234 5678" while the chat platform
// delivers "5213312345678"; both must land on the same canonical string.
func Canonicalize(raw string) string {
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}

	// Mexican long form without the mobile "1": 52 + 10 national digits.
	if len(digits) == 12 && strings.HasPrefix(digits, "52") && !strings.HasPrefix(digits, "521") {
		return "521" + digits[2:]
	}

	// Bare 10-digit national numbers. Mexican mobiles start with 3, 5, 6 or 8;
	// anything else is assumed to be a US number.
	if len(digits) == 10 {
		switch digits[0] {
		case '3', '5', '6', '8':
			return "521" + digits
		default:
			return "1" + digits
		}
	}

	return digits
}

// Display renders a canonical number for humans, with a leading plus.
func Display(canonical string) string {
	if canonical == "" {
		return ""
	}
	return "+" + canonical
}

// Matches reports whether two surface forms refer to the same number.
// Inputs that canonicalize to nothing never match anything.
func Matches(a, b string) bool {
	ca := Canonicalize(a)
	if ca == "" {
		return false
	}
	return ca == Canonicalize(b)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
