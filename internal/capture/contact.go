package capture

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const minPhoneDigits = 10

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ContactInfo is what the visitor types into the capture form.
type ContactInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Normalize trims every field and lower-cases the email address.
func (c ContactInfo) Normalize() ContactInfo {
	return ContactInfo{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:     strings.TrimSpace(c.Phone),
	}
}

// Validate returns a *ValidationError naming every invalid field, or nil.
func (c ContactInfo) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(c.FirstName) == "" {
		fields["firstName"] = "First name is required"
	}
	if strings.TrimSpace(c.LastName) == "" {
		fields["lastName"] = "Last name is required"
	}
	if !emailPattern.MatchString(strings.TrimSpace(c.Email)) {
		fields["email"] = "Please enter a valid email address"
	}
	if len(PhoneDigits(c.Phone)) < minPhoneDigits {
		fields["phone"] = fmt.Sprintf("Please enter a valid phone number (at least %d digits)", minPhoneDigits)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// PhoneDigits strips everything but digits from a phone number.
func PhoneDigits(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}

// ValidationError maps form field names to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid contact fields: " + strings.Join(names, ", ")
}
