// Package extract provides tolerant field extraction from free-text chat messages.
//
// Each intake field has its own extractor function in a strategy table, so new
// field types can be added without touching the flow engine. Extraction never
// fails: a message simply yields zero or more typed fields.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Fields is a partial record of extracted intake values keyed by field.
type Fields map[models.FieldKey]string

// MinBirthYear is the lower bound of the date-of-birth plausibility window.
// The upper bound is always currentYear-2 (K-12 admissions have no newborns).
var MinBirthYear = 2005

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// phoneRe runs against a copy of the message with common separators
	// stripped; the leading group keeps it from matching inside longer runs.
	phoneRe = regexp.MustCompile(`(?:^|[^0-9])((?:\+91|91)?[6-9][0-9]{9})(?:[^0-9]|$)`)
	gradeRe = regexp.MustCompile(`(?i)\b(?:grade|class)\s*([0-9]{1,2})\b`)
	earlyRe = regexp.MustCompile(`(?i)\b(nursery|pp1|pp2|lkg|ukg)\b`)
	boardRe = regexp.MustCompile(`(?i)\b(cambridge|igcse|caie|cbse|icse|ib|state)\b`)
	dobRe   = regexp.MustCompile(`\b([0-9]{1,2})[/-]([0-9]{1,2})[/-]([0-9]{4})\b`)
	nameRe  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z ]{0,29}$`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// extractorFunc attempts to pull one field's value out of a message.
// ok is false when nothing usable was found.
type extractorFunc func(message string) (value string, ok bool)

// fieldExtractors is the strategy table applied to every inbound message.
// The name heuristic is intentionally absent: it is a residual-text fallback
// and only runs when the current step asks for a name (see ExtractName).
var fieldExtractors = map[models.FieldKey]extractorFunc{
	models.FieldEmail:       ExtractEmail,
	models.FieldPhone:       ExtractPhone,
	models.FieldGrade:       ExtractGrade,
	models.FieldBoard:       ExtractBoard,
	models.FieldDateOfBirth: ExtractDateOfBirth,
}

// Extract scans a free-text message and opportunistically pulls out every
// typed field it can find. A single message may yield several fields at once.
func Extract(message string) Fields {
	fields := make(Fields)
	for key, fn := range fieldExtractors {
		if value, ok := fn(message); ok {
			fields[key] = value
		}
	}
	return fields
}

// Normalize validates and canonicalizes a candidate value for a single field,
// for example one proposed by the GenAI fallback. The candidate is run through
// the same extractor the field uses on raw messages; name-kind fields use the
// name heuristic.
func Normalize(key models.FieldKey, candidate string) (string, bool) {
	switch key {
	case models.FieldStudentName, models.FieldParentName:
		return ExtractName(candidate)
	default:
		fn, ok := fieldExtractors[key]
		if !ok {
			return "", false
		}
		return fn(candidate)
	}
}

// ExtractEmail matches a standard local@domain address, lowercased on capture.
func ExtractEmail(message string) (string, bool) {
	m := emailRe.FindString(message)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// ExtractPhone matches a 10-digit Indian mobile number, with or without a
// +91/91 prefix and with separators tolerated. The normalized value always
// carries a +91 prefix.
func ExtractPhone(message string) (string, bool) {
	cleaned := phoneSeparators.Replace(message)
	m := phoneRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	digits := strings.TrimPrefix(m[1], "+")
	// Keep the trailing 10 digits; anything before them is the country code.
	digits = digits[len(digits)-10:]
	return "+91" + digits, true
}

// ExtractGrade recognizes "grade N"/"class N" for N in 1..12 and the named
// early-years tokens. Numeric tokens outside the valid range are extraction
// failures, not extracted-but-invalid values.
func ExtractGrade(message string) (string, bool) {
	if m := earlyRe.FindStringSubmatch(message); m != nil {
		switch strings.ToLower(m[1]) {
		case "nursery":
			return "Nursery", true
		case "pp1":
			return "PP1", true
		case "pp2":
			return "PP2", true
		case "lkg":
			return "LKG", true
		case "ukg":
			return "UKG", true
		}
	}
	m := gradeRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 12 {
		return "", false
	}
	return fmt.Sprintf("Grade %d", n), true
}

// ExtractBoard recognizes the closed set of board tokens, whole-word and
// case-insensitive. Cambridge is a synonym normalized to CAIE.
func ExtractBoard(message string) (string, bool) {
	m := boardRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "cbse":
		return "CBSE", true
	case "icse":
		return "ICSE", true
	case "caie", "cambridge":
		return "CAIE", true
	case "igcse":
		return "IGCSE", true
	case "ib":
		return "IB", true
	case "state":
		return "State", true
	}
	return "", false
}

// ExtractDateOfBirth matches DD/MM/YYYY or DD-MM-YYYY, requires a real
// calendar date, and applies the age-plausibility window. Output is
// zero-padded DD/MM/YYYY.
func ExtractDateOfBirth(message string) (string, bool) {
	m := dobRe.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if year < MinBirthYear || year > time.Now().Year()-2 {
		return "", false
	}
	// time.Date normalizes out-of-range values (Feb 30 becomes Mar 2), so a
	// round-trip comparison is the calendar-validity check.
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return "", false
	}
	return fmt.Sprintf("%02d/%02d/%04d", day, month, year), true
}

// ExtractName applies the residual-text name heuristic: after stripping any
// email or phone substrings, trimmed text of 2-30 letters/spaces is treated
// as a name and title-cased.
func ExtractName(message string) (string, bool) {
	residual := emailRe.ReplaceAllString(message, "")
	// Remove phone-looking digit runs with their separators.
	residual = regexp.MustCompile(`(?:\+?91[\s\-]?)?[6-9][0-9 \-\(\)\.]{8,}[0-9]`).ReplaceAllString(residual, "")
	residual = strings.Join(strings.Fields(residual), " ")
	if len(residual) < 2 || len(residual) > 30 {
		return "", false
	}
	if !nameRe.MatchString(residual) {
		return "", false
	}
	return titleCase(residual), true
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
