// Package template implements a pure function expanding placeholders,
// random-choice groups and gender-aware template selection. It has no
// I/O and no dependency on the rest of the system — the Executor is the
// only caller.
package template

import (
	"regexp"
	"strings"

	"github.com/baseleldalil/morsel/internal/clock"
	"github.com/baseleldalil/morsel/internal/model"
)

// arabicRanges are the Unicode code-point ranges used to route a name to
// arabic_name vs english_name.
var arabicRanges = []struct{ lo, hi rune }{
	{0x0600, 0x06FF},
	{0x0750, 0x077F},
	{0x08A0, 0x08FF},
	{0xFB50, 0xFDFF},
	{0xFE70, 0xFEFF},
}

// IsArabic reports whether s contains any character in the Arabic Unicode
// ranges above.
func IsArabic(s string) bool {
	for _, r := range s {
		for _, rg := range arabicRanges {
			if r >= rg.lo && r <= rg.hi {
				return true
			}
		}
	}
	return false
}

// resolver produces the substitution value for a recognized token name;
// resolve lower-cases and trims the token itself.
type resolver struct {
	c model.Contact
}

func (r resolver) fullName() string {
	if r.c.ArabicName != "" && IsArabic(r.c.ArabicName) {
		return r.c.ArabicName
	}
	if r.c.EnglishName != "" {
		return r.c.EnglishName
	}
	return r.c.FirstName
}

func (r resolver) firstName() string {
	name := r.fullName()
	if name == "" {
		return r.c.FirstName
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}

func (r resolver) arabicName() string {
	if r.c.ArabicName != "" {
		return r.c.ArabicName
	}
	if IsArabic(r.c.FirstName) {
		return r.c.FirstName
	}
	return ""
}

func (r resolver) englishName() string {
	if r.c.EnglishName != "" {
		return r.c.EnglishName
	}
	if !IsArabic(r.c.FirstName) {
		return r.c.FirstName
	}
	return ""
}

// resolve returns (value, ok) for a known token name, case-insensitive.
func (r resolver) resolve(token string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "name":
		return r.fullName(), true
	case "firstname", "first_name":
		return r.firstName(), true
	case "phone":
		return r.c.FormattedPhone, true
	case "arabic_name", "arabicname":
		return r.arabicName(), true
	case "english_name", "englishname":
		return r.englishName(), true
	case "الاسم_بالعربي", "الاسم_العربي", "اسم_عربي":
		return r.arabicName(), true
	case "الاسم_انجليزي", "الاسم_بالانجليزي", "اسم_انجليزي":
		return r.englishName(), true
	default:
		return "", false
	}
}

var (
	doubleBraceRE  = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	singleBraceRE  = regexp.MustCompile(`\{([^{}]+)\}`)
	bareArabicRE   = regexp.MustCompile(`(?i)\barabic_name\b`)
	bareEnglishRE  = regexp.MustCompile(`(?i)\benglish_name\b`)
)

// arabicNamedTokens is the set of single-brace tokens whose *name* is
// written in Arabic script; these expand before the random-choice pass.
var arabicNamedTokens = map[string]bool{
	"الاسم_بالعربي":  true,
	"الاسم_العربي":   true,
	"اسم_عربي":       true,
	"الاسم_انجليزي":   true,
	"الاسم_بالانجليزي": true,
	"اسم_انجليزي":     true,
}

// Render expands template t against contact c, drawing random-choice
// selections from src. It applies five ordered passes (double-brace
// variables, Arabic-named single-brace variables, random-choice groups,
// remaining single-brace variables, bare-word fallbacks); unrecognized
// tokens are left verbatim.
func Render(t string, c model.Contact, src *clock.Source) string {
	r := resolver{c: c}

	// Pass 1: double-brace placeholders.
	out := doubleBraceRE.ReplaceAllStringFunc(t, func(m string) string {
		inner := doubleBraceRE.FindStringSubmatch(m)[1]
		if v, ok := r.resolve(inner); ok {
			return v
		}
		return m
	})

	// Pass 2: Arabic-named single-brace variables.
	out = singleBraceRE.ReplaceAllStringFunc(out, func(m string) string {
		inner := strings.TrimSpace(singleBraceRE.FindStringSubmatch(m)[1])
		if arabicNamedTokens[inner] {
			if v, ok := r.resolve(inner); ok {
				return v
			}
		}
		return m
	})

	// Pass 3: random-choice groups — single-brace, contains '-', no inner braces.
	out = singleBraceRE.ReplaceAllStringFunc(out, func(m string) string {
		inner := singleBraceRE.FindStringSubmatch(m)[1]
		if !strings.Contains(inner, "-") {
			return m
		}
		opts := make([]string, 0, 4)
		for _, o := range strings.Split(inner, "-") {
			if o != "" {
				opts = append(opts, o)
			}
		}
		switch len(opts) {
		case 0:
			return ""
		case 1:
			return opts[0]
		default:
			return opts[src.Pick(len(opts))]
		}
	})

	// Pass 4: remaining single-brace variable tokens (no '-').
	out = singleBraceRE.ReplaceAllStringFunc(out, func(m string) string {
		inner := singleBraceRE.FindStringSubmatch(m)[1]
		if v, ok := r.resolve(inner); ok {
			return v
		}
		return m
	})

	// Pass 5: bare-word fallbacks, for user convenience.
	out = bareArabicRE.ReplaceAllStringFunc(out, func(string) string { return r.arabicName() })
	out = bareEnglishRE.ReplaceAllStringFunc(out, func(string) string { return r.englishName() })

	return out
}

// SelectTemplate picks male/female/default content for campaign and
// gender. Gender selection happens before random-choice expansion: the
// caller picks the template body first and Render is applied once per
// recipient.
func SelectTemplate(campaign *model.Campaign, gender model.Gender) string {
	if campaign.UseGenderTemplates {
		switch gender {
		case model.GenderMale:
			if campaign.MaleContent != "" {
				return campaign.MaleContent
			}
		case model.GenderFemale:
			if campaign.FemaleContent != "" {
				return campaign.FemaleContent
			}
		}
	}
	return campaign.MessageContent
}

// RenderForContact combines SelectTemplate and Render into the single
// operation the executor performs per workflow entry.
func RenderForContact(campaign *model.Campaign, c model.Contact, src *clock.Source) string {
	body := SelectTemplate(campaign, c.Gender)
	return Render(body, c, src)
}

// referencedVarRE finds every single- or double-brace token in a template,
// used by preflight validation.
var referencedVarRE = regexp.MustCompile(`\{\{?\s*([^{}]+?)\s*\}?\}`)

// ValidateAgainstSample scans templates for referenced variables and
// checks that each one resolves for at least one contact in sample. It
// returns the distinct variable names found and a description for each
// one that could not be resolved from any sampled contact. Random-choice
// groups (tokens containing '-') are not variables and are skipped.
func ValidateAgainstSample(templates []string, sample []model.Contact) (found []string, errs []string) {
	seen := map[string]bool{}
	for _, t := range templates {
		for _, m := range referencedVarRE.FindAllStringSubmatch(t, -1) {
			token := strings.TrimSpace(m[1])
			if strings.Contains(token, "-") {
				continue // random-choice group, not a variable reference
			}
			key := strings.ToLower(token)
			if _, known := (resolver{}).resolve(token); !known {
				continue // unrecognized token, left verbatim by Render — not a variable
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, token)

			resolvable := false
			for _, c := range sample {
				if v, ok := (resolver{c: c}).resolve(token); ok && v != "" {
					resolvable = true
					break
				}
			}
			if !resolvable && len(sample) > 0 {
				errs = append(errs, "cannot resolve variable {"+token+"} from any sampled contact")
			}
		}
	}
	return found, errs
}
