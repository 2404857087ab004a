package template

import (
	"strings"
	"testing"

	"github.com/baseleldalil/morsel/internal/clock"
	"github.com/baseleldalil/morsel/internal/model"
)

func TestIsArabic(t *testing.T) {
	if !IsArabic("محمد") {
		t.Error("expected Arabic script to be detected")
	}
	if IsArabic("Mohammed") {
		t.Error("expected Latin script to not be detected as Arabic")
	}
}

func TestRenderDoubleBraceVariables(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{FirstName: "Sara", EnglishName: "Sara Ali", FormattedPhone: "15551234567"}
	out := Render("Hi {{name}}, your number is {{phone}}", c, src)
	if out != "Hi Sara Ali, your number is 15551234567" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderArabicNameRouting(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{FirstName: "Ahmed", ArabicName: "أحمد", EnglishName: "Ahmed"}
	out := Render("{{name}}", c, src)
	if out != "أحمد" {
		t.Fatalf("expected Arabic name to win when present, got %q", out)
	}
}

func TestRenderFirstNameFallsBackToFirstField(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{FirstName: "Dana", EnglishName: "Dana Khalil"}
	out := Render("{{firstname}}", c, src)
	if out != "Dana" {
		t.Fatalf("expected first field of full name, got %q", out)
	}
}

func TestRenderRandomChoiceGroupPicksOneOption(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{FirstName: "Lina"}
	for i := 0; i < 20; i++ {
		out := Render("Hey {Hi-Hello-Welcome} {{firstname}}", c, src)
		if !strings.Contains(out, "Lina") {
			t.Fatalf("expected firstname substitution, got %q", out)
		}
		choice := strings.TrimSuffix(strings.TrimPrefix(out, "Hey "), " Lina")
		if choice != "Hi" && choice != "Hello" && choice != "Welcome" {
			t.Fatalf("expected one of the random-choice options, got %q", choice)
		}
	}
}

func TestRenderSingleOptionRandomChoiceIsDeterministic(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{}
	out := Render("{only-}", c, src)
	if out != "only" {
		t.Fatalf("expected the sole option with no trailing dash, got %q", out)
	}
}

func TestRenderUnrecognizedTokenLeftVerbatim(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{FirstName: "Noor"}
	out := Render("{{unknown_token}}", c, src)
	if out != "{{unknown_token}}" {
		t.Fatalf("expected unrecognized token left verbatim, got %q", out)
	}
}

func TestRenderBareWordFallback(t *testing.T) {
	src := clock.NewSource(1, 1)
	c := model.Contact{ArabicName: "سارة", EnglishName: "Sara"}
	out := Render("use arabic_name here", c, src)
	if out != "use سارة here" {
		t.Fatalf("expected bare arabic_name fallback expanded, got %q", out)
	}
}

func TestSelectTemplatePicksGenderedContent(t *testing.T) {
	campaign := &model.Campaign{
		UseGenderTemplates: true,
		MessageContent:     "default",
		MaleContent:        "male body",
		FemaleContent:      "female body",
	}
	if got := SelectTemplate(campaign, model.GenderMale); got != "male body" {
		t.Errorf("expected male body, got %q", got)
	}
	if got := SelectTemplate(campaign, model.GenderFemale); got != "female body" {
		t.Errorf("expected female body, got %q", got)
	}
	if got := SelectTemplate(campaign, model.GenderUnknown); got != "default" {
		t.Errorf("expected default body for unknown gender, got %q", got)
	}
}

func TestSelectTemplateIgnoresGenderWhenDisabled(t *testing.T) {
	campaign := &model.Campaign{
		UseGenderTemplates: false,
		MessageContent:     "default",
		MaleContent:        "male body",
	}
	if got := SelectTemplate(campaign, model.GenderMale); got != "default" {
		t.Errorf("expected default body when gender templates disabled, got %q", got)
	}
}

func TestSelectTemplateFallsBackWhenGenderedContentEmpty(t *testing.T) {
	campaign := &model.Campaign{
		UseGenderTemplates: true,
		MessageContent:     "default",
	}
	if got := SelectTemplate(campaign, model.GenderMale); got != "default" {
		t.Errorf("expected default body when male content is empty, got %q", got)
	}
}

func TestValidateAgainstSampleFindsUnresolvableVariable(t *testing.T) {
	sample := []model.Contact{{FirstName: "Omar"}}
	found, errs := ValidateAgainstSample([]string{"Hi {{name}}, call {{phone}}"}, sample)
	if len(found) != 2 {
		t.Fatalf("expected 2 distinct variables found, got %v", found)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 unresolvable variable (phone), got %v", errs)
	}
}

func TestValidateAgainstSampleIgnoresRandomChoiceGroups(t *testing.T) {
	sample := []model.Contact{{FirstName: "Omar"}}
	found, errs := ValidateAgainstSample([]string{"{Hi-Hello} {{firstname}}"}, sample)
	if len(found) != 1 || found[0] != "firstname" {
		t.Fatalf("expected only firstname counted as a variable, got %v", found)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateAgainstSampleAllResolvable(t *testing.T) {
	sample := []model.Contact{{FirstName: "Omar", FormattedPhone: "15551234567"}}
	_, errs := ValidateAgainstSample([]string{"Hi {{name}}, call {{phone}}"}, sample)
	if len(errs) != 0 {
		t.Fatalf("expected no errors when every variable resolves, got %v", errs)
	}
}
