package models

import "strings"

type Status string

const (
	StatusForecasted Status = "forecasted"
	StatusPosted     Status = "posted"
	StatusClosed     Status = "closed"
	StatusArchived   Status = "archived"
)

// ParseStatus is the single conversion point from source text to Status.
// "archive" is accepted because older records used that spelling.
func ParseStatus(s string) (Status, bool) {
	switch normalizeEnum(s) {
	case "forecasted", "forecast":
		return StatusForecasted, true
	case "posted":
		return StatusPosted, true
	case "closed":
		return StatusClosed, true
	case "archived", "archive":
		return StatusArchived, true
	}
	return "", false
}

type FundingType string

const (
	FundingFederal FundingType = "federal"
	FundingState   FundingType = "state"
	FundingLocal   FundingType = "local"
	FundingPrivate FundingType = "private"
)

func ParseFundingType(s string) (FundingType, bool) {
	switch ft := FundingType(normalizeEnum(s)); ft {
	case FundingFederal, FundingState, FundingLocal, FundingPrivate:
		return ft, true
	}
	return "", false
}

type Service string

const (
	ServiceK12Education    Service = "k12_education"
	ServiceHigherEducation Service = "higher_education"
)

func ParseService(s string) (Service, bool) {
	switch sv := Service(normalizeEnum(s)); sv {
	case ServiceK12Education, ServiceHigherEducation:
		return sv, true
	}
	return "", false
}

type Category string

// CategoryOther is the catch-all bucket for values outside the taxonomy.
const CategoryOther Category = "other"

// Categories is the closed K-12 category taxonomy, in display order.
var Categories = []Category{
	"stem_education",
	"math_and_science_education",
	"career_and_technical_education",
	"special_education",
	"early_childhood_education",
	"teacher_professional_development",
	"leadership_and_administration_development",
	"social_emotional_learning",
	"school_climate_and_culture",
	"bullying_prevention",
	"school_safety_and_security",
	"digital_literacy_and_technology",
	"educational_technology_innovation",
	"after_school_programs",
	"arts_and_music_education",
	"environmental_education",
	"health_and_wellness",
	"nutrition_and_school_meals",
	"student_mental_health",
	"equity_and_inclusion",
	"community_engagement",
	"parental_involvement",
	"college_and_career_readiness",
	"civic_and_history_education",
	"english_language_learners",
	"financial_literacy",
	"educational_research_and_innovation",
	"facilities_and_infrastructure",
	"data_and_assessment_initiatives",
	"transportation_and_accessibility",
	CategoryOther,
}

var categorySet = func() map[Category]struct{} {
	m := make(map[Category]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

// ParseCategory accepts taxonomy members regardless of case or separator style
// ("Other", "STEM Education", "stem-education").
func ParseCategory(s string) (Category, bool) {
	c := Category(normalizeEnum(s))
	if _, ok := categorySet[c]; ok {
		return c, true
	}
	return "", false
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}
