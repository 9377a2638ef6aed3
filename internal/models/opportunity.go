package models

import (
	"time"
)

// NaturalKey identifies an opportunity across repeated crawls.
type NaturalKey struct {
	Source        string `json:"source"`
	SourceGrantID string `json:"source_grant_id"`
}

func (k NaturalKey) String() string {
	return k.Source + "/" + k.SourceGrantID
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Opportunity is a single funding/grant posting as stored in the opportunities table.
// Empty strings are stored as NULL.
type Opportunity struct {
	ID                 int64          `json:"id"`
	Source             string         `json:"source"`
	SourceGrantID      string         `json:"source_grant_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	DescriptionSummary string         `json:"description_summary"`
	Agency             string         `json:"agency"`
	Category           []Category     `json:"category"`
	FundingInstrument  string         `json:"funding_instrument"`
	FundingType        *FundingType   `json:"funding_type"`
	StateCode          string         `json:"state_code"`
	AwardMin           *int64         `json:"award_min"`
	AwardMax           *int64         `json:"award_max"`
	TotalFundingAmount *int64         `json:"total_funding_amount"`
	FiscalYear         *int           `json:"fiscal_year"`
	PostDate           *time.Time     `json:"post_date"`
	CloseDate          *time.Time     `json:"close_date"`
	ArchiveDate        *time.Time     `json:"archive_date"`
	LastUpdated        *time.Time     `json:"last_updated"`
	Eligibility        string         `json:"eligibility"`
	EligibilitySummary string         `json:"eligibility_summary"`
	ContactName        string         `json:"contact_name"`
	ContactEmail       string         `json:"contact_email"`
	ContactPhone       string         `json:"contact_phone"`
	CostSharing        *bool          `json:"cost_sharing"`
	RelevanceScore     *int           `json:"relevance_score"`
	Attachments        []Attachment   `json:"attachments"`
	Extra              map[string]any `json:"extra"`
	ContentHash        string         `json:"content_hash"`
	Status             Status         `json:"status"`
	URL                string         `json:"url"`
	SolicitationURL    string         `json:"solicitation_url"`
	Services           []Service      `json:"services"`
	RawText            string         `json:"raw_text"`
	Embedding          []float32      `json:"-"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (o *Opportunity) Key() NaturalKey {
	return NaturalKey{Source: o.Source, SourceGrantID: o.SourceGrantID}
}
