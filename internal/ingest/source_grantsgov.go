package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/david/grant-pipeline/internal/models"
)

const (
	grantsGovAPI       = "https://api.grants.gov/v1/api"
	grantsGovDetailURL = "https://www.grants.gov/search-results-detail/%s"
)

// GrantsGovSource reads the Grants.gov search2 and fetchOpportunity APIs.
type GrantsGovSource struct {
	cfg     SourceConfig
	tmpl    Template
	fetcher *HTTPFetcher
	logger  *zap.Logger
}

func newGrantsGovSource(cfg SourceConfig, fetcher *HTTPFetcher, logger *zap.Logger) (Source, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = grantsGovAPI
	}
	if len(cfg.Queries) == 0 {
		return nil, fmt.Errorf("api_grants_gov needs at least one query")
	}
	return &GrantsGovSource{cfg: cfg, tmpl: cfg.template(false), fetcher: fetcher, logger: logger}, nil
}

func (s *GrantsGovSource) ID() string         { return s.cfg.ID }
func (s *GrantsGovSource) Template() Template { return s.tmpl }

// FullListing is false: records that leave the search results are closed by the
// lifecycle sweep from their own dates.
func (s *GrantsGovSource) FullListing() bool { return false }

// grantsGovSearchResponse represents the search2 API response (wrapped in "data").
type grantsGovSearchResponse struct {
	Data struct {
		HitCount int            `json:"hitCount"`
		OppHits  []grantsGovHit `json:"oppHits"`
	} `json:"data"`
	ErrorCode int    `json:"errorcode"`
	Msg       string `json:"msg"`
}

type grantsGovHit struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Title     string `json:"title"`
	OppStatus string `json:"oppStatus"`
}

type grantsGovDetailResponse struct {
	Data      grantsGovDetail `json:"data"`
	ErrorCode int             `json:"errorcode"`
	Msg       string          `json:"msg"`
}

type grantsGovDetail struct {
	OpportunityNumber   string `json:"opportunityNumber"`
	OpportunityTitle    string `json:"opportunityTitle"`
	OpportunityCategory struct {
		Description string `json:"description"`
	} `json:"opportunityCategory"`
	AgencyDetails struct {
		AgencyName string `json:"agencyName"`
	} `json:"agencyDetails"`
	Synopsis *grantsGovNotice `json:"synopsis"`
	Forecast *grantsGovNotice `json:"forecast"`
}

// grantsGovNotice covers both the synopsis and the forecast block; they share
// most keys. Amounts and the fiscal year arrive as strings or numbers.
type grantsGovNotice struct {
	SynopsisDesc                  string `json:"synopsisDesc"`
	ForecastDesc                  string `json:"forecastDesc"`
	FiscalYear                    any    `json:"fiscalYear"`
	PostingDateStr                string `json:"postingDateStr"`
	ResponseDateStr               string `json:"responseDateStr"`
	ArchiveDateStr                string `json:"archiveDateStr"`
	EstSynopsisPostingDateStr     string `json:"estSynopsisPostingDateStr"`
	EstApplicationResponseDateStr string `json:"estApplicationResponseDateStr"`
	CostSharing                   any    `json:"costSharing"`
	ApplicantEligibilityDesc      string `json:"applicantEligibilityDesc"`
	AgencyContactName             string `json:"agencyContactName"`
	AgencyContactEmail            string `json:"agencyContactEmail"`
	AgencyContactPhone            string `json:"agencyContactPhone"`
	FundingDescLinkURL            string `json:"fundingDescLinkUrl"`
	FundingDescLinkDesc           string `json:"fundingDescLinkDesc"`
	FundingInstruments            []struct {
		Description string `json:"description"`
	} `json:"fundingInstruments"`
	AwardCeiling     any    `json:"awardCeiling"`
	AwardFloor       any    `json:"awardFloor"`
	EstimatedFunding any    `json:"estimatedFunding"`
	LastUpdatedDate  string `json:"lastUpdatedDate"`
}

// Listing runs every configured search and merges the hits by opportunity id.
func (s *GrantsGovSource) Listing(ctx context.Context) ([]ListingItem, error) {
	var items []ListingItem
	seen := make(map[string]bool)

	for i, query := range s.cfg.Queries {
		var resp grantsGovSearchResponse
		if err := s.fetcher.PostJSON(ctx, s.cfg.BaseURL+"/search2", query, &resp); err != nil {
			return nil, fmt.Errorf("search query %d: %w", i, err)
		}
		if resp.ErrorCode != 0 {
			return nil, fmt.Errorf("search query %d: API error: %s", i, resp.Msg)
		}
		s.logger.Info("search results", zap.Int("query", i), zap.Int("hits", len(resp.Data.OppHits)), zap.Int("total", resp.Data.HitCount))

		for _, hit := range resp.Data.OppHits {
			if hit.ID == "" || seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			items = append(items, ListingItem{
				ID:     hit.Number,
				Ref:    hit.ID,
				URL:    fmt.Sprintf(grantsGovDetailURL, hit.ID),
				Title:  hit.Title,
				Fields: Fields{"status": hit.OppStatus},
			})
		}
	}
	return items, nil
}

func (s *GrantsGovSource) Detail(ctx context.Context, item ListingItem) (RawRecord, error) {
	var resp grantsGovDetailResponse
	payload := map[string]any{"opportunityId": item.Ref}
	if err := s.fetcher.PostJSON(ctx, s.cfg.BaseURL+"/fetchOpportunity", payload, &resp); err != nil {
		return RawRecord{}, fmt.Errorf("fetching opportunity %s: %w", item.Ref, err)
	}
	if resp.ErrorCode != 0 {
		return RawRecord{}, fmt.Errorf("fetching opportunity %s: API error: %s", item.Ref, resp.Msg)
	}

	status, _ := item.Fields["status"].(string)
	return mapGrantsGovDetail(s.tmpl.Source, item, status, resp.Data)
}

// mapGrantsGovDetail converts one fetchOpportunity payload. Forecasts read the
// forecast block and its estimated dates; everything else reads the synopsis.
func mapGrantsGovDetail(source string, item ListingItem, status string, d grantsGovDetail) (RawRecord, error) {
	number := strings.TrimSpace(d.OpportunityNumber)
	if number == "" {
		number = item.ID
	}
	if number == "" {
		return RawRecord{}, fmt.Errorf("%w: opportunity %s has no number", ErrSkipItem, item.Ref)
	}

	forecasted := strings.EqualFold(status, string(models.StatusForecasted))
	notice := d.Synopsis
	if forecasted {
		notice = d.Forecast
	}
	if notice == nil {
		notice = &grantsGovNotice{}
	}

	fields := Fields{
		"title":  d.OpportunityTitle,
		"agency": d.AgencyDetails.AgencyName,
		"url":    item.URL,
	}
	if status != "" {
		fields["status"] = status
	}
	if len(notice.FundingInstruments) > 0 {
		fields["funding_instrument"] = notice.FundingInstruments[0].Description
	}

	if forecasted {
		fields["description"] = notice.ForecastDesc
		fields["post_date"] = notice.EstSynopsisPostingDateStr
		fields["close_date"] = notice.EstApplicationResponseDateStr
	} else {
		fields["description"] = notice.SynopsisDesc
		fields["post_date"] = notice.PostingDateStr
		fields["close_date"] = notice.ResponseDateStr
		fields["archive_date"] = notice.ArchiveDateStr
	}
	fields["fiscal_year"] = notice.FiscalYear
	fields["cost_sharing"] = notice.CostSharing
	fields["eligibility"] = notice.ApplicantEligibilityDesc
	fields["contact_name"] = notice.AgencyContactName
	fields["contact_email"] = notice.AgencyContactEmail
	fields["contact_phone"] = notice.AgencyContactPhone
	fields["award_max"] = notice.AwardCeiling
	fields["award_min"] = notice.AwardFloor
	fields["total_funding_amount"] = notice.EstimatedFunding

	var attachments []models.Attachment
	if notice.FundingDescLinkURL != "" && notice.FundingDescLinkDesc != "" {
		attachments = append(attachments, models.Attachment{Name: notice.FundingDescLinkDesc, URL: notice.FundingDescLinkURL})
	}
	fields["attachments"] = attachments

	aiInput := map[string]any{
		"opportunity_number":   number,
		"funding_category":     d.OpportunityCategory.Description,
		"award_ceiling":        notice.AwardCeiling,
		"award_floor":          notice.AwardFloor,
		"total_funding_amount": notice.EstimatedFunding,
	}
	for _, k := range []string{
		"title", "funding_instrument", "description", "agency", "post_date", "close_date",
		"archive_date", "fiscal_year", "contact_name", "contact_email", "contact_phone",
		"cost_sharing", "eligibility",
	} {
		if v, ok := fields[k]; ok {
			aiInput[k] = v
		}
	}
	aiInput["attachments"] = attachments

	return RawRecord{
		Key:         models.NaturalKey{Source: source, SourceGrantID: number},
		URL:         item.URL,
		Fields:      fields,
		LastUpdated: notice.LastUpdatedDate,
		AIInput:     aiInput,
	}, nil
}
