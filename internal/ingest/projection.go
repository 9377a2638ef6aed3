package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/david/grant-pipeline/internal/models"
)

// Project renders the labeled plain-text view of an opportunity used for search
// and embeddings. It is derived entirely from the record's current fields.
func Project(o *models.Opportunity) string {
	var b strings.Builder
	line := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	money := func(v *int64) string {
		if v == nil {
			return ""
		}
		return "$" + strconv.FormatInt(*v, 10)
	}

	line("Title", o.Title)
	line("Source", o.Source)
	line("Agency", o.Agency)
	line("State", o.StateCode)
	if o.FundingType != nil {
		line("Funding Type", string(*o.FundingType))
	}
	line("Funding Instrument", o.FundingInstrument)
	if len(o.Category) > 0 {
		cats := make([]string, len(o.Category))
		for i, c := range o.Category {
			cats[i] = string(c)
		}
		line("Category", strings.Join(cats, ", "))
	}
	if o.FiscalYear != nil {
		line("Fiscal Year", strconv.Itoa(*o.FiscalYear))
	}
	line("Post Date", FormatDate(o.PostDate))
	line("Close Date", FormatDate(o.CloseDate))
	line("Archive Date", FormatDate(o.ArchiveDate))
	line("Award Minimum", money(o.AwardMin))
	line("Award Maximum", money(o.AwardMax))
	line("Total Funding", money(o.TotalFundingAmount))
	if o.CostSharing != nil {
		line("Cost Sharing", strconv.FormatBool(*o.CostSharing))
	}
	line("Summary", o.DescriptionSummary)
	line("Description", o.Description)
	line("Eligibility Summary", o.EligibilitySummary)
	line("Eligibility", o.Eligibility)
	line("Contact", strings.Join(nonEmpty(o.ContactName, o.ContactEmail, o.ContactPhone), ", "))
	if o.RelevanceScore != nil {
		line("Relevance", strconv.Itoa(*o.RelevanceScore))
	}
	for _, a := range o.Attachments {
		line("Attachment", strings.TrimSpace(a.Name+" "+a.URL))
	}
	if len(o.Extra) > 0 {
		keys := make([]string, 0, len(o.Extra))
		for k := range o.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line(k, extraValue(o.Extra[k]))
		}
	}
	line("URL", o.URL)
	line("Solicitation", o.SolicitationURL)

	return strings.TrimRight(b.String(), "\n")
}

func extraValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
