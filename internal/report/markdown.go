// Package report renders a human-readable analysis report for one contract
// record: markdown first, HTML via goldmark, PDF via headless Chromium.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/clauselens/clauselens/internal/contract"
)

func BuildMarkdown(rec *contract.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Contract Analysis Report\n\n")
	fmt.Fprintf(&b, "- Contract: %s\n", rec.Title)
	fmt.Fprintf(&b, "- File: %s\n", rec.OriginalFilename)
	fmt.Fprintf(&b, "- Status: `%s`\n", rec.Status)
	if rec.AnalysisDate != nil {
		fmt.Fprintf(&b, "- Analyzed: %s\n", rec.AnalysisDate.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Confidence: %.2f\n\n", rec.ConfidenceScore)

	fmt.Fprintf(&b, "## Summary\n\n")
	if rec.RiskLevel != "" {
		fmt.Fprintf(&b, "Overall risk level: **%s**.\n", rec.RiskLevel)
	} else {
		fmt.Fprintf(&b, "Risk assessment has not produced a result yet.\n")
	}
	if rec.ComplianceScore != nil {
		fmt.Fprintf(&b, "Compliance score: **%d/100**.\n", *rec.ComplianceScore)
	}
	if rec.LastError != "" {
		fmt.Fprintf(&b, "Last analysis error: %s\n", rec.LastError)
	}
	b.WriteString("\n")

	if len(rec.Parties) > 0 {
		fmt.Fprintf(&b, "## Parties\n\n")
		fmt.Fprintf(&b, "| Name | Role |\n|---|---|\n")
		for _, p := range rec.Parties {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(p.Name), cell(p.Role))
		}
		b.WriteString("\n")
	}

	if len(rec.KeyDates) > 0 {
		fmt.Fprintf(&b, "## Key Dates\n\n")
		fmt.Fprintf(&b, "| Type | Date | Description |\n|---|---|---|\n")
		for _, d := range rec.KeyDates {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(d.DateType), d.Date.Format("2006-01-02"), cell(d.Description))
		}
		b.WriteString("\n")
	}

	if len(rec.FinancialTerms) > 0 {
		fmt.Fprintf(&b, "## Financial Terms\n\n")
		fmt.Fprintf(&b, "| Kind | Amount | Currency | Description |\n|---|---|---|---|\n")
		for _, t := range rec.FinancialTerms {
			fmt.Fprintf(&b, "| %s | %.2f | %s | %s |\n", cell(t.Kind), t.Amount, cell(t.Currency), cell(t.Description))
		}
		b.WriteString("\n")
	}

	if len(rec.Clauses) > 0 {
		fmt.Fprintf(&b, "## Clauses\n\n")
		for _, c := range rec.Clauses {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", cell(c.ClauseType), c.Importance, cell(c.Content))
		}
		b.WriteString("\n")
	}

	if len(rec.Risks) > 0 || rec.RiskLevel != "" {
		fmt.Fprintf(&b, "## Risks\n\n")
		if len(rec.Risks) == 0 {
			fmt.Fprintf(&b, "No individual risks flagged.\n")
		}
		for _, r := range rec.Risks {
			fmt.Fprintf(&b, "- **%s** [%s]: %s", cell(r.Category), r.Severity, cell(r.Description))
			if r.Recommendation != "" {
				fmt.Fprintf(&b, " Recommendation: %s", cell(r.Recommendation))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(rec.ComplianceIssues) > 0 {
		fmt.Fprintf(&b, "## Compliance Issues\n\n")
		for _, i := range rec.ComplianceIssues {
			fmt.Fprintf(&b, "- **%s** [%s]: %s\n", cell(i.Standard), i.Severity, cell(i.Issue))
		}
		b.WriteString("\n")
	}

	if rec.Pricing != nil {
		fmt.Fprintf(&b, "## Pricing\n\n")
		fmt.Fprintf(&b, "Market position: **%s**.\n\n", rec.Pricing.MarketPosition)
		for _, r := range rec.Pricing.Recommendations {
			fmt.Fprintf(&b, "- %s\n", cell(r))
		}
		for _, t := range rec.Pricing.ComparableTerms {
			fmt.Fprintf(&b, "- Comparable: %s\n", cell(t))
		}
		b.WriteString("\n")
	}

	if len(rec.SimilarContracts) > 0 {
		fmt.Fprintf(&b, "## Similar Contracts\n\n")
		fmt.Fprintf(&b, "| Contract | Similarity | Matched Features |\n|---|---|---|\n")
		for _, s := range rec.SimilarContracts {
			fmt.Fprintf(&b, "| %s | %.2f | %s |\n", s.ContractID, s.Similarity, strings.Join(s.MatchedFeatures, ", "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderHTML converts report markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return buf.String(), nil
}

// cell strips characters that would break a markdown table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
