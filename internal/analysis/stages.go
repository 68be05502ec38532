package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clauselens/clauselens/internal/contract"
	"github.com/clauselens/clauselens/internal/llmjson"
)

const (
	// MaxStageInputChars caps the contract text sent to the risk and
	// compliance stages. Cost/latency bound; truncation happens here in the
	// stage client, never in the parser. Intelligence extraction always gets
	// the full text since entities may appear anywhere.
	MaxStageInputChars = 15000

	stageMaxTokens = 4096
)

// StageOutcome reports how a stage run went. OK=false means the returned data
// is the stage's static fallback and Err holds the cause.
type StageOutcome struct {
	OK         bool
	Confidence float64
	Err        error
}

// StageRunner is the set of analysis stages the pipeline sequences.
type StageRunner interface {
	ExtractIntelligence(ctx context.Context, text, title string) (contract.Intelligence, StageOutcome)
	AssessRisk(ctx context.Context, text string, intel contract.Intelligence) (contract.RiskLevel, []contract.Risk, StageOutcome)
	CheckCompliance(ctx context.Context, text string, intel contract.Intelligence) (int, []contract.ComplianceIssue, StageOutcome)
	AnalyzePricing(ctx context.Context, text string, terms []contract.FinancialTerm) (contract.PricingAnalysis, StageOutcome)
}

// Stages runs each analysis stage against the completion capability. A nil
// client means the capability is unavailable: every stage returns its
// fallback immediately without attempting a call.
type Stages struct {
	client CompletionClient
}

func NewStages(client CompletionClient) *Stages {
	return &Stages{client: client}
}

var _ StageRunner = (*Stages)(nil)

const intelligenceSchemaPrompt = `Required JSON schema:
{
  "parties": [{"name": "string", "role": "string"}],
  "key_dates": [{"date_type": "string", "date": "YYYY-MM-DD", "description": "string"}],
  "financial_terms": [{"kind": "string", "amount": "number (non-negative)", "currency": "string", "description": "string"}],
  "clauses": [{"clause_type": "string", "content": "string", "importance": "high | medium | low"}],
  "confidence": "float (0.0-1.0)"
}`

const riskSchemaPrompt = `Required JSON schema:
{
  "risk_level": "low | medium | high | critical",
  "risks": [{"category": "string", "severity": "low | medium | high | critical", "description": "string", "recommendation": "string"}],
  "confidence": "float (0.0-1.0)"
}`

const complianceSchemaPrompt = `Required JSON schema:
{
  "compliance_score": "integer (0-100)",
  "issues": [{"standard": "string", "issue": "string", "severity": "low | medium | high"}],
  "confidence": "float (0.0-1.0)"
}`

const pricingSchemaPrompt = `Required JSON schema:
{
  "market_position": "favorable | average | unfavorable",
  "recommendations": ["string"],
  "comparable_terms": ["string"],
  "confidence": "float (0.0-1.0)"
}`

// --- wire types ---

// flexAmount tolerates numeric strings from the model. Malformed numeric text
// is marked invalid and the owning term is dropped before storage.
type flexAmount float64

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = flexAmount(math.NaN())
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "$")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexAmount(math.NaN())
		return nil
	}
	*f = flexAmount(v)
	return nil
}

type wireParty struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type wireKeyDate struct {
	DateType    string `json:"date_type"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

type wireFinancialTerm struct {
	Kind        string     `json:"kind"`
	Amount      flexAmount `json:"amount"`
	Currency    string     `json:"currency"`
	Description string     `json:"description"`
}

type wireClause struct {
	ClauseType string `json:"clause_type"`
	Content    string `json:"content"`
	Importance string `json:"importance"`
}

type intelligenceOutput struct {
	Parties        []wireParty         `json:"parties"`
	KeyDates       []wireKeyDate       `json:"key_dates"`
	FinancialTerms []wireFinancialTerm `json:"financial_terms"`
	Clauses        []wireClause        `json:"clauses"`
	Confidence     float64             `json:"confidence"`
}

type riskOutput struct {
	RiskLevel  string          `json:"risk_level"`
	Risks      []contract.Risk `json:"risks"`
	Confidence float64         `json:"confidence"`
}

type complianceOutput struct {
	ComplianceScore int                        `json:"compliance_score"`
	Issues          []contract.ComplianceIssue `json:"issues"`
	Confidence      float64                    `json:"confidence"`
}

type pricingOutput struct {
	MarketPosition  string   `json:"market_position"`
	Recommendations []string `json:"recommendations"`
	ComparableTerms []string `json:"comparable_terms"`
	Confidence      float64  `json:"confidence"`
}

// --- stage runs ---

func (s *Stages) run(ctx context.Context, stageName, prompt string, out any) error {
	if s.client == nil {
		return contract.NewError(contract.CodeCapabilityUnavailable, "%s: completion capability not configured", stageName)
	}
	raw, err := s.client.Complete(ctx, prompt, stageMaxTokens)
	if err != nil {
		return fmt.Errorf("%s: %w", stageName, err)
	}
	if err := llmjson.Decode(raw, out); err != nil {
		return contract.NewError(contract.CodeParseError, "%s: %v", stageName, err)
	}
	return nil
}

func (s *Stages) ExtractIntelligence(ctx context.Context, text, title string) (contract.Intelligence, StageOutcome) {
	fallback := contract.Intelligence{
		Parties:        []contract.Party{},
		KeyDates:       []contract.KeyDate{},
		FinancialTerms: []contract.FinancialTerm{},
		Clauses:        []contract.Clause{},
	}
	prompt := fmt.Sprintf(
		"Extract the key entities from this contract.\n\n%s\n\nContract title: %s\n\nContract text:\n%s",
		intelligenceSchemaPrompt, title, text,
	)
	out := intelligenceOutput{}
	if err := s.run(ctx, "intelligence", prompt, &out); err != nil {
		return fallback, StageOutcome{Err: err}
	}
	intel := convertIntelligence(out)
	return intel, StageOutcome{OK: true, Confidence: clampUnit(out.Confidence)}
}

func (s *Stages) AssessRisk(ctx context.Context, text string, intel contract.Intelligence) (contract.RiskLevel, []contract.Risk, StageOutcome) {
	prompt := fmt.Sprintf(
		"Assess the legal and commercial risks in this contract.\n\n%s\n\nExtracted entities:\n%s\n\nContract text:\n%s",
		riskSchemaPrompt, intelSummary(intel), truncate(text, MaxStageInputChars),
	)
	out := riskOutput{}
	if err := s.run(ctx, "risk", prompt, &out); err != nil {
		return "", []contract.Risk{}, StageOutcome{Err: err}
	}
	level := contract.RiskLevel(strings.ToLower(strings.TrimSpace(out.RiskLevel)))
	if !contract.ValidRiskLevel(level) {
		err := contract.NewError(contract.CodeValidation, "risk: invalid risk_level %q", out.RiskLevel)
		return "", []contract.Risk{}, StageOutcome{Err: err}
	}
	risks := out.Risks
	if risks == nil {
		risks = []contract.Risk{}
	}
	return level, risks, StageOutcome{OK: true, Confidence: clampUnit(out.Confidence)}
}

func (s *Stages) CheckCompliance(ctx context.Context, text string, intel contract.Intelligence) (int, []contract.ComplianceIssue, StageOutcome) {
	prompt := fmt.Sprintf(
		"Check this contract for regulatory and policy compliance issues.\n\n%s\n\nExtracted entities:\n%s\n\nContract text:\n%s",
		complianceSchemaPrompt, intelSummary(intel), truncate(text, MaxStageInputChars),
	)
	out := complianceOutput{}
	if err := s.run(ctx, "compliance", prompt, &out); err != nil {
		return 0, []contract.ComplianceIssue{}, StageOutcome{Err: err}
	}
	if out.ComplianceScore < 0 || out.ComplianceScore > 100 {
		err := contract.NewError(contract.CodeValidation, "compliance: score %d out of range", out.ComplianceScore)
		return 0, []contract.ComplianceIssue{}, StageOutcome{Err: err}
	}
	issues := out.Issues
	if issues == nil {
		issues = []contract.ComplianceIssue{}
	}
	return out.ComplianceScore, issues, StageOutcome{OK: true, Confidence: clampUnit(out.Confidence)}
}

func (s *Stages) AnalyzePricing(ctx context.Context, text string, terms []contract.FinancialTerm) (contract.PricingAnalysis, StageOutcome) {
	fallback := contract.PricingAnalysis{
		MarketPosition:  contract.PositionAverage,
		Recommendations: []string{},
		ComparableTerms: []string{},
	}
	termsJSON, _ := json.Marshal(terms)
	prompt := fmt.Sprintf(
		"Evaluate the pricing and financial terms of this contract against market norms.\n\n%s\n\nFinancial terms:\n%s\n\nContract text:\n%s",
		pricingSchemaPrompt, string(termsJSON), truncate(text, MaxStageInputChars),
	)
	out := pricingOutput{}
	if err := s.run(ctx, "pricing", prompt, &out); err != nil {
		return fallback, StageOutcome{Err: err}
	}
	position := contract.MarketPosition(strings.ToLower(strings.TrimSpace(out.MarketPosition)))
	if !contract.ValidMarketPosition(position) {
		err := contract.NewError(contract.CodeValidation, "pricing: invalid market_position %q", out.MarketPosition)
		return fallback, StageOutcome{Err: err}
	}
	analysis := contract.PricingAnalysis{
		MarketPosition:  position,
		Recommendations: nonNil(out.Recommendations),
		ComparableTerms: nonNil(out.ComparableTerms),
	}
	return analysis, StageOutcome{OK: true, Confidence: clampUnit(out.Confidence)}
}

// --- conversion and helpers ---

var keyDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"January 2, 2006",
	"01/02/2006",
}

func convertIntelligence(out intelligenceOutput) contract.Intelligence {
	intel := contract.Intelligence{
		Parties:        []contract.Party{},
		KeyDates:       []contract.KeyDate{},
		FinancialTerms: []contract.FinancialTerm{},
		Clauses:        []contract.Clause{},
	}
	for _, p := range out.Parties {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		intel.Parties = append(intel.Parties, contract.Party{Name: name, Role: strings.TrimSpace(p.Role)})
	}
	for _, d := range out.KeyDates {
		parsed, ok := parseKeyDate(d.Date)
		if !ok {
			continue
		}
		intel.KeyDates = append(intel.KeyDates, contract.KeyDate{
			DateType:    strings.TrimSpace(d.DateType),
			Date:        parsed,
			Description: strings.TrimSpace(d.Description),
		})
	}
	for _, t := range out.FinancialTerms {
		amount := float64(t.Amount)
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
			continue
		}
		intel.FinancialTerms = append(intel.FinancialTerms, contract.FinancialTerm{
			Kind:        strings.TrimSpace(t.Kind),
			Amount:      amount,
			Currency:    strings.TrimSpace(t.Currency),
			Description: strings.TrimSpace(t.Description),
		})
	}
	for _, c := range out.Clauses {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		intel.Clauses = append(intel.Clauses, contract.Clause{
			ClauseType: strings.TrimSpace(c.ClauseType),
			Content:    content,
			Importance: strings.ToLower(strings.TrimSpace(c.Importance)),
		})
	}
	return intel
}

func parseKeyDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range keyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func intelSummary(intel contract.Intelligence) string {
	blob, err := json.Marshal(intel)
	if err != nil {
		return "{}"
	}
	return string(blob)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
