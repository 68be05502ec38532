package contract

import (
	"strings"
	"time"
)

type FileKind string

const (
	FileKindPDF  FileKind = "pdf"
	FileKindText FileKind = "text"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAnalyzed   Status = "analyzed"
	StatusFailed     Status = "failed"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func ValidRiskLevel(l RiskLevel) bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

type MarketPosition string

const (
	PositionFavorable   MarketPosition = "favorable"
	PositionAverage     MarketPosition = "average"
	PositionUnfavorable MarketPosition = "unfavorable"
)

func ValidMarketPosition(p MarketPosition) bool {
	switch p {
	case PositionFavorable, PositionAverage, PositionUnfavorable:
		return true
	}
	return false
}

type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type KeyDate struct {
	DateType    string    `json:"date_type"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

type FinancialTerm struct {
	Kind        string  `json:"kind"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

type Clause struct {
	ClauseType string `json:"clause_type"`
	Content    string `json:"content"`
	Importance string `json:"importance"`
}

type Risk struct {
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

type ComplianceIssue struct {
	Standard string `json:"standard"`
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

type PricingAnalysis struct {
	MarketPosition  MarketPosition `json:"market_position"`
	Recommendations []string       `json:"recommendations"`
	ComparableTerms []string       `json:"comparable_terms"`
}

type SimilarContract struct {
	ContractID      string   `json:"contract_id"`
	Similarity      float64  `json:"similarity"`
	MatchedFeatures []string `json:"matched_features"`
}

// Intelligence groups the entity arrays produced by the extraction stage.
type Intelligence struct {
	Parties        []Party         `json:"parties"`
	KeyDates       []KeyDate       `json:"key_dates"`
	FinancialTerms []FinancialTerm `json:"financial_terms"`
	Clauses        []Clause        `json:"clauses"`
}

// Record is the persisted per-document contract analysis state.
// Slice fields are never nil once the record exists; EnsureDefaults
// normalizes records loaded from storage or built by callers.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title            string   `json:"title"`
	OriginalFilename string   `json:"original_filename"`
	StoragePath      string   `json:"storage_path"`
	FileKind         FileKind `json:"file_kind"`
	Text             string   `json:"text"`

	Status Status `json:"status"`

	Parties        []Party         `json:"parties"`
	KeyDates       []KeyDate       `json:"key_dates"`
	FinancialTerms []FinancialTerm `json:"financial_terms"`
	Clauses        []Clause        `json:"clauses"`

	RiskLevel RiskLevel `json:"risk_level,omitempty"`
	Risks     []Risk    `json:"risks"`

	ComplianceScore  *int              `json:"compliance_score,omitempty"`
	ComplianceIssues []ComplianceIssue `json:"compliance_issues"`

	Pricing          *PricingAnalysis  `json:"pricing,omitempty"`
	SimilarContracts []SimilarContract `json:"similar_contracts"`

	AnalysisDate    *time.Time    `json:"ai_analysis_date,omitempty"`
	ConfidenceScore float64       `json:"ai_confidence_score"`
	ProcessingTime  time.Duration `json:"ai_processing_ms"`
	LastError       string        `json:"last_error,omitempty"`
	ErrorCount      int           `json:"error_count"`
}

func (r *Record) EnsureDefaults() {
	if r.Parties == nil {
		r.Parties = []Party{}
	}
	if r.KeyDates == nil {
		r.KeyDates = []KeyDate{}
	}
	if r.FinancialTerms == nil {
		r.FinancialTerms = []FinancialTerm{}
	}
	if r.Clauses == nil {
		r.Clauses = []Clause{}
	}
	if r.Risks == nil {
		r.Risks = []Risk{}
	}
	if r.ComplianceIssues == nil {
		r.ComplianceIssues = []ComplianceIssue{}
	}
	if r.SimilarContracts == nil {
		r.SimilarContracts = []SimilarContract{}
	}
}

// Intelligence returns the record's extracted entity arrays as one value,
// the shape the risk and compliance stages consume.
func (r *Record) Intelligence() Intelligence {
	return Intelligence{
		Parties:        r.Parties,
		KeyDates:       r.KeyDates,
		FinancialTerms: r.FinancialTerms,
		Clauses:        r.Clauses,
	}
}

func KindForFilename(name string) (FileKind, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return FileKindPDF, true
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".text"), strings.HasSuffix(lower, ".md"):
		return FileKindText, true
	}
	return "", false
}
