//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clauselens/clauselens/internal/analysis"
	"github.com/clauselens/clauselens/internal/contract"
	"github.com/clauselens/clauselens/internal/extract"
	"github.com/clauselens/clauselens/internal/httpapi"
	"github.com/clauselens/clauselens/internal/notify"
	"github.com/clauselens/clauselens/internal/store"
)

// scriptedClient returns canned stage responses keyed on the prompt text, so
// the full pipeline runs without a live completion endpoint.
type scriptedClient struct{}

func (scriptedClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	switch {
	case strings.Contains(prompt, "Extract the key entities"):
		return `{
			"parties": [{"name": "Acme Corp", "role": "vendor"}, {"name": "Beta LLC", "role": "customer"}],
			"key_dates": [{"date_type": "renewal", "date": "2099-01-01", "description": "auto-renew"}],
			"financial_terms": [{"kind": "fee", "amount": 2500, "currency": "USD", "description": "monthly"}],
			"clauses": [{"clause_type": "termination", "content": "Either party may terminate with 30 days notice.", "importance": "high"}],
			"confidence": 0.9
		}`, nil
	case strings.Contains(prompt, "Assess the legal and commercial risks"):
		return `{"risk_level": "medium", "risks": [{"category": "liability", "severity": "medium", "description": "no cap", "recommendation": "add cap"}], "confidence": 0.8}`, nil
	case strings.Contains(prompt, "regulatory and policy compliance"):
		return `{"compliance_score": 77, "issues": [], "confidence": 0.7}`, nil
	case strings.Contains(prompt, "pricing and financial terms"):
		return `{"market_position": "average", "recommendations": ["benchmark annually"], "comparable_terms": [], "confidence": 0.6}`, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

func TestE2EContractAnalysis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	dispatcher := notify.NewDispatcher(nil)
	pipeline := analysis.NewPipeline(st, analysis.NewStages(scriptedClient{}), dispatcher)
	svc := analysis.NewService(pipeline, st)

	handler := httpapi.NewServer(httpapi.Config{
		Store:     st,
		Stats:     st,
		Analyzer:  svc,
		Extractor: extract.New(),
		DataDir:   t.TempDir(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Close()
	base := "http://" + ln.Addr().String()

	// --- 1. Upload a contract ---
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "msa.txt")
	io.WriteString(fw, "This Master Services Agreement covers termination, payment, and liability obligations between Acme Corp and Beta LLC.")
	mw.WriteField("title", "Acme MSA")
	mw.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/contracts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var uploaded struct {
		Contract contract.Record `json:"contract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 201 || uploaded.Contract.ID == "" {
		t.Fatalf("upload failed: status=%d record=%+v", resp.StatusCode, uploaded.Contract)
	}
	id := uploaded.Contract.ID

	// --- 2. Run analysis ---
	req, _ = http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/contracts/"+id+"/analyze", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var analyzed struct {
		Contract contract.Record `json:"contract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&analyzed); err != nil {
		t.Fatalf("decode analyze: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("analyze status: %d", resp.StatusCode)
	}
	rec := analyzed.Contract
	if rec.Status != contract.StatusAnalyzed {
		t.Fatalf("expected analyzed, got %q", rec.Status)
	}
	if rec.RiskLevel != contract.RiskMedium {
		t.Fatalf("unexpected risk level: %q", rec.RiskLevel)
	}
	if rec.ComplianceScore == nil || *rec.ComplianceScore != 77 {
		t.Fatalf("unexpected compliance score: %v", rec.ComplianceScore)
	}
	if rec.Pricing == nil || rec.Pricing.MarketPosition != contract.PositionAverage {
		t.Fatalf("unexpected pricing: %+v", rec.Pricing)
	}
	want := (0.9 + 0.8 + 0.7) / 3
	if diff := rec.ConfidenceScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("confidence: got %v want %v", rec.ConfidenceScore, want)
	}

	// --- 3. Fetch the report ---
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/contracts/"+id+"/report", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("report status: %d", resp.StatusCode)
	}
	for _, wantStr := range []string{"# Contract Analysis Report", "Acme Corp", "add cap"} {
		if !strings.Contains(string(body), wantStr) {
			t.Fatalf("report missing %q:\n%s", wantStr, body)
		}
	}

	// --- 4. Dashboard stats reflect the analyzed record ---
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/dashboard/stats", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats analysis.DashboardStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if stats.TotalContracts != 1 || stats.AnalyzedContracts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	dispatcher.Wait()
}
