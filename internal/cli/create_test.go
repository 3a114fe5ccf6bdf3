package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/expstat/expstat/internal/bayesian"
	"github.com/expstat/expstat/internal/sequential"
)

func TestParsePriors(t *testing.T) {
	got, err := parsePriors([]string{"A=2:8", " B = 1.5 : 3 "})
	if err != nil {
		t.Fatalf("parsePriors failed: %v", err)
	}
	want := map[string]bayesian.Prior{
		"A": {Alpha: 2, Beta: 8},
		"B": {Alpha: 1.5, Beta: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d priors, got %d", len(want), len(got))
	}
	for label, p := range want {
		if got[label] != p {
			t.Errorf("prior %s: expected %+v, got %+v", label, p, got[label])
		}
	}
}

func TestParsePriors_Empty(t *testing.T) {
	got, err := parsePriors(nil)
	if err != nil {
		t.Fatalf("parsePriors failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil priors, got %v", got)
	}
}

func TestParsePriors_Invalid(t *testing.T) {
	tests := []string{"A", "=1:1", "A=2", "A=x:1", "A=1:y"}

	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			if _, err := parsePriors([]string{tt}); err == nil {
				t.Errorf("expected error for %q", tt)
			}
		})
	}
}

func TestParseAllocations(t *testing.T) {
	got, err := parseAllocations("50, 30%,20")
	if err != nil {
		t.Fatalf("parseAllocations failed: %v", err)
	}
	want := []float64{50, 30, 20}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if got, err := parseAllocations(""); err != nil || got != nil {
		t.Errorf("expected nil allocations for empty input, got %v, %v", got, err)
	}
	if _, err := parseAllocations("50,abc"); err == nil {
		t.Error("expected error for non-numeric allocation")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" A, B ,,C ")
	if strings.Join(got, "|") != "A|B|C" {
		t.Errorf("expected [A B C], got %v", got)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestExportCounts(t *testing.T) {
	var buf bytes.Buffer
	err := exportCounts(&buf, []jsonVariant{
		{ID: "v1", Label: "A", Assignments: 100, Conversions: 10},
		{ID: "v2", Label: "B, new", Assignments: 90, Conversions: 12},
	})
	if err != nil {
		t.Fatalf("exportCounts failed: %v", err)
	}

	want := "variant_id,label,assignments,conversions\n" +
		"v1,A,100,10\n" +
		"v2,\"B, new\",90,12\n"
	if buf.String() != want {
		t.Errorf("unexpected csv:\n%s", buf.String())
	}
}

func TestExportChecks(t *testing.T) {
	var buf bytes.Buffer
	err := exportChecks(&buf, []sequential.Snapshot{
		{CheckNumber: 1, TotalN: 200, ControlN: 100, TreatmentN: 100, ZStatistic: 1.5, Decision: sequential.Continue},
	})
	if err != nil {
		t.Fatalf("exportChecks failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[1], ",1.5,0,0,0,continue") {
		t.Errorf("unexpected row: %s", lines[1])
	}
}
