package telemetry

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/splax/errwatch/pkg/config"
)

func TestGetStatisticsDefaultsToDayWindow(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	svc.RecordError(ErrorInput{Name: "Error", Message: "too old"}, ReportContext{})
	*clock = clock.Add(25 * time.Hour)
	svc.RecordError(ErrorInput{Name: "TypeError", Message: "x is not a function"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "TypeError", Message: "y is not a function"}, ReportContext{})

	stats := svc.GetStatistics(StatisticsQuery{})
	if stats.Summary.TimeWindow != WindowDay {
		t.Fatalf("expected default window day, got %q", stats.Summary.TimeWindow)
	}
	if stats.Summary.Total != 2 {
		t.Fatalf("expected 2 records in the day window, got %d", stats.Summary.Total)
	}
	if stats.ByType["TypeError"] != 2 {
		t.Fatalf("expected 2 TypeError, got %d", stats.ByType["TypeError"])
	}
	if stats.ByCategory[CategoryProgramming] != 2 {
		t.Fatalf("expected 2 programming, got %d", stats.ByCategory[CategoryProgramming])
	}
	if stats.ByStatusCode[500] != 2 {
		t.Fatalf("expected 2 with status 500, got %d", stats.ByStatusCode[500])
	}
}

func TestGetStatisticsUnknownWindowFallsBackToAll(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	svc.RecordError(ErrorInput{Name: "Error", Message: "ancient"}, ReportContext{})
	*clock = clock.Add(30 * 24 * time.Hour)
	svc.RecordError(ErrorInput{Name: "Error", Message: "recent"}, ReportContext{})

	stats := svc.GetStatistics(StatisticsQuery{TimeWindow: "fortnight"})
	if stats.Summary.TimeWindow != WindowAll {
		t.Fatalf("expected fallback to all, got %q", stats.Summary.TimeWindow)
	}
	if stats.Summary.Total != 2 {
		t.Fatalf("expected every buffered record, got %d", stats.Summary.Total)
	}
}

func TestGetStatisticsCategoryAndTypeFilters(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "TypeError", Message: "x is not a function"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "TimeoutError", Message: "upstream gave up"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "ReferenceError", Message: "y is not defined"}, ReportContext{})

	byCategory := svc.GetStatistics(StatisticsQuery{Category: CategoryProgramming})
	if byCategory.Summary.Total != 2 {
		t.Fatalf("expected 2 programming records, got %d", byCategory.Summary.Total)
	}

	byType := svc.GetStatistics(StatisticsQuery{Type: "TimeoutError"})
	if byType.Summary.Total != 1 {
		t.Fatalf("expected 1 TimeoutError, got %d", byType.Summary.Total)
	}
	if byType.ByCategory[CategoryTimeout] != 1 {
		t.Fatalf("expected timeout category count 1, got %d", byType.ByCategory[CategoryTimeout])
	}
}

func TestGetStatisticsErrorRatePerMinute(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	for i := 0; i < 6; i++ {
		*clock = clock.Add(time.Millisecond)
		svc.RecordError(ErrorInput{Name: "Error", Message: "boom"}, ReportContext{})
	}

	stats := svc.GetStatistics(StatisticsQuery{TimeWindow: WindowMinute})
	if math.Abs(stats.ErrorRate-6) > 1e-9 {
		t.Fatalf("expected rate 6 per minute, got %f", stats.ErrorRate)
	}
}

func TestTopErrorsRankedAndCapped(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	// 12 signatures with occurrence counts 1..12
	for sig := 0; sig < 12; sig++ {
		for n := 0; n <= sig; n++ {
			*clock = clock.Add(time.Millisecond)
			svc.RecordError(ErrorInput{
				Name:    "Error",
				Message: fmt.Sprintf("signature %02d", sig),
			}, ReportContext{})
		}
	}

	stats := svc.GetStatistics(StatisticsQuery{TimeWindow: WindowAll})
	if len(stats.TopErrors) != 10 {
		t.Fatalf("expected top list capped at 10, got %d", len(stats.TopErrors))
	}
	if stats.TopErrors[0].Message != "signature 11" || stats.TopErrors[0].Count != 12 {
		t.Fatalf("expected heaviest signature first, got %q with %d", stats.TopErrors[0].Message, stats.TopErrors[0].Count)
	}
	for i := 1; i < len(stats.TopErrors); i++ {
		if stats.TopErrors[i].Count > stats.TopErrors[i-1].Count {
			t.Fatalf("top errors not sorted descending at %d", i)
		}
	}
	for _, top := range stats.TopErrors {
		if top.Message == "signature 00" || top.Message == "signature 01" {
			t.Fatalf("expected the two lightest signatures dropped, found %q", top.Message)
		}
	}
}

func TestTopErrorsTieBreaksBySignature(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "Error", Message: "bravo"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "Error", Message: "alpha"}, ReportContext{})

	stats := svc.GetStatistics(StatisticsQuery{TimeWindow: WindowAll})
	if len(stats.TopErrors) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(stats.TopErrors))
	}
	if stats.TopErrors[0].Message != "alpha" {
		t.Fatalf("expected ties ordered by signature, got %q first", stats.TopErrors[0].Message)
	}
}

func TestRecentErrorsNewestFirstCappedAt20(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	for i := 0; i < 25; i++ {
		*clock = clock.Add(time.Second)
		svc.RecordError(ErrorInput{Name: "Error", Message: fmt.Sprintf("failure %d", i)}, ReportContext{})
	}

	stats := svc.GetStatistics(StatisticsQuery{TimeWindow: WindowAll})
	if len(stats.RecentErrors) != 20 {
		t.Fatalf("expected 20 recent errors, got %d", len(stats.RecentErrors))
	}
	if stats.RecentErrors[0].Message != "failure 24" {
		t.Fatalf("expected newest first, got %q", stats.RecentErrors[0].Message)
	}
	if stats.RecentErrors[19].Message != "failure 5" {
		t.Fatalf("expected failure 5 last, got %q", stats.RecentErrors[19].Message)
	}
}

func TestGetErrorRatesDerivedAndThresholdsEchoed(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	for i := 0; i < 6; i++ {
		*clock = clock.Add(time.Millisecond)
		svc.RecordError(ErrorInput{Name: "Error", Message: "boom"}, ReportContext{})
	}

	rates := svc.GetErrorRates()
	if rates.LastMinute != 6 || rates.LastHour != 6 || rates.LastDay != 6 {
		t.Fatalf("expected 6 in every window, got %d/%d/%d", rates.LastMinute, rates.LastHour, rates.LastDay)
	}
	if math.Abs(rates.Rates.PerMinute-0.1) > 1e-9 {
		t.Fatalf("expected perMinute 0.1, got %f", rates.Rates.PerMinute)
	}
	if math.Abs(rates.Rates.PerHour-0.25) > 1e-9 {
		t.Fatalf("expected perHour 0.25, got %f", rates.Rates.PerHour)
	}
	if rates.Thresholds.Minute != 10 || rates.Thresholds.Hour != 100 || rates.Thresholds.Day != 1000 {
		t.Fatalf("expected default thresholds echoed, got %+v", rates.Thresholds)
	}
}

func TestCheckThresholdsViolationOnlyAboveLimit(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{
		Thresholds: config.ThresholdConfig{Minute: 2, Hour: 100, Day: 1000},
	})

	for i := 0; i < 2; i++ {
		*clock = clock.Add(time.Millisecond)
		svc.RecordError(ErrorInput{Name: "Error", Message: "boom"}, ReportContext{})
	}
	report := svc.CheckThresholds()
	if report.HasViolations {
		t.Fatal("count equal to the limit must not violate")
	}
	if len(report.Violations) != 0 {
		t.Fatalf("expected no violations, got %d", len(report.Violations))
	}

	*clock = clock.Add(time.Millisecond)
	svc.RecordError(ErrorInput{Name: "Error", Message: "boom"}, ReportContext{})
	report = svc.CheckThresholds()
	if !report.HasViolations {
		t.Fatal("expected a violation above the minute limit")
	}
	if len(report.Violations) != 1 {
		t.Fatalf("expected exactly one violation, got %d", len(report.Violations))
	}
	v := report.Violations[0]
	if v.Window != "minute" || v.Level != "critical" {
		t.Fatalf("expected critical minute violation, got %+v", v)
	}
	if v.Current != 3 || v.Threshold != 2 {
		t.Fatalf("unexpected counts in violation: %+v", v)
	}
	if v.Message != "3 errors in the last minute exceeds threshold 2" {
		t.Fatalf("unexpected message %q", v.Message)
	}
}

func TestGetSimilarErrors(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	msg := "failed to connect to upstream database at port 5432"
	*clock = clock.Add(time.Second)
	ref := svc.RecordError(ErrorInput{Name: "DatabaseError", Message: msg}, ReportContext{})
	*clock = clock.Add(time.Second)
	near := svc.RecordError(ErrorInput{Name: "DatabaseError", Message: msg + " now"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "DatabaseError", Message: "disk full on /var"}, ReportContext{})
	*clock = clock.Add(time.Second)
	svc.RecordError(ErrorInput{Name: "NetworkError", Message: msg}, ReportContext{})

	similar := svc.GetSimilarErrors(ref, 0)
	if len(similar) != 1 {
		t.Fatalf("expected exactly one similar record, got %d", len(similar))
	}
	if similar[0].ID != near {
		t.Fatalf("expected %s, got %s", near, similar[0].ID)
	}
}

func TestGetSimilarErrorsRespectsLimit(t *testing.T) {
	svc, clock := newTestService(config.TelemetryConfig{})

	*clock = clock.Add(time.Second)
	ref := svc.RecordError(ErrorInput{Name: "Error", Message: "identical message"}, ReportContext{})
	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		svc.RecordError(ErrorInput{Name: "Error", Message: "identical message"}, ReportContext{})
	}

	similar := svc.GetSimilarErrors(ref, 2)
	if len(similar) != 2 {
		t.Fatalf("expected limit 2 respected, got %d", len(similar))
	}
	for _, rec := range similar {
		if rec.ID == ref {
			t.Fatal("reference record must be excluded")
		}
	}
}

func TestGetSimilarErrorsUnknownID(t *testing.T) {
	svc, _ := newTestService(config.TelemetryConfig{})
	similar := svc.GetSimilarErrors("no-such-id", 5)
	if similar == nil {
		t.Fatal("expected an empty slice, not nil")
	}
	if len(similar) != 0 {
		t.Fatalf("expected no results, got %d", len(similar))
	}
}

func TestGetErrorByIDMiss(t *testing.T) {
	svc, _ := newTestService(config.TelemetryConfig{})
	if _, ok := svc.GetErrorByID("missing"); ok {
		t.Fatal("did not expect a record")
	}
	if _, ok := svc.GetErrorByID(""); ok {
		t.Fatal("empty id must miss")
	}
}
