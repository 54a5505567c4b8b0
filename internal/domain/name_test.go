package domain

import "testing"

func TestStageNameMatchesRegexp(t *testing.T) {
	code := QueryCode("SELECT b FROM t ORDER BY b ASC LIMIT 3")
	if len(code) != 16 {
		t.Fatalf("expected 16-char query code, got %q (%d)", code, len(code))
	}

	partitioned := StageName(code, 0, -1)
	if !NameRegexp.MatchString(partitioned) {
		t.Fatalf("partitioned name %q does not match %s", partitioned, NameRegexp)
	}
	if IsAggregatorName(partitioned) {
		t.Fatalf("expected %q to be classified as partitioned, not aggregator", partitioned)
	}

	aggregator := StageName(code, 3, 7)
	if !NameRegexp.MatchString(aggregator) {
		t.Fatalf("aggregator name %q does not match %s", aggregator, NameRegexp)
	}
	if !IsAggregatorName(aggregator) {
		t.Fatalf("expected %q to be classified as aggregator", aggregator)
	}
}

func TestQueryCodeDeterministic(t *testing.T) {
	sql := "SELECT a, b FROM t"
	if QueryCode(sql) != QueryCode(sql) {
		t.Fatal("QueryCode must be deterministic for identical input")
	}
	if QueryCode(sql) == QueryCode(sql+" ") {
		t.Fatal("QueryCode should differ for differing input (found a collision)")
	}
}

func TestValidateNameRejectsMalformed(t *testing.T) {
	cases := []string{"", "toolongqueryprefixname-00", "abc-1", "abc-00-", "abc-00-1"}
	for _, c := range cases {
		if err := ValidateName(c); err == nil {
			t.Errorf("expected ValidateName(%q) to fail", c)
		}
	}
}
