package domain

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NameRegexp matches every deployed function name (spec §8 "Name shape").
var NameRegexp = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,16}-\d{2}(-\d{2})?$`)

// QueryCode truncates a Blake2b-256 digest of sql to 16 hex characters, the
// "query-code" component of a stage name (spec §3, §8 scenario 6).
func QueryCode(sql string) string {
	sum := blake2b.Sum256([]byte(sql))
	return fmt.Sprintf("%x", sum)[:16]
}

// StageName builds a stage's deployed function name: "<query-code>-<plan-
// index>-<group-index>" when groupIndex >= 0, otherwise "<query-code>-
// <plan-index>" (spec §3). planIndex must be in [0, 99].
func StageName(queryCode string, planIndex int, groupIndex int) string {
	if groupIndex >= 0 {
		return fmt.Sprintf("%s-%02d-%02d", queryCode, planIndex, groupIndex)
	}
	return fmt.Sprintf("%s-%02d", queryCode, planIndex)
}

// IsAggregatorName reports whether name has two dashes after the query
// code, i.e. designates an aggregator stage (spec §3). A name with one
// dash designates a partitioned stage.
func IsAggregatorName(name string) bool {
	return strings.Count(name, "-") >= 2
}

// ValidateName checks name against NameRegexp.
func ValidateName(name string) error {
	if !NameRegexp.MatchString(name) {
		return fmt.Errorf("invalid stage name %q: must match %s", name, NameRegexp.String())
	}
	return nil
}
