/**
 * @description
 * This file implements the account matchers of the duplicate detector. A
 * chain of exact matchers runs in priority order — app-reported original
 * number, normalized IBAN, account number, vendor id — followed by a fuzzy
 * label fallback. Only exact methods qualify a pair for automatic merging;
 * a fuzzy-only match is surfaced for manual review.
 *
 * @dependencies
 * - github.com/lithammer/fuzzysearch: normalized-label ranking for the
 *   fuzzy fallback.
 */

package merge

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
)

// Matching method identifiers. The -exact suffix marks methods eligible for
// automatic merging.
const (
	MethodOriginalNumber = "originalNumber-exact"
	MethodIBAN           = "iban-exact"
	MethodNumber         = "number-exact"
	MethodVendorID       = "vendorId-exact"
	MethodFuzzyLabel     = "label-fuzzy"
)

var strictMethods = []string{
	MethodOriginalNumber,
	MethodIBAN,
	MethodNumber,
	MethodVendorID,
}

// IsStrictMethod reports whether a match produced by this method may be
// merged automatically.
func IsStrictMethod(method string) bool {
	for _, m := range strictMethods {
		if method == m {
			return true
		}
	}
	return false
}

// Match pairs an account with the candidate it matched and the method that
// produced the match.
type Match struct {
	Account domain.Account
	Other   domain.Account
	Method  string
}

// FuzzyMatcher is the external fallback collaborator: it proposes a
// candidate by approximate comparison when no exact method matched.
type FuzzyMatcher interface {
	MatchAccount(account domain.Account, candidates []domain.Account) (domain.Account, bool)
}

// NormalizeIBAN strips spaces and upcases, so formatting differences
// between collection jobs do not defeat the exact comparison.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

type attrMatcher struct {
	method string
	value  func(domain.Account) string
}

var exactMatchers = []attrMatcher{
	{MethodOriginalNumber, func(a domain.Account) string { return a.OriginalNumber }},
	{MethodIBAN, func(a domain.Account) string { return NormalizeIBAN(a.IBAN) }},
	{MethodNumber, func(a domain.Account) string { return a.Number }},
	{MethodVendorID, func(a domain.Account) string { return a.VendorID }},
}

// MatchOne matches one account against the candidates, exact methods
// first, the fuzzy fallback last. Returns nil when nothing matched.
func MatchOne(account domain.Account, candidates []domain.Account, fallback FuzzyMatcher) *Match {
	for _, matcher := range exactMatchers {
		needle := matcher.value(account)
		if needle == "" {
			continue
		}
		for _, candidate := range candidates {
			if candidate.StoreID == account.StoreID {
				continue
			}
			if matcher.value(candidate) == needle {
				return &Match{Account: account, Other: candidate, Method: matcher.method}
			}
		}
	}

	if fallback != nil {
		if candidate, ok := fallback.MatchAccount(account, candidates); ok {
			return &Match{Account: account, Other: candidate, Method: MethodFuzzyLabel}
		}
	}
	return nil
}

// LabelFuzzyMatcher is the default fuzzy fallback: it ranks candidate
// labels within the same institution and accepts the closest one under the
// distance cap.
type LabelFuzzyMatcher struct {
	// MaxDistance caps the accepted Levenshtein distance; zero means the
	// default of 3.
	MaxDistance int
}

func (m *LabelFuzzyMatcher) MatchAccount(account domain.Account, candidates []domain.Account) (domain.Account, bool) {
	maxDistance := m.MaxDistance
	if maxDistance <= 0 {
		maxDistance = 3
	}

	needle := strings.ToLower(strings.TrimSpace(account.Label))
	if needle == "" {
		return domain.Account{}, false
	}

	best := domain.Account{}
	bestRank := maxDistance + 1
	for _, candidate := range candidates {
		if candidate.StoreID == account.StoreID {
			continue
		}
		if candidate.InstitutionLabel != account.InstitutionLabel {
			continue
		}
		rank := fuzzy.RankMatchNormalizedFold(needle, strings.ToLower(strings.TrimSpace(candidate.Label)))
		if rank < 0 || rank >= bestRank {
			continue
		}
		best = candidate
		bestRank = rank
	}
	return best, bestRank <= maxDistance && best.StoreID != ""
}
