/**
 * @description
 * This file implements the duplicate account detector & merger: a
 * standalone maintenance operation that scans all stored accounts, finds
 * pairs that are duplicates of each other (having slipped past per-batch
 * reconciliation, e.g. because two collection jobs produced slightly
 * different business keys), and produces a reviewable mutation plan merging
 * the loser into the winner.
 *
 * @notes
 * - Winner selection: the account with strictly more transactions wins;
 *   ties resolve to the lexicographically smaller store id, so the outcome
 *   is deterministic regardless of input order.
 * - Only the loser's transactions dated strictly after the winner's split
 *   date are reassigned. The rest duplicate history the winner already
 *   holds; re-attaching them would violate the no-duplicates invariant.
 *   They become orphans once the loser is deleted and are handled by the
 *   DeleteOrphanTransactions maintenance operation.
 * - Dry run (the default) renders each plan for human review without
 *   touching the store. Execution applies toUpdate then toDelete per pair;
 *   a failure on one pair is isolated and reported, other pairs proceed.
 */

package merge

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/ledgerbridge/reconciliation-service/internal/domain"
	"github.com/ledgerbridge/reconciliation-service/internal/store"
)

// PairError reports a failure applying one merge plan.
type PairError struct {
	Winner domain.Account
	Loser  domain.Account
	Err    error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("merge %s into %s: %v", e.Loser.StoreID, e.Winner.StoreID, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// Merger runs duplicate detection and merging over the whole store.
type Merger struct {
	accounts     *store.Doctype
	transactions *store.Doctype
	groups       *store.Doctype
	fuzzy        FuzzyMatcher
}

func NewMerger(accounts, transactions, groups *store.Doctype, fuzzy FuzzyMatcher) *Merger {
	return &Merger{
		accounts:     accounts,
		transactions: transactions,
		groups:       groups,
		fuzzy:        fuzzy,
	}
}

// dataset is one consistent snapshot of the collections the merger needs.
type dataset struct {
	accounts        []domain.Account
	txByAccount     map[string][]domain.Transaction
	groupsByAccount map[string][]domain.Group
}

func (m *Merger) fetchData(ctx context.Context) (*dataset, error) {
	accountDocs, err := m.accounts.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	accounts, err := store.FromDocs[domain.Account](accountDocs)
	if err != nil {
		return nil, err
	}

	txDocs, err := m.transactions.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	transactions, err := store.FromDocs[domain.Transaction](txDocs)
	if err != nil {
		return nil, err
	}

	groupDocs, err := m.groups.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	groups, err := store.FromDocs[domain.Group](groupDocs)
	if err != nil {
		return nil, err
	}

	data := &dataset{
		accounts:        accounts,
		txByAccount:     make(map[string][]domain.Transaction),
		groupsByAccount: make(map[string][]domain.Group),
	}
	for _, tx := range transactions {
		data.txByAccount[tx.Account] = append(data.txByAccount[tx.Account], tx)
	}
	for _, group := range groups {
		for _, accID := range group.Accounts {
			data.groupsByAccount[accID] = append(data.groupsByAccount[accID], group)
		}
	}
	return data, nil
}

// WinnerLoser orders a matched pair: more transactions wins, ties go to
// the lexicographically smaller store id.
func WinnerLoser(a, b domain.Account, txByAccount map[string][]domain.Transaction) (winner, loser domain.Account) {
	ca, cb := len(txByAccount[a.StoreID]), len(txByAccount[b.StoreID])
	switch {
	case ca > cb:
		return a, b
	case cb > ca:
		return b, a
	case a.StoreID <= b.StoreID:
		return a, b
	default:
		return b, a
	}
}

// findMergeablePairs walks the accounts, claiming each at most once, and
// separates strict matches (mergeable) from fuzzy-only ones (manual
// review).
func (m *Merger) findMergeablePairs(data *dataset) (pairs [][2]domain.Account, review []domain.ReviewCandidate) {
	// Deterministic scan order regardless of store iteration order.
	accounts := append([]domain.Account{}, data.accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].StoreID < accounts[j].StoreID })

	matched := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		if matched[account.StoreID] {
			continue
		}
		candidates := make([]domain.Account, 0, len(accounts)-1)
		for _, other := range accounts {
			if other.StoreID == account.StoreID || matched[other.StoreID] {
				continue
			}
			candidates = append(candidates, other)
		}

		result := MatchOne(account, candidates, m.fuzzy)
		if result == nil {
			continue
		}
		matched[account.StoreID] = true
		matched[result.Other.StoreID] = true

		if IsStrictMethod(result.Method) {
			winner, loser := WinnerLoser(account, result.Other, data.txByAccount)
			pairs = append(pairs, [2]domain.Account{winner, loser})
		} else {
			review = append(review, domain.ReviewCandidate{
				Account: account,
				Match:   result.Other,
				Method:  result.Method,
			})
		}
	}
	return pairs, review
}

// BuildMergeMutation constructs the plan for one (winner, loser) pair: the
// loser's transactions dated strictly after the winner's split date are
// reassigned to the winner, groups referencing the loser are rewritten, and
// the loser is deleted.
func BuildMergeMutation(winner, loser domain.Account, txByAccount map[string][]domain.Transaction, groupsByAccount map[string][]domain.Group) domain.MergeMutation {
	splitDay := ""
	for _, tx := range txByAccount[winner.StoreID] {
		if day, ok := domain.Day(tx.EffectiveDate()); ok && day > splitDay {
			splitDay = day
		}
	}

	mutation := domain.MergeMutation{Winner: winner, Loser: loser}
	for _, tx := range txByAccount[loser.StoreID] {
		after, ok := domain.DayAfter(tx.EffectiveDate(), splitDay)
		if !ok {
			log.Printf("level=warn component=merger msg=\"transaction date could not be parsed; not migrated\" transaction_id=%s date=%q", tx.StoreID, tx.EffectiveDate())
			continue
		}
		if !after {
			continue
		}
		tx.Account = winner.StoreID
		mutation.ToUpdate.Transactions = append(mutation.ToUpdate.Transactions, tx)
	}

	seen := make(map[string]bool)
	for _, group := range groupsByAccount[loser.StoreID] {
		if seen[group.StoreID] {
			continue
		}
		seen[group.StoreID] = true
		if group.ReplaceAccountRef(loser.StoreID, winner.StoreID) {
			mutation.ToUpdate.Groups = append(mutation.ToUpdate.Groups, group)
		}
	}

	mutation.ToDelete.Accounts = append(mutation.ToDelete.Accounts, loser)
	return mutation
}

func shortFmt(account domain.Account, txByAccount map[string][]domain.Transaction) string {
	currency := account.Currency
	if currency == "" {
		currency = "EUR"
	}
	return fmt.Sprintf("%s (%dops) (%d%s)",
		account.Label, len(txByAccount[account.StoreID]), account.ReportedBalance(), currency)
}

// display renders one plan for human review. This is the primary review
// surface before a destructive merge is executed.
func display(mutation domain.MergeMutation, txByAccount map[string][]domain.Transaction) {
	log.Printf("level=info component=merger mode=dry_run msg=\"would merge\" loser=%q winner=%q",
		shortFmt(mutation.Loser, txByAccount), shortFmt(mutation.Winner, txByAccount))
	if n := len(mutation.ToUpdate.Transactions); n > 0 {
		minDay, maxDay := "", ""
		for _, tx := range mutation.ToUpdate.Transactions {
			day, ok := domain.Day(tx.EffectiveDate())
			if !ok {
				continue
			}
			if minDay == "" || day < minDay {
				minDay = day
			}
			if day > maxDay {
				maxDay = day
			}
		}
		log.Printf("level=info component=merger mode=dry_run msg=\"missed transactions to reassign\" count=%d from=%s to=%s", n, minDay, maxDay)
	}
	log.Printf("level=info component=merger mode=dry_run msg=\"plan\" update_transactions=%d update_groups=%d delete_accounts=%d",
		len(mutation.ToUpdate.Transactions), len(mutation.ToUpdate.Groups), len(mutation.ToDelete.Accounts))
}

// execute applies one plan: updates first, deletions last.
func (m *Merger) execute(ctx context.Context, mutation domain.MergeMutation) error {
	txDocs, err := store.ToDocs(mutation.ToUpdate.Transactions)
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	if err := m.transactions.BulkUpdate(ctx, txDocs); err != nil {
		return fmt.Errorf("reassign transactions: %w", err)
	}

	groupDocs, err := store.ToDocs(mutation.ToUpdate.Groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}
	if err := m.groups.BulkUpdate(ctx, groupDocs); err != nil {
		return fmt.Errorf("rewrite groups: %w", err)
	}

	for _, account := range mutation.ToDelete.Accounts {
		doc, err := store.ToDoc(account)
		if err != nil {
			return fmt.Errorf("encode account: %w", err)
		}
		if err := m.accounts.Delete(ctx, doc); err != nil {
			return fmt.Errorf("delete loser account %s: %w", account.StoreID, err)
		}
	}
	return nil
}

// Run scans the store for duplicate accounts and merges (or, in dry run,
// reports) each strict pair. Pairs are grouped and logged by institution;
// one pair's failure never aborts the others.
func (m *Merger) Run(ctx context.Context, dryRun bool) (*domain.MergeReport, error) {
	data, err := m.fetchData(ctx)
	if err != nil {
		return nil, err
	}

	pairs, review := m.findMergeablePairs(data)
	report := &domain.MergeReport{DryRun: dryRun, NeedReview: review}
	log.Printf("level=info component=merger msg=\"duplicate scan finished\" accounts=%d mergeable_pairs=%d need_review=%d dry_run=%t",
		len(data.accounts), len(pairs), len(review), dryRun)

	byInstitution := make(map[string][][2]domain.Account)
	institutions := []string{}
	for _, pair := range pairs {
		label := pair[0].InstitutionLabel
		if _, ok := byInstitution[label]; !ok {
			institutions = append(institutions, label)
		}
		byInstitution[label] = append(byInstitution[label], pair)
	}
	sort.Strings(institutions)

	for _, institution := range institutions {
		log.Printf("level=info component=merger msg=\"merging institution\" institution=%q pairs=%d", institution, len(byInstitution[institution]))
		for _, pair := range byInstitution[institution] {
			winner, loser := pair[0], pair[1]
			log.Printf("level=info component=merger msg=\"merging\" loser=%q winner=%q",
				shortFmt(loser, data.txByAccount), shortFmt(winner, data.txByAccount))

			mutation := BuildMergeMutation(winner, loser, data.txByAccount, data.groupsByAccount)
			if dryRun {
				display(mutation, data.txByAccount)
				report.Merged = append(report.Merged, mutation)
				continue
			}
			if err := m.execute(ctx, mutation); err != nil {
				pairErr := &PairError{Winner: winner, Loser: loser, Err: err}
				log.Printf("level=error component=merger msg=\"merge pair failed\" err=%v", pairErr)
				report.Errors = append(report.Errors, pairErr.Error())
				continue
			}
			report.Merged = append(report.Merged, mutation)
		}
	}
	return report, nil
}
