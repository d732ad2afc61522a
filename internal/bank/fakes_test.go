//go:build unit

package bank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	constant "github.com/mysverse/worker-bank/pkg/commons/constants"
)

// ---------------------------------------------------------------------------
// fakeStore -- in-memory versioned balance store
// ---------------------------------------------------------------------------

// fakeStore implements BalanceStore with real conditional-write semantics:
// a write only lands when the presented version is still the newest one.
type fakeStore struct {
	mu       sync.Mutex
	versions map[Account][]Version
	records  map[Account]map[Version]BalanceRecord
	seq      int

	latestErr error
	readErr   error
	writeErr  error

	latestCalls int
	readCalls   int
	writeCalls  int

	// readBarrier, when set, holds every ReadBalance until all expected
	// readers arrived. Lets two Execute calls observe the same version.
	readBarrier *sync.WaitGroup
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions: make(map[Account][]Version),
		records:  make(map[Account]map[Version]BalanceRecord),
	}
}

// seed provisions an account with an initial balance at a fresh version.
func (f *fakeStore) seed(t *testing.T, account Account, balance string) {
	t.Helper()

	value, err := decimal.NewFromString(balance)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.put(account, BalanceRecord{Balance: value})
}

// put appends a new version holding record. Callers hold f.mu.
func (f *fakeStore) put(account Account, record BalanceRecord) {
	f.seq++
	version := Version(fmt.Sprintf("v%d", f.seq))

	f.versions[account] = append(f.versions[account], version)

	if f.records[account] == nil {
		f.records[account] = make(map[Version]BalanceRecord)
	}

	f.records[account][version] = record
}

func (f *fakeStore) LatestVersion(_ context.Context, account Account) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latestCalls++

	if f.latestErr != nil {
		return "", f.latestErr
	}

	versions := f.versions[account]
	if len(versions) == 0 {
		return "", fmt.Errorf("no versions for %s: %w", account, constant.ErrAccountNotProvisioned)
	}

	return versions[len(versions)-1], nil
}

func (f *fakeStore) ReadBalance(_ context.Context, account Account, version Version) (BalanceRecord, error) {
	f.mu.Lock()
	f.readCalls++
	err := f.readErr
	record, ok := f.records[account][version]
	f.mu.Unlock()

	// Barrier outside the lock so blocked readers cannot starve writers.
	if f.readBarrier != nil {
		f.readBarrier.Done()
		f.readBarrier.Wait()
	}

	if err != nil {
		return BalanceRecord{}, err
	}

	if !ok {
		return BalanceRecord{}, fmt.Errorf("version %s not found: %w", version, constant.ErrBalanceStoreUnavailable)
	}

	return record, nil
}

func (f *fakeStore) CompareAndWrite(_ context.Context, account Account, version Version, record BalanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeCalls++

	if f.writeErr != nil {
		return f.writeErr
	}

	versions := f.versions[account]
	if len(versions) == 0 || versions[len(versions)-1] != version {
		return fmt.Errorf("stale version %s: %w", version, constant.ErrBalanceVersionConflict)
	}

	f.put(account, record)

	return nil
}

// latest returns the newest balance stored for the account.
func (f *fakeStore) latest(t *testing.T, account Account) decimal.Decimal {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	versions := f.versions[account]
	require.NotEmpty(t, versions, "account %s has no versions", account)

	return f.records[account][versions[len(versions)-1]].Balance
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writeCalls
}

func (f *fakeStore) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.latestCalls + f.readCalls
}

// ---------------------------------------------------------------------------
// fakeLedger -- in-memory audit log
// ---------------------------------------------------------------------------

type fakeLedger struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]LedgerEntry
	removed []int64

	appendErr  error
	removeErr  error
	listErr    error
	discordErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[int64]LedgerEntry)}
}

func (f *fakeLedger) Append(_ context.Context, entry LedgerEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return 0, f.appendErr
	}

	f.nextID++
	entry.ID = f.nextID

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	f.entries[entry.ID] = entry

	return entry.ID, nil
}

func (f *fakeLedger) Remove(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removeErr != nil {
		return f.removeErr
	}

	// Deleting an absent entry is still success.
	delete(f.entries, id)
	f.removed = append(f.removed, id)

	return nil
}

func (f *fakeLedger) ListByAccount(_ context.Context, account Account) ([]LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.byAccountLocked(account), nil
}

func (f *fakeLedger) LatestDiscordID(_ context.Context, account Account) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.discordErr != nil {
		return nil, f.discordErr
	}

	for _, entry := range f.byAccountLocked(account) {
		if entry.DiscordID != nil {
			return entry.DiscordID, nil
		}
	}

	return nil, nil
}

// byAccountLocked returns the account's entries newest first. Callers hold
// f.mu.
func (f *fakeLedger) byAccountLocked(account Account) []LedgerEntry {
	var out []LedgerEntry

	for _, entry := range f.entries {
		if entry.UserID == account.UserID && entry.Bank == account.Bank {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}

		return out[i].ID > out[j].ID
	})

	return out
}

// rows counts the entries currently stored for the account.
func (f *fakeLedger) rows(account Account) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.byAccountLocked(account))
}

// ---------------------------------------------------------------------------
// fakeNotifier -- recording notification sink
// ---------------------------------------------------------------------------

type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	calls     []Notification
	published chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{published: make(chan struct{}, 8)}
}

func (f *fakeNotifier) Publish(_ context.Context, notification Notification) error {
	f.mu.Lock()
	f.calls = append(f.calls, notification)
	err := f.err
	f.mu.Unlock()

	f.published <- struct{}{}

	return err
}

func (f *fakeNotifier) notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Notification(nil), f.calls...)
}

// waitPublished blocks until one publish happened or the test times out.
func (f *fakeNotifier) waitPublished(t *testing.T) {
	t.Helper()

	select {
	case <-f.published:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never published")
	}
}
