package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmaloy/keydeck/internal/application"
	"github.com/dmaloy/keydeck/internal/domain/model"
)

// --- Mock implementations ---

type mockQuotaClient struct {
	mu    sync.Mutex
	calls []string
	fetch func(ctx context.Context, credential string) (model.QuotaSnapshot, error)
}

func (m *mockQuotaClient) FetchQuota(ctx context.Context, credential string) (model.QuotaSnapshot, error) {
	m.mu.Lock()
	m.calls = append(m.calls, credential)
	m.mu.Unlock()
	if m.fetch != nil {
		return m.fetch(ctx, credential)
	}
	return model.QuotaSnapshot{ExpiryDate: "12/31", TotalQuota: 1000, UsedQuota: 100, OwnerEmail: "owner@example.com"}, nil
}

type mockPublisher struct {
	mu        sync.Mutex
	published []string
	active    string
	publishFn func(credential string) error
}

func (m *mockPublisher) PublishActive(_ context.Context, credential string) error {
	if m.publishFn != nil {
		if err := m.publishFn(credential); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.published = append(m.published, credential)
	m.active = credential
	m.mu.Unlock()
	return nil
}

func (m *mockPublisher) ReadActive(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

type mockBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: map[string][]byte{}}
}

func (m *mockBlobStore) LoadBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[key], nil
}

func (m *mockBlobStore) SaveBlob(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = value
	m.saves++
	return nil
}

func newService(t *testing.T) (*application.KeyService, *mockQuotaClient, *mockPublisher, *mockBlobStore) {
	t.Helper()
	quota := &mockQuotaClient{}
	pub := &mockPublisher{}
	blobs := newMockBlobStore()
	svc := application.NewKeyService(quota, pub, blobs, 5*time.Second)
	return svc, quota, pub, blobs
}

// assertSingleActive fails when more than one record in the snapshot is active.
func assertSingleActive(t *testing.T, svc *application.KeyService) {
	t.Helper()
	active := 0
	for _, k := range svc.Snapshot(model.SortDefault).Keys {
		if k.IsActive {
			active++
		}
	}
	assert.LessOrEqual(t, active, 1, "at most one record may be active")
}

// --- Add ---

func TestAdd_FirstKeyBecomesActive(t *testing.T) {
	svc, _, _, _ := newService(t)

	res, err := svc.Add(context.Background(), "", "fk-first01")
	require.NoError(t, err)

	assert.True(t, res.Key.IsActive)
	assert.Equal(t, int64(1), res.Key.ID)
	assert.Equal(t, "owner@example.com", res.Key.Name, "name falls back to owner email")
	assert.Equal(t, int64(900), res.Key.RemainingQuota())
}

func TestAdd_SecondKeyStaysInactive(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "one", "fk-first01")
	require.NoError(t, err)
	res, err := svc.Add(ctx, "two", "fk-second2")
	require.NoError(t, err)

	assert.False(t, res.Key.IsActive)
	assertSingleActive(t, svc)
}

func TestAdd_DuplicateRejectedWithoutFetch(t *testing.T) {
	svc, quota, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "", "fk-abc123")
	require.NoError(t, err)
	calls := len(quota.calls)

	_, err = svc.Add(ctx, "", "fk-abc123")
	require.ErrorIs(t, err, model.ErrAlreadyExists)
	assert.Equal(t, calls, len(quota.calls), "duplicate add must not hit the quota service")
}

func TestAdd_FetchFailureAddsNothing(t *testing.T) {
	svc, quota, _, _ := newService(t)
	quota.fetch = func(_ context.Context, _ string) (model.QuotaSnapshot, error) {
		return model.QuotaSnapshot{}, errors.New("boom")
	}

	_, err := svc.Add(context.Background(), "", "fk-broken1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "fk-broken1", "errors must not carry the full secret")
	assert.Empty(t, svc.Snapshot(model.SortDefault).Keys)
}

func TestAdd_NameFallsBackToSuffixWithoutEmail(t *testing.T) {
	svc, quota, _, _ := newService(t)
	quota.fetch = func(_ context.Context, _ string) (model.QuotaSnapshot, error) {
		return model.QuotaSnapshot{ExpiryDate: "01/01", TotalQuota: 10}, nil
	}

	res, err := svc.Add(context.Background(), "", "fk-zzz999x")
	require.NoError(t, err)
	assert.Equal(t, "fk-zz999x", res.Key.Name)
}

// --- BatchAdd ---

func TestBatchAdd_SkipsExistingAndAddsNew(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "", "fk-abc123")
	require.NoError(t, err)

	res, err := svc.BatchAdd(ctx, "fk-abc123\nfresh fk-newone")
	require.NoError(t, err)

	assert.Equal(t, []string{"abc123"}, res.SkippedExisting)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "fk-newone", res.Added[0].Credential)
	assert.False(t, res.Added[0].IsActive, "collection was not empty")
}

func TestBatchAdd_FirstIntoEmptySetBecomesActive(t *testing.T) {
	svc, _, _, _ := newService(t)

	res, err := svc.BatchAdd(context.Background(), "fk-aaa111\nfk-bbb222")
	require.NoError(t, err)

	require.Len(t, res.Added, 2)
	assert.True(t, res.Added[0].IsActive)
	assert.False(t, res.Added[1].IsActive)
	assertSingleActive(t, svc)
}

func TestBatchAdd_PartialFetchFailure(t *testing.T) {
	svc, quota, _, _ := newService(t)
	quota.fetch = func(_ context.Context, credential string) (model.QuotaSnapshot, error) {
		if credential == "fk-bad0000" {
			return model.QuotaSnapshot{}, errors.New("remote says no")
		}
		return model.QuotaSnapshot{ExpiryDate: "06/30", TotalQuota: 500}, nil
	}

	res, err := svc.BatchAdd(context.Background(), "fk-good111\nfk-bad0000\nfk-good222")
	require.NoError(t, err)

	assert.Len(t, res.Added, 2)
	assert.Equal(t, []string{"ad0000"}, res.Failed)
}

func TestBatchAdd_NoTokensAtAll(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.BatchAdd(context.Background(), "nothing here\nstill nothing")
	require.ErrorIs(t, err, model.ErrParseEmpty)
}

func TestBatchAdd_OnlySkippedIsNotAnError(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "", "fk-abc123")
	require.NoError(t, err)

	res, err := svc.BatchAdd(ctx, "fk-abc123\nfk-abc123")
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Equal(t, []string{"abc123", "abc123"}, res.SkippedExisting)
}

// --- Refresh ---

func TestRefresh_UpdatesQuotaFieldsOnly(t *testing.T) {
	svc, quota, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, "mine", "fk-abc123")
	require.NoError(t, err)

	quota.fetch = func(_ context.Context, _ string) (model.QuotaSnapshot, error) {
		return model.QuotaSnapshot{ExpiryDate: "02/28", TotalQuota: 2000, UsedQuota: 1999, OwnerEmail: "new@example.com"}, nil
	}
	require.NoError(t, svc.Refresh(ctx, res.Key.ID))

	keys := svc.Snapshot(model.SortDefault).Keys
	require.Len(t, keys, 1)
	assert.Equal(t, "02/28", keys[0].ExpiryDate)
	assert.Equal(t, int64(2000), keys[0].TotalQuota)
	assert.Equal(t, "new@example.com", keys[0].OwnerEmail)
	assert.Equal(t, "mine", keys[0].Name, "identity untouched")
	assert.True(t, keys[0].IsActive, "activation untouched")
}

func TestRefresh_FailureLeavesRecordUnchanged(t *testing.T) {
	svc, quota, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, "", "fk-abc123")
	require.NoError(t, err)
	before := svc.Snapshot(model.SortDefault).Keys[0]

	quota.fetch = func(_ context.Context, _ string) (model.QuotaSnapshot, error) {
		return model.QuotaSnapshot{}, errors.New("remote down")
	}
	err = svc.Refresh(ctx, res.Key.ID)
	require.Error(t, err)

	after := svc.Snapshot(model.SortDefault).Keys[0]
	assert.Equal(t, before, after)
}

func TestRefresh_UnknownID(t *testing.T) {
	svc, _, _, _ := newService(t)

	err := svc.Refresh(context.Background(), 42)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRefreshAll_PartialFailure(t *testing.T) {
	svc, quota, _, _ := newService(t)
	ctx := context.Background()

	active, err := svc.Add(ctx, "active", "fk-active1")
	require.NoError(t, err)
	other, err := svc.Add(ctx, "other", "fk-other22")
	require.NoError(t, err)
	require.True(t, active.Key.IsActive)

	beforeActive := svc.Snapshot(model.SortDefault).Keys[0]

	quota.fetch = func(_ context.Context, credential string) (model.QuotaSnapshot, error) {
		if credential == "fk-active1" {
			return model.QuotaSnapshot{}, errors.New("active fetch failed")
		}
		return model.QuotaSnapshot{ExpiryDate: "09/09", TotalQuota: 777, UsedQuota: 7}, nil
	}

	summary := svc.RefreshAll(ctx)

	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, []string{"ctive1"}, summary.Failed)
	assert.Equal(t, 1, summary.Refreshed)

	keys := svc.Snapshot(model.SortDefault).Keys
	assert.Equal(t, beforeActive, keys[0], "failed record is unchanged")
	assert.Equal(t, int64(777), keys[1].TotalQuota)
	_ = other
}

func TestRefreshAll_EmptyCollection(t *testing.T) {
	svc, _, _, _ := newService(t)

	summary := svc.RefreshAll(context.Background())
	assert.Zero(t, summary.FailedCount)
	assert.Zero(t, summary.Refreshed)
}

// --- SwitchActive ---

func TestSwitchActive_PublishesThenFlips(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Add(ctx, "", "fk-first01")
	require.NoError(t, err)
	second, err := svc.Add(ctx, "", "fk-second2")
	require.NoError(t, err)

	require.NoError(t, svc.SwitchActive(ctx, second.Key.ID))

	published, err := pub.ReadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fk-second2", published)

	keys := svc.Snapshot(model.SortDefault).Keys
	assert.False(t, keys[0].IsActive)
	assert.True(t, keys[1].IsActive)
	assertSingleActive(t, svc)
	_ = first
}

func TestSwitchActive_PublishFailureLeavesStateUnchanged(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Add(ctx, "", "fk-first01")
	require.NoError(t, err)
	second, err := svc.Add(ctx, "", "fk-second2")
	require.NoError(t, err)

	pub.publishFn = func(string) error { return errors.New("host rejected") }

	err = svc.SwitchActive(ctx, second.Key.ID)
	require.Error(t, err)

	keys := svc.Snapshot(model.SortDefault).Keys
	assert.True(t, keys[0].IsActive, "prior active preserved")
	assert.False(t, keys[1].IsActive)
	_ = first
}

func TestSwitchActive_UnknownID(t *testing.T) {
	svc, _, pub, _ := newService(t)

	err := svc.SwitchActive(context.Background(), 99)
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, pub.published, "publisher must not be called for unknown ids")
}

// --- Delete / ToggleSold ---

func TestDelete_ActiveRecordLeavesNoneActive(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Add(ctx, "", "fk-first01")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "", "fk-second2")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, first.Key.ID))

	keys := svc.Snapshot(model.SortDefault).Keys
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive, "no auto-promotion on delete")

	_, hasActive := svc.ActiveID()
	assert.False(t, hasActive)
}

func TestDelete_UnknownID(t *testing.T) {
	svc, _, _, _ := newService(t)
	require.ErrorIs(t, svc.Delete(context.Background(), 7), model.ErrNotFound)
}

func TestToggleSold_FlipsIndependently(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, "", "fk-abc123")
	require.NoError(t, err)

	sold, err := svc.ToggleSold(ctx, res.Key.ID)
	require.NoError(t, err)
	assert.True(t, sold)

	sold, err = svc.ToggleSold(ctx, res.Key.ID)
	require.NoError(t, err)
	assert.False(t, sold)

	keys := svc.Snapshot(model.SortDefault).Keys
	assert.True(t, keys[0].IsActive, "sold flag never touches activation")
}

// --- Invariant over operation sequences ---

func TestSingleActiveInvariantAcrossOperations(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	a, _ := svc.Add(ctx, "a", "fk-aaaa11")
	assertSingleActive(t, svc)
	b, _ := svc.Add(ctx, "b", "fk-bbbb22")
	assertSingleActive(t, svc)
	require.NoError(t, svc.SwitchActive(ctx, b.Key.ID))
	assertSingleActive(t, svc)
	require.NoError(t, svc.SwitchActive(ctx, a.Key.ID))
	assertSingleActive(t, svc)
	require.NoError(t, svc.Delete(ctx, a.Key.ID))
	assertSingleActive(t, svc)
	_, err := svc.BatchAdd(ctx, "fk-cccc33\nfk-dddd44")
	require.NoError(t, err)
	assertSingleActive(t, svc)
}

// --- Persistence round-trip and reconcile ---

func waitForSaves(t *testing.T, blobs *mockBlobStore, atLeast int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		blobs.mu.Lock()
		n := blobs.saves
		blobs.mu.Unlock()
		if n >= atLeast {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d saves", atLeast)
}

func TestPersistenceRoundTrip(t *testing.T) {
	svc, _, pub, blobs := newService(t)
	ctx := context.Background()

	first, err := svc.Add(ctx, "mine", "fk-abc123")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "", "fk-def456")
	require.NoError(t, err)
	waitForSaves(t, blobs, 2)

	// A second service over the same store sees the same collection and keeps
	// minting IDs above the persisted high-water mark.
	restored := application.NewKeyService(&mockQuotaClient{}, pub, blobs, time.Second)
	require.NoError(t, restored.Load(ctx))

	keys := restored.Snapshot(model.SortDefault).Keys
	require.Len(t, keys, 2)
	assert.Equal(t, first.Key.Credential, keys[0].Credential)

	res, err := restored.Add(ctx, "", "fk-ghi789")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Key.ID)
}

func TestReconcile_MatchesPublishedCredential(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Add(ctx, "", "fk-first01")
	require.NoError(t, err)
	second, err := svc.Add(ctx, "", "fk-second2")
	require.NoError(t, err)
	require.True(t, first.Key.IsActive)

	// Host is configured with the second credential (set outside this process).
	pub.mu.Lock()
	pub.active = " fk-second2 "
	pub.mu.Unlock()

	require.NoError(t, svc.Reconcile(ctx))

	keys := svc.Snapshot(model.SortDefault).Keys
	assert.False(t, keys[0].IsActive)
	assert.True(t, keys[1].IsActive)
	_ = second
}

func TestReconcile_NoMatchLeavesAllInactive(t *testing.T) {
	svc, _, pub, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "", "fk-first01")
	require.NoError(t, err)

	pub.mu.Lock()
	pub.active = "fk-unknown"
	pub.mu.Unlock()

	require.NoError(t, svc.Reconcile(ctx))

	_, hasActive := svc.ActiveID()
	assert.False(t, hasActive)
}

// --- Snapshot views ---

func TestSnapshot_SortViewsAreDerived(t *testing.T) {
	svc, quota, _, _ := newService(t)
	ctx := context.Background()

	quotas := map[string]model.QuotaSnapshot{
		"fk-aaa111": {ExpiryDate: "12/01", TotalQuota: 100, UsedQuota: 90}, // Remaining 10.
		"fk-bbb222": {ExpiryDate: "03/15", TotalQuota: 100, UsedQuota: 10}, // Remaining 90.
		"fk-ccc333": {ExpiryDate: "07/04", TotalQuota: 100, UsedQuota: 50}, // Remaining 50.
	}
	quota.fetch = func(_ context.Context, credential string) (model.QuotaSnapshot, error) {
		return quotas[credential], nil
	}

	for _, c := range []string{"fk-aaa111", "fk-bbb222", "fk-ccc333"} {
		_, err := svc.Add(ctx, c, c)
		require.NoError(t, err)
	}

	ids := func(keys []model.KeyRecord) []int64 {
		out := make([]int64, len(keys))
		for i, k := range keys {
			out[i] = k.ID
		}
		return out
	}

	assert.Equal(t, []int64{1, 2, 3}, ids(svc.Snapshot(model.SortDefault).Keys))
	assert.Equal(t, []int64{2, 3, 1}, ids(svc.Snapshot(model.SortQuotaDesc).Keys))
	assert.Equal(t, []int64{1, 3, 2}, ids(svc.Snapshot(model.SortQuotaAsc).Keys))
	assert.Equal(t, []int64{2, 3, 1}, ids(svc.Snapshot(model.SortExpiry).Keys))

	// Sorting is a view; insertion order is still authoritative afterwards.
	assert.Equal(t, []int64{1, 2, 3}, ids(svc.Snapshot(model.SortDefault).Keys))

	stats := svc.Snapshot(model.SortDefault).Stats
	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, int64(300), stats.TotalQuota)
	assert.Equal(t, int64(150), stats.UsedQuota)
	assert.Equal(t, int64(150), stats.RemainingQuota)
}

func TestCard_ContainsFullCredential(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, "resale", "fk-card001")
	require.NoError(t, err)

	card, err := svc.Card(res.Key.ID)
	require.NoError(t, err)
	assert.Contains(t, card, "fk-card001")
	assert.Contains(t, card, "resale")

	_, err = svc.Card(999)
	require.ErrorIs(t, err, model.ErrNotFound)
}
