package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dmaloy/keydeck/internal/domain/model"
	"github.com/dmaloy/keydeck/internal/domain/port/driven"
)

// blobKey is the Persistent Store key the serialized collection lives under.
const blobKey = "keys"

// KeyService owns the authoritative in-memory key collection and funnels
// every structural mutation through one mutex so no two mutations interleave
// their read and write halves. Quota fetches and publisher calls happen
// outside the lock; only their results are committed under it.
type KeyService struct {
	quota     driven.QuotaClient
	publisher driven.ActivePublisher
	blobs     driven.BlobStore

	fetchTimeout time.Duration

	mu         sync.Mutex
	keys       []model.KeyRecord
	nextID     int64
	refreshing map[int64]bool

	// saveMu serializes durable writes so a slow early save can never
	// overwrite a later state. saveSeq/savedSeq let stale writes be dropped.
	saveMu   sync.Mutex
	saveSeq  uint64
	savedSeq uint64

	// onActiveChange is invoked after any commit that may have changed which
	// record is active. Set once during wiring, before concurrent use.
	onActiveChange func(activeID int64, hasActive bool)
}

// NewKeyService creates a KeyService over the three collaborator ports.
// fetchTimeout bounds each individual quota fetch; a timeout is reported as an
// ordinary per-key failure.
func NewKeyService(quota driven.QuotaClient, publisher driven.ActivePublisher, blobs driven.BlobStore, fetchTimeout time.Duration) *KeyService {
	return &KeyService{
		quota:        quota,
		publisher:    publisher,
		blobs:        blobs,
		fetchTimeout: fetchTimeout,
		nextID:       1,
		refreshing:   make(map[int64]bool),
	}
}

// SetActiveChangeListener registers the callback notified after commits that
// can affect the active record. Must be called before the service is shared
// across goroutines.
func (s *KeyService) SetActiveChangeListener(fn func(activeID int64, hasActive bool)) {
	s.onActiveChange = fn
}

// storedKey is the persisted form of one record.
type storedKey struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Credential string `json:"apiKey"`
	OwnerEmail string `json:"email,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
	TotalQuota int64  `json:"totalQuota"`
	UsedQuota  int64  `json:"usedQuota"`
	IsActive   bool   `json:"isActive,omitempty"`
	IsSold     bool   `json:"isSold,omitempty"`
}

// storedState is the single blob round-tripped through the Persistent Store.
type storedState struct {
	NextID int64       `json:"nextId"`
	Keys   []storedKey `json:"keys"`
}

// Load restores the collection from the Persistent Store. Call once at
// startup, before the service is shared.
func (s *KeyService) Load(ctx context.Context) error {
	data, err := s.blobs.LoadBlob(ctx, blobKey)
	if err != nil {
		return fmt.Errorf("loading key collection: %w", err)
	}
	if data == nil {
		return nil
	}

	var state storedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding key collection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = make([]model.KeyRecord, 0, len(state.Keys))
	for _, k := range state.Keys {
		s.keys = append(s.keys, model.KeyRecord(k))
		if k.ID >= state.NextID {
			state.NextID = k.ID + 1
		}
	}
	if state.NextID > s.nextID {
		s.nextID = state.NextID
	}

	return nil
}

// Reconcile aligns the isActive flags with what the host environment actually
// uses: the record whose credential exactly matches the published one becomes
// active, everything else inactive. With no match (or nothing published) all
// records end up inactive, overriding any stale persisted flags.
func (s *KeyService) Reconcile(ctx context.Context) error {
	published, err := s.publisher.ReadActive(ctx)
	if err != nil {
		return fmt.Errorf("reading active credential: %w", err)
	}
	published = strings.TrimSpace(published)

	s.mu.Lock()
	changed := false
	for i := range s.keys {
		active := published != "" && strings.TrimSpace(s.keys[i].Credential) == published
		if s.keys[i].IsActive != active {
			s.keys[i].IsActive = active
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notifyActive()
	}
	return nil
}

// AddResult reports a completed single add.
type AddResult struct {
	Key model.KeyRecord
}

// Add validates a single credential against the quota service and, on success,
// commits a new record. The first record added to an empty collection becomes
// active. Returns model.ErrAlreadyExists without fetching when the credential
// is already present.
func (s *KeyService) Add(ctx context.Context, name, credential string) (AddResult, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return AddResult{}, model.ErrParseEmpty
	}

	s.mu.Lock()
	exists := s.hasCredentialLocked(credential)
	s.mu.Unlock()
	if exists {
		return AddResult{}, model.ErrAlreadyExists
	}

	snap, err := s.fetchOne(ctx, credential)
	if err != nil {
		return AddResult{}, fmt.Errorf("validating key ...%s: %w", model.CredentialSuffix(credential), err)
	}

	s.mu.Lock()
	// Re-check: another add may have raced in while we were fetching.
	if s.hasCredentialLocked(credential) {
		s.mu.Unlock()
		return AddResult{}, model.ErrAlreadyExists
	}
	rec := s.appendLocked(name, credential, snap, len(s.keys) == 0)
	s.persistLocked()
	s.mu.Unlock()

	s.notifyActive()
	return AddResult{Key: rec}, nil
}

// BatchAddResult summarizes a batch add. Failed and the Skipped lists carry
// last-6 suffixes only, never full secrets.
type BatchAddResult struct {
	Added            []model.KeyRecord
	Failed           []string
	SkippedExisting  []string
	SkippedDuplicate []string
}

// BatchAdd parses free-form input, classifies the candidates, validates the
// unique ones concurrently against the quota service, and commits all
// successes in one pass. Individual fetch failures never abort the batch.
// Returns model.ErrParseEmpty when no credential-shaped token is found.
func (s *KeyService) BatchAdd(ctx context.Context, text string) (BatchAddResult, error) {
	candidates := ParseBatch(text)
	if len(candidates) == 0 {
		return BatchAddResult{}, model.ErrParseEmpty
	}

	s.mu.Lock()
	existing := make(map[string]bool, len(s.keys))
	for _, k := range s.keys {
		existing[k.Credential] = true
	}
	s.mu.Unlock()

	part := PartitionCandidates(candidates, existing)
	result := BatchAddResult{
		SkippedExisting:  part.SkippedExisting,
		SkippedDuplicate: part.SkippedDuplicate,
	}
	if len(part.Unique) == 0 {
		return result, nil
	}

	snapshots := s.fetchMany(ctx, func() []string {
		creds := make([]string, len(part.Unique))
		for i, c := range part.Unique {
			creds[i] = c.Credential
		}
		return creds
	}())

	s.mu.Lock()
	for _, c := range part.Unique {
		snap, ok := snapshots[c.Credential]
		if !ok {
			result.Failed = append(result.Failed, model.CredentialSuffix(c.Credential))
			continue
		}
		if s.hasCredentialLocked(c.Credential) {
			// Raced with a concurrent single add; treat as already present.
			result.SkippedExisting = append(result.SkippedExisting, model.CredentialSuffix(c.Credential))
			continue
		}
		rec := s.appendLocked(c.Name, c.Credential, snap, len(s.keys) == 0)
		result.Added = append(result.Added, rec)
	}
	if len(result.Added) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	if len(result.Added) > 0 {
		s.notifyActive()
	}
	return result, nil
}

// Refresh re-fetches the quota snapshot for one record and commits it in
// place. Identity and the activation/sold flags are untouched. On failure the
// record is left byte-for-byte unchanged and the error is returned.
func (s *KeyService) Refresh(ctx context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return model.ErrNotFound
	}
	credential := rec.Credential
	s.refreshing[id] = true
	s.mu.Unlock()

	snap, err := s.fetchOne(ctx, credential)

	s.mu.Lock()
	delete(s.refreshing, id)
	if err == nil {
		if s.applySnapshotLocked(id, snap) {
			s.persistLocked()
		} else {
			// Raced with a delete; nothing to update.
			err = model.ErrNotFound
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("refreshing key ...%s: %w", model.CredentialSuffix(credential), err)
	}
	return nil
}

// RefreshSummary reports a completed refresh-all pass.
type RefreshSummary struct {
	Refreshed   int
	FailedCount int
	Failed      []string // Last-6 suffixes.
}

// RefreshAll fans out one quota fetch per record concurrently and commits all
// successful snapshots in one pass. Failures are isolated per record; the
// operation always completes and reports a summary.
func (s *KeyService) RefreshAll(ctx context.Context) RefreshSummary {
	s.mu.Lock()
	ids := make([]int64, len(s.keys))
	creds := make([]string, len(s.keys))
	for i, k := range s.keys {
		ids[i] = k.ID
		creds[i] = k.Credential
		s.refreshing[k.ID] = true
	}
	s.mu.Unlock()

	snapshots := s.fetchMany(ctx, creds)

	var summary RefreshSummary
	s.mu.Lock()
	for i, id := range ids {
		delete(s.refreshing, id)
		snap, ok := snapshots[creds[i]]
		if !ok {
			summary.FailedCount++
			summary.Failed = append(summary.Failed, model.CredentialSuffix(creds[i]))
			continue
		}
		if s.applySnapshotLocked(id, snap) {
			summary.Refreshed++
		}
	}
	if summary.Refreshed > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	slog.Info("refresh all complete", "refreshed", summary.Refreshed, "failed", summary.FailedCount)
	return summary
}

// SwitchActive makes the record with the given ID the active one. The
// publisher is asked first; only when it acknowledges does the in-memory flag
// flip, so the active flag never claims something the host is not actually
// configured with.
func (s *KeyService) SwitchActive(ctx context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.findLocked(id)
	s.mu.Unlock()
	if !ok {
		return model.ErrNotFound
	}

	if err := s.publisher.PublishActive(ctx, rec.Credential); err != nil {
		return fmt.Errorf("publishing key ...%s: %w", rec.Suffix(), err)
	}

	s.mu.Lock()
	found := false
	for i := range s.keys {
		s.keys[i].IsActive = s.keys[i].ID == id
		if s.keys[i].ID == id {
			found = true
		}
	}
	if found {
		s.persistLocked()
	}
	s.mu.Unlock()

	if !found {
		// Deleted between publish and commit. The host now uses a credential
		// we no longer track; surface that rather than pretend.
		return model.ErrNotFound
	}

	s.notifyActive()
	return nil
}

// Delete removes a record. Deleting the active record leaves the collection
// with zero active records; no replacement is promoted.
func (s *KeyService) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := -1
	for i := range s.keys {
		if s.keys[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return model.ErrNotFound
	}
	s.keys = append(s.keys[:idx], s.keys[idx+1:]...)
	s.persistLocked()
	s.mu.Unlock()

	s.notifyActive()
	return nil
}

// ToggleSold flips the informational sold flag on a record.
func (s *KeyService) ToggleSold(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys[i].IsSold = !s.keys[i].IsSold
			s.persistLocked()
			return s.keys[i].IsSold, nil
		}
	}
	return false, model.ErrNotFound
}

// Snapshot is a read-only view of the collection handed to the presentation
// layer: records in the requested order, aggregate stats, and the IDs with a
// fetch currently in flight.
type Snapshot struct {
	Keys       []model.KeyRecord
	Stats      model.Stats
	Refreshing []int64
}

// Snapshot returns the current view in the given sort order. The returned
// slices are copies; callers cannot mutate service state through them.
func (s *KeyService) Snapshot(order model.SortOrder) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	refreshing := make([]int64, 0, len(s.refreshing))
	for id := range s.refreshing {
		refreshing = append(refreshing, id)
	}

	return Snapshot{
		Keys:       model.SortKeys(s.keys, order),
		Stats:      model.ComputeStats(s.keys),
		Refreshing: refreshing,
	}
}

// Card renders the shareable text block for one record.
func (s *KeyService) Card(id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.findLocked(id)
	if !ok {
		return "", model.ErrNotFound
	}
	return model.CardText(rec), nil
}

// ActiveID reports the currently active record, if any.
func (s *KeyService) ActiveID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// --- internals ---

// fetchOne performs a single bounded quota fetch.
func (s *KeyService) fetchOne(ctx context.Context, credential string) (model.QuotaSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.quota.FetchQuota(fetchCtx, credential)
}

// fetchMany fans out one bounded fetch per credential and returns the
// successful snapshots keyed by credential. A hung fetch cannot block the
// others: every fetch carries its own timeout and the results are collected
// only after all goroutines finish.
func (s *KeyService) fetchMany(ctx context.Context, credentials []string) map[string]model.QuotaSnapshot {
	type fetchResult struct {
		credential string
		snap       model.QuotaSnapshot
		err        error
	}

	results := make(chan fetchResult, len(credentials))
	var wg sync.WaitGroup
	for _, credential := range credentials {
		wg.Add(1)
		go func(credential string) {
			defer wg.Done()
			snap, err := s.fetchOne(ctx, credential)
			results <- fetchResult{credential: credential, snap: snap, err: err}
		}(credential)
	}
	wg.Wait()
	close(results)

	snapshots := make(map[string]model.QuotaSnapshot, len(credentials))
	for res := range results {
		if res.err != nil {
			slog.Warn("quota fetch failed", "key", "..."+model.CredentialSuffix(res.credential), "error", res.err)
			continue
		}
		snapshots[res.credential] = res.snap
	}
	return snapshots
}

// hasCredentialLocked reports whether a credential is already in the
// collection. Caller holds s.mu.
func (s *KeyService) hasCredentialLocked(credential string) bool {
	for _, k := range s.keys {
		if k.Credential == credential {
			return true
		}
	}
	return false
}

// findLocked returns a copy of the record with the given ID. Caller holds s.mu.
func (s *KeyService) findLocked(id int64) (model.KeyRecord, bool) {
	for _, k := range s.keys {
		if k.ID == id {
			return k, true
		}
	}
	return model.KeyRecord{}, false
}

// activeLocked returns the active record's ID, if any. Caller holds s.mu.
func (s *KeyService) activeLocked() (int64, bool) {
	for _, k := range s.keys {
		if k.IsActive {
			return k.ID, true
		}
	}
	return 0, false
}

// appendLocked mints a new record and appends it. Name fallback order: given
// name, owner email, "fk-" plus the credential suffix. Caller holds s.mu.
func (s *KeyService) appendLocked(name, credential string, snap model.QuotaSnapshot, active bool) model.KeyRecord {
	if name == "" {
		name = snap.OwnerEmail
	}
	if name == "" {
		name = "fk-" + model.CredentialSuffix(credential)
	}

	rec := model.KeyRecord{
		ID:         s.nextID,
		Name:       name,
		Credential: credential,
		OwnerEmail: snap.OwnerEmail,
		ExpiryDate: snap.ExpiryDate,
		TotalQuota: snap.TotalQuota,
		UsedQuota:  snap.UsedQuota,
		IsActive:   active,
	}
	s.nextID++
	s.keys = append(s.keys, rec)
	return rec
}

// applySnapshotLocked commits a fetched snapshot onto the record with the
// given ID, touching only the quota fields. Returns false when the record no
// longer exists. Caller holds s.mu.
func (s *KeyService) applySnapshotLocked(id int64, snap model.QuotaSnapshot) bool {
	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys[i].ExpiryDate = snap.ExpiryDate
			s.keys[i].TotalQuota = snap.TotalQuota
			s.keys[i].UsedQuota = snap.UsedQuota
			s.keys[i].OwnerEmail = snap.OwnerEmail
			return true
		}
	}
	return false
}

// persistLocked serializes the collection under the lock and hands the bytes
// to the Persistent Store asynchronously. The in-memory commit stands even if
// the durable write fails; failures are logged, never rolled back. Caller
// holds s.mu.
func (s *KeyService) persistLocked() {
	state := storedState{NextID: s.nextID, Keys: make([]storedKey, len(s.keys))}
	for i, k := range s.keys {
		state.Keys[i] = storedKey(k)
	}

	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("encoding key collection failed", "error", err)
		return
	}

	s.saveSeq++
	seq := s.saveSeq

	go func() {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		if seq <= s.savedSeq {
			// A newer state already reached the store.
			return
		}
		s.savedSeq = seq

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.blobs.SaveBlob(ctx, blobKey, data); err != nil {
			slog.Error("persisting key collection failed", "error", err)
		}
	}()
}

// notifyActive reports the current active record to the registered listener.
// Called without the lock held.
func (s *KeyService) notifyActive() {
	if s.onActiveChange == nil {
		return
	}
	id, ok := s.ActiveID()
	s.onActiveChange(id, ok)
}
