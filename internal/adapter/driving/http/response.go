package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/dmaloy/keydeck/internal/application"
	"github.com/dmaloy/keydeck/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// KeyResponse is the JSON representation of one managed key. The credential
// is always masked; the full secret is exposed only by the card endpoint.
type KeyResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	MaskedKey      string `json:"masked_key"`
	Email          string `json:"email"`
	ExpiryDate     string `json:"expiry_date"`
	TotalQuota     int64  `json:"total_quota"`
	UsedQuota      int64  `json:"used_quota"`
	RemainingQuota int64  `json:"remaining_quota"`
	IsActive       bool   `json:"is_active"`
	IsSold         bool   `json:"is_sold"`
	Refreshing     bool   `json:"refreshing"`
}

// StatsResponse aggregates quota counters across the collection.
type StatsResponse struct {
	TotalKeys      int   `json:"total_keys"`
	TotalQuota     int64 `json:"total_quota"`
	UsedQuota      int64 `json:"used_quota"`
	RemainingQuota int64 `json:"remaining_quota"`
}

// SnapshotResponse is the list endpoint payload.
type SnapshotResponse struct {
	Keys  []KeyResponse `json:"keys"`
	Stats StatsResponse `json:"stats"`
	Sort  string        `json:"sort"`
}

// AddKeyRequest is the JSON body for the single add endpoint.
type AddKeyRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// BatchAddRequest is the JSON body for the batch add endpoint.
type BatchAddRequest struct {
	Text string `json:"text"`
}

// BatchAddResponse summarizes a batch add. All key references are last-6
// suffixes, never full secrets.
type BatchAddResponse struct {
	Added            int      `json:"added"`
	Failed           []string `json:"failed"`
	SkippedExisting  []string `json:"skipped_existing"`
	SkippedDuplicate []string `json:"skipped_duplicate"`
}

// RefreshAllResponse summarizes a refresh-all pass.
type RefreshAllResponse struct {
	Refreshed   int      `json:"refreshed"`
	FailedCount int      `json:"failed_count"`
	Failed      []string `json:"failed"`
}

// SoldResponse reports the sold flag after a toggle.
type SoldResponse struct {
	ID     int64 `json:"id"`
	IsSold bool  `json:"is_sold"`
}

// CardResponse carries the shareable card text, full credential included.
type CardResponse struct {
	Content string `json:"content"`
}

// RotationResponse reports the configured rotation interval.
type RotationResponse struct {
	Interval string `json:"interval"`
}

// RotationRequest is the JSON body for the rotation interval endpoint.
type RotationRequest struct {
	Interval string `json:"interval"`
}

// MCPConfigResponse carries the MCP config file content.
type MCPConfigResponse struct {
	Content string `json:"content"`
}

// MCPConfigRequest is the JSON body for the MCP config save endpoint.
type MCPConfigRequest struct {
	Content string `json:"content"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toKeyResponse converts a domain KeyRecord to its JSON representation.
func toKeyResponse(k model.KeyRecord, refreshing map[int64]bool) KeyResponse {
	return KeyResponse{
		ID:             k.ID,
		Name:           k.Name,
		MaskedKey:      k.Masked(),
		Email:          k.OwnerEmail,
		ExpiryDate:     k.ExpiryDate,
		TotalQuota:     k.TotalQuota,
		UsedQuota:      k.UsedQuota,
		RemainingQuota: k.RemainingQuota(),
		IsActive:       k.IsActive,
		IsSold:         k.IsSold,
		Refreshing:     refreshing[k.ID],
	}
}

// toSnapshotResponse converts an application snapshot to the list payload.
func toSnapshotResponse(snap application.Snapshot, order model.SortOrder) SnapshotResponse {
	refreshing := make(map[int64]bool, len(snap.Refreshing))
	for _, id := range snap.Refreshing {
		refreshing[id] = true
	}

	keys := make([]KeyResponse, 0, len(snap.Keys))
	for _, k := range snap.Keys {
		keys = append(keys, toKeyResponse(k, refreshing))
	}

	return SnapshotResponse{
		Keys: keys,
		Stats: StatsResponse{
			TotalKeys:      snap.Stats.TotalKeys,
			TotalQuota:     snap.Stats.TotalQuota,
			UsedQuota:      snap.Stats.UsedQuota,
			RemainingQuota: snap.Stats.RemainingQuota,
		},
		Sort: string(order),
	}
}

// emptyIfNil keeps JSON arrays as [] rather than null.
func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
