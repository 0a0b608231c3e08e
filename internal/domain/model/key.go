// Package model defines the key-management domain types shared by all layers.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeyRecord is one managed Factory API key with its last known quota snapshot.
// At most one record in a collection has IsActive set; the key service enforces
// that invariant on every mutation.
type KeyRecord struct {
	ID         int64
	Name       string
	Credential string
	OwnerEmail string
	ExpiryDate string // MM/DD, end of the current quota period. Empty until first fetch.
	TotalQuota int64
	UsedQuota  int64
	IsActive   bool
	IsSold     bool
}

// RemainingQuota returns the derived remaining allowance. Never stored.
func (k KeyRecord) RemainingQuota() int64 {
	return k.TotalQuota - k.UsedQuota
}

// Suffix returns the short identifier used when a key must be referenced
// without exposing the secret (batch reports, logs).
func (k KeyRecord) Suffix() string {
	return CredentialSuffix(k.Credential)
}

// Masked returns the display form of the credential: prefix, stars, last six.
func (k KeyRecord) Masked() string {
	return "fk-****" + k.Suffix()
}

// CredentialSuffix returns the last six characters of a credential string.
func CredentialSuffix(credential string) string {
	if len(credential) <= 6 {
		return credential
	}
	return credential[len(credential)-6:]
}

// QuotaSnapshot is the result of one Quota Service call for a single credential.
type QuotaSnapshot struct {
	ExpiryDate string
	TotalQuota int64
	UsedQuota  int64
	OwnerEmail string
}

// Stats aggregates quota counters across a whole key collection.
type Stats struct {
	TotalKeys      int
	TotalQuota     int64
	UsedQuota      int64
	RemainingQuota int64
}

// ComputeStats derives aggregate totals from a record list.
func ComputeStats(keys []KeyRecord) Stats {
	s := Stats{TotalKeys: len(keys)}
	for _, k := range keys {
		s.TotalQuota += k.TotalQuota
		s.UsedQuota += k.UsedQuota
		s.RemainingQuota += k.RemainingQuota()
	}
	return s
}

// SortOrder selects a derived display ordering for key lists.
type SortOrder string

const (
	SortDefault   SortOrder = "default"    // Creation order (ascending ID).
	SortQuotaDesc SortOrder = "quota-desc" // Remaining quota, highest first.
	SortQuotaAsc  SortOrder = "quota-asc"  // Remaining quota, lowest first.
	SortExpiry    SortOrder = "expiry"     // Expiry date, soonest first.
)

// ParseSortOrder maps a query-string value to a SortOrder, defaulting to
// creation order for anything unrecognized.
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case SortQuotaDesc, SortQuotaAsc, SortExpiry:
		return SortOrder(s)
	default:
		return SortDefault
	}
}

// SortKeys returns a sorted copy of keys in the given order. The input slice
// is never reordered; insertion order stays authoritative.
func SortKeys(keys []KeyRecord, order SortOrder) []KeyRecord {
	out := make([]KeyRecord, len(keys))
	copy(out, keys)

	switch order {
	case SortQuotaDesc:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].RemainingQuota() > out[j].RemainingQuota()
		})
	case SortQuotaAsc:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].RemainingQuota() < out[j].RemainingQuota()
		})
	case SortExpiry:
		sort.SliceStable(out, func(i, j int) bool {
			return expirySortKey(out[i].ExpiryDate) < expirySortKey(out[j].ExpiryDate)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ID < out[j].ID
		})
	}

	return out
}

// expirySortKey turns an MM/DD marker into a comparable integer (month*100+day).
// Malformed or empty markers sort last.
func expirySortKey(expiry string) int {
	month, day, ok := strings.Cut(expiry, "/")
	if !ok {
		return 1<<31 - 1
	}
	m, err1 := strconv.Atoi(month)
	d, err2 := strconv.Atoi(day)
	if err1 != nil || err2 != nil {
		return 1<<31 - 1
	}
	return m*100 + d
}

// CardText renders the shareable plain-text block for a key: the one place the
// full credential is intentionally exposed.
func CardText(k KeyRecord) string {
	email := k.OwnerEmail
	if email == "" {
		email = "-"
	}
	return fmt.Sprintf("Name: %s\nAPI Key: %s\nEmail: %s\nExpires: %s\nRemaining: %d\n",
		k.Name, k.Credential, email, k.ExpiryDate, k.RemainingQuota())
}
