package application_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmaloy/keydeck/internal/application"
)

func TestParseBatch_MixedLineFormats(t *testing.T) {
	input := "fk-abc123\n备用Key fk-xyz789\n主Key,fk-123456"

	got := application.ParseBatch(input)

	assert.Equal(t, []application.Candidate{
		{Name: "", Credential: "fk-abc123"},
		{Name: "备用Key", Credential: "fk-xyz789"},
		{Name: "主Key", Credential: "fk-123456"},
	}, got)
}

func TestParseBatch_DropsLinesWithoutToken(t *testing.T) {
	input := "just a note\n\nprod fk-good01\nanother note, no key here"

	got := application.ParseBatch(input)

	assert.Equal(t, []application.Candidate{
		{Name: "prod", Credential: "fk-good01"},
	}, got)
}

func TestParseBatch_CollapsesSeparatorRuns(t *testing.T) {
	got := application.ParseBatch("team  alpha,,  fk-team01  backup")

	assert.Equal(t, []application.Candidate{
		{Name: "team alpha backup", Credential: "fk-team01"},
	}, got)
}

func TestParseBatch_Idempotent(t *testing.T) {
	input := "a fk-one111\nb fk-two222\nnoise line"

	first := application.ParseBatch(input)
	second := application.ParseBatch(input)

	assert.Equal(t, first, second)
}

func TestParseBatch_EmptyInput(t *testing.T) {
	assert.Empty(t, application.ParseBatch(""))
	assert.Empty(t, application.ParseBatch("\n\n  \n"))
}

func TestPartitionCandidates_Precedence(t *testing.T) {
	existing := map[string]bool{"fk-exists": true}
	candidates := []application.Candidate{
		{Name: "a", Credential: "fk-exists"},
		{Name: "b", Credential: "fk-fresh1"},
		{Name: "c", Credential: "fk-fresh1"}, // Repeated within the batch.
		{Name: "d", Credential: "fk-fresh2"},
	}

	part := application.PartitionCandidates(candidates, existing)

	assert.Equal(t, []application.Candidate{
		{Name: "b", Credential: "fk-fresh1"},
		{Name: "d", Credential: "fk-fresh2"},
	}, part.Unique)
	assert.Equal(t, []string{"exists"}, part.SkippedExisting)
	assert.Equal(t, []string{"fresh1"}, part.SkippedDuplicate)
}

func TestPartitionCandidates_ExistingWinsOverDuplicate(t *testing.T) {
	// A credential that both exists and repeats lands in "existing" every time;
	// the buckets stay disjoint.
	existing := map[string]bool{"fk-abc123": true}
	candidates := []application.Candidate{
		{Credential: "fk-abc123"},
		{Credential: "fk-abc123"},
	}

	part := application.PartitionCandidates(candidates, existing)

	assert.Empty(t, part.Unique)
	assert.Empty(t, part.SkippedDuplicate)
	assert.Equal(t, []string{"abc123", "abc123"}, part.SkippedExisting)
}

func TestPartitionCandidates_Idempotent(t *testing.T) {
	existing := map[string]bool{"fk-old": true}
	candidates := application.ParseBatch("fk-old\nfk-newone\nfk-newone")

	first := application.PartitionCandidates(candidates, existing)
	second := application.PartitionCandidates(candidates, existing)

	assert.Equal(t, first, second)
}
