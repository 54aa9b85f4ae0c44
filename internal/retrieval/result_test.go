package retrieval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	ok := Ok(42)
	assert.True(t, ok.IsOk())
	assert.Equal(t, "ok", ok.String())

	failed := Fail[int](FailureFinal, "no applicable section", "p")
	assert.False(t, failed.IsOk())
	assert.Equal(t, "final: no applicable section", failed.String())
	assert.Equal(t, []string{"p"}, failed.Sources)

	assert.Panics(t, func() { Fail[int](FailureNone, "") })
}

func TestResultConstructors_RawContentOnlyOnCompensation(t *testing.T) {
	results := []RetrievalResult{
		foundResult("q", Answer{Text: goodAnswer, Sources: []string{"a", "a", ""}}),
		failedResult("q", FailureFinal, "none", []string{"a"}),
		failedResult("q", FailureRetryable, "no hits", nil),
		cancelledResult("q"),
		compensationResult("q", "Source: a\ntext", "parse failed", []string{"a"}),
	}

	for _, r := range results {
		assert.Equal(t, r.FailureType == FailureNeedsCompensation, r.RawContent != "", r.FailureType)
		assert.Equal(t, r.FailureType == FailureNone, r.IsFound, r.FailureType)
		assert.NotNil(t, r.Sources)
	}
	assert.Equal(t, []string{"a"}, results[0].Sources)
}

func TestFailedResult_RejectsInvalidKinds(t *testing.T) {
	assert.Panics(t, func() { failedResult("q", FailureNone, "", nil) })
	assert.Panics(t, func() { failedResult("q", FailureNeedsCompensation, "", nil) })
}

func TestDocumentKind_Text(t *testing.T) {
	tests := []struct {
		in      string
		want    DocumentKind
		wantErr bool
	}{
		{"prospectus", KindProspectus, false},
		{" Periodic_Report ", KindPeriodicReport, false},
		{"announcement", KindAnnouncement, false},
		{"", KindUnknown, false},
		{"brochure", KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDocumentKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, KindProspectus.IsTerminal())
	assert.False(t, KindAnnouncement.IsTerminal())
}

func TestDocumentMetadata_JSONUsesKindNames(t *testing.T) {
	data, err := json.Marshal(DocumentMetadata{DocumentID: "p", Kind: KindProspectus})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"prospectus"`)

	var back DocumentMetadata
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindProspectus, back.Kind)
}
