package clinicalnotes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
)

func TestNewNote_Validate(t *testing.T) {
	valid := NewNote{PatientID: 1, ProviderID: 2, NoteType: TypeSOAP, Content: "S: cough"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(n *NewNote)
	}{
		{"missing patient", func(n *NewNote) { n.PatientID = 0 }},
		{"missing provider", func(n *NewNote) { n.ProviderID = 0 }},
		{"bad type", func(n *NewNote) { n.NoteType = "memo" }},
		{"blank content", func(n *NewNote) { n.Content = "   " }},
		{"bad encounter", func(n *NewNote) { e := int64(-1); n.EncounterID = &e }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			assert.ErrorIs(t, n.Validate(), apperr.ErrValidation)
		})
	}
}

func TestPatch_DistinguishesAbsentFromNull(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"summary":null}`), &p))
	assert.False(t, p.IsEmpty())
	assert.False(t, p.Content.IsSpecified())

	cols, err := p.assignments()
	require.NoError(t, err)
	assert.Equal(t, []column{{"summary", nil}}, cols)

	var empty Patch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.True(t, empty.IsEmpty())
}

func TestPatch_Rejects(t *testing.T) {
	for _, body := range []string{
		`{"content":null}`,
		`{"content":""}`,
		`{"note_type":null}`,
		`{"note_type":"memo"}`,
	} {
		var p Patch
		require.NoError(t, json.Unmarshal([]byte(body), &p))
		_, err := p.assignments()
		assert.ErrorIs(t, err, apperr.ErrValidation, body)
	}
}

func TestFilters_Validate(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)

	assert.NoError(t, (&Filters{Status: StatusAmended}).Validate())
	assert.ErrorIs(t, (&Filters{Status: "archived"}).Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, (&Filters{NoteType: "memo"}).Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, (&Filters{From: &from, To: &to}).Validate(), apperr.ErrValidation)

	f := Filters{Search: "  chest pain "}
	require.NoError(t, f.Validate())
	assert.Equal(t, "chest pain", f.Search)
}
