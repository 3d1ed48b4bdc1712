package clinicalnotes

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
)

// Applies the shipped global migrations and exercises the version trigger on
// a real Postgres when TEST_DATABASE_URL is set.
func TestRepoIntegration_TriggerCapturesVersionsAndSignIsOnce(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	_, err = db.NewMigrator(pool, "../../../migrations/global").Up(ctx, db.GlobalSchema)
	require.NoError(t, err)

	repo := NewRepoPG(db.NewGlobal(pool))

	note, err := repo.Create(ctx, &NewNote{
		PatientID:  900001,
		ProviderID: 7,
		NoteType:   TypeProgress,
		Content:    "initial assessment",
	}, "dr-a")
	require.NoError(t, err)
	defer func() { _ = repo.Delete(ctx, note.ID) }()

	for _, content := range []string{"revised assessment", "final assessment"} {
		p := &Patch{}
		p.Content.Set(content)
		_, err := repo.Update(ctx, note.ID, p, "dr-b")
		require.NoError(t, err)
	}

	signed, err := repo.Sign(ctx, note.ID, "dr-a")
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, signed.Status)
	require.NotNil(t, signed.SignedAt)

	_, err = repo.Sign(ctx, note.ID, "dr-b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p := &Patch{}
	p.Content.Set("edited after signing")
	_, err = repo.Update(ctx, note.ID, p, "dr-b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	got, err := repo.GetByID(ctx, note.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "final assessment", got.Content)
	assert.Equal(t, StatusSigned, got.Status)
	require.NotNil(t, got.SignedBy)
	assert.Equal(t, "dr-a", *got.SignedBy)

	// One version per insert and per content change; signing adds none.
	versions, err := repo.GetVersions(ctx, note.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	want := []string{"initial assessment", "revised assessment", "final assessment"}
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
		assert.Equal(t, want[i], v.Content)
	}
	require.NotNil(t, versions[0].ChangedBy)
	assert.Equal(t, "dr-a", *versions[0].ChangedBy)
	require.NotNil(t, versions[2].ChangedBy)
	assert.Equal(t, "dr-b", *versions[2].ChangedBy)

	v2, err := repo.GetVersion(ctx, note.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "revised assessment", v2.Content)

	_, err = repo.GetVersion(ctx, note.ID, 4)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
