package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// buildArchive assembles a finished archive from in-memory records.
func buildArchive(t *testing.T, sourceURL string, project models.Project, issues []*models.IssueRecord, blobs map[string][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "backup.zip")
	builder, err := NewArchiveBuilder(path, testManifest(sourceURL))
	require.NoError(t, err)
	require.NoError(t, builder.AddProject(project))
	for _, rec := range issues {
		rec.Project = project.Name
		require.NoError(t, builder.AddIssue(rec, blobs))
	}
	require.NoError(t, builder.Finalize())
	return path
}

func openIdentity(t *testing.T) *IdentityStore {
	t.Helper()
	ids, err := OpenIdentityStore(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ids.Close() })
	return ids
}

func restoreArchive(t *testing.T, path string, target *fakeRemote, ids *IdentityStore) *models.RunReport {
	t.Helper()

	reader, err := OpenArchive(path)
	require.NoError(t, err)
	defer reader.Close()

	rst := NewRestorer(target, ids, testVaultConfig(), common.GetLogger())
	report, err := rst.Run(context.Background(), reader, nil)
	require.NoError(t, err)
	return report
}

func TestRestoreCreatesIssuesCommentsAndAttachments(t *testing.T) {
	blob := []byte("screenshot bytes")
	hash := models.HashBytes(blob)
	patch := []byte("patch bytes")
	patchHash := models.HashBytes(patch)
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "DEMO"}, []*models.IssueRecord{
		{
			SourceID: "DEMO-1",
			Fields:   models.Fields{{Name: "summary", Value: "broken login"}},
			Comments: []models.CommentRecord{
				{SourceID: "c-1", Author: "ada", Body: "reproduced"},
				{SourceID: "c-2", Author: "grace", Body: "patched",
					Attachments: []models.AttachmentRef{{ContentHash: patchHash, Filename: "diff.patch", Size: int64(len(patch))}}},
			},
			Attachments: []models.AttachmentRef{{ContentHash: hash, Filename: "shot.png", Size: int64(len(blob))}},
		},
		{
			SourceID: "DEMO-2",
			Fields:   models.Fields{{Name: "summary", Value: "slow search"}},
		},
	}, map[string][]byte{hash: blob, patchHash: patch})

	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")
	ids := openIdentity(t)

	report := restoreArchive(t, path, target, ids)
	assert.Equal(t, []string{"DEMO-1", "DEMO-2"}, report.ByOutcome(models.OutcomeSucceeded))

	counts := target.counts()
	assert.Equal(t, 0, counts.createProject)
	assert.Equal(t, 2, counts.createIssue)
	assert.Equal(t, 0, counts.updateIssue)
	assert.Equal(t, 2, counts.addComment)
	assert.Equal(t, 2, counts.addAttachment)

	created := target.target("T-1")
	if summary, _ := created.fields.Get("summary"); summary != "broken login" {
		created = target.target("T-2")
	}
	assert.Equal(t, []string{"reproduced", "patched"}, created.comments)
	// Issue-level attachments upload before comment-level ones.
	assert.Equal(t, []string{"shot.png", "diff.patch"}, created.attachments)
}

func TestRestoreIsIdempotent(t *testing.T) {
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "DEMO"}, []*models.IssueRecord{
		{
			SourceID: "DEMO-1",
			Fields:   models.Fields{{Name: "summary", Value: "broken login"}},
			Comments: []models.CommentRecord{{SourceID: "c-1", Author: "ada", Body: "reproduced"}},
		},
	}, nil)

	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")
	ids := openIdentity(t)

	restoreArchive(t, path, target, ids)
	mutations := target.counts().mutating()
	require.Greater(t, mutations, 0)

	// Second run against an unmodified archive performs zero mutating calls.
	report := restoreArchive(t, path, target, ids)
	assert.Equal(t, mutations, target.counts().mutating())
	assert.Equal(t, []string{"DEMO-1"}, report.ByOutcome(models.OutcomeSkipped))
}

func TestRestoreFingerprintGatesUpdates(t *testing.T) {
	ids := openIdentity(t)
	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")

	first := buildArchive(t, "https://src.example.com", models.Project{Name: "DEMO"}, []*models.IssueRecord{
		{SourceID: "DEMO-1", Fields: models.Fields{{Name: "summary", Value: "v1"}}},
		{SourceID: "DEMO-2", Fields: models.Fields{{Name: "summary", Value: "stable"}}},
	}, nil)
	restoreArchive(t, first, target, ids)
	require.Equal(t, 2, target.counts().createIssue)

	// A later export where only DEMO-1 changed updates exactly that issue.
	second := buildArchive(t, "https://src.example.com", models.Project{Name: "DEMO"}, []*models.IssueRecord{
		{SourceID: "DEMO-1", Fields: models.Fields{{Name: "summary", Value: "v2"}}},
		{SourceID: "DEMO-2", Fields: models.Fields{{Name: "summary", Value: "stable"}}},
	}, nil)
	report := restoreArchive(t, second, target, ids)

	counts := target.counts()
	assert.Equal(t, 2, counts.createIssue)
	assert.Equal(t, 1, counts.updateIssue)
	assert.Equal(t, []string{"DEMO-1"}, report.ByOutcome(models.OutcomeSucceeded))
	assert.Equal(t, []string{"DEMO-2"}, report.ByOutcome(models.OutcomeSkipped))

	mapping, err := ids.LookupIssue("https://src.example.com", "DEMO-1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	updated := target.target(mapping.TargetID)
	summary, _ := updated.fields.Get("summary")
	assert.Equal(t, "v2", summary)
}

func TestRestorePreservesCommentOrder(t *testing.T) {
	bodies := []string{"one", "two", "three", "four", "five"}
	comments := make([]models.CommentRecord, len(bodies))
	for i, body := range bodies {
		comments[i] = models.CommentRecord{SourceID: "c-" + body, Author: "ada", Body: body}
	}
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "DEMO"}, []*models.IssueRecord{
		{SourceID: "DEMO-1", Fields: models.Fields{{Name: "summary", Value: "chatty"}}, Comments: comments},
	}, nil)

	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")
	restoreArchive(t, path, target, openIdentity(t))

	assert.Equal(t, bodies, target.target("T-1").comments)
}

func TestRestoreDuplicateSourceIDLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.zip")
	writeRawArchive(t, path, testManifest("https://src.example.com"), []rawBundle{{
		name: "DEMO-1.zip",
		entries: []rawEntry{
			{projectEntry, mustJSON(t, models.Project{Name: "DEMO"})},
			{issuesPrefix + "DEMO-1.json", mustJSON(t, models.IssueRecord{
				SourceID: "DEMO-1",
				Project:  "DEMO",
				Fields:   models.Fields{{Name: "summary", Value: "earlier"}},
			})},
			{issuesPrefix + "DEMO-1.json", mustJSON(t, models.IssueRecord{
				SourceID: "DEMO-1",
				Project:  "DEMO",
				Fields:   models.Fields{{Name: "summary", Value: "later"}},
			})},
		},
	}})

	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")
	report := restoreArchive(t, path, target, openIdentity(t))

	assert.Equal(t, 1, target.counts().createIssue)
	summary, _ := target.target("T-1").fields.Get("summary")
	assert.Equal(t, "later", summary)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "duplicate source id")
}

func TestRestoreCreatesMissingProject(t *testing.T) {
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "OPS", Description: "ops board"}, []*models.IssueRecord{
		{SourceID: "OPS-1", Fields: models.Fields{{Name: "summary", Value: "pager storm"}}},
	}, nil)

	target := newFakeRemote("https://dst.example.com")
	restoreArchive(t, path, target, openIdentity(t))

	counts := target.counts()
	assert.Equal(t, 1, counts.createProject)
	assert.Equal(t, 1, counts.createIssue)
}

func TestRestoreProjectCreationFailureSkipsBundle(t *testing.T) {
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "OPS"}, []*models.IssueRecord{
		{SourceID: "OPS-1", Fields: models.Fields{{Name: "summary", Value: "a"}}},
		{SourceID: "OPS-2", Fields: models.Fields{{Name: "summary", Value: "b"}}},
	}, nil)

	target := newFakeRemote("https://dst.example.com")
	target.createProjectErrs = []error{common.NewUnknownRemoteError("project quota exceeded")}
	report := restoreArchive(t, path, target, openIdentity(t))

	assert.Equal(t, []string{"OPS-1", "OPS-2"}, report.ByOutcome(models.OutcomeFailed))
	assert.Equal(t, 0, target.counts().createIssue)
}

func TestRestoreProjectCreationAuthFailureIsFatal(t *testing.T) {
	path := buildArchive(t, "https://src.example.com", models.Project{Name: "OPS"}, []*models.IssueRecord{
		{SourceID: "OPS-1", Fields: models.Fields{{Name: "summary", Value: "a"}}},
	}, nil)

	target := newFakeRemote("https://dst.example.com")
	target.createProjectErrs = []error{common.NewAuthError("token lacks admin rights")}

	reader, err := OpenArchive(path)
	require.NoError(t, err)
	defer reader.Close()

	rst := NewRestorer(target, openIdentity(t), testVaultConfig(), common.GetLogger())
	_, err = rst.Run(context.Background(), reader, nil)
	require.Error(t, err)
	assert.True(t, common.IsAuth(err))
}

func TestRestoreCorruptBundleIsFatal(t *testing.T) {
	hash := models.HashBytes([]byte("original"))
	path := filepath.Join(t.TempDir(), "tampered.zip")
	writeRawArchive(t, path, testManifest("https://src.example.com"), []rawBundle{{
		name: "DEMO-1.zip",
		entries: []rawEntry{
			{projectEntry, mustJSON(t, models.Project{Name: "DEMO"})},
			{blobsPrefix + hash, []byte("tampered")},
		},
	}})

	target := newFakeRemote("https://dst.example.com")
	target.addProject("DEMO")

	reader, err := OpenArchive(path)
	require.NoError(t, err)
	defer reader.Close()

	rst := NewRestorer(target, openIdentity(t), testVaultConfig(), common.GetLogger())
	_, err = rst.Run(context.Background(), reader, nil)
	require.Error(t, err)
	assert.True(t, common.IsArchiveCorrupt(err))
	assert.Equal(t, 0, target.counts().mutating())
}
