package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

func TestValidateProjectName(t *testing.T) {
	assert.NoError(t, ValidateProjectName("billing"))
	assert.NoError(t, ValidateProjectName("release.zip"))
	assert.NoError(t, ValidateProjectName("v3.zip-archive"))

	assert.Error(t, ValidateProjectName("billing-3.zip"))
	assert.Error(t, ValidateProjectName("notes-12.zip"))
}

func TestSelectRejectsBundleLikeNameBeforeAnyRemoteCall(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	remote.addProject("billing-3.zip")
	sel := NewSelector(remote, common.GetLogger())

	_, _, err := sel.Select(context.Background(), []string{"billing-3.zip"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, common.ErrorTypeValidation, common.TypeOf(err))
	assert.Equal(t, 0, remote.counts().listProjects)
}

func TestSelectRejectsBundleLikeVisibleProject(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	remote.addProject("notes-12.zip")
	sel := NewSelector(remote, common.GetLogger())

	_, _, err := sel.Select(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, common.ErrorTypeValidation, common.TypeOf(err))
}

func TestSelectZeroVisibleProjects(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	sel := NewSelector(remote, common.GetLogger())

	_, _, err := sel.Select(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, common.ErrorTypeSelection, common.TypeOf(err))
}

func TestSelectAllProjects(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	remote.addProject("DEMO")
	remote.addProject("OPS")
	remote.addIssue("DEMO", "DEMO-1", models.Fields{{Name: "summary", Value: "a"}}, nil)
	remote.addIssue("DEMO", "DEMO-2", models.Fields{{Name: "summary", Value: "b"}}, nil)
	remote.addIssue("OPS", "OPS-1", models.Fields{{Name: "summary", Value: "c"}}, nil)
	sel := NewSelector(remote, common.GetLogger())

	projects, work, err := sel.Select(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	require.Len(t, work, 3)
	assert.Equal(t, WorkItem{Project: "DEMO", IssueID: "DEMO-1"}, work[0])
	assert.Equal(t, WorkItem{Project: "OPS", IssueID: "OPS-1"}, work[2])
}

func TestSelectProjectFilter(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	remote.addProject("DEMO")
	remote.addProject("OPS")
	remote.addIssue("DEMO", "DEMO-1", nil, nil)
	remote.addIssue("OPS", "OPS-1", nil, nil)
	sel := NewSelector(remote, common.GetLogger())

	report := &models.RunReport{}
	projects, work, err := sel.Select(context.Background(), []string{"OPS", "GHOST"}, nil, report)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "OPS", projects[0].Name)
	require.Len(t, work, 1)
	assert.Equal(t, "OPS-1", work[0].IssueID)

	// A filtered name invisible to the token is a warning, not a failure.
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "GHOST")
}

func TestSelectIssueFilterDropsForeignIDs(t *testing.T) {
	remote := newFakeRemote("https://src.example.com")
	remote.addProject("DEMO")
	remote.addIssue("DEMO", "DEMO-1", nil, nil)
	remote.addIssue("DEMO", "DEMO-2", nil, nil)
	remote.addIssue("DEMO", "DEMO-3", nil, nil)
	sel := NewSelector(remote, common.GetLogger())

	report := &models.RunReport{}
	_, work, err := sel.Select(context.Background(), nil, []string{"DEMO-2", "OTHER-9"}, report)
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "DEMO-2", work[0].IssueID)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "OTHER-9")
}
