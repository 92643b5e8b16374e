package interfaces

import (
	"context"

	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// Remote is the tracker client facade. Every call is synchronous, carries a
// per-call timeout through its context, and may fail transiently; callers
// classify errors via common.TypeOf and own the retry policy.
type Remote interface {
	// BaseURL identifies the instance this client talks to.
	BaseURL() string

	ListProjects(ctx context.Context) ([]models.Project, error)
	ListIssues(ctx context.Context, project string) ([]string, error)
	GetIssue(ctx context.Context, issueID string) (*models.IssueRecord, error)
	ListComments(ctx context.Context, issueID string) ([]models.CommentRecord, error)
	FetchAttachment(ctx context.Context, ref models.AttachmentRef) ([]byte, error)

	CreateProject(ctx context.Context, project models.Project) error
	CreateIssue(ctx context.Context, project string, fields models.Fields) (string, error)
	UpdateIssue(ctx context.Context, targetID string, fields models.Fields) error
	AddComment(ctx context.Context, targetID string, comment models.CommentRecord) (string, error)
	AddAttachment(ctx context.Context, targetID, filename string, data []byte) error
}
