package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// testVaultConfig keeps backoff intervals near zero so retry paths run fast.
func testVaultConfig() *common.VaultConfig {
	return &common.VaultConfig{
		Workers:          4,
		RetryBudget:      3,
		BackoffInitialMS: 1,
		BackoffMaxMS:     2,
	}
}

// fakeRemote is the in-memory tracker backing the service tests. It plays
// both roles: a source instance seeded with issues to export, and a target
// instance recording every mutating call.
type fakeRemote struct {
	mu sync.Mutex

	baseURL    string
	projects   []models.Project
	issueOrder map[string][]string
	issues     map[string]*models.IssueRecord
	comments   map[string][]models.CommentRecord
	attachData map[string][]byte

	// getIssueErrs scripts errors returned by GetIssue per issue id,
	// consumed in order before the real record is served.
	getIssueErrs      map[string][]error
	createProjectErrs []error

	targets     map[string]*targetIssue
	targetOrder []string
	nextIssue   int
	nextComment int

	calls callCounts
}

type targetIssue struct {
	id          string
	project     string
	fields      models.Fields
	comments    []string
	attachments []string
}

type callCounts struct {
	listProjects    int
	listIssues      int
	getIssue        int
	listComments    int
	fetchAttachment int
	createProject   int
	createIssue     int
	updateIssue     int
	addComment      int
	addAttachment   int
}

func (c callCounts) mutating() int {
	return c.createProject + c.createIssue + c.updateIssue + c.addComment + c.addAttachment
}

func newFakeRemote(baseURL string) *fakeRemote {
	return &fakeRemote{
		baseURL:      baseURL,
		issueOrder:   make(map[string][]string),
		issues:       make(map[string]*models.IssueRecord),
		comments:     make(map[string][]models.CommentRecord),
		attachData:   make(map[string][]byte),
		getIssueErrs: make(map[string][]error),
		targets:      make(map[string]*targetIssue),
	}
}

func (f *fakeRemote) addProject(name string) {
	f.projects = append(f.projects, models.Project{ID: "0-" + name, Name: name})
}

func (f *fakeRemote) addIssue(project, id string, fields models.Fields, comments []models.CommentRecord) {
	f.issueOrder[project] = append(f.issueOrder[project], id)
	f.issues[id] = &models.IssueRecord{SourceID: id, Project: project, Fields: fields}
	f.comments[id] = comments
}

// addAttachmentTo seeds attachment bytes on a source issue.
func (f *fakeRemote) addAttachmentTo(issueID, filename string, data []byte) {
	remoteID := fmt.Sprintf("att-%s-%s", issueID, filename)
	f.attachData[remoteID] = data
	rec := f.issues[issueID]
	rec.Attachments = append(rec.Attachments, models.AttachmentRef{
		Filename: filename,
		RemoteID: remoteID,
	})
}

// addAttachmentToComment seeds attachment bytes on one comment of a source
// issue.
func (f *fakeRemote) addAttachmentToComment(issueID string, commentIdx int, filename string, data []byte) {
	remoteID := fmt.Sprintf("att-%s-c%d-%s", issueID, commentIdx, filename)
	f.attachData[remoteID] = data
	f.comments[issueID][commentIdx].Attachments = append(f.comments[issueID][commentIdx].Attachments, models.AttachmentRef{
		Filename: filename,
		RemoteID: remoteID,
	})
}

func (f *fakeRemote) BaseURL() string { return f.baseURL }

func (f *fakeRemote) ListProjects(ctx context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.listProjects++
	return append([]models.Project(nil), f.projects...), nil
}

func (f *fakeRemote) ListIssues(ctx context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.listIssues++
	return append([]string(nil), f.issueOrder[project]...), nil
}

func (f *fakeRemote) GetIssue(ctx context.Context, issueID string) (*models.IssueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.getIssue++

	if errs := f.getIssueErrs[issueID]; len(errs) > 0 {
		f.getIssueErrs[issueID] = errs[1:]
		return nil, errs[0]
	}

	rec, ok := f.issues[issueID]
	if !ok {
		return nil, fmt.Errorf("no such issue %s", issueID)
	}
	clone := *rec
	clone.Fields = append(models.Fields(nil), rec.Fields...)
	clone.Attachments = append([]models.AttachmentRef(nil), rec.Attachments...)
	clone.Comments = nil
	return &clone, nil
}

func (f *fakeRemote) ListComments(ctx context.Context, issueID string) ([]models.CommentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.listComments++

	comments := make([]models.CommentRecord, len(f.comments[issueID]))
	for i, c := range f.comments[issueID] {
		c.Attachments = append([]models.AttachmentRef(nil), c.Attachments...)
		comments[i] = c
	}
	return comments, nil
}

func (f *fakeRemote) FetchAttachment(ctx context.Context, ref models.AttachmentRef) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.fetchAttachment++

	data, ok := f.attachData[ref.RemoteID]
	if !ok {
		return nil, fmt.Errorf("no such attachment %s", ref.RemoteID)
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, project models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.createProject++

	if len(f.createProjectErrs) > 0 {
		err := f.createProjectErrs[0]
		f.createProjectErrs = f.createProjectErrs[1:]
		return err
	}
	f.projects = append(f.projects, project)
	return nil
}

func (f *fakeRemote) CreateIssue(ctx context.Context, project string, fields models.Fields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.createIssue++

	f.nextIssue++
	id := fmt.Sprintf("T-%d", f.nextIssue)
	f.targets[id] = &targetIssue{
		id:      id,
		project: project,
		fields:  append(models.Fields(nil), fields...),
	}
	f.targetOrder = append(f.targetOrder, id)
	return id, nil
}

func (f *fakeRemote) UpdateIssue(ctx context.Context, targetID string, fields models.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.updateIssue++

	t, ok := f.targets[targetID]
	if !ok {
		return fmt.Errorf("no such target issue %s", targetID)
	}
	t.fields = append(models.Fields(nil), fields...)
	return nil
}

func (f *fakeRemote) AddComment(ctx context.Context, targetID string, comment models.CommentRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.addComment++

	t, ok := f.targets[targetID]
	if !ok {
		return "", fmt.Errorf("no such target issue %s", targetID)
	}
	t.comments = append(t.comments, comment.Body)
	f.nextComment++
	return fmt.Sprintf("c-%d", f.nextComment), nil
}

func (f *fakeRemote) AddAttachment(ctx context.Context, targetID, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.addAttachment++

	t, ok := f.targets[targetID]
	if !ok {
		return fmt.Errorf("no such target issue %s", targetID)
	}
	t.attachments = append(t.attachments, filename)
	return nil
}

func (f *fakeRemote) counts() callCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRemote) target(id string) *targetIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[id]
}

var _ interfaces.Remote = (*fakeRemote)(nil)
