package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

const (
	issueFieldsParam   = "idReadable,summary,description,created,updated,project(id,shortName),customFields(name,value(name,login,text,presentation)),attachments(id,name,size,url,created,author(login))"
	commentFieldsParam = "id,text,created,author(login),attachments(id,name,size,url,created,author(login))"
	projectFieldsParam = "id,name,shortName,description"
)

// YouTrackClient implements the Remote facade against the YouTrack REST API.
// One client is shared by all pool workers.
type YouTrackClient struct {
	client   *resty.Client
	baseURL  string
	pageSize int

	mu         sync.Mutex
	projectIDs map[string]string // shortName -> internal id
}

func NewYouTrackClient(baseURL, token string, cfg *common.VaultConfig) *YouTrackClient {
	baseURL = strings.TrimRight(baseURL, "/")
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(time.Duration(cfg.RequestTimeout) * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &YouTrackClient{
		client:     client,
		baseURL:    baseURL,
		pageSize:   pageSize,
		projectIDs: make(map[string]string),
	}
}

func (c *YouTrackClient) BaseURL() string { return c.baseURL }

// remoteError maps a transport failure or HTTP status onto the error
// taxonomy driving the retry policy.
func remoteError(resp *resty.Response, err error, what string) error {
	if err != nil {
		return common.NewTransientError("network", fmt.Sprintf("%s failed", what)).WithCause(err)
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusOK, code == http.StatusCreated:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return common.NewAuthError(fmt.Sprintf("%s returned status %d", what, code))
	case code == http.StatusNotFound:
		return common.NewNotFoundError(fmt.Sprintf("%s returned status %d", what, code))
	case code == http.StatusTooManyRequests:
		return common.NewRateLimitError(fmt.Sprintf("%s returned status %d", what, code))
	case code >= 500:
		return common.NewTransientError("server_error", fmt.Sprintf("%s returned status %d", what, code))
	default:
		return common.NewUnknownRemoteError(fmt.Sprintf("%s returned status %d: %s", what, code, resp.String()))
	}
}

type ytUser struct {
	Login string `json:"login"`
}

type ytAttachment struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	URL     string `json:"url"`
	Created int64  `json:"created"`
	Author  ytUser `json:"author"`
}

type ytCustomField struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type ytIssue struct {
	IDReadable   string          `json:"idReadable"`
	Summary      string          `json:"summary"`
	Description  string          `json:"description"`
	Created      int64           `json:"created"`
	Updated      int64           `json:"updated"`
	Project      ytProject       `json:"project"`
	CustomFields []ytCustomField `json:"customFields"`
	Attachments  []ytAttachment  `json:"attachments"`
}

type ytProject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"shortName"`
	Description string `json:"description"`
}

type ytComment struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Created     int64          `json:"created"`
	Author      ytUser         `json:"author"`
	Attachments []ytAttachment `json:"attachments"`
}

func (c *YouTrackClient) ListProjects(ctx context.Context) ([]models.Project, error) {
	var raw []ytProject

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", projectFieldsParam).
		SetQueryParam("$top", "-1").
		SetResult(&raw).
		Get("/api/admin/projects")
	if rerr := remoteError(resp, err, "list projects"); rerr != nil {
		return nil, rerr
	}

	projects := make([]models.Project, 0, len(raw))
	c.mu.Lock()
	for _, p := range raw {
		c.projectIDs[p.ShortName] = p.ID
	}
	c.mu.Unlock()
	for _, p := range raw {
		projects = append(projects, models.Project{
			ID:          p.ID,
			Name:        p.ShortName,
			Description: p.Description,
		})
	}
	return projects, nil
}

func (c *YouTrackClient) ListIssues(ctx context.Context, project string) ([]string, error) {
	var ids []string
	skip := 0

	for {
		var page []struct {
			IDReadable string `json:"idReadable"`
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParam("query", fmt.Sprintf("project: %s sort by: created asc", project)).
			SetQueryParam("fields", "idReadable").
			SetQueryParam("$skip", strconv.Itoa(skip)).
			SetQueryParam("$top", strconv.Itoa(c.pageSize)).
			SetResult(&page).
			Get("/api/issues")
		if rerr := remoteError(resp, err, fmt.Sprintf("list issues of %s", project)); rerr != nil {
			return nil, rerr
		}

		for _, it := range page {
			ids = append(ids, it.IDReadable)
		}
		if len(page) < c.pageSize {
			return ids, nil
		}
		skip += c.pageSize
	}
}

func (c *YouTrackClient) GetIssue(ctx context.Context, issueID string) (*models.IssueRecord, error) {
	var raw ytIssue

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", issueFieldsParam).
		SetResult(&raw).
		Get(fmt.Sprintf("/api/issues/%s", issueID))
	if rerr := remoteError(resp, err, fmt.Sprintf("get issue %s", issueID)); rerr != nil {
		return nil, rerr
	}

	fields := models.Fields{
		{Name: "summary", Value: raw.Summary},
		{Name: "description", Value: raw.Description},
	}
	for _, cf := range raw.CustomFields {
		fields = append(fields, models.Field{Name: cf.Name, Value: flattenFieldValue(cf.Value)})
	}

	return &models.IssueRecord{
		SourceID:    raw.IDReadable,
		Project:     raw.Project.ShortName,
		Fields:      fields,
		Attachments: convertAttachments(raw.Attachments),
		CreatedAt:   time.UnixMilli(raw.Created),
		UpdatedAt:   time.UnixMilli(raw.Updated),
	}, nil
}

func (c *YouTrackClient) ListComments(ctx context.Context, issueID string) ([]models.CommentRecord, error) {
	var raw []ytComment

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", commentFieldsParam).
		SetQueryParam("$top", "-1").
		SetResult(&raw).
		Get(fmt.Sprintf("/api/issues/%s/comments", issueID))
	if rerr := remoteError(resp, err, fmt.Sprintf("list comments of %s", issueID)); rerr != nil {
		return nil, rerr
	}

	comments := make([]models.CommentRecord, 0, len(raw))
	for _, cm := range raw {
		comments = append(comments, models.CommentRecord{
			SourceID:    cm.ID,
			Author:      cm.Author.Login,
			Body:        cm.Text,
			CreatedAt:   time.UnixMilli(cm.Created),
			Attachments: convertAttachments(cm.Attachments),
		})
	}
	return comments, nil
}

func (c *YouTrackClient) FetchAttachment(ctx context.Context, ref models.AttachmentRef) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(ref.ContentURL)
	if rerr := remoteError(resp, err, fmt.Sprintf("fetch attachment %s", ref.Filename)); rerr != nil {
		return nil, rerr
	}
	return resp.Body(), nil
}

func (c *YouTrackClient) CreateProject(ctx context.Context, project models.Project) error {
	body := map[string]interface{}{
		"name":      project.Name,
		"shortName": project.Name,
	}
	if project.Description != "" {
		body["description"] = project.Description
	}

	var created ytProject
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", projectFieldsParam).
		SetBody(body).
		SetResult(&created).
		Post("/api/admin/projects")
	if rerr := remoteError(resp, err, fmt.Sprintf("create project %s", project.Name)); rerr != nil {
		return rerr
	}

	c.mu.Lock()
	c.projectIDs[created.ShortName] = created.ID
	c.mu.Unlock()
	return nil
}

func (c *YouTrackClient) cachedProjectID(shortName string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.projectIDs[shortName]
	return id, ok
}

func (c *YouTrackClient) projectID(ctx context.Context, shortName string) (string, error) {
	if id, ok := c.cachedProjectID(shortName); ok {
		return id, nil
	}
	if _, err := c.ListProjects(ctx); err != nil {
		return "", err
	}
	if id, ok := c.cachedProjectID(shortName); ok {
		return id, nil
	}
	return "", common.NewNotFoundError(fmt.Sprintf("project %s not found on target", shortName))
}

func (c *YouTrackClient) CreateIssue(ctx context.Context, project string, fields models.Fields) (string, error) {
	projectID, err := c.projectID(ctx, project)
	if err != nil {
		return "", err
	}

	body := issueBody(fields)
	body["project"] = map[string]string{"id": projectID}

	var created struct {
		IDReadable string `json:"idReadable"`
	}
	resp, rerr := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "idReadable").
		SetBody(body).
		SetResult(&created).
		Post("/api/issues")
	if err := remoteError(resp, rerr, fmt.Sprintf("create issue in %s", project)); err != nil {
		return "", err
	}
	return created.IDReadable, nil
}

func (c *YouTrackClient) UpdateIssue(ctx context.Context, targetID string, fields models.Fields) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(issueBody(fields)).
		Post(fmt.Sprintf("/api/issues/%s", targetID))
	return remoteError(resp, err, fmt.Sprintf("update issue %s", targetID))
}

func (c *YouTrackClient) AddComment(ctx context.Context, targetID string, comment models.CommentRecord) (string, error) {
	// Authorship cannot be impersonated over the API; keep it in the body.
	text := comment.Body
	if comment.Author != "" {
		text = fmt.Sprintf("[%s @ %s]\n%s", comment.Author, comment.CreatedAt.Format("2006-01-02 15:04"), comment.Body)
	}

	var created struct {
		ID string `json:"id"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "id").
		SetBody(map[string]string{"text": text}).
		SetResult(&created).
		Post(fmt.Sprintf("/api/issues/%s/comments", targetID))
	if rerr := remoteError(resp, err, fmt.Sprintf("add comment to %s", targetID)); rerr != nil {
		return "", rerr
	}
	return created.ID, nil
}

func (c *YouTrackClient) AddAttachment(ctx context.Context, targetID, filename string, data []byte) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		Post(fmt.Sprintf("/api/issues/%s/attachments", targetID))
	return remoteError(resp, err, fmt.Sprintf("attach %s to %s", filename, targetID))
}

// issueBody maps the open field list onto the update payload. Summary and
// description are top-level in the API; everything else is a custom field.
func issueBody(fields models.Fields) map[string]interface{} {
	body := make(map[string]interface{})
	var custom []map[string]interface{}

	for _, f := range fields {
		switch f.Name {
		case "summary", "description":
			body[f.Name] = f.Value
		default:
			custom = append(custom, map[string]interface{}{
				"name":  f.Name,
				"value": map[string]string{"name": f.Value},
			})
		}
	}
	if len(custom) > 0 {
		body["customFields"] = custom
	}
	return body
}

func convertAttachments(raw []ytAttachment) []models.AttachmentRef {
	if len(raw) == 0 {
		return nil
	}
	refs := make([]models.AttachmentRef, 0, len(raw))
	for _, a := range raw {
		refs = append(refs, models.AttachmentRef{
			Filename:   a.Name,
			Size:       a.Size,
			Author:     a.Author.Login,
			Created:    time.UnixMilli(a.Created).Format(time.RFC3339),
			RemoteID:   a.ID,
			ContentURL: a.URL,
		})
	}
	return refs
}

// flattenFieldValue renders the polymorphic custom-field value shapes
// (object, array, primitive) into a display string.
func flattenFieldValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return fieldObjectName(obj)
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		names := make([]string, 0, len(list))
		for _, item := range list {
			names = append(names, fieldObjectName(item))
		}
		return strings.Join(names, ", ")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func fieldObjectName(obj map[string]interface{}) string {
	for _, key := range []string{"name", "login", "text", "presentation"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

var _ interfaces.Remote = (*YouTrackClient)(nil)
