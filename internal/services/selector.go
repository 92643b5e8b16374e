package services

import (
	"context"
	"regexp"

	"github.com/ternarybob/arbor"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// bundleSuffixPattern matches project names that would collide with the
// bundle naming scheme <project>-<seq>.zip. Such names make an archive
// ambiguous to parse, so they are rejected before any network call.
var bundleSuffixPattern = regexp.MustCompile(`-\d+\.zip$`)

// WorkItem is one issue reference to export.
type WorkItem struct {
	Project string
	IssueID string
}

// Selector resolves user-supplied project/issue filters into a concrete
// ordered work list. It performs read calls only.
type Selector struct {
	remote interfaces.Remote
	log    arbor.ILogger
}

func NewSelector(remote interfaces.Remote, log arbor.ILogger) *Selector {
	return &Selector{remote: remote, log: log}
}

// ValidateProjectName fails fast when name ends in '-<digits>.zip'.
func ValidateProjectName(name string) error {
	if bundleSuffixPattern.MatchString(name) {
		return common.NewInvalidProjectNameError(name)
	}
	return nil
}

// Select resolves the filters against the remote. An empty projectFilter
// means every project visible to the token. A non-empty issueFilter
// restricts the work list to exactly those ids; ids not belonging to any
// selected project are dropped with a warning. Zero visible projects is a
// SelectionError.
func (s *Selector) Select(ctx context.Context, projectFilter, issueFilter []string, report *models.RunReport) ([]models.Project, []WorkItem, error) {
	// Name precondition is checked on the filter itself before touching
	// the remote.
	for _, name := range projectFilter {
		if err := ValidateProjectName(name); err != nil {
			return nil, nil, err
		}
	}

	visible, err := s.remote.ListProjects(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(visible) == 0 {
		return nil, nil, common.NewSelectionError("the remote reports zero visible projects")
	}

	wanted := make(map[string]bool, len(projectFilter))
	for _, name := range projectFilter {
		wanted[name] = true
	}

	var selected []models.Project
	for _, p := range visible {
		if len(wanted) > 0 && !wanted[p.Name] {
			s.log.Debug().Str("project", p.Name).Msg("Skipped project")
			continue
		}
		if err := ValidateProjectName(p.Name); err != nil {
			return nil, nil, err
		}
		selected = append(selected, p)
	}

	if len(wanted) > 0 {
		selectedNames := make(map[string]bool, len(selected))
		for _, p := range selected {
			selectedNames[p.Name] = true
		}
		for name := range wanted {
			if !selectedNames[name] {
				s.log.Warn().Str("project", name).Msg("Filtered project is not visible to the token")
				if report != nil {
					report.Warn("project %q is not visible to the token", name)
				}
			}
		}
	}

	wantedIssues := make(map[string]bool, len(issueFilter))
	for _, id := range issueFilter {
		wantedIssues[id] = true
	}

	var work []WorkItem
	matched := make(map[string]bool, len(wantedIssues))
	for _, p := range selected {
		ids, err := s.remote.ListIssues(ctx, p.Name)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range ids {
			if len(wantedIssues) > 0 && !wantedIssues[id] {
				s.log.Debug().Str("issue", id).Msg("Skipped issue")
				continue
			}
			matched[id] = true
			work = append(work, WorkItem{Project: p.Name, IssueID: id})
		}
	}

	// An id belonging to no selected project is dropped, not fatal.
	for _, id := range issueFilter {
		if !matched[id] {
			s.log.Warn().Str("issue", id).Msg("Issue id does not belong to any selected project, dropped")
			if report != nil {
				report.Warn("issue id %q does not belong to any selected project, dropped", id)
			}
		}
	}

	return selected, work, nil
}
