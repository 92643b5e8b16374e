package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// Restorer reads an archive and reconciles it onto a target instance. The
// identity map makes the whole thing idempotent: re-running restore on an
// unmodified archive performs zero mutating remote calls.
type Restorer struct {
	remote  interfaces.Remote
	ids     interfaces.IdentityStore
	retry   RetryPolicy
	workers int
	log     arbor.ILogger
}

func NewRestorer(remote interfaces.Remote, ids interfaces.IdentityStore, cfg *common.VaultConfig, log arbor.ILogger) *Restorer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Restorer{
		remote:  remote,
		ids:     ids,
		retry:   RetryPolicyFromConfig(cfg),
		workers: workers,
		log:     log,
	}
}

type restoreResult struct {
	issueID string
	outcome models.IssueOutcome
	reason  string
	err     error
}

// Run reconciles every bundle of the archive. Reconciliation is
// issue-granular: one failed issue is reported and processing continues.
// Archive corruption and authentication failures abort the run.
func (r *Restorer) Run(ctx context.Context, reader *ArchiveReader, stop <-chan struct{}) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.New().String()[:8],
		Command:   "restore",
		StartedAt: time.Now(),
	}
	defer func() { report.Elapsed = time.Since(report.StartedAt) }()

	sourceURL := reader.Manifest().SourceURL

	var targetProjects []models.Project
	err := r.retry.Do(ctx, func() error {
		var err error
		targetProjects, err = r.remote.ListProjects(ctx)
		return err
	}, nil)
	if err != nil {
		return report, err
	}
	onTarget := make(map[string]bool, len(targetProjects))
	for _, p := range targetProjects {
		onTarget[p.Name] = true
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := make(map[string]bool)

	for _, ref := range reader.Bundles() {
		select {
		case <-stop:
			r.log.Warn().Msg("Stop requested, remaining bundles are not restored")
			return report, nil
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		bundle, err := reader.LoadBundle(ref)
		if err != nil {
			// Integrity failures are instance-level, not per-issue.
			return report, err
		}

		if !onTarget[bundle.Project.Name] {
			err := r.retry.Do(ctx, func() error {
				return r.remote.CreateProject(ctx, bundle.Project)
			}, nil)
			if err != nil {
				if common.IsAuth(err) {
					return report, err
				}
				r.log.Error().Err(err).Str("project", bundle.Project.Name).Msg("Project creation failed, bundle skipped")
				for _, rec := range bundle.Issues {
					report.Add(rec.SourceID, models.OutcomeFailed,
						fmt.Sprintf("project %s could not be created: %v", bundle.Project.Name, err))
				}
				continue
			}
			onTarget[bundle.Project.Name] = true
			r.log.Info().Str("project", bundle.Project.Name).Msg("Project created on target")
		}

		issues := dedupeBySourceID(bundle.Issues, seen, report, r.log)

		fatal := r.restoreBundle(ctx, cancel, sourceURL, issues, bundle.Blobs, stop, report)
		if fatal != nil {
			return report, fatal
		}
	}

	return report, nil
}

// dedupeBySourceID resolves operator-error duplicates: when two archived
// issues carry the same source id, the later one in iteration order wins.
// Duplicates already restored earlier in the run go through the normal
// update path, which overwrites fields and fingerprint (last write wins).
func dedupeBySourceID(issues []*models.IssueRecord, seen map[string]bool, report *models.RunReport, log arbor.ILogger) []*models.IssueRecord {
	lastIndex := make(map[string]int, len(issues))
	for i, rec := range issues {
		if prev, dup := lastIndex[rec.SourceID]; dup {
			conflict := common.NewConflictError(
				fmt.Sprintf("duplicate source id %s, later record wins", rec.SourceID))
			log.Warn().Str("issue", rec.SourceID).Msg(conflict.Error())
			report.Warn("%s", conflict.Error())
			issues[prev] = nil
		}
		lastIndex[rec.SourceID] = i
	}

	out := issues[:0]
	for _, rec := range issues {
		if rec == nil {
			continue
		}
		if seen[rec.SourceID] {
			conflict := common.NewConflictError(
				fmt.Sprintf("duplicate source id %s across bundles, later record wins", rec.SourceID))
			log.Warn().Str("issue", rec.SourceID).Msg(conflict.Error())
			report.Warn("%s", conflict.Error())
		}
		seen[rec.SourceID] = true
		out = append(out, rec)
	}
	return out
}

func (r *Restorer) restoreBundle(ctx context.Context, cancel context.CancelFunc, sourceURL string, issues []*models.IssueRecord, blobs map[string][]byte, stop <-chan struct{}, report *models.RunReport) error {
	jobs := make(chan *models.IssueRecord)
	results := make(chan restoreResult)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				results <- r.restoreIssue(ctx, sourceURL, rec, blobs)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range issues {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case jobs <- rec:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		report.Add(res.issueID, res.outcome, res.reason)
		if res.err != nil && common.IsAuth(res.err) && fatal == nil {
			fatal = res.err
			cancel()
		}
	}
	return fatal
}

// restoreIssue reconciles one issue: identity resolution, fingerprint-gated
// field update, create-if-absent comments in original order, and
// hash-gated attachment upload. The per-key lock guarantees no two workers
// ever create two target issues for the same source issue.
func (r *Restorer) restoreIssue(ctx context.Context, sourceURL string, rec *models.IssueRecord, blobs map[string][]byte) restoreResult {
	unlock := r.ids.LockKey(sourceURL, rec.SourceID)
	defer unlock()

	fail := func(err error) restoreResult {
		r.log.Error().Err(err).Str("issue", rec.SourceID).Msg("Issue restore failed")
		return restoreResult{issueID: rec.SourceID, outcome: models.OutcomeFailed, reason: err.Error(), err: err}
	}

	mapping, err := r.ids.LookupIssue(sourceURL, rec.SourceID)
	if err != nil {
		return fail(err)
	}

	fingerprint := rec.Fields.Fingerprint()
	mutations := 0
	var targetID string

	if mapping == nil {
		// New issue on the target.
		err := r.retry.Do(ctx, func() error {
			var err error
			targetID, err = r.remote.CreateIssue(ctx, rec.Project, rec.Fields)
			return err
		}, nil)
		if err != nil {
			return fail(err)
		}
		if err := r.ids.RecordIssue(sourceURL, rec.SourceID, interfaces.IssueMapping{
			TargetID:    targetID,
			Fingerprint: fingerprint,
		}); err != nil {
			return fail(err)
		}
		mutations++
		r.log.Info().Str("issue", rec.SourceID).Str("target", targetID).Msg("Issue created on target")
	} else {
		targetID = mapping.TargetID
		if mapping.Fingerprint != fingerprint {
			err := r.retry.Do(ctx, func() error {
				return r.remote.UpdateIssue(ctx, targetID, rec.Fields)
			}, nil)
			if err != nil {
				return fail(err)
			}
			if err := r.ids.RecordIssue(sourceURL, rec.SourceID, interfaces.IssueMapping{
				TargetID:    targetID,
				Fingerprint: fingerprint,
			}); err != nil {
				return fail(err)
			}
			mutations++
			r.log.Info().Str("issue", rec.SourceID).Str("target", targetID).Msg("Issue updated on target")
		} else {
			r.log.Debug().Str("issue", rec.SourceID).Msg("Issue unchanged, update skipped")
		}
	}

	// Comments are immutable once created: create-if-absent, original order.
	for _, comment := range rec.Comments {
		existing, err := r.ids.LookupComment(sourceURL, comment.SourceID)
		if err != nil {
			return fail(err)
		}
		if existing != "" {
			continue
		}

		var targetCommentID string
		comment := comment
		err = r.retry.Do(ctx, func() error {
			var err error
			targetCommentID, err = r.remote.AddComment(ctx, targetID, comment)
			return err
		}, nil)
		if err != nil {
			return fail(err)
		}
		if err := r.ids.RecordComment(sourceURL, comment.SourceID, targetCommentID); err != nil {
			return fail(err)
		}
		mutations++
	}

	// An attachment is uploaded once per (target issue, content hash).
	for _, ref := range rec.AttachmentRefs() {
		has, err := r.ids.HasAttachment(targetID, ref.ContentHash)
		if err != nil {
			return fail(err)
		}
		if has {
			continue
		}

		data, ok := blobs[ref.ContentHash]
		if !ok {
			return fail(common.NewArchiveCorruptError(
				fmt.Sprintf("issue %s references missing blob %s", rec.SourceID, ref.ContentHash)))
		}
		ref := ref
		err = r.retry.Do(ctx, func() error {
			return r.remote.AddAttachment(ctx, targetID, ref.Filename, data)
		}, nil)
		if err != nil {
			return fail(err)
		}
		if err := r.ids.RecordAttachment(targetID, ref.ContentHash, ref.Filename); err != nil {
			return fail(err)
		}
		mutations++
	}

	if mutations == 0 {
		return restoreResult{issueID: rec.SourceID, outcome: models.OutcomeSkipped, reason: "already restored"}
	}
	return restoreResult{issueID: rec.SourceID, outcome: models.OutcomeSucceeded}
}
