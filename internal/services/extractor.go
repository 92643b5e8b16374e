package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
	"github.com/GiovanniLombardo/Youtrack/internal/models"
)

// Extractor drives the selector's work list through the remote facade and
// streams completed issue records into an archive builder. A bounded worker
// pool keeps the remote's rate limits honest; one worker owns one issue end
// to end, so the comments of an issue are always fetched sequentially and in
// order.
type Extractor struct {
	remote  interfaces.Remote
	retry   RetryPolicy
	workers int
	log     arbor.ILogger
}

func NewExtractor(remote interfaces.Remote, cfg *common.VaultConfig, log arbor.ILogger) *Extractor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Extractor{
		remote:  remote,
		retry:   RetryPolicyFromConfig(cfg),
		workers: workers,
		log:     log,
	}
}

type extractResult struct {
	item    WorkItem
	outcome models.IssueOutcome
	reason  string
	err     error
}

// Run processes the work list. Per-issue failures are recorded in the
// report and never abort sibling issues; authentication failures abort the
// whole run. Closing stop lets in-flight issues finish, then halts the pool
// before new issues start.
func (e *Extractor) Run(ctx context.Context, builder *ArchiveBuilder, projects []models.Project, work []WorkItem, stop <-chan struct{}) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.New().String()[:8],
		Command:   "backup",
		StartedAt: time.Now(),
	}
	defer func() { report.Elapsed = time.Since(report.StartedAt) }()

	for _, p := range projects {
		if err := builder.AddProject(p); err != nil {
			return report, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan WorkItem)
	results := make(chan extractResult)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- e.extractOne(ctx, builder, item)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, item := range work {
			// Stop wins over handing out more work.
			select {
			case <-stop:
				e.log.Warn().Msg("Stop requested, no new issues will start")
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-stop:
				e.log.Warn().Msg("Stop requested, no new issues will start")
				return
			case <-ctx.Done():
				return
			case jobs <- item:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		report.Add(res.item.IssueID, res.outcome, res.reason)
		if res.err != nil && common.IsAuth(res.err) && fatal == nil {
			fatal = res.err
			cancel()
		}
	}

	return report, fatal
}

func (e *Extractor) extractOne(ctx context.Context, builder *ArchiveBuilder, item WorkItem) extractResult {
	log := e.log.Debug().Str("project", item.Project).Str("issue", item.IssueID)

	if status, found, err := builder.Ledger().Status(item.IssueID); err == nil && found && status == StatusDone {
		log.Msg("Already archived, skipped")
		return extractResult{item: item, outcome: models.OutcomeSkipped, reason: "already archived"}
	}

	var rec *models.IssueRecord
	var blobs map[string][]byte
	attempts := 0

	err := e.retry.Do(ctx, func() error {
		r, b, err := e.fetchIssue(ctx, item)
		if err != nil {
			return err
		}
		rec, blobs = r, b
		return nil
	}, func(state AttemptState, attempt int) {
		attempts = attempt
		if state == StateRetrying {
			e.log.Warn().Str("issue", item.IssueID).Int("attempt", attempt).Msg("Transient remote error, retrying")
		}
	})

	if err != nil {
		if common.IsAuth(err) {
			return extractResult{item: item, outcome: models.OutcomeFailed, reason: err.Error(), err: err}
		}
		if lerr := builder.Ledger().MarkFailed(item.IssueID, err.Error(), attempts); lerr != nil {
			e.log.Error().Err(lerr).Str("issue", item.IssueID).Msg("Failed to record ledger status")
		}
		e.log.Error().Err(err).Str("issue", item.IssueID).Int("attempts", attempts).Msg("Issue extraction failed")
		return extractResult{item: item, outcome: models.OutcomeFailed, reason: err.Error(), err: err}
	}

	if err := builder.AddIssue(rec, blobs); err != nil {
		return extractResult{item: item, outcome: models.OutcomeFailed, reason: err.Error(), err: err}
	}

	e.log.Info().Str("issue", item.IssueID).Int("comments", len(rec.Comments)).Msg("Issue archived")
	return extractResult{item: item, outcome: models.OutcomeSucceeded}
}

// fetchIssue assembles the complete record: fields, comments in original
// order, and attachment bytes hashed on arrival. Identical bytes referenced
// from several places collapse into one blob.
func (e *Extractor) fetchIssue(ctx context.Context, item WorkItem) (*models.IssueRecord, map[string][]byte, error) {
	rec, err := e.remote.GetIssue(ctx, item.IssueID)
	if err != nil {
		return nil, nil, err
	}
	rec.Project = item.Project

	comments, err := e.remote.ListComments(ctx, item.IssueID)
	if err != nil {
		return nil, nil, err
	}
	rec.Comments = comments

	blobs := make(map[string][]byte)
	fetch := func(refs []models.AttachmentRef) error {
		for i := range refs {
			data, err := e.remote.FetchAttachment(ctx, refs[i])
			if err != nil {
				return err
			}
			hash := models.HashBytes(data)
			refs[i].ContentHash = hash
			refs[i].Size = int64(len(data))
			blobs[hash] = data
		}
		return nil
	}

	if err := fetch(rec.Attachments); err != nil {
		return nil, nil, err
	}
	for i := range rec.Comments {
		if err := fetch(rec.Comments[i].Attachments); err != nil {
			return nil, nil, err
		}
	}

	return rec, blobs, nil
}
