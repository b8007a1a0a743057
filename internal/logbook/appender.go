package logbook

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/fileio"
	"github.com/scribe-dev/scribe/internal/plugin"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Appender runs the append pipeline: validate, normalize, stamp, derive the
// ID, compose the line, write the file under an exclusive lock, then record
// the entry row. The file write happens first so the on-disk log is never
// missing an entry the database knows about.
type Appender struct {
	store   storage.Store
	files   *sandbox.Checker
	log     *logger.Logger
	plugins *plugin.Registry
	now     func() time.Time

	repoSlug        string
	progressLogName string
	defaultEmoji    string
	defaultAgent    string
	lockBudget      time.Duration
}

// AppenderConfig wires an Appender.
type AppenderConfig struct {
	Store           storage.Store
	Files           *sandbox.Checker
	Logger          *logger.Logger
	Plugins         *plugin.Registry
	RepoSlug        string
	ProgressLogName string
	DefaultEmoji    string
	DefaultAgent    string
	LockBudget      time.Duration
	Now             func() time.Time
}

// NewAppender creates an Appender with config defaults applied.
func NewAppender(cfg AppenderConfig) *Appender {
	a := &Appender{
		store:           cfg.Store,
		files:           cfg.Files,
		log:             cfg.Logger,
		plugins:         cfg.Plugins,
		now:             cfg.Now,
		repoSlug:        cfg.RepoSlug,
		progressLogName: cfg.ProgressLogName,
		defaultEmoji:    cfg.DefaultEmoji,
		defaultAgent:    cfg.DefaultAgent,
		lockBudget:      cfg.LockBudget,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.progressLogName == "" {
		a.progressLogName = "AI_PROGRESS_LOG.md"
	}
	if a.defaultAgent == "" {
		a.defaultAgent = "default"
	}
	if a.lockBudget <= 0 {
		a.lockBudget = fileio.DefaultLockBudget
	}
	return a
}

// AppendRequest carries one entry to append.
type AppendRequest struct {
	Project    *storage.Project
	Message    string
	Status     string
	Agent      string
	Meta       map[string]string
	Stream     string
	Priority   string
	Category   string
	Tags       string
	Confidence *float64

	// Timestamp overrides the clock; bulk appends use it to stagger items.
	Timestamp *time.Time
}

// AppendResult reports one append outcome.
type AppendResult struct {
	EntryID   string   `json:"entry_id"`
	Line      string   `json:"line"`
	Inserted  bool     `json:"inserted"`
	TeedTo    string   `json:"teed_to,omitempty"`
	Timestamp string   `json:"timestamp"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Append runs the full pipeline for one entry.
func (a *Appender) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if err := ValidateMessage(req.Message); err != nil {
		return nil, err
	}
	stream, err := LookupStream(req.Stream)
	if err != nil {
		return nil, err
	}

	meta := NormalizeMeta(req.Meta)
	var warnings []string
	teeable := stream.Name != StreamProgress
	if teeable {
		if missing := stream.MissingMeta(meta); len(missing) > 0 {
			teeable = false
			warnings = append(warnings, metadataMissingWarning(stream.Name, missing))
		}
	}

	ts := a.now().UTC().Truncate(time.Second)
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC().Truncate(time.Second)
	}

	agent := req.Agent
	if agent == "" {
		agent = a.defaultAgent
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = NormalizeConfidence(*req.Confidence)
	}

	entry := &Entry{
		Emoji:      EmojiFor(req.Status, a.defaultEmoji),
		Timestamp:  ts,
		Agent:      agent,
		Project:    req.Project.Name,
		Message:    req.Message,
		Meta:       meta,
		Priority:   InferPriority(req.Priority, req.Status),
		Category:   req.Category,
		Tags:       req.Tags,
		Confidence: confidence,
	}
	entry.ID = DeriveID(a.repoSlug, Slugify(req.Project.Name), ts, agent, req.Message, meta)
	line := entry.RenderLine()

	projectDir := filepath.Dir(req.Project.ProgressLogPath)
	progressPath := req.Project.ProgressLogPath
	if progressPath == "" {
		progressPath = filepath.Join(projectDir, a.progressLogName)
	}
	if _, err := a.files.SafeFileOperation(progressPath, "append_entry"); err != nil {
		return nil, err
	}
	if err := fileio.AppendLine(ctx, progressPath, line, a.lockBudget); err != nil {
		return nil, err
	}

	result := &AppendResult{
		EntryID:   entry.ID,
		Line:      line,
		Timestamp: ts.Format(TimestampLayout),
		Warnings:  warnings,
	}

	if teeable {
		teePath := stream.Path(projectDir, a.progressLogName)
		if _, err := a.files.SafeFileOperation(teePath, "append_entry"); err != nil {
			return nil, err
		}
		if err := fileio.AppendLine(ctx, teePath, line, a.lockBudget); err != nil {
			return nil, err
		}
		result.TeedTo = stream.FileName
	}

	row := &storage.LogEntry{
		ID:         entry.ID,
		ProjectID:  req.Project.ID,
		Timestamp:  ts,
		Emoji:      entry.Emoji,
		Agent:      agent,
		Message:    req.Message,
		Meta:       meta,
		RawLine:    line,
		SHA256:     LineSHA256(line),
		Priority:   entry.Priority,
		Category:   entry.Category,
		Tags:       entry.Tags,
		Confidence: confidence,
	}
	inserted, err := a.store.InsertEntry(ctx, row)
	if err != nil {
		return nil, err
	}
	result.Inserted = inserted
	if !inserted {
		a.log.Debug("duplicate entry replayed",
			zap.String("entry_id", entry.ID),
			zap.String("project", req.Project.Name))
	}
	if inserted && a.plugins != nil {
		result.Warnings = append(result.Warnings, a.plugins.PostAppend(ctx, row)...)
	}
	return result, nil
}

// AppendBulk appends items in order, staggering each item's timestamp by one
// second past the previous so IDs stay distinct and ordering is stable. It
// stops at the first failure and reports how many items landed.
func (a *Appender) AppendBulk(ctx context.Context, reqs []AppendRequest) ([]*AppendResult, error) {
	base := a.now().UTC().Truncate(time.Second)
	results := make([]*AppendResult, 0, len(reqs))
	for i := range reqs {
		req := reqs[i]
		if req.Timestamp == nil {
			ts := base.Add(time.Duration(i) * time.Second)
			req.Timestamp = &ts
		}
		res, err := a.Append(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ReadRecent returns the last n entry lines from the project's progress log.
// Lines that fail to parse are returned raw rather than dropped.
func (a *Appender) ReadRecent(ctx context.Context, project *storage.Project, n int) ([]string, error) {
	if n <= 0 {
		n = 10
	}
	if _, err := a.files.SafeFileOperation(project.ProgressLogPath, "read_recent"); err != nil {
		return nil, err
	}
	return fileio.TailLines(project.ProgressLogPath, n)
}

func metadataMissingWarning(stream string, missing []string) string {
	return scriberr.MetadataMissing(stream, missing).Message +
		" (entry logged to progress only, " + stream + " tee skipped)"
}
