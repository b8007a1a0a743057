package reminder

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/storage"
)

const defaultMaxPerResponse = 5

// Engine selects reminders for a tool response.
type Engine struct {
	store storage.Store
	cache *Cache
	log   *logger.Logger
	now   func() time.Time

	definitions        []*Definition
	maxPerResponse     int
	teachingSessionCap int64
	sessionAwareHashes bool
}

// EngineConfig wires the engine.
type EngineConfig struct {
	Store              storage.Store
	Cache              *Cache
	Logger             *logger.Logger
	Definitions        []*Definition
	MaxPerResponse     int
	TeachingSessionCap int
	SessionAwareHashes bool
	Now                func() time.Time
}

// NewEngine creates a reminder engine; nil Definitions selects the builtins.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:              cfg.Store,
		cache:              cfg.Cache,
		log:                cfg.Logger,
		now:                cfg.Now,
		definitions:        cfg.Definitions,
		maxPerResponse:     cfg.MaxPerResponse,
		teachingSessionCap: int64(cfg.TeachingSessionCap),
		sessionAwareHashes: cfg.SessionAwareHashes,
	}
	if e.definitions == nil {
		e.definitions = Builtins()
	}
	if e.maxPerResponse <= 0 {
		e.maxPerResponse = defaultMaxPerResponse
	}
	if e.teachingSessionCap <= 0 {
		e.teachingSessionCap = 3
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Shown is one emitted reminder.
type Shown struct {
	Key     string `json:"key"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Evaluate selects the reminders to attach to the current tool response and
// records each shown one to history and the cooldown cache.
func (e *Engine) Evaluate(ctx context.Context, rc *Context) []Shown {
	now := e.now().UTC()
	var candidates []*Definition
	for _, def := range e.definitions {
		if def.Applies == nil || def.Applies(rc) {
			candidates = append(candidates, def)
		}
	}

	var eligible []*Definition
	for _, def := range candidates {
		show, err := e.shouldShow(ctx, rc, def, now)
		if err != nil {
			e.log.Warn("reminder eligibility check failed",
				zap.String("key", def.Key), zap.Error(err))
			continue
		}
		if show {
			eligible = append(eligible, def)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if levelRank[a.Level] != levelRank[b.Level] {
			return levelRank[a.Level] > levelRank[b.Level]
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return categoryWeight[a.Category] > categoryWeight[b.Category]
	})
	if len(eligible) > e.maxPerResponse {
		eligible = eligible[:e.maxPerResponse]
	}

	shown := make([]Shown, 0, len(eligible))
	for _, def := range eligible {
		e.record(ctx, rc, def, now)
		shown = append(shown, Shown{Key: def.Key, Level: def.Level, Message: def.Render(rc, now)})
	}
	return shown
}

// shouldShow applies the cooldown decision: failure bypasses everything,
// then the teaching cap, then the cooldown window.
func (e *Engine) shouldShow(ctx context.Context, rc *Context, def *Definition, now time.Time) (bool, error) {
	if rc.OperationStatus == storage.StatusFailure {
		return true, nil
	}
	if def.Category == CategoryTeaching {
		count, err := e.store.CountShownInSession(ctx, rc.SessionID, def.Key)
		if err != nil {
			return false, err
		}
		if count >= e.teachingSessionCap {
			return false, nil
		}
	}
	hash := e.hashFor(rc, def)
	if last, ok := e.cache.LastShown(hash); ok {
		if now.Sub(last) < time.Duration(def.CooldownMinutes)*time.Minute {
			return false, nil
		}
	} else if row, err := e.store.LastShown(ctx, rc.SessionID, hash); err == nil && row != nil {
		if now.Sub(row.ShownAt) < time.Duration(def.CooldownMinutes)*time.Minute {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) record(ctx context.Context, rc *Context, def *Definition, now time.Time) {
	hash := e.hashFor(rc, def)
	e.cache.MarkShown(hash, rc.ProjectRoot, rc.AgentID, now)
	status := rc.OperationStatus
	if status == "" {
		status = storage.StatusNeutral
	}
	err := e.store.InsertReminderHistory(ctx, &storage.ReminderHistoryEntry{
		SessionID:       rc.SessionID,
		ReminderHash:    hash,
		ProjectRoot:     rc.ProjectRoot,
		AgentID:         rc.AgentID,
		ToolName:        rc.ToolName,
		ReminderKey:     def.Key,
		ShownAt:         now,
		OperationStatus: status,
		ContextMetadata: rc.Variables,
	})
	if err != nil {
		e.log.Warn("record reminder history failed",
			zap.String("key", def.Key), zap.Error(err))
	}
}

func (e *Engine) hashFor(rc *Context, def *Definition) string {
	return Hash(rc.ProjectRoot, rc.AgentID, rc.ToolName, def.Key, rc.SessionID, e.sessionAwareHashes)
}

// ResetCooldowns clears cooldown state for a project root and optional
// agent, returning the number of cleared entries.
func (e *Engine) ResetCooldowns(projectRoot, agentID string) int {
	removed := e.cache.Reset(projectRoot, agentID)
	e.cache.Persist()
	return removed
}

// Persist flushes the cooldown cache.
func (e *Engine) Persist() { e.cache.Persist() }

// CacheSize reports how many cooldown entries are active.
func (e *Engine) CacheSize() int { return e.cache.Size() }
