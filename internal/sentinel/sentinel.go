// Package sentinel implements cross-project, per-day event logging: a JSONL
// file per UTC day plus a brief markdown mirror, with monotonically assigned
// per-day bug and security case IDs.
package sentinel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/fileio"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
)

// Event types written to the day file.
const (
	TypeEvent    = "event"
	TypeBug      = "bug"
	TypeSecurity = "security"
	TypeFixLink  = "fix_link"
)

const (
	dayLayout    = "2006-01-02"
	markdownName = "SENTINEL_LOG.md"
)

// Event is one sentinel record.
type Event struct {
	ID        string            `json:"id,omitempty"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"ts"`
	Agent     string            `json:"agent,omitempty"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity,omitempty"`
	CaseID    string            `json:"case_id,omitempty"` // fix_link target
	Meta      map[string]string `json:"meta,omitempty"`
}

// Service owns the sentinel day files.
type Service struct {
	files      *sandbox.Checker
	log        *logger.Logger
	dir        string
	lockBudget time.Duration
	now        func() time.Time

	// Serializes ID allocation within the process; the file lock covers
	// other processes.
	mu sync.Mutex
}

// Config wires the service.
type Config struct {
	Files      *sandbox.Checker
	Logger     *logger.Logger
	Dir        string
	LockBudget time.Duration
	Now        func() time.Time
}

// NewService creates the sentinel service.
func NewService(cfg Config) *Service {
	s := &Service{
		files:      cfg.Files,
		log:        cfg.Logger,
		dir:        cfg.Dir,
		lockBudget: cfg.LockBudget,
		now:        cfg.Now,
	}
	if s.lockBudget <= 0 {
		s.lockBudget = fileio.DefaultLockBudget
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Day returns the current sentinel day in UTC.
func (s *Service) Day() string {
	return s.now().UTC().Format(dayLayout)
}

func (s *Service) dayPath(day string) string {
	return filepath.Join(s.dir, day+".jsonl")
}

// AppendEvent writes a plain event to the current day.
func (s *Service) AppendEvent(ctx context.Context, agent, message string, meta map[string]string) (*Event, error) {
	ev := &Event{
		Type:      TypeEvent,
		Timestamp: s.now().UTC(),
		Agent:     agent,
		Message:   message,
		Meta:      meta,
	}
	if err := s.write(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// OpenBug opens a bug case with a per-day monotonic BUG ID.
func (s *Service) OpenBug(ctx context.Context, agent, message, severity string, meta map[string]string) (*Event, error) {
	return s.openCase(ctx, TypeBug, "BUG", agent, message, severity, meta)
}

// OpenSecurity opens a security case with a per-day monotonic SEC ID.
func (s *Service) OpenSecurity(ctx context.Context, agent, message, severity string, meta map[string]string) (*Event, error) {
	return s.openCase(ctx, TypeSecurity, "SEC", agent, message, severity, meta)
}

func (s *Service) openCase(ctx context.Context, eventType, prefix, agent, message, severity string, meta map[string]string) (*Event, error) {
	if message == "" {
		return nil, scriberr.Validation("message", "message must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.Day()
	next, err := s.nextCaseNumber(day, prefix)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		ID:        fmt.Sprintf("%s-%s-%04d", prefix, day, next),
		Type:      eventType,
		Timestamp: s.now().UTC(),
		Agent:     agent,
		Message:   message,
		Severity:  severity,
		Meta:      meta,
	}
	if err := s.write(ctx, ev); err != nil {
		return nil, err
	}
	s.log.Info("sentinel case opened",
		zap.String("case_id", ev.ID), zap.String("severity", severity))
	return ev, nil
}

// LinkFix records a fix reference against an existing case. The case's day
// is parsed from its ID; linking to an unknown case fails.
func (s *Service) LinkFix(ctx context.Context, agent, caseID, message string) (*Event, error) {
	day, err := caseDay(caseID)
	if err != nil {
		return nil, err
	}
	found, err := s.caseExists(day, caseID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, scriberr.NotFound("case", caseID)
	}
	ev := &Event{
		Type:      TypeFixLink,
		Timestamp: s.now().UTC(),
		Agent:     agent,
		Message:   message,
		CaseID:    caseID,
	}
	if err := s.write(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ReadDay returns all events for a day, oldest first.
func (s *Service) ReadDay(day string) ([]*Event, error) {
	path, err := s.files.SafeFileOperation(s.dayPath(day), "read_sentinel")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scriberr.Internal(err, "open sentinel day file")
	}
	defer f.Close()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.log.Warn("skipping malformed sentinel line", zap.Error(err))
			continue
		}
		events = append(events, &ev)
	}
	return events, scanner.Err()
}

func (s *Service) write(ctx context.Context, ev *Event) error {
	path, err := s.files.SafeFileOperation(s.dayPath(ev.Timestamp.Format(dayLayout)), "append_sentinel")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return scriberr.Internal(err, "create sentinel directory")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return scriberr.Internal(err, "marshal sentinel event")
	}
	if err := fileio.AppendLine(ctx, path, string(data), s.lockBudget); err != nil {
		return err
	}
	return s.mirror(ctx, ev)
}

// mirror appends a one-line markdown summary; failures are logged only.
func (s *Service) mirror(ctx context.Context, ev *Event) error {
	path, err := s.files.SafeFileOperation(filepath.Join(s.dir, markdownName), "append_sentinel")
	if err != nil {
		return err
	}
	label := ev.Type
	if ev.ID != "" {
		label = ev.ID
	}
	line := fmt.Sprintf("- [%s] **%s** %s", ev.Timestamp.Format("2006-01-02 15:04:05 UTC"), label, ev.Message)
	if ev.CaseID != "" {
		line += " (fixes " + ev.CaseID + ")"
	}
	if err := fileio.AppendLine(ctx, path, line, s.lockBudget); err != nil {
		s.log.Warn("sentinel markdown mirror failed", zap.Error(err))
	}
	return nil
}

// nextCaseNumber scans the day file for the highest assigned number with
// the given prefix.
func (s *Service) nextCaseNumber(day, prefix string) (int, error) {
	events, err := s.ReadDay(day)
	if err != nil {
		return 0, err
	}
	max := 0
	idPrefix := prefix + "-" + day + "-"
	for _, ev := range events {
		if !strings.HasPrefix(ev.ID, idPrefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(ev.ID, idPrefix)); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (s *Service) caseExists(day, caseID string) (bool, error) {
	events, err := s.ReadDay(day)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.ID == caseID {
			return true, nil
		}
	}
	return false, nil
}

// caseDay extracts the YYYY-MM-DD part from BUG-YYYY-MM-DD-NNNN form IDs.
func caseDay(caseID string) (string, error) {
	parts := strings.Split(caseID, "-")
	if len(parts) != 5 || (parts[0] != "BUG" && parts[0] != "SEC") {
		return "", scriberr.Validation("case_id", "malformed case ID %q", caseID)
	}
	day := strings.Join(parts[1:4], "-")
	if _, err := time.Parse(dayLayout, day); err != nil {
		return "", scriberr.Validation("case_id", "malformed case ID %q", caseID)
	}
	return day, nil
}
