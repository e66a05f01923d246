package memory

import (
	"context"
	"regexp"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// SessionSummary condenses one agent session.
type SessionSummary struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	ProjectID        string    `json:"project_id"`
	Summary          string    `json:"summary"`
	ObservationCount int       `json:"observation_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StoreSessionSummary creates or replaces the summary of sessionID. The
// observation count is taken from the observations recorded in the session.
func (s *Service) StoreSessionSummary(ctx context.Context, sessionID, projectID, summary string) (SessionSummary, error) {
	if sessionID == "" || projectID == "" {
		return SessionSummary{}, amerrors.InvalidArgument("session_id and project_id are required")
	}
	if strings.TrimSpace(summary) == "" {
		return SessionSummary{}, amerrors.InvalidArgument("summary is required")
	}
	count, err := s.Count(ctx, Filter{SessionID: sessionID})
	if err != nil {
		return SessionSummary{}, err
	}
	now := s.now().UTC().UnixNano()
	_, err = s.db.Execute(ctx, `INSERT INTO session_summaries
		(id, session_id, project_id, summary, observation_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			project_id = excluded.project_id,
			observation_count = excluded.observation_count,
			updated_at = excluded.updated_at`,
		ports.String(ids.Of(ids.KindSession, sessionID).String()),
		ports.String(sessionID),
		ports.String(projectID),
		ports.String(summary),
		ports.I64(int64(count)),
		ports.I64(now),
		ports.I64(now),
	)
	if err != nil {
		return SessionSummary{}, err
	}
	return s.GetSessionSummary(ctx, sessionID)
}

// GetSessionSummary returns the summary of sessionID or NotFound.
func (s *Service) GetSessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	row, err := s.db.QueryOne(ctx, `SELECT id, session_id, project_id, summary, observation_count, created_at, updated_at
		FROM session_summaries WHERE session_id = ?`, ports.String(sessionID))
	if err != nil {
		return SessionSummary{}, err
	}
	if row == nil {
		return SessionSummary{}, amerrors.NotFound("no summary for session %s", sessionID)
	}
	var out SessionSummary
	if out.ID, err = row.String("id"); err != nil {
		return out, err
	}
	if out.SessionID, err = row.String("session_id"); err != nil {
		return out, err
	}
	if out.ProjectID, err = row.String("project_id"); err != nil {
		return out, err
	}
	if out.Summary, err = row.String("summary"); err != nil {
		return out, err
	}
	n, err := row.Int64("observation_count")
	if err != nil {
		return out, err
	}
	out.ObservationCount = int(n)
	created, err := row.Int64("created_at")
	if err != nil {
		return out, err
	}
	updated, err := row.Int64("updated_at")
	if err != nil {
		return out, err
	}
	out.CreatedAt = time.Unix(0, created).UTC()
	out.UpdatedAt = time.Unix(0, updated).UTC()
	return out, nil
}

// ErrorPattern is a recurring error recognized by its fingerprint.
type ErrorPattern struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Message     string    `json:"message"`
	Resolution  string    `json:"resolution,omitempty"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

var (
	hexRun     = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b|\b[0-9a-f]{8,}\b`)
	numberRun  = regexp.MustCompile(`\d+`)
	quotedText = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	spaceRun   = regexp.MustCompile(`\s+`)
)

// Fingerprint normalizes volatile parts of an error message (quoted values,
// addresses, numbers) and hashes the result, so repeats of one failure share
// a fingerprint.
func Fingerprint(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	m = quotedText.ReplaceAllString(m, "<str>")
	m = hexRun.ReplaceAllString(m, "<hex>")
	m = numberRun.ReplaceAllString(m, "<n>")
	m = spaceRun.ReplaceAllString(m, " ")
	return filehash.HashBytes([]byte(m))
}

// RecordErrorPattern counts an occurrence of message, creating the pattern
// on first sight. A non-empty resolution replaces the stored one.
// observationID optionally links the occurrence to an observation.
func (s *Service) RecordErrorPattern(ctx context.Context, message, resolution, observationID string) (ErrorPattern, error) {
	if strings.TrimSpace(message) == "" {
		return ErrorPattern{}, amerrors.InvalidArgument("error message is required")
	}
	fp := Fingerprint(message)
	now := s.now().UTC().UnixNano()
	err := s.db.Transaction(ctx, func(tx ports.DatabaseExecutor) error {
		_, err := tx.Execute(ctx, `INSERT INTO error_patterns
			(id, fingerprint, message, resolution, occurrences, first_seen, last_seen)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				occurrences = occurrences + 1,
				last_seen = excluded.last_seen,
				resolution = COALESCE(excluded.resolution, error_patterns.resolution)`,
			ports.String(ids.New()),
			ports.String(fp),
			ports.String(message),
			ports.OptString(resolution),
			ports.I64(now),
			ports.I64(now),
		)
		if err != nil {
			return err
		}
		_, err = tx.Execute(ctx, `INSERT INTO error_pattern_matches (pattern_id, observation_id, matched_at)
			SELECT id, ?, ? FROM error_patterns WHERE fingerprint = ?`,
			ports.OptString(observationID), ports.I64(now), ports.String(fp))
		return err
	})
	if err != nil {
		return ErrorPattern{}, err
	}
	p, _, err := s.MatchErrorPattern(ctx, message)
	return p, err
}

// MatchErrorPattern finds the pattern a message belongs to without
// recording an occurrence.
func (s *Service) MatchErrorPattern(ctx context.Context, message string) (ErrorPattern, bool, error) {
	row, err := s.db.QueryOne(ctx, `SELECT id, fingerprint, message, resolution, occurrences, first_seen, last_seen
		FROM error_patterns WHERE fingerprint = ?`, ports.String(Fingerprint(message)))
	if err != nil || row == nil {
		return ErrorPattern{}, false, err
	}
	var p ErrorPattern
	if p.ID, err = row.String("id"); err != nil {
		return p, false, err
	}
	if p.Fingerprint, err = row.String("fingerprint"); err != nil {
		return p, false, err
	}
	if p.Message, err = row.String("message"); err != nil {
		return p, false, err
	}
	if p.Resolution, err = row.OptString("resolution"); err != nil {
		return p, false, err
	}
	n, err := row.Int64("occurrences")
	if err != nil {
		return p, false, err
	}
	first, err := row.Int64("first_seen")
	if err != nil {
		return p, false, err
	}
	last, err := row.Int64("last_seen")
	if err != nil {
		return p, false, err
	}
	p.Occurrences = int(n)
	p.FirstSeen = time.Unix(0, first).UTC()
	p.LastSeen = time.Unix(0, last).UTC()
	return p, true, nil
}

// PatternMatches returns how many occurrences were recorded for a pattern.
func (s *Service) PatternMatches(ctx context.Context, patternID string) (int, error) {
	row, err := s.db.QueryOne(ctx, `SELECT COUNT(*) AS n FROM error_pattern_matches WHERE pattern_id = ?`,
		ports.String(patternID))
	if err != nil || row == nil {
		return 0, err
	}
	n, err := row.Int64("n")
	return int(n), err
}
