package memory

import (
	"context"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// GetTimeline returns up to before observations strictly older than the
// anchor, the anchor, and up to after strictly newer ones, oldest first.
// Every returned observation, the anchor included, passes f.
func (s *Service) GetTimeline(ctx context.Context, anchorID string, before, after int, f Filter) ([]domain.Observation, error) {
	if before < 0 || after < 0 {
		return nil, amerrors.InvalidArgument("timeline depths must not be negative")
	}
	found, err := s.loadByIDs(ctx, []string{anchorID}, f)
	if err != nil {
		return nil, err
	}
	anchor, ok := found[anchorID]
	if !ok {
		return nil, amerrors.NotFound("observation %s not found under filter", anchorID)
	}
	at := ports.I64(anchor.CreatedAt.UnixNano())
	cond, params := f.where()

	var older []domain.Observation
	if before > 0 {
		older, err = s.queryObservations(ctx,
			`SELECT `+observationColumns+` FROM observations o WHERE o.created_at < ?`+cond+
				` ORDER BY o.created_at DESC, o.id DESC LIMIT ?`,
			append(append([]ports.Param{at}, params...), ports.I64(int64(before))))
		if err != nil {
			return nil, err
		}
	}
	var newer []domain.Observation
	if after > 0 {
		newer, err = s.queryObservations(ctx,
			`SELECT `+observationColumns+` FROM observations o WHERE o.created_at > ?`+cond+
				` ORDER BY o.created_at ASC, o.id ASC LIMIT ?`,
			append(append([]ports.Param{at}, params...), ports.I64(int64(after))))
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.Observation, 0, len(older)+1+len(newer))
	for i := len(older) - 1; i >= 0; i-- {
		out = append(out, older[i])
	}
	out = append(out, anchor)
	return append(out, newer...), nil
}

func (s *Service) queryObservations(ctx context.Context, query string, params []ports.Param) ([]domain.Observation, error) {
	rows, err := s.db.QueryAll(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Observation, 0, len(rows))
	for _, row := range rows {
		o, err := scanObservation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Recent returns the newest observations passing f, newest first.
func (s *Service) Recent(ctx context.Context, f Filter, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		return []domain.Observation{}, nil
	}
	cond, params := f.where()
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations o WHERE 1=1`+cond+
			` ORDER BY o.created_at DESC, o.id DESC LIMIT ?`,
		append(params, ports.I64(int64(limit))))
}
