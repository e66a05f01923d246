// Package memory is the observation store: content-addressed records with
// full-text and semantic retrieval and anchor-centered timelines.
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/filehash"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/ports"
	"github.com/Aman-CERP/amanctx/internal/syncx"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// CollectionName is the fixed name the memory vector collection derives from.
const CollectionName = "amanctx-memory"

// DefaultPreviewRunes is the content preview length of MemorySearch.
const DefaultPreviewRunes = 120

const observationColumns = `o.id, o.project_id, o.content, o.content_hash, o.tags, o.type,
	o.metadata, o.created_at, o.embedding_id`

// Options configures a Service.
type Options struct {
	// Alpha weights semantic against full-text scores in searches.
	Alpha float64
	// PreviewRunes bounds MemorySearch previews.
	PreviewRunes int
	Bus          ports.EventBusProvider
	Logger       *slog.Logger
	// Now overrides the clock used for created_at.
	Now func() time.Time
}

// Service implements the memory store over a relational executor, a vector
// store and an embedding provider.
type Service struct {
	db       ports.DatabaseExecutor
	vectors  ports.VectorStoreProvider
	embedder ports.EmbeddingProvider
	bus      ports.EventBusProvider
	logger   *slog.Logger
	locks    *syncx.KeyedMutex
	alpha    float64
	preview  int
	now      func() time.Time
	vecName  string
}

// New creates the service. The database must already be migrated.
func New(db ports.DatabaseExecutor, vectors ports.VectorStoreProvider, embedder ports.EmbeddingProvider, opts Options) *Service {
	if opts.Alpha < 0 || opts.Alpha > 1 {
		opts.Alpha = 0.7
	}
	if opts.PreviewRunes <= 0 {
		opts.PreviewRunes = DefaultPreviewRunes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:       db,
		vectors:  vectors,
		embedder: embedder,
		bus:      opts.Bus,
		logger:   opts.Logger,
		locks:    syncx.NewKeyedMutex(),
		alpha:    opts.Alpha,
		preview:  opts.PreviewRunes,
		now:      opts.Now,
		vecName:  ids.CollectionFromName(CollectionName).BackendName(),
	}
}

// StoreRequest is the input of StoreObservation.
type StoreRequest struct {
	ProjectID string                     `json:"project_id"`
	Content   string                     `json:"content"`
	Type      domain.ObservationType     `json:"type"`
	Tags      []string                   `json:"tags,omitempty"`
	Metadata  domain.ObservationMetadata `json:"metadata"`
}

// StoreResult reports the id of the stored or already-present observation.
type StoreResult struct {
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated"`
}

// StoreObservation persists an observation unless one with the same content
// hash exists, in which case the existing id is returned and nothing is
// written. Stores of equal content are serialized on the hash.
func (s *Service) StoreObservation(ctx context.Context, req StoreRequest) (StoreResult, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return StoreResult{}, amerrors.InvalidArgument("project_id is required")
	}
	if req.Content == "" {
		return StoreResult{}, amerrors.InvalidArgument("content is required")
	}
	if req.Type == "" {
		req.Type = domain.ObservationContext
	}
	if _, err := domain.ParseObservationType(string(req.Type)); err != nil {
		return StoreResult{}, amerrors.InvalidArgument("%s", err.Error())
	}

	hash := filehash.HashBytes([]byte(req.Content))
	unlock := s.locks.Lock(hash)
	defer unlock()

	if existing, ok, err := s.FindByHash(ctx, hash); err != nil {
		return StoreResult{}, err
	} else if ok {
		telemetry.ObservationsStoredTotal.WithLabelValues("deduplicated").Inc()
		return StoreResult{ID: existing.ID, Deduplicated: true}, nil
	}

	emb, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		return StoreResult{}, err
	}
	if err := s.ensureCollection(ctx, emb.Dimensions); err != nil {
		return StoreResult{}, err
	}

	obs := domain.Observation{
		ID:          ids.New(),
		ProjectID:   req.ProjectID,
		Content:     req.Content,
		ContentHash: hash,
		Tags:        normalizeTags(req.Tags),
		Type:        req.Type,
		Metadata:    req.Metadata,
		CreatedAt:   s.now().UTC(),
	}
	vecIDs, err := s.vectors.Insert(ctx, s.vecName, [][]float32{emb.Vector}, []map[string]any{vectorMetadata(obs)})
	if err != nil {
		return StoreResult{}, err
	}
	obs.EmbeddingID = vecIDs[0]

	if err := s.insertRow(ctx, obs); err != nil {
		if delErr := s.vectors.DeleteVectors(ctx, s.vecName, vecIDs); delErr != nil {
			s.logger.Warn("failed to remove orphaned memory vector",
				slog.String("embedding_id", obs.EmbeddingID),
				slog.String("error", delErr.Error()))
		}
		// Another process may have won the UNIQUE(content_hash) race.
		if existing, ok, findErr := s.FindByHash(ctx, hash); findErr == nil && ok {
			telemetry.ObservationsStoredTotal.WithLabelValues("deduplicated").Inc()
			return StoreResult{ID: existing.ID, Deduplicated: true}, nil
		}
		telemetry.ObservationsStoredTotal.WithLabelValues("error").Inc()
		return StoreResult{}, err
	}

	telemetry.ObservationsStoredTotal.WithLabelValues("stored").Inc()
	if s.bus != nil && s.bus.HasSubscribers() {
		s.bus.Publish(events.CacheInvalidate{Namespace: "memory", Key: obs.ProjectID})
	}
	return StoreResult{ID: obs.ID}, nil
}

func (s *Service) ensureCollection(ctx context.Context, dims int) error {
	ok, err := s.vectors.HasCollection(ctx, s.vecName)
	if err != nil || ok {
		return err
	}
	return s.vectors.CreateCollection(ctx, s.vecName, dims)
}

func vectorMetadata(o domain.Observation) map[string]any {
	filePath := o.Metadata.FilePath
	if filePath == "" {
		filePath = "memory"
	}
	meta := map[string]any{
		"observation_id": o.ID,
		"content":        o.Content,
		"type":           string(o.Type),
		"tags":           o.Tags,
		"project_id":     o.ProjectID,
		"file_path":      filePath,
		"start_line":     o.Metadata.StartLine,
	}
	if o.Metadata.SessionID != "" {
		meta["session_id"] = o.Metadata.SessionID
	}
	if o.Metadata.RepoID != "" {
		meta["repo_id"] = o.Metadata.RepoID
	}
	return meta
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *Service) insertRow(ctx context.Context, o domain.Observation) error {
	tags, err := json.Marshal(o.Tags)
	if err != nil {
		return amerrors.Internal("encode tags", err)
	}
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return amerrors.Internal("encode observation metadata", err)
	}
	_, err = s.db.Execute(ctx, `INSERT INTO observations
		(id, project_id, content, content_hash, tags, type, metadata, session_id, repo_id, file_path, created_at, embedding_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ports.String(o.ID),
		ports.String(o.ProjectID),
		ports.String(o.Content),
		ports.String(o.ContentHash),
		ports.String(string(tags)),
		ports.String(string(o.Type)),
		ports.String(string(meta)),
		ports.OptString(o.Metadata.SessionID),
		ports.OptString(o.Metadata.RepoID),
		ports.OptString(o.Metadata.FilePath),
		ports.I64(o.CreatedAt.UnixNano()),
		ports.OptString(o.EmbeddingID),
	)
	return err
}

// FindByHash looks up an observation by content hash.
func (s *Service) FindByHash(ctx context.Context, hash string) (domain.Observation, bool, error) {
	row, err := s.db.QueryOne(ctx, `SELECT `+observationColumns+` FROM observations o WHERE o.content_hash = ?`,
		ports.String(hash))
	if err != nil || row == nil {
		return domain.Observation{}, false, err
	}
	obs, err := scanObservation(*row)
	return obs, err == nil, err
}

// Get returns one observation or a NotFound error.
func (s *Service) Get(ctx context.Context, id string) (domain.Observation, error) {
	row, err := s.db.QueryOne(ctx, `SELECT `+observationColumns+` FROM observations o WHERE o.id = ?`,
		ports.String(id))
	if err != nil {
		return domain.Observation{}, err
	}
	if row == nil {
		return domain.Observation{}, amerrors.NotFound("observation %s not found", id)
	}
	return scanObservation(*row)
}

// GetByIDs returns observations in the order of ids, skipping unknown ids.
func (s *Service) GetByIDs(ctx context.Context, ids []string) ([]domain.Observation, error) {
	found, err := s.loadByIDs(ctx, ids, Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Observation, 0, len(ids))
	for _, id := range ids {
		if o, ok := found[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// loadByIDs fetches the observations among ids that pass f.
func (s *Service) loadByIDs(ctx context.Context, ids []string, f Filter) (map[string]domain.Observation, error) {
	out := make(map[string]domain.Observation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	params := make([]ports.Param, 0, len(ids))
	for _, id := range ids {
		params = append(params, ports.String(id))
	}
	cond, fparams := f.where()
	rows, err := s.db.QueryAll(ctx,
		`SELECT `+observationColumns+` FROM observations o WHERE o.id IN (`+placeholders+`)`+cond,
		append(params, fparams...)...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		o, err := scanObservation(row)
		if err != nil {
			return nil, err
		}
		out[o.ID] = o
	}
	return out, nil
}

// Count returns the number of observations passing f.
func (s *Service) Count(ctx context.Context, f Filter) (int, error) {
	cond, params := f.where()
	row, err := s.db.QueryOne(ctx, `SELECT COUNT(*) AS n FROM observations o WHERE 1=1`+cond, params...)
	if err != nil || row == nil {
		return 0, err
	}
	n, err := row.Int64("n")
	return int(n), err
}

func scanObservation(row ports.Row) (domain.Observation, error) {
	var (
		o   domain.Observation
		err error
	)
	str := func(col string, dst *string) {
		if err == nil {
			*dst, err = row.String(col)
		}
	}
	str("id", &o.ID)
	str("project_id", &o.ProjectID)
	str("content", &o.Content)
	str("content_hash", &o.ContentHash)
	var tags, typ, meta string
	str("tags", &tags)
	str("type", &typ)
	str("metadata", &meta)
	if err != nil {
		return o, err
	}
	if o.EmbeddingID, err = row.OptString("embedding_id"); err != nil {
		return o, err
	}
	created, err := row.Int64("created_at")
	if err != nil {
		return o, err
	}
	o.CreatedAt = time.Unix(0, created).UTC()
	o.Type = domain.ObservationType(typ)
	if err := json.Unmarshal([]byte(tags), &o.Tags); err != nil {
		return o, amerrors.Decode("observation %s: tags: %v", o.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
		return o, amerrors.Decode("observation %s: metadata: %v", o.ID, err)
	}
	return o, nil
}
