package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
	"github.com/gokkuu100/wakiliweb-sub003/internal/retrieval"
)

const excerptLen = 400

// Store is the sqlite-vec backed legal knowledge index. Passages live in the
// knowledge_sources table; their embeddings in a vec0 virtual table keyed by
// source id.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *zap.Logger
}

var _ retrieval.Searcher = (*Store)(nil)

func NewStore(db *sql.DB, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.initVecTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initVecTable() error {
	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_vec USING vec0(embedding float[%d], source_id TEXT)`,
		s.embedder.Dimensions(),
	)
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create knowledge vec table: %w", err)
	}
	return nil
}

// AddSource indexes one knowledge passage: the row and its embedding.
func (s *Store) AddSource(ctx context.Context, src models.KnowledgeSource) (string, error) {
	if strings.TrimSpace(src.Content) == "" {
		return "", fmt.Errorf("source content cannot be empty")
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}

	embedding, err := s.embedder.EmbedDocument(ctx, src.Content)
	if err != nil {
		return "", fmt.Errorf("embed source %s: %w", src.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO knowledge_sources (id, title, source_type, authority, legal_area, jurisdiction, document_url, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.Title, src.SourceType, src.Authority, src.LegalArea, strings.ToLower(src.Jurisdiction), src.DocumentURL, src.Content, time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("insert source: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO knowledge_vec (embedding, source_id) VALUES (?, ?)`,
		encodeFloat32Blob(embedding), src.ID,
	); err != nil {
		return "", fmt.Errorf("insert embedding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit source: %w", err)
	}
	return src.ID, nil
}

// Search embeds the query and runs a cosine KNN match over the index.
func (s *Store) Search(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT s.id, s.title, s.source_type, COALESCE(s.authority, ''), COALESCE(s.legal_area, ''),
		       COALESCE(s.document_url, ''), s.content,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM knowledge_vec v
		JOIN knowledge_sources s ON s.id = v.source_id`
	args := []any{encodeFloat32Blob(embedding)}

	var filters []string
	if len(q.LegalAreas) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.LegalAreas)), ",")
		filters = append(filters, fmt.Sprintf("s.legal_area IN (%s)", placeholders))
		for _, a := range q.LegalAreas {
			args = append(args, a)
		}
	}
	if q.Jurisdiction != "" {
		filters = append(filters, "(s.jurisdiction = ? OR s.jurisdiction IS NULL)")
		args = append(args, q.Jurisdiction)
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += " ORDER BY distance ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var src models.KnowledgeSource
		var distance float64
		if err := rows.Scan(&src.ID, &src.Title, &src.SourceType, &src.Authority, &src.LegalArea,
			&src.DocumentURL, &src.Content, &distance); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, models.RetrievalResult{
			Source:    src,
			Relevance: distanceToRelevance(distance),
			Excerpt:   excerpt(src.Content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}

	s.logger.Debug("knowledge search",
		zap.String("user_id", q.UserID),
		zap.Int("hits", len(results)))
	return results, nil
}

// distanceToRelevance maps a cosine distance in [0,2] onto a 0-1 relevance
// score, 1 meaning an exact match.
func distanceToRelevance(distance float64) float64 {
	rel := 1 - distance/2
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}

// excerpt trims a passage to the leading excerptLen runes on a word boundary.
func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= excerptLen {
		return content
	}
	cut := content[:excerptLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func encodeFloat32Blob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
