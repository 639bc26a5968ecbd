package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prediction is the stored outcome of one frame or still image.
type Prediction struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id,omitempty"`
	Seq           uint64             `json:"seq"`
	State         string             `json:"state"`
	Label         string             `json:"label,omitempty"`
	Confidence    int                `json:"confidence"`
	Probabilities map[string]float32 `json:"probabilities,omitempty"`
	Error         string             `json:"error,omitempty"`
	// Source is the image path for one-shot classification.
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LabelCount is the number of predictions with a label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// PredictionFilter narrows List.
type PredictionFilter struct {
	SessionID string
	Label     string
	Since     time.Time
	Limit     int
}

// PredictionRepository stores classification history.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create inserts p, assigning its ID and creation time when unset.
func (r *PredictionRepository) Create(p *Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	// Stored as text, so every row must share one offset for range queries.
	p.CreatedAt = p.CreatedAt.UTC()

	probs := "{}"
	if len(p.Probabilities) > 0 {
		data, err := json.Marshal(p.Probabilities)
		if err != nil {
			return fmt.Errorf("encode probabilities: %w", err)
		}
		probs = string(data)
	}

	var sessionID any
	if p.SessionID != "" {
		sessionID = p.SessionID
	}

	_, err := r.db.Exec(
		`INSERT INTO predictions (id, session_id, seq, state, label, confidence, probabilities, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, sessionID, int64(p.Seq), p.State, p.Label, p.Confidence, probs, p.Error, p.Source, p.CreatedAt,
	)
	return err
}

// List returns predictions matching f, most recent first.
func (r *PredictionRepository) List(f PredictionFilter) ([]*Prediction, error) {
	var where []string
	var args []any

	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Label != "" {
		where = append(where, "label = ?")
		args = append(args, f.Label)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, COALESCE(session_id, ''), seq, state, label, confidence, probabilities, error, source, created_at
		FROM predictions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*Prediction
	for rows.Next() {
		p := &Prediction{}
		var seq int64
		var probs string
		if err := rows.Scan(&p.ID, &p.SessionID, &seq, &p.State, &p.Label, &p.Confidence, &probs, &p.Error, &p.Source, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Seq = uint64(seq)
		if probs != "" && probs != "{}" {
			if err := json.Unmarshal([]byte(probs), &p.Probabilities); err != nil {
				return nil, fmt.Errorf("decode probabilities for %s: %w", p.ID, err)
			}
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// CountByLabel tallies labelled predictions, most frequent first.
func (r *PredictionRepository) CountByLabel(sessionID string) ([]LabelCount, error) {
	query := `SELECT label, COUNT(*) FROM predictions WHERE label != ''`
	var args []any
	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " GROUP BY label ORDER BY COUNT(*) DESC, label"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []LabelCount
	for rows.Next() {
		var c LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Prune deletes predictions older than before and returns how many were removed.
func (r *PredictionRepository) Prune(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM predictions WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
