package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/astrolight/internal/metrics"
)

// ErrEvaluationNotFound is returned by GetEvaluation for an unknown id.
var ErrEvaluationNotFound = errors.New("evaluation not found")

// Evaluation is a persisted test run of a model against a stored catalog.
type Evaluation struct {
	EvaluationID string          `json:"evaluation_id"`
	Source       string          `json:"source"`
	ModelPath    string          `json:"model_path"`
	Accuracy     float64         `json:"accuracy"`
	MacroF1      float64         `json:"macro_f1"`
	Total        int             `json:"total"`
	Labels       []int           `json:"labels"`
	Confusion    [][]float64     `json:"confusion"`
	ParamsJSON   json.RawMessage `json:"params_json,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// NewEvaluation summarises a metrics report for storage.
func NewEvaluation(source, modelPath string, r *metrics.Report) *Evaluation {
	e := &Evaluation{
		Source:    source,
		ModelPath: modelPath,
		Accuracy:  r.Accuracy,
		MacroF1:   r.MacroF1,
		Total:     r.Total,
		Labels:    append([]int(nil), r.Labels...),
	}
	if r.Confusion != nil {
		n, _ := r.Confusion.Dims()
		e.Confusion = make([][]float64, n)
		for i := range e.Confusion {
			e.Confusion[i] = append([]float64(nil), r.Confusion.RawRowView(i)...)
		}
	}
	return e
}

// InsertEvaluation persists a new evaluation. If EvaluationID is empty, a UUID is generated.
func (s *Store) InsertEvaluation(eval *Evaluation) error {
	if eval.EvaluationID == "" {
		eval.EvaluationID = uuid.New().String()
	}
	if eval.CreatedAt == 0 {
		eval.CreatedAt = time.Now().UnixNano()
	}

	labels, err := json.Marshal(eval.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	confusion, err := json.Marshal(eval.Confusion)
	if err != nil {
		return fmt.Errorf("encode confusion matrix: %w", err)
	}
	var params interface{}
	if len(eval.ParamsJSON) > 0 {
		params = string(eval.ParamsJSON)
	}

	_, err = s.db.Exec(`
		INSERT INTO evaluations (
			evaluation_id, source, model_path, accuracy, macro_f1, total,
			labels_json, confusion_json, params_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eval.EvaluationID, eval.Source, eval.ModelPath, eval.Accuracy, eval.MacroF1, eval.Total,
		string(labels), string(confusion), params, eval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

const evaluationColumns = `
	evaluation_id, source, model_path, accuracy, macro_f1, total,
	labels_json, confusion_json, params_json, created_at`

// GetEvaluation returns a single evaluation by ID.
func (s *Store) GetEvaluation(evaluationID string) (*Evaluation, error) {
	row := s.db.QueryRow(`SELECT `+evaluationColumns+` FROM evaluations WHERE evaluation_id = ?`, evaluationID)
	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEvaluationNotFound, evaluationID)
	}
	return e, err
}

// ListEvaluations returns the evaluations of source, newest first. An empty
// source lists every evaluation.
func (s *Store) ListEvaluations(source string) ([]*Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations`
	var args []interface{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvaluation(row scanner) (*Evaluation, error) {
	var e Evaluation
	var labels, confusion string
	var params sql.NullString
	err := row.Scan(
		&e.EvaluationID, &e.Source, &e.ModelPath, &e.Accuracy, &e.MacroF1, &e.Total,
		&labels, &confusion, &params, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation row: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of %s: %w", e.EvaluationID, err)
	}
	if err := json.Unmarshal([]byte(confusion), &e.Confusion); err != nil {
		return nil, fmt.Errorf("decode confusion matrix of %s: %w", e.EvaluationID, err)
	}
	if params.Valid {
		e.ParamsJSON = json.RawMessage(params.String)
	}
	return &e, nil
}
