// Package dictionary stores the column dictionary: the administrator-defined
// field definitions that drive validation of member rows.
package dictionary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
)

const uniqueViolation = "23505"

const fieldColumns = `id, name, type, required, default_value, rule_kind, rule_spec,
	min_length, max_length, min_value, max_value, description, semantic_kind, position`

// Repository is the sqlx-backed column dictionary. It satisfies
// core.SchemaRegistry.
type Repository struct {
	db *sqlx.DB
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to Postgres through pgx's database/sql driver.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect dictionary database: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// fieldRow mirrors one row of field_definitions.
type fieldRow struct {
	ID           uuid.UUID       `db:"id"`
	Name         string          `db:"name"`
	Type         string          `db:"type"`
	Required     bool            `db:"required"`
	DefaultValue string          `db:"default_value"`
	RuleKind     sql.NullString  `db:"rule_kind"`
	RuleSpec     sql.NullString  `db:"rule_spec"`
	MinLength    sql.NullInt64   `db:"min_length"`
	MaxLength    sql.NullInt64   `db:"max_length"`
	MinValue     sql.NullFloat64 `db:"min_value"`
	MaxValue     sql.NullFloat64 `db:"max_value"`
	Description  string          `db:"description"`
	SemanticKind string          `db:"semantic_kind"`
	Position     int             `db:"position"`
}

func (r fieldRow) definition() core.FieldDefinition {
	def := core.FieldDefinition{
		ID:           r.ID,
		Name:         r.Name,
		Type:         core.FieldType(r.Type),
		Required:     r.Required,
		DefaultValue: r.DefaultValue,
		Description:  r.Description,
		SemanticKind: core.SemanticKind(r.SemanticKind),
		Position:     r.Position,
	}
	if r.RuleKind.Valid {
		def.Rule = &core.SecondaryRule{Kind: core.RuleKind(r.RuleKind.String), Spec: r.RuleSpec.String}
	}
	if r.MinLength.Valid {
		n := int(r.MinLength.Int64)
		def.MinLength = &n
	}
	if r.MaxLength.Valid {
		n := int(r.MaxLength.Int64)
		def.MaxLength = &n
	}
	if r.MinValue.Valid {
		v := r.MinValue.Float64
		def.MinValue = &v
	}
	if r.MaxValue.Valid {
		v := r.MaxValue.Float64
		def.MaxValue = &v
	}
	return def
}

func ruleArgs(def core.FieldDefinition) (kind, spec sql.NullString) {
	if def.Rule == nil {
		return
	}
	return sql.NullString{String: string(def.Rule.Kind), Valid: true},
		sql.NullString{String: def.Rule.Spec, Valid: true}
}

func intArg(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func floatArg(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// prepare normalizes and checks a definition before it is written.
func prepare(def *core.FieldDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Type == "" {
		def.Type = core.FieldText
	}
	if def.SemanticKind == core.KindNone {
		def.SemanticKind = core.InferSemanticKind(*def)
	}
	return def.Check()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ListFields returns every definition ordered by position, then name.
func (r *Repository) ListFields(ctx context.Context) ([]core.FieldDefinition, error) {
	var rows []fieldRow
	query := `SELECT ` + fieldColumns + ` FROM field_definitions ORDER BY position, lower(name)`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	defs := make([]core.FieldDefinition, len(rows))
	for i, row := range rows {
		defs[i] = row.definition()
	}
	return defs, nil
}

// List is ListFields under the admin name.
func (r *Repository) List(ctx context.Context) ([]core.FieldDefinition, error) {
	return r.ListFields(ctx)
}

// Get returns core.ErrFieldNotFound when id is unknown.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*core.FieldDefinition, error) {
	var row fieldRow
	query := `SELECT ` + fieldColumns + ` FROM field_definitions WHERE id = $1`
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrFieldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	def := row.definition()
	return &def, nil
}

// Create saves a new definition. A zero Position appends the field after
// the current last one.
func (r *Repository) Create(ctx context.Context, def core.FieldDefinition) (*core.FieldDefinition, error) {
	if err := prepare(&def); err != nil {
		return nil, err
	}
	def.ID = uuid.New()
	kind, spec := ruleArgs(def)

	query := `
		INSERT INTO field_definitions (` + fieldColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			CASE WHEN $14 > 0 THEN $14 ELSE (SELECT COALESCE(MAX(position), 0) + 1 FROM field_definitions) END)
		RETURNING position`

	err := r.db.QueryRowxContext(ctx, query,
		def.ID, def.Name, string(def.Type), def.Required, def.DefaultValue, kind, spec,
		intArg(def.MinLength), intArg(def.MaxLength), floatArg(def.MinValue), floatArg(def.MaxValue),
		def.Description, string(def.SemanticKind), def.Position,
	).Scan(&def.Position)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrFieldExists, def.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create field: %w", err)
	}

	logging.FromContext(ctx).Info("field created", slog.String("field", def.Name), slog.String("type", string(def.Type)))
	return &def, nil
}

// Update rewrites every attribute of a definition except its name; use
// Rename to change the name so stored members follow.
func (r *Repository) Update(ctx context.Context, def core.FieldDefinition) (*core.FieldDefinition, error) {
	current, err := r.Get(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	def.Name = current.Name
	if def.Position == 0 {
		def.Position = current.Position
	}
	if err := prepare(&def); err != nil {
		return nil, err
	}
	kind, spec := ruleArgs(def)

	query := `
		UPDATE field_definitions
		SET type = $2, required = $3, default_value = $4, rule_kind = $5, rule_spec = $6,
		    min_length = $7, max_length = $8, min_value = $9, max_value = $10,
		    description = $11, semantic_kind = $12, position = $13, updated_at = now()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		def.ID, string(def.Type), def.Required, def.DefaultValue, kind, spec,
		intArg(def.MinLength), intArg(def.MaxLength), floatArg(def.MinValue), floatArg(def.MaxValue),
		def.Description, string(def.SemanticKind), def.Position,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update field: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, core.ErrFieldNotFound
	}
	return &def, nil
}

// Delete removes a definition. Values already stored under the field stay
// on the members and are exported as extra columns.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM field_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	if n == 0 {
		return core.ErrFieldNotFound
	}
	logging.FromContext(ctx).Info("field deleted", slog.String("field_id", id.String()))
	return nil
}

// Rename changes a definition's name and moves the value of every member
// holding the old key to the new one, in one transaction. It returns the
// updated definition and the number of members rewritten.
func (r *Repository) Rename(ctx context.Context, id uuid.UUID, newName string) (*core.FieldDefinition, int, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, 0, fmt.Errorf("%w: name is required", core.ErrInvalidField)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row fieldRow
	err = tx.GetContext(ctx, &row, `SELECT `+fieldColumns+` FROM field_definitions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, core.ErrFieldNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load field: %w", err)
	}

	def := row.definition()
	oldName := def.Name
	if oldName == newName {
		return &def, 0, tx.Commit()
	}
	def.Name = newName
	if def.SemanticKind == core.KindNone {
		def.SemanticKind = core.InferSemanticKind(def)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE field_definitions SET name = $2, semantic_kind = $3, updated_at = now() WHERE id = $1`,
		id, def.Name, string(def.SemanticKind))
	if isUniqueViolation(err) {
		return nil, 0, fmt.Errorf("%w: %s", core.ErrFieldExists, newName)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to rename field: %w", err)
	}

	moved, err := renameMemberKey(ctx, tx, oldName, newName)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit rename: %w", err)
	}

	logging.FromContext(ctx).Info("field renamed",
		slog.String("from", oldName),
		slog.String("to", newName),
		slog.Int("members", moved),
	)
	return &def, moved, nil
}

type memberFields struct {
	ID     uuid.UUID `db:"id"`
	Fields []byte    `db:"fields"`
}

// renameMemberKey rewrites the fields document of each member holding
// oldName. Key order is kept.
func renameMemberKey(ctx context.Context, tx *sqlx.Tx, oldName, newName string) (int, error) {
	var members []memberFields
	err := tx.SelectContext(ctx, &members,
		`SELECT id, fields FROM members WHERE fields::jsonb ? $1 FOR UPDATE`, oldName)
	if err != nil {
		return 0, fmt.Errorf("failed to load members for rename: %w", err)
	}

	for _, m := range members {
		var f core.Fields
		if err := json.Unmarshal(m.Fields, &f); err != nil {
			return 0, fmt.Errorf("member %s: decode fields: %w", m.ID, err)
		}
		f.Rename(oldName, newName)
		data, err := json.Marshal(f)
		if err != nil {
			return 0, fmt.Errorf("member %s: encode fields: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET fields = $2, updated_at = now() WHERE id = $1`, m.ID, string(data)); err != nil {
			return 0, fmt.Errorf("member %s: rename field: %w", m.ID, err)
		}
	}
	return len(members), nil
}
