package database

import (
	"strconv"
	"strings"
)

// runFields are the generation_runs columns RecordRun writes, in the order of
// Run.fieldValues. id is assigned by the database.
var runFields = []string{
	"seed", "width", "height", "max_attempts", "attempts",
	"palette_fingerprint", "palette_size", "tile_count",
	"succeeded", "failure_reason", "duration_ms", "created_at",
}

// QueryBuilder writes the run history statements for one dialect. Statements
// are written with ? placeholders and numbered on the way out when the
// dialect wants $n.
type QueryBuilder struct {
	dialect Dialect
}

// NewQueryBuilder creates a new QueryBuilder for the given dialect.
func NewQueryBuilder(dialect Dialect) *QueryBuilder {
	return &QueryBuilder{dialect: dialect}
}

// Build rewrites ? placeholders for the dialect. A ? inside a quoted string
// literal is kept as is.
//
//	input:    "SELECT seed FROM generation_runs WHERE id = ? AND failure_reason <> '?'"
//	Postgres: "SELECT seed FROM generation_runs WHERE id = $1 AND failure_reason <> '?'"
func (qb *QueryBuilder) Build(query string) string {
	if qb.dialect.Placeholder(1) == "?" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	position := 1
	quoted := false

	for i := 0; i < len(query); i++ {
		switch ch := query[i]; {
		case ch == '\'':
			// '' inside a literal toggles twice and stays quoted
			quoted = !quoted
			b.WriteByte(ch)
		case ch == '?' && !quoted:
			b.WriteString(qb.dialect.Placeholder(position))
			position++
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// BuildWithReturning builds query and appends a RETURNING clause when the
// dialect cannot report the inserted id any other way.
func (qb *QueryBuilder) BuildWithReturning(query string, column string) string {
	converted := qb.Build(query)
	if !qb.dialect.SupportsLastInsertID() {
		converted += qb.dialect.ReturningClause(column)
	}
	return converted
}

// InsertRun is the statement RecordRun executes with Run.fieldValues.
func (qb *QueryBuilder) InsertRun() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(runFields)), ", ")
	return qb.BuildWithReturning(
		"INSERT INTO generation_runs ("+strings.Join(runFields, ", ")+") VALUES ("+marks+")", "id")
}

// SelectRuns selects id and every run field, in the order scanRun reads them.
// where may be empty and may use ? placeholders. Rows come oldest first
// unless newestFirst is set; limit > 0 caps the row count.
func (qb *QueryBuilder) SelectRuns(where string, newestFirst bool, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT id, ")
	b.WriteString(strings.Join(runFields, ", "))
	b.WriteString(" FROM generation_runs")
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if newestFirst {
		b.WriteString(" ORDER BY id DESC")
	} else {
		b.WriteString(" ORDER BY id")
	}
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return qb.Build(b.String())
}

// InsertPalette is the statement RegisterPalette executes.
func (qb *QueryBuilder) InsertPalette() string {
	return qb.Build("INSERT INTO palettes (fingerprint, size, tile_ids, created_at) VALUES (?, ?, ?, ?)")
}

// SelectPalette reads the stored tile id list of one fingerprint.
func (qb *QueryBuilder) SelectPalette() string {
	return qb.Build("SELECT tile_ids FROM palettes WHERE fingerprint = ?")
}
