package specmanagerdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/samber/lo"

	"github.com/spec-sa/netsync/connectors"
	sqlmw "github.com/spec-sa/netsync/middleware/sqlquerywrapper"
	"github.com/spec-sa/netsync/utils/logfield"
)

// quoteIdent brackets every part of a possibly schema qualified name.
func quoteIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	parts := strings.Split(name, ".")
	for i, part := range parts {
		part = strings.TrimSuffix(strings.TrimPrefix(part, "["), "]")
		if part == "" || strings.ContainsAny(part, "[];'\"") || strings.Contains(part, "--") {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
		parts[i] = "[" + part + "]"
	}
	return strings.Join(parts, "."), nil
}

func quoteIdents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		q, err := quoteIdent(name)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

type employeesOptions struct {
	Top     int      `mapstructure:"top"`
	Where   string   `mapstructure:"where"`
	GroupBy []string `mapstructure:"group_by"`
	Table   string   `mapstructure:"table"`
}

// getEmployees selects the first top rows of table, restricted to the source
// columns of fields when given. where is operator configured SQL.
func (s *session) getEmployees(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	opts := employeesOptions{Top: 5, Table: "PERSONAS"}
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	fields, err := connectors.SourceFields(kw)
	if err != nil {
		return nil, err
	}

	table, err := quoteIdent(opts.Table)
	if err != nil {
		return nil, err
	}
	columns := "*"
	if len(fields) > 0 {
		quoted, err := quoteIdents(fields)
		if err != nil {
			return nil, err
		}
		columns = strings.Join(quoted, ", ")
	}

	query := fmt.Sprintf("SELECT TOP (@p1) %s FROM %s", columns, table)
	if opts.Where != "" {
		query += " WHERE " + opts.Where
	}
	if len(opts.GroupBy) > 0 {
		groupBy, err := quoteIdents(opts.GroupBy)
		if err != nil {
			return nil, err
		}
		query += " GROUP BY " + strings.Join(groupBy, ", ")
	}

	rows, err := s.db.QueryContext(ctx, query, opts.Top)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	return scanRecords(rows)
}

type resultsOptions struct {
	FromTable  string `mapstructure:"from_table"`
	MarcCol    string `mapstructure:"marc_col"`
	AutoUpdate *bool  `mapstructure:"auto_update"`
	Top        int    `mapstructure:"top"`
}

// getResults reads up to top unmarked rows of from_table. With auto_update,
// the default, the same statement flags them in marc_col so the next run
// skips them.
func (s *session) getResults(ctx context.Context, _ []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	opts := resultsOptions{Top: 5}
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	table, err := quoteIdent(opts.FromTable)
	if err != nil {
		return nil, fmt.Errorf("param from_table: %w", err)
	}
	marc, err := quoteIdent(opts.MarcCol)
	if err != nil {
		return nil, fmt.Errorf("param marc_col: %w", err)
	}

	query := fmt.Sprintf("SELECT TOP (@p1) * FROM %s WHERE ISNULL(%s, 0) = 0", table, marc)
	if lo.FromPtrOr(opts.AutoUpdate, true) {
		query = fmt.Sprintf("UPDATE TOP (@p1) %s SET %s = 1 OUTPUT inserted.* WHERE ISNULL(%s, 0) = 0", table, marc, marc)
	}

	rows, err := s.db.QueryContext(ctx, query, opts.Top)
	if err != nil {
		return nil, fmt.Errorf("reading results from %s: %w", table, err)
	}
	return scanRecords(rows)
}

type importOptions struct {
	Table  string `mapstructure:"table"`
	Source string `mapstructure:"source"`
}

// postEmployees inserts the employees into the import table in one
// transaction, then runs the controller procedure when the credential names one.
func (s *session) postEmployees(ctx context.Context, in []connectors.Record, kw connectors.Params) ([]connectors.Record, error) {
	opts := importOptions{Table: "IMP_PERSONAS", Source: "netsync"}
	if err := connectors.DecodeParams(kw, &opts); err != nil {
		return nil, err
	}
	if len(in) == 0 {
		return nil, nil
	}
	table, err := quoteIdent(opts.Table)
	if err != nil {
		return nil, err
	}

	keys := map[string]struct{}{}
	for _, record := range in {
		for k := range record {
			keys[k] = struct{}{}
		}
	}
	columns := lo.Keys(keys)
	sort.Strings(columns)
	quoted, err := quoteIdents(columns)
	if err != nil {
		return nil, err
	}
	placeholders := lo.Times(len(columns), func(i int) string { return fmt.Sprintf("@p%d", i+1) })
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	err = s.db.WithTx(ctx, func(tx *sqlmw.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, record := range in {
			args := lo.Map(columns, func(column string, _ int) any { return record[column] })
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("inserting employee %d: %w", i, err)
			}
		}

		if s.controller != "" {
			controller, err := quoteIdent(s.controller)
			if err != nil {
				return fmt.Errorf("controller: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "EXEC "+controller+" @source = @p1", opts.Source); err != nil {
				return fmt.Errorf("running controller %s: %w", controller, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infon("Employees imported",
		logger.NewStringField(logfield.Table, opts.Table),
		logger.NewIntField(logfield.Records, int64(len(in))),
	)
	return nil, nil
}

func scanRecords(rows *sql.Rows) ([]connectors.Record, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var records []connectors.Record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		record := make(connectors.Record, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				record[column] = string(b)
				continue
			}
			record[column] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}
