package datarecording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"
)

// ErrUnmappedTable is returned when a table is read before MapTable names the
// type of its rows.
var ErrUnmappedTable = errors.New("table is not mapped")

// Query selects rows of a table. Where and OrderBy are SQL fragments without
// their keywords, and Args fill the placeholders of Where. A zero Limit
// selects every row.
type Query struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// DataReader reads the tables of a recording back.
type DataReader interface {
	// MapTable binds a table to the flat struct type its rows decode into.
	MapTable(tableName string, sampleEntry any)

	// Tables lists every table stored in the recording, mapped or not.
	Tables(ctx context.Context) ([]string, error)

	// Query returns the selected rows as pointers to the mapped type, and the
	// number of rows that match before Limit and Offset apply.
	Query(ctx context.Context, tableName string, q Query) ([]any, int, error)

	// CountBy counts the rows matching q for each value of a column.
	CountBy(
		ctx context.Context,
		tableName, column string,
		q Query,
	) (map[string]int, error)

	// Close closes the recording.
	Close() error
}

type mappedTable struct {
	structType reflect.Type
	columns    []string
}

type sqliteReader struct {
	db     *sql.DB
	tables map[string]*mappedTable
}

// RecordingFile returns the database file of a recording. The path may be
// given with or without the .sqlite3 suffix.
func RecordingFile(path string) (string, error) {
	for _, name := range []string{path, path + ".sqlite3"} {
		info, err := os.Stat(name)
		if err == nil && !info.IsDir() {
			return name, nil
		}
	}

	return "", fmt.Errorf("recording %s: %w", path, os.ErrNotExist)
}

// NewReader opens a recording for reading.
func NewReader(path string) (DataReader, error) {
	filename, err := RecordingFile(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording %s: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on a database that is already open.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:     db,
		tables: make(map[string]*mappedTable),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	if _, err := columnDefs(sampleEntry); err != nil {
		panic(err)
	}

	r.tables[tableName] = &mappedTable{
		structType: reflect.TypeOf(sampleEntry),
		columns:    structs.Names(sampleEntry),
	}
}

func (r *sqliteReader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

func (r *sqliteReader) mapped(tableName string) (*mappedTable, error) {
	t, ok := r.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedTable, tableName)
	}

	return t, nil
}

func (q Query) where() string {
	if q.Where == "" {
		return ""
	}

	return " WHERE " + q.Where
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	q Query,
) ([]any, int, error) {
	t, err := r.mapped(tableName)
	if err != nil {
		return nil, 0, err
	}

	var total int

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+q.where(), q.Args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	stmt := "SELECT " + strings.Join(t.columns, ", ") +
		" FROM " + tableName + q.where()

	if q.OrderBy != "" {
		stmt += " ORDER BY " + q.OrderBy
	}

	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, stmt, q.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []any

	for rows.Next() {
		entry := reflect.New(t.structType)
		targets := make([]any, len(t.columns))

		for i := range t.columns {
			targets[i] = entry.Elem().Field(i).Addr().Interface()
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, 0, fmt.Errorf("table %s: %w", tableName, err)
		}

		results = append(results, entry.Interface())
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

func (r *sqliteReader) CountBy(
	ctx context.Context,
	tableName, column string,
	q Query,
) (map[string]int, error) {
	t, err := r.mapped(tableName)
	if err != nil {
		return nil, err
	}

	found := false
	for _, c := range t.columns {
		found = found || c == column
	}

	if !found {
		return nil, fmt.Errorf("table %s has no column %s", tableName, column)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM "+tableName+q.where()+
			" GROUP BY "+column, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			value sql.NullString
			n     int
		)

		if err := rows.Scan(&value, &n); err != nil {
			return nil, err
		}

		counts[value.String] += n
	}

	return counts, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}
