package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xiaot623/gogo/dbchat/internal/domain"
)

// SQLToolName is the name the model uses to run queries.
const SQLToolName = "sql_query"

// DefaultMaxRows caps the rows returned to the model per query.
const DefaultMaxRows = 200

// Querier is the read side of *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QueryResult is what the SQL tool reports back to the model.
type QueryResult struct {
	Success   bool             `json:"success"`
	Columns   []string         `json:"columns,omitempty"`
	Data      []map[string]any `json:"data"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
	Error     *ToolError       `json:"error,omitempty"`
}

// SQLTool runs read-only queries against the business database.
type SQLTool struct {
	db      Querier
	maxRows int
}

// NewSQLTool creates the SQL tool. A non-positive maxRows selects DefaultMaxRows.
func NewSQLTool(db Querier, maxRows int) *SQLTool {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &SQLTool{db: db, maxRows: maxRows}
}

// Descriptor advertises the tool to the model.
func (t *SQLTool) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name: SQLToolName,
		Description: "Run a read-only SQL SELECT query against the business database and return the rows. " +
			"Only statements starting with SELECT are accepted.",
		Parameters: domain.ParameterSchema{
			Type: "object",
			Properties: map[string]domain.Property{
				"query": {Type: "string", Description: "A single SQL SELECT statement."},
			},
			Required: []string{"query"},
		},
	}
}

// Register adds the tool to r.
func (t *SQLTool) Register(r *Registry) error {
	return r.Register(t.Descriptor(), t.Execute)
}

// Execute implements ExecutorFunc. Query failures are reported inside the
// result, never as an error.
func (t *SQLTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return json.Marshal(t.Query(ctx, in.Query))
}

// IsReadOnly reports whether statement is a single SELECT, ignoring case
// and surrounding whitespace. A trailing semicolon is allowed; a second
// statement after it is not.
func IsReadOnly(statement string) bool {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(statement)), "SELECT") {
		return false
	}
	return isSingleStatement(statement)
}

// isSingleStatement reports whether nothing but whitespace or comments
// follows the first semicolon outside quotes and comments. Backslash
// escapes are not honoured, so ambiguous input is rejected rather than run.
func isSingleStatement(statement string) bool {
	var quote byte
	ended := false
	for i := 0; i < len(statement); i++ {
		c := statement[i]
		switch {
		case quote != 0:
			if c == quote {
				// doubled quote escapes itself
				if i+1 < len(statement) && statement[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case c == '-' && i+1 < len(statement) && statement[i+1] == '-':
			for i < len(statement) && statement[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(statement) && statement[i+1] == '*':
			end := strings.Index(statement[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case ended:
			if !unicode.IsSpace(rune(c)) && c != ';' {
				return false
			}
		case c == '\'', c == '"', c == '`':
			quote = c
		case c == ';':
			ended = true
		}
	}
	return quote == 0
}

// Query runs statement if it is a single SELECT. Any other statement is
// refused before the database is touched.
func (t *SQLTool) Query(ctx context.Context, statement string) QueryResult {
	if !IsReadOnly(statement) {
		return failedQuery(&UnsafeQueryError{Statement: statement})
	}

	rows, err := t.db.QueryContext(ctx, statement)
	if err != nil {
		return failedQuery(&ExecutionError{Name: SQLToolName, Err: err})
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return failedQuery(&ExecutionError{Name: SQLToolName, Err: err})
	}

	result := QueryResult{Success: true, Columns: columns, Data: []map[string]any{}}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Data) >= t.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return failedQuery(&ExecutionError{Name: SQLToolName, Err: err})
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = flatten(values[i])
		}
		result.Data = append(result.Data, record)
	}
	if err := rows.Err(); err != nil {
		return failedQuery(&ExecutionError{Name: SQLToolName, Err: err})
	}

	result.RowCount = len(result.Data)
	return result
}

func failedQuery(err error) QueryResult {
	toolErr := AsToolError(err)
	return QueryResult{Success: false, Data: []map[string]any{}, Error: &toolErr}
}

// flatten coerces driver values into JSON-friendly primitives.
func flatten(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return strings.ToValidUTF8(string(val), "�")
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case string, bool, int64, int32, int, float64, float32:
		return val
	default:
		return fmt.Sprint(val)
	}
}
