package xcrud

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNilParams is returned when named binding is requested with a nil
// pointer or nil params value.
var ErrNilParams = errors.New("xcrud: named bind: nil params")

// ErrUnsupportedArg is returned when the named-binding argument is not a
// struct or map[string]any.
var ErrUnsupportedArg = errors.New("xcrud: named bind: params must be struct or map[string]any")

// ErrDuplicateKeyTag is returned when two struct fields resolve to the same
// parameter name (case-insensitive).
var ErrDuplicateKeyTag = errors.New("xcrud: named bind: duplicate key from struct tags/fields")

// Rebind resolves :named parameters and rewrites `?` placeholders into the
// style ph.
//
// With exactly one struct or map[string]any param, every :name in query is
// replaced by a positional placeholder and the matching value is appended
// to args. Struct fields are looked up by their `db` column name (options
// such as ,pk are ignored) or field name, case-insensitively. Slices and
// arrays expand into a list, []byte stays scalar, and an empty slice becomes
// NULL so that `IN (NULL)` matches nothing.
//
//	q, args, err := xcrud.Rebind(`SELECT * FROM main.product WHERE id = :id`,
//	    xcrud.PlaceholderDollar, struct{ ID int64 }{42})
//	// q    => SELECT * FROM main.product WHERE id = $1
//	// args => [42]
//
// Any other params shape is passed through positionally and only the
// placeholders are rewritten. Quoted strings, comments, PostgreSQL `::`
// casts and $tag$ blocks are skipped.
func Rebind(query string, ph Placeholder, params ...any) (string, []any, error) {
	if len(params) == 1 && looksBindable(params[0]) {
		qPos, args, err := bindNamedParams(query, params[0])
		if err != nil {
			return "", nil, err
		}
		return rewritePlaceholders(qPos, ph), args, nil
	}
	return rewritePlaceholders(query, ph), params, nil
}

func looksBindable(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		return rv.Type().Key().Kind() == reflect.String
	case reflect.Struct:
		// time.Time, uuid.NullUUID and friends are values, not param bags.
		return isRecordStruct(rv.Type()) && !implementsValuer(rv.Type())
	}
	return false
}

func bindNamedParams(query string, params any) (string, []any, error) {
	if params == nil {
		return "", nil, ErrNilParams
	}

	var (
		b    strings.Builder
		args []any
		lut  *paramLookup
	)
	b.Grow(len(query))

	err := lexSQL(query, func(tok sqlToken) error {
		if tok.kind != tokNamed {
			b.WriteString(query[tok.start:tok.end])
			return nil
		}
		if lut == nil {
			var err error
			if lut, err = buildParamLookup(params); err != nil {
				return err
			}
		}
		val, ok := lut.lookup(tok.name)
		if !ok {
			return fmt.Errorf("xcrud: named bind: missing value for :%s", tok.name)
		}
		rv := reflect.ValueOf(val)
		if !isSliceOrArray(rv) {
			b.WriteByte('?')
			args = append(args, val)
			return nil
		}
		if rv.Len() == 0 {
			b.WriteString("NULL")
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('?')
			args = append(args, rv.Index(i).Interface())
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

func rewritePlaceholders(query string, ph Placeholder) string {
	if ph == PlaceholderQuestion {
		return query
	}
	out := make([]byte, 0, len(query)+16)
	arg := 1
	// Unterminated quotes are copied through verbatim; the driver reports them.
	_ = lexSQL(query, func(tok sqlToken) error {
		if tok.kind != tokQuestion {
			out = append(out, query[tok.start:tok.end]...)
			return nil
		}
		out = ph.append(out, arg)
		arg++
		return nil
	})
	return string(out)
}

type tokenKind uint8

const (
	tokText     tokenKind = iota // anything copied verbatim
	tokNamed                     // :name
	tokQuestion                  // ?
)

type sqlToken struct {
	kind       tokenKind
	start, end int
	name       string
}

// lexSQL splits query into verbatim text, :name and ? tokens, treating
// quoted strings, identifiers, comments and dollar-quoted blocks as text.
// On a lexing error the remainder of the query is emitted as text before
// the error is returned.
func lexSQL(query string, emit func(sqlToken) error) error {
	textStart := 0
	flush := func(upTo int) error {
		if upTo > textStart {
			if err := emit(sqlToken{kind: tokText, start: textStart, end: upTo}); err != nil {
				return err
			}
		}
		return nil
	}
	fail := func(err error) error {
		if ferr := emit(sqlToken{kind: tokText, start: textStart, end: len(query)}); ferr != nil {
			return ferr
		}
		return err
	}

	i := 0
	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		var (
			next int
			err  error
		)
		switch {
		case r == '\'':
			next, err = skipQuoted(query, i+w, '\'', "single-quoted string")
		case r == '"':
			next, err = skipQuoted(query, i+w, '"', "double-quoted identifier")
		case r == '`':
			next, err = skipQuoted(query, i+w, '`', "backtick-quoted identifier")
		case hasPrefix(query[i:], "--"):
			next = skipLineComment(query, i+2)
		case hasPrefix(query[i:], "/*"):
			next, err = skipBlockComment(query, i+2)
		case r == '$':
			var ok bool
			if next, ok, err = skipDollarQuoted(query, i); !ok && err == nil {
				next = i + w
			}
		case hasPrefix(query[i:], "::"):
			next = i + 2
		case r == ':':
			name, end := parseIdent(query, i+1)
			if name == "" {
				next = i + w
				break
			}
			if err := flush(i); err != nil {
				return err
			}
			if err := emit(sqlToken{kind: tokNamed, start: i, end: end, name: name}); err != nil {
				return err
			}
			i, textStart = end, end
			continue
		case r == '?':
			if err := flush(i); err != nil {
				return err
			}
			if err := emit(sqlToken{kind: tokQuestion, start: i, end: i + w}); err != nil {
				return err
			}
			i, textStart = i+w, i+w
			continue
		default:
			next = i + w
		}
		if err != nil {
			return fail(err)
		}
		i = next
	}
	return flush(len(query))
}

func skipQuoted(s string, i int, quote byte, what string) (int, error) {
	for i < len(s) {
		c := s[i]
		i++
		if c == quote {
			if i < len(s) && s[i] == quote {
				i++ // doubled quote escapes itself
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("xcrud: unterminated %s", what)
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) (int, error) {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2, nil
	}
	return 0, fmt.Errorf("xcrud: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ (PostgreSQL). ok is
// false when s[i:] does not open a dollar-quoted block.
func skipDollarQuoted(s string, i int) (int, bool, error) {
	j := i + 1
	for j < len(s) && s[j] != '$' && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	idx := strings.Index(s[j+1:], tag)
	if idx < 0 {
		return 0, true, fmt.Errorf("xcrud: unterminated dollar-quoted string")
	}
	return j + 1 + idx + len(tag), true, nil
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return strings.HasPrefix(s, p) }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !isTagChar(r) {
			break
		}
		i += w
	}
	return s[start:i], i
}

type paramLookup struct {
	m map[string]any // lower-case name -> value
}

func (l *paramLookup) lookup(name string) (any, bool) {
	v, ok := l.m[strings.ToLower(name)]
	return v, ok
}

func buildParamLookup(params any) (*paramLookup, error) {
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[strings.ToLower(iter.Key().String())] = iter.Value().Interface()
		}
		return &paramLookup{m: m}, nil
	case reflect.Struct:
		m := make(map[string]any)
		var dup error
		walkStruct(rv.Type(), func(sf reflect.StructField, path []int, tag tagInfo) {
			if dup != nil {
				return
			}
			fv, ok := fieldByPath(rv, path)
			if !ok {
				return // nil embedded pointer contributes nothing
			}
			key := strings.ToLower(tag.column(sf))
			if _, exists := m[key]; exists {
				dup = fmt.Errorf("%w: %q", ErrDuplicateKeyTag, key)
				return
			}
			m[key] = fv.Interface()
		})
		if dup != nil {
			return nil, dup
		}
		return &paramLookup{m: m}, nil
	default:
		return nil, ErrUnsupportedArg
	}
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8 // []byte is scalar
	case reflect.Array:
		// uuid.UUID is a [16]byte value, not a list.
		return v.Type().Elem().Kind() != reflect.Uint8 && !implementsValuer(v.Type())
	default:
		return false
	}
}

// Placeholder selects the positional parameter style of a database.
//
//   - PlaceholderQuestion → "?"          (MySQL, SQLite)
//   - PlaceholderDollar   → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP      → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum → ":1, :2, …"  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// Numbered reports whether placeholders carry an argument index, which lets
// a statement reference the same argument more than once.
func (ph Placeholder) Numbered() bool { return ph != PlaceholderQuestion }

// append writes the placeholder for the n-th (1-based) argument.
func (ph Placeholder) append(out []byte, n int) []byte {
	switch ph {
	case PlaceholderDollar:
		out = append(out, '$')
	case PlaceholderAtP:
		out = append(out, '@', 'p')
	case PlaceholderColonNum:
		out = append(out, ':')
	default:
		return append(out, '?')
	}
	return strconv.AppendInt(out, int64(n), 10)
}

// Format returns the placeholder for the n-th (1-based) argument.
func (ph Placeholder) Format(n int) string { return string(ph.append(nil, n)) }
