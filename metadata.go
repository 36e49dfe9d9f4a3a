package xcrud

import (
	"reflect"
	"strings"
	"sync"
)

// Table identifies the table a record type is stored in.
type Table struct {
	Schema string
	Name   string
}

// String returns the qualified name used in generated statements.
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Tabler is implemented by record types to declare their table.
//
//	type Product struct {
//	    ID         int64           `db:"id,pk"`
//	    CategoryID int32           `db:"category_id"`
//	    Name       string          `db:"name"`
//	    Price      decimal.Decimal `db:"price"`
//	}
//
//	func (Product) Table() xcrud.Table { return xcrud.Table{Schema: "main", Name: "product"} }
type Tabler interface {
	Table() Table
}

var tablerType = reflect.TypeOf((*Tabler)(nil)).Elem()

// Field describes one mapped struct field.
type Field struct {
	Name       string // Go field name
	Column     string
	Index      []int // index path, through inlined structs
	Type       reflect.Type
	Kind       Kind
	Storage    StorageType
	Nullable   bool
	PrimaryKey bool

	owner reflect.Type
}

// recordMeta is everything Insert, Update and Remove need about a type.
type recordMeta struct {
	table  Table
	values []Field // mapped non-key fields
	keys   []Field // mapped primary-key fields
}

var (
	fieldCache  sync.Map // reflect.Type -> []Field
	recordCache sync.Map // reflect.Type -> *recordMeta
)

// ResolveTable returns the table identity declared by rt. rt may be a
// struct type or a pointer to one; either the value or the pointer may
// implement Tabler.
func ResolveTable(rt reflect.Type) (Table, error) {
	rt = derefPtr(rt)
	var tb Tabler
	switch {
	case rt.Implements(tablerType):
		tb = reflect.Zero(rt).Interface().(Tabler)
	case reflect.PointerTo(rt).Implements(tablerType):
		tb = reflect.New(rt).Interface().(Tabler)
	default:
		return Table{}, configErr(rt, "type does not implement xcrud.Tabler")
	}
	t := tb.Table()
	if !isIdentifier(t.Name) {
		return Table{}, configErr(rt, "invalid table name %q", t.Name)
	}
	if t.Schema != "" && !isIdentifier(t.Schema) {
		return Table{}, configErr(rt, "invalid schema name %q", t.Schema)
	}
	return t, nil
}

// ResolveFields returns the mapped fields of rt in declaration order. With
// includePrimaryKey false, primary-key fields are left out.
func ResolveFields(rt reflect.Type, includePrimaryKey bool) ([]Field, error) {
	all, err := mappedFields(rt)
	if err != nil {
		return nil, err
	}
	if includePrimaryKey {
		return all, nil
	}
	return filterFields(all, false), nil
}

// ResolvePrimaryKeyFields returns the mapped primary-key fields of rt.
func ResolvePrimaryKeyFields(rt reflect.Type) ([]Field, error) {
	all, err := mappedFields(rt)
	if err != nil {
		return nil, err
	}
	return filterFields(all, true), nil
}

// Register resolves the mapping of each record's type up front, so that
// configuration mistakes surface at startup instead of on first write.
func Register(records ...any) error {
	for _, r := range records {
		rt := reflect.TypeOf(r)
		if rt == nil {
			return configErr(nil, "cannot register a nil record")
		}
		if _, err := lookupRecord(derefPtr(rt)); err != nil {
			return err
		}
	}
	return nil
}

func filterFields(all []Field, keys bool) []Field {
	out := make([]Field, 0, len(all))
	for _, f := range all {
		if f.PrimaryKey == keys {
			out = append(out, f)
		}
	}
	return out
}

func mappedFields(rt reflect.Type) ([]Field, error) {
	rt = derefPtr(rt)
	if v, ok := fieldCache.Load(rt); ok {
		return v.([]Field), nil
	}
	if rt.Kind() != reflect.Struct {
		return nil, configErr(rt, "record must be a struct")
	}

	var (
		fields []Field
		err    error
	)
	seen := make(map[string]string)
	walkStruct(rt, func(sf reflect.StructField, path []int, tag tagInfo) {
		if err != nil || !tag.tagged {
			return
		}
		col := tag.column(sf)
		if !isIdentifier(col) {
			err = configErr(rt, "field %s: invalid column name %q", sf.Name, col)
			return
		}
		lc := strings.ToLower(col)
		if prev, dup := seen[lc]; dup {
			err = configErr(rt, "fields %s and %s both map to column %q", prev, sf.Name, col)
			return
		}
		seen[lc] = sf.Name

		kind, nullable := KindOf(sf.Type)
		storage, mapErr := MapType(kind)
		if mapErr != nil {
			err = &UnsupportedTypeError{Type: rt, Field: sf.Name, FieldType: sf.Type, Kind: kind}
			return
		}
		fields = append(fields, Field{
			Name:       sf.Name,
			Column:     col,
			Index:      path,
			Type:       sf.Type,
			Kind:       kind,
			Storage:    storage,
			Nullable:   nullable,
			PrimaryKey: tag.pk,
			owner:      rt,
		})
	})
	if err != nil {
		return nil, err
	}

	v, _ := fieldCache.LoadOrStore(rt, fields)
	return v.([]Field), nil
}

// lookupRecord resolves and validates rt for use as a write target.
func lookupRecord(rt reflect.Type) (*recordMeta, error) {
	if v, ok := recordCache.Load(rt); ok {
		return v.(*recordMeta), nil
	}
	table, err := ResolveTable(rt)
	if err != nil {
		return nil, err
	}
	all, err := mappedFields(rt)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, configErr(rt, "no mapped fields; tag fields with `db:\"column\"`")
	}
	meta := &recordMeta{
		table:  table,
		values: filterFields(all, false),
		keys:   filterFields(all, true),
	}
	for _, k := range meta.keys {
		if err := checkKeyType(k); err != nil {
			return nil, err
		}
	}
	v, _ := recordCache.LoadOrStore(rt, meta)
	return v.(*recordMeta), nil
}

// isIdentifier reports whether s is safe to splice into SQL text unquoted.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
