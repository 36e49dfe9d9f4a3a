package xcrud

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
	"time"
)

// Mapper owns the row-scanning caches. Query and Get use a lazily created
// package-level Mapper; tests can create their own.
type Mapper struct {
	planCache        sync.Map // planKey -> *plan, per (T, column set)
	structIndexCache sync.Map // reflect.Type -> *fieldIndex, per T
}

func NewMapper() *Mapper { return &Mapper{} }

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// scanWithMapper scans the current row of rows into a new T.
func scanWithMapper[T any](m *Mapper, rows *sql.Rows) (T, error) {
	var zero T

	cols, err := rows.Columns()
	if err != nil {
		return zero, err
	}
	if len(cols) == 0 {
		return zero, fmt.Errorf("xcrud: query returned zero columns")
	}

	h := fnv.New64a()
	for i := range cols {
		cols[i] = normalizeColAscii(cols[i])
		_, _ = h.Write([]byte(cols[i]))
		_, _ = h.Write([]byte{0})
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()
	pl, err := m.getPlan(rt, cols, h.Sum64())
	if err != nil {
		return zero, err
	}

	rv := reflect.New(rt)
	dests, finish := pl.destPtrs(rv)
	if err := rows.Scan(dests...); err != nil {
		return zero, err
	}
	if err := finish(); err != nil {
		return zero, err
	}
	return rv.Elem().Interface().(T), nil
}

type planKey struct {
	rt    reflect.Type
	hash  uint64 // FNV-1a of normalized columns
	ncols int
}

type plan struct {
	steps    []step // one per column
	isStruct bool
}

type stepKind uint8

const (
	stepDrop     stepKind = iota // column has no destination
	stepDirect                   // scan straight into the field or *T
	stepIndirect                 // scan into a temporary, then convert
)

type step struct {
	kind   stepKind
	fpath  []int
	convTo reflect.Type
	post   func(dst, src reflect.Value) error
}

func (m *Mapper) getPlan(rt reflect.Type, cols []string, colHash uint64) (*plan, error) {
	key := planKey{rt: rt, hash: colHash, ncols: len(cols)}
	if v, ok := m.planCache.Load(key); ok {
		return v.(*plan), nil
	}

	p := &plan{isStruct: isRecordStruct(rt)}
	switch {
	case p.isStruct:
		idx := m.structIndex(rt)
		p.steps = make([]step, len(cols))
		for i, c := range cols {
			if fp, ok := idx.byName[c]; ok {
				p.steps[i] = makeStep(fieldTypeByPath(rt, fp), fp)
			}
		}
	case len(cols) != 1:
		return nil, fmt.Errorf("xcrud: cannot map %d columns into %s; use a struct", len(cols), rt)
	case implementsScanner(rt):
		p.steps = []step{{kind: stepDirect}}
	default:
		p.steps = []step{makeStep(rt, nil)}
	}

	m.planCache.Store(key, p)
	return p, nil
}

type fieldIndex struct {
	byName map[string][]int // lower-case column name -> index path
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	v, _ := m.structIndexCache.LoadOrStore(rt, &fi)
	return v.(*fieldIndex)
}

// destPtrs allocates scan destinations for one row. The returned function
// applies deferred conversions and must run after rows.Scan succeeds.
func (p *plan) destPtrs(rv reflect.Value) ([]any, func() error) {
	noop := func() error { return nil }

	if !p.isStruct {
		st := p.steps[0]
		if st.kind != stepIndirect {
			return []any{rv.Interface()}, noop
		}
		tmp := reflect.New(st.convTo).Elem()
		return []any{tmp.Addr().Interface()}, func() error { return st.post(rv.Elem(), tmp) }
	}

	root := rv.Elem()
	dests := make([]any, len(p.steps))
	var finals []func() error
	var sink sql.RawBytes // shared by every unmapped column

	for i, st := range p.steps {
		switch st.kind {
		case stepDirect:
			dests[i] = fieldByPathAlloc(root, st.fpath).Addr().Interface()
		case stepIndirect:
			tmp := reflect.New(st.convTo).Elem()
			fp, post := st.fpath, st.post
			dests[i] = tmp.Addr().Interface()
			finals = append(finals, func() error {
				return post(fieldByPathAlloc(root, fp), tmp)
			})
		default:
			dests[i] = &sink
		}
	}
	if len(finals) == 0 {
		return dests, noop
	}
	return dests, func() error {
		for _, f := range finals {
			if err := f(); err != nil {
				return err
			}
		}
		return nil
	}
}

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}
	walkStruct(rt, func(sf reflect.StructField, path []int, tag tagInfo) {
		lc := toLowerAscii(tag.column(sf))
		if _, ok := idx.byName[lc]; !ok {
			idx.byName[lc] = path
		}
	})
	return idx
}

// walkStruct visits every exported field of rt that is not tagged `db:"-"`,
// flattening anonymous and `,inline` struct fields.
func walkStruct(rt reflect.Type, visit func(sf reflect.StructField, path []int, tag tagInfo)) {
	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			raw, tagged := sf.Tag.Lookup("db")
			tag := parseTag(raw)
			tag.tagged = tagged
			if tag.omit {
				continue
			}
			path := append(append([]int(nil), base...), i)

			if tag.inline || (sf.Anonymous && (forceInline || raw == "")) {
				if isRecordStruct(derefPtr(sf.Type)) {
					walk(sf.Type, path, tag.inline)
					continue
				}
			}
			if sf.PkgPath != "" {
				continue // unexported embedded non-struct
			}
			visit(sf, path, tag)
		}
	}
	walk(rt, nil, false)
}

// tagInfo is the parsed form of a `db` struct tag.
type tagInfo struct {
	name   string
	inline bool
	omit   bool
	pk     bool
	tagged bool // a db tag is present at all
}

func (t tagInfo) column(sf reflect.StructField) string {
	if t.name != "" {
		return t.name
	}
	return sf.Name
}

// parseTag supports "-", "col", ",inline", "col,pk", "pk,col" and any
// combination of the inline and pk options.
func parseTag(tag string) tagInfo {
	var ti tagInfo
	if tag == "-" {
		ti.omit = true
		return ti
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			switch part := tag[start:i]; {
			case part == "inline":
				ti.inline = true
			case part == "pk":
				ti.pk = true
			case part != "" && ti.name == "":
				ti.name = part
			}
			start = i + 1
		}
	}
	return ti
}

// makeStep picks how a column is scanned into a destination of type ft.
// Scanner implementations and types database/sql converts natively are
// scanned directly; everything else goes through a temporary.
func makeStep(ft reflect.Type, fpath []int) step {
	if implementsScanner(ft) {
		return step{kind: stepDirect, fpath: fpath}
	}
	if convTo, post, ok := pickIndirect(ft); ok {
		return step{kind: stepIndirect, fpath: fpath, convTo: convTo, post: post}
	}
	return step{kind: stepDirect, fpath: fpath}
}

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

// isRecordStruct reports whether t is mapped column by column rather than
// scanned as a single value.
func isRecordStruct(t reflect.Type) bool {
	return isStruct(t) && !implementsScanner(derefPtr(t)) && derefPtr(t) != timeType
}

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	int64Type   = reflect.TypeOf(int64(0))
	uint64Type  = reflect.TypeOf(uint64(0))
	float64Type = reflect.TypeOf(float64(0))
	stringType  = reflect.TypeOf("")
	bytesType   = reflect.TypeOf([]byte(nil))
)

// pickIndirect returns a temporary scan type and a function assigning the
// temporary into a destination of type dt. It covers:
//   - []byte -> string for the builtin string type
//   - numeric widenings for builtin and named int/uint/float types
//   - named string types
//   - pointers to any of the above, where SQL NULL becomes a nil pointer
func pickIndirect(dt reflect.Type) (reflect.Type, func(dst, src reflect.Value) error, bool) {
	if dt == stringType {
		return bytesType, func(dst, src reflect.Value) error {
			dst.SetString(string(src.Bytes()))
			return nil
		}, true
	}

	under, ptrCount := dt, 0
	for under.Kind() == reflect.Ptr {
		under = under.Elem()
		ptrCount++
	}

	var (
		tmp reflect.Type
		set func(val, src reflect.Value)
	)
	switch under.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		tmp, set = int64Type, func(val, src reflect.Value) { val.SetInt(src.Int()) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		tmp, set = uint64Type, func(val, src reflect.Value) { val.SetUint(src.Uint()) }
	case reflect.Float32, reflect.Float64:
		tmp, set = float64Type, func(val, src reflect.Value) { val.SetFloat(src.Float()) }
	case reflect.String:
		tmp, set = stringType, func(val, src reflect.Value) { val.SetString(src.String()) }
	default:
		return nil, nil, false
	}

	if ptrCount == 0 {
		return tmp, func(dst, src reflect.Value) error {
			val := reflect.New(under).Elem()
			set(val, src)
			dst.Set(val.Convert(dt))
			return nil
		}, true
	}

	// Scan through *tmp so NULL arrives as a nil pointer.
	return reflect.PointerTo(tmp), func(dst, src reflect.Value) error {
		if src.IsNil() {
			dst.Set(reflect.Zero(dt))
			return nil
		}
		val := reflect.New(under).Elem()
		set(val, src.Elem())
		return assignWithPointers(dst, val, dt, ptrCount)
	}, true
}

// assignWithPointers stores val into dst, re-applying ptrCount pointer
// layers so the result has type dt.
func assignWithPointers(dst, val reflect.Value, dt reflect.Type, ptrCount int) error {
	if ptrCount <= 0 {
		dst.Set(val.Convert(dt))
		return nil
	}
	cur := val.Addr()
	for i := 1; i < ptrCount; i++ {
		tmp := reflect.New(cur.Type())
		tmp.Elem().Set(cur)
		cur = tmp
	}
	dst.Set(cur.Convert(dt))
	return nil
}

func fieldTypeByPath(root reflect.Type, fpath []int) reflect.Type {
	t := root
	for _, i := range fpath {
		t = derefPtr(t).Field(i).Type
	}
	return t
}

// fieldByPathAlloc walks fpath, allocating nil embedded pointers on the way
// so the final field is addressable. The final field itself is left as is.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// fieldByPath walks fpath without allocating. ok is false when a nil
// embedded pointer is met.
func fieldByPath(root reflect.Value, fpath []int) (v reflect.Value, ok bool) {
	v = root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
