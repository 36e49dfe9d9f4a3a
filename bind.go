package xcrud

import (
	"database/sql/driver"
	"reflect"
)

// Param is one bound statement parameter. A nil Value binds SQL NULL.
type Param struct {
	Name    string
	Storage StorageType
	Value   any
}

// Bind reads the current value of each field from record, which must be a
// struct or a non-nil pointer to one. Absent values (nil pointers, invalid
// sql.Null* wrappers, nil byte slices, nil interfaces) bind as NULL, so the
// result always has one Param per field.
func Bind(record any, fields []Field) ([]Param, error) {
	return bind(record, fields, false)
}

// BindKeys is Bind for primary-key fields. Each field must be a non-nullable
// integer or GUID, otherwise an *InvalidKeyTypeError is returned.
func BindKeys(record any, keys []Field) ([]Param, error) {
	return bind(record, keys, true)
}

// Args returns the values of params in order, ready for ExecContext.
func Args(params ...[]Param) []any {
	n := 0
	for _, ps := range params {
		n += len(ps)
	}
	out := make([]any, 0, n)
	for _, ps := range params {
		for _, p := range ps {
			out = append(out, p.Value)
		}
	}
	return out
}

func bind(record any, fields []Field, keys bool) ([]Param, error) {
	rv, err := recordValue(record)
	if err != nil {
		return nil, err
	}
	params := make([]Param, len(fields))
	for i, f := range fields {
		if f.owner != nil && f.owner != rv.Type() {
			return nil, configErr(rv.Type(), "field %s belongs to %s", f.Name, f.owner)
		}
		if keys {
			if err := checkKeyType(f); err != nil {
				return nil, err
			}
		}
		storage, err := MapType(f.Kind)
		if err != nil {
			return nil, &UnsupportedTypeError{Type: rv.Type(), Field: f.Name, FieldType: f.Type, Kind: f.Kind}
		}
		fv, ok := fieldByPath(rv, f.Index)
		var val any
		if ok {
			if val, err = driverValue(f.Kind, fv); err != nil {
				return nil, err
			}
		}
		params[i] = Param{Name: f.Column, Storage: storage, Value: val}
	}
	return params, nil
}

func recordValue(record any) (reflect.Value, error) {
	rv := reflect.ValueOf(record)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, ErrNotPointer
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, ErrNotPointer
	}
	return rv, nil
}

func checkKeyType(f Field) error {
	if f.Nullable || !(f.Kind.IsInteger() || f.Kind == KindGUID) {
		return &InvalidKeyTypeError{Type: f.owner, Field: f.Name, FieldType: f.Type}
	}
	return nil
}

// driverValue converts a field into a value every database/sql driver
// accepts. Named types are reduced to their base type.
func driverValue(k Kind, v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		if v.Kind() == reflect.Interface {
			return v.Elem().Interface(), nil
		}
		return driverValue(k, v.Elem())
	}
	if nullKinds[v.Type()] != KindUnsupported || v.Type() == offsetTimeType {
		// sql.Null*, uuid.NullUUID and decimal.NullDecimal report NULL
		// through their Valuer.
		return v.Interface().(driver.Valuer).Value()
	}

	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindByte, KindInterval:
		if v.CanInt() {
			return v.Int(), nil
		}
		return int64(v.Uint()), nil
	case KindFloat32, KindFloat64:
		return v.Float(), nil
	case KindBool:
		return v.Bool(), nil
	case KindString, KindChar:
		return v.String(), nil
	case KindBytes:
		if v.IsNil() {
			return nil, nil
		}
		return v.Bytes(), nil
	}
	// time.Time, uuid.UUID and decimal.Decimal are handed to the driver as
	// is; the latter two implement driver.Valuer.
	return v.Interface(), nil
}
