package xcrud

import (
	"database/sql"
	"database/sql/driver"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the closed set of Go value kinds a mapped field may hold.
type Kind uint8

const (
	KindUnsupported Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindByte
	KindFloat32
	KindFloat64
	KindDecimal
	KindBool
	KindBytes
	KindChar
	KindString
	KindDateTime
	KindDateTimeOffset
	KindGUID
	KindInterval
	KindVariant
)

var kindNames = [...]string{
	KindUnsupported:    "unsupported",
	KindInt8:           "int8",
	KindInt16:          "int16",
	KindInt32:          "int32",
	KindInt64:          "int64",
	KindByte:           "byte",
	KindFloat32:        "float32",
	KindFloat64:        "float64",
	KindDecimal:        "decimal",
	KindBool:           "bool",
	KindBytes:          "bytes",
	KindChar:           "char",
	KindString:         "string",
	KindDateTime:       "datetime",
	KindDateTimeOffset: "datetimeoffset",
	KindGUID:           "guid",
	KindInterval:       "interval",
	KindVariant:        "variant",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unsupported"
}

// IsInteger reports whether k holds a whole number.
func (k Kind) IsInteger() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindByte:
		return true
	}
	return false
}

// StorageType is the column type a parameter is bound as.
type StorageType uint8

const (
	StorageBigInt StorageType = iota + 1
	StorageInt
	StorageSmallInt
	StorageTinyInt
	StorageBit
	StorageReal
	StorageFloat
	StorageDecimal
	StorageChar
	StorageVarChar
	StorageVarBinary
	StorageDateTime
	StorageDateTimeOffset
	StorageUniqueIdentifier
	StorageTime
	StorageVariant
)

var storageNames = [...]string{
	StorageBigInt:           "bigint",
	StorageInt:              "int",
	StorageSmallInt:         "smallint",
	StorageTinyInt:          "tinyint",
	StorageBit:              "bit",
	StorageReal:             "real",
	StorageFloat:            "float",
	StorageDecimal:          "decimal",
	StorageChar:             "char",
	StorageVarChar:          "varchar",
	StorageVarBinary:        "varbinary",
	StorageDateTime:         "datetime",
	StorageDateTimeOffset:   "datetimeoffset",
	StorageUniqueIdentifier: "uniqueidentifier",
	StorageTime:             "time",
	StorageVariant:          "sql_variant",
}

func (s StorageType) String() string {
	if int(s) < len(storageNames) && storageNames[s] != "" {
		return storageNames[s]
	}
	return "unknown"
}

// MapType returns the storage type for k. It is total over Kind; only
// KindUnsupported fails.
func MapType(k Kind) (StorageType, error) {
	switch k {
	case KindInt8, KindByte:
		return StorageTinyInt, nil
	case KindInt16:
		return StorageSmallInt, nil
	case KindInt32:
		return StorageInt, nil
	case KindInt64:
		return StorageBigInt, nil
	case KindFloat32:
		return StorageReal, nil
	case KindFloat64:
		return StorageFloat, nil
	case KindDecimal:
		return StorageDecimal, nil
	case KindBool:
		return StorageBit, nil
	case KindBytes:
		return StorageVarBinary, nil
	case KindChar:
		return StorageChar, nil
	case KindString:
		return StorageVarChar, nil
	case KindDateTime:
		return StorageDateTime, nil
	case KindDateTimeOffset:
		return StorageDateTimeOffset, nil
	case KindGUID:
		return StorageUniqueIdentifier, nil
	case KindInterval:
		return StorageTime, nil
	case KindVariant:
		return StorageVariant, nil
	}
	return 0, &UnsupportedTypeError{Kind: k}
}

var (
	bytesKindType  = reflect.TypeOf([]byte(nil))
	charType       = reflect.TypeOf(Char(""))
	offsetTimeType = reflect.TypeOf(DateTimeOffset{})
	uuidType       = reflect.TypeOf(uuid.UUID{})
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	durationType   = reflect.TypeOf(time.Duration(0))
	variantType    = reflect.TypeOf((*any)(nil)).Elem()
	valuerType     = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// exactKinds lists types matched by identity before falling back to the
// underlying reflect.Kind. Named types over basic kinds map by their kind.
var exactKinds = map[reflect.Type]Kind{
	bytesKindType:  KindBytes,
	charType:       KindChar,
	timeType:       KindDateTime,
	offsetTimeType: KindDateTimeOffset,
	uuidType:       KindGUID,
	decimalType:    KindDecimal,
	durationType:   KindInterval,
	variantType:    KindVariant,
}

// nullKinds lists the nullable wrapper structs and the kind they carry.
var nullKinds = map[reflect.Type]Kind{
	reflect.TypeOf(sql.NullInt64{}):       KindInt64,
	reflect.TypeOf(sql.NullInt32{}):       KindInt32,
	reflect.TypeOf(sql.NullInt16{}):       KindInt16,
	reflect.TypeOf(sql.NullByte{}):        KindByte,
	reflect.TypeOf(sql.NullFloat64{}):     KindFloat64,
	reflect.TypeOf(sql.NullBool{}):        KindBool,
	reflect.TypeOf(sql.NullString{}):      KindString,
	reflect.TypeOf(sql.NullTime{}):        KindDateTime,
	reflect.TypeOf(uuid.NullUUID{}):       KindGUID,
	reflect.TypeOf(decimal.NullDecimal{}): KindDecimal,
}

// KindOf classifies t. nullable is true for pointer types and the sql.Null
// family, whose absent value binds as SQL NULL. Pointers to pointers and
// pointers to nullable wrappers are unsupported.
func KindOf(t reflect.Type) (k Kind, nullable bool) {
	if k, ok := nullKinds[t]; ok {
		return k, true
	}
	if t.Kind() == reflect.Ptr {
		k, inner := KindOf(t.Elem())
		if inner || k == KindVariant {
			return KindUnsupported, false
		}
		return k, k != KindUnsupported
	}
	return baseKind(t), false
}

func baseKind(t reflect.Type) Kind {
	if k, ok := exactKinds[t]; ok {
		return k
	}
	switch t.Kind() {
	case reflect.Int8:
		return KindInt8
	case reflect.Int16:
		return KindInt16
	case reflect.Int32, reflect.Uint16:
		return KindInt32
	case reflect.Int, reflect.Int64, reflect.Uint32:
		return KindInt64
	case reflect.Uint8:
		return KindByte
	case reflect.Float32:
		return KindFloat32
	case reflect.Float64:
		return KindFloat64
	case reflect.Bool:
		return KindBool
	case reflect.String:
		return KindString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBytes
		}
	}
	return KindUnsupported
}

func implementsValuer(t reflect.Type) bool {
	return t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType)
}
