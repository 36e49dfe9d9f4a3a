package xcrud

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record types shared by the metadata, binding and context tests. They
// model a small shop schema kept in SQLite's "main" schema.

type Product struct {
	ID         int64           `db:"id,pk"`
	CategoryID int32           `db:"category_id"`
	Name       string          `db:"name"`
	Price      decimal.Decimal `db:"price"`
	Note       *string         `db:"note"`
	Cached     string          // not stored
}

func (Product) Table() Table { return Table{Schema: "main", Name: "product"} }

// OrderLine has a composite key and a value column.
type OrderLine struct {
	OrderID   int64 `db:"order_id,pk"`
	ProductID int64 `db:"product_id,pk"`
	Quantity  int32 `db:"quantity"`
}

func (OrderLine) Table() Table { return Table{Schema: "main", Name: "order_line"} }

// ProductTag is a pure association table: keys only.
type ProductTag struct {
	ProductID int64 `db:"product_id,pk"`
	TagID     int32 `db:"tag_id,pk"`
}

func (ProductTag) Table() Table { return Table{Schema: "main", Name: "product_tag"} }

// Ticket is nothing but a generated key.
type Ticket struct {
	ID int64 `db:"id,pk"`
}

func (Ticket) Table() Table { return Table{Schema: "main", Name: "ticket"} }

// Shipment is keyed by a client-generated GUID.
type Shipment struct {
	ID        uuid.UUID      `db:"id,pk"`
	OrderID   int64          `db:"order_id"`
	Carrier   string         `db:"carrier"`
	ShippedAt DateTimeOffset `db:"shipped_at"`
}

func (*Shipment) Table() Table { return Table{Schema: "main", Name: "shipment"} }

// Sample holds one field of every supported kind.
type Sample struct {
	ID        int64           `db:"id,pk"`
	I8        int8            `db:"i8"`
	I16       int16           `db:"i16"`
	I32       int32           `db:"i32"`
	I64       int64           `db:"i64"`
	U8        uint8           `db:"u8"`
	F32       float32         `db:"f32"`
	F64       float64         `db:"f64"`
	Dec       decimal.Decimal `db:"dec"`
	Flag      bool            `db:"flag"`
	Blob      []byte          `db:"blob"`
	Code      Char            `db:"code"`
	Text      string          `db:"text"`
	At        time.Time       `db:"at"`
	AtOffset  DateTimeOffset  `db:"at_offset"`
	Ref       uuid.UUID       `db:"ref"`
	Span      time.Duration   `db:"span"`
	Anything  any             `db:"anything"`
	Untouched int             // not stored
}

func (Sample) Table() Table { return Table{Schema: "main", Name: "sample"} }

// NullableSample holds the nullable form of every supported kind.
type NullableSample struct {
	ID       int64               `db:"id,pk"`
	I8       *int8               `db:"i8"`
	I16      sql.NullInt16       `db:"i16"`
	I32      sql.NullInt32       `db:"i32"`
	I64      sql.NullInt64       `db:"i64"`
	U8       sql.NullByte        `db:"u8"`
	F32      *float32            `db:"f32"`
	F64      sql.NullFloat64     `db:"f64"`
	Dec      decimal.NullDecimal `db:"dec"`
	Flag     sql.NullBool        `db:"flag"`
	Blob     []byte              `db:"blob"`
	Code     *Char               `db:"code"`
	Text     sql.NullString      `db:"text"`
	At       sql.NullTime        `db:"at"`
	AtOffset *DateTimeOffset     `db:"at_offset"`
	Ref      uuid.NullUUID       `db:"ref"`
	Span     *time.Duration      `db:"span"`
	Anything any                 `db:"anything"`
}

func (NullableSample) Table() Table { return Table{Schema: "main", Name: "nullable_sample"} }

// Misconfigured record types.

type untabled struct {
	ID int64 `db:"id,pk"`
}

type unmapped struct {
	ID   int64
	Name string
}

func (unmapped) Table() Table { return Table{Name: "unmapped"} }

type withUnsupported struct {
	ID    int64             `db:"id,pk"`
	Attrs map[string]string `db:"attrs"`
}

func (withUnsupported) Table() Table { return Table{Schema: "main", Name: "product"} }

type stringKeyed struct {
	Code string `db:"code,pk"`
	Name string `db:"name"`
}

func (stringKeyed) Table() Table { return Table{Name: "coupon"} }

type nullableKeyed struct {
	ID   *int64 `db:"id,pk"`
	Name string `db:"name"`
}

func (nullableKeyed) Table() Table { return Table{Name: "coupon"} }

type badTable struct {
	ID int64 `db:"id,pk"`
}

func (badTable) Table() Table { return Table{Schema: "main", Name: "product; drop table product"} }

type badColumn struct {
	ID   int64  `db:"id,pk"`
	Name string `db:"display name"`
}

func (badColumn) Table() Table { return Table{Name: "product"} }

type dupColumn struct {
	ID    int64  `db:"id,pk"`
	Name  string `db:"name"`
	Label string `db:"NAME"`
}

func (dupColumn) Table() Table { return Table{Name: "product"} }

type noKey struct {
	Name string `db:"name"`
}

func (noKey) Table() Table { return Table{Name: "audit_log"} }

func ptr[T any](v T) *T { return &v }
