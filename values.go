package xcrud

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Char is fixed-width character data. It binds as StorageChar instead of
// StorageVarChar; padding is left to the database.
type Char string

// DateTimeOffset is a point in time that keeps its UTC offset. Use it for
// datetimeoffset / timestamptz columns; plain time.Time binds as a datetime.
type DateTimeOffset struct {
	time.Time
}

// NewDateTimeOffset wraps t.
func NewDateTimeOffset(t time.Time) DateTimeOffset { return DateTimeOffset{Time: t} }

// Value implements driver.Valuer.
func (d DateTimeOffset) Value() (driver.Value, error) { return d.Time, nil }

// offsetLayouts are the textual forms drivers without a native time type
// hand back (SQLite stores times as text).
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

// Scan implements sql.Scanner. NULL is rejected; use *DateTimeOffset for
// nullable columns.
func (d *DateTimeOffset) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = v
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		return fmt.Errorf("xcrud: cannot scan NULL into DateTimeOffset")
	}
	return fmt.Errorf("xcrud: cannot scan %T into DateTimeOffset", src)
}

func (d *DateTimeOffset) parse(s string) error {
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("xcrud: cannot parse %q as DateTimeOffset", s)
}
