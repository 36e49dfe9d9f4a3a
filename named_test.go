package xcrud

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func eq[T comparable](t *testing.T, got, want T, msg string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: got=%v want=%v", msg, got, want)
	}
}

func eqSlice(t *testing.T, got, want []any, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len got=%d want=%d\n got=%v\nwant=%v", msg, len(got), len(want), got, want)
	}
	for i := range got {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Fatalf("%s: idx %d got=%#v want=%#v", msg, i, got[i], want[i])
		}
	}
}

var (
	reDollarToken = regexp.MustCompile(`\$\d+`)
	reAtPToken    = regexp.MustCompile(`@p\d+`)
)

type tenantScope struct {
	Tenant int `db:"tenant"`
}

type productFilter struct {
	tenantScope
	Status string    `db:"status"`
	IDs    []int64   `db:"ids"`
	Since  time.Time `db:"since"`
	Skip   string    `db:"-"`
}

func TestRebind_NamedStruct_Postgres(t *testing.T) {
	f := productFilter{
		tenantScope: tenantScope{Tenant: 42},
		Status:      "active",
		IDs:         []int64{7, 8, 9},
		Since:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	in := `
SELECT id
FROM main.product
WHERE tenant=:tenant AND status=:status
  AND id IN (:ids) AND added_at >= :since
-- :in_comment
/* :in_block */
$tag$ :in_dollar $tag$
`
	out, args, err := Rebind(in, PlaceholderDollar, f)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(reDollarToken.FindAllString(out, -1)); n != 6 {
		t.Fatalf("expected 6 positional tokens, got %d in:\n%s", n, out)
	}
	eqSlice(t, args, []any{42, "active", int64(7), int64(8), int64(9), f.Since}, "args order")
	for _, name := range []string{":tenant", ":ids", ":since"} {
		if strings.Contains(out, name) {
			t.Fatalf("named token %s remains: %s", name, out)
		}
	}
	if !strings.Contains(out, ":in_comment") || !strings.Contains(out, ":in_dollar") {
		t.Fatalf("comments and dollar blocks must be left alone: %s", out)
	}
}

func TestRebind_StructTagOptionsIgnored(t *testing.T) {
	type Product struct {
		ID   int64  `db:"id,pk"`
		Name string `db:"name"`
	}
	out, args, err := Rebind(`select * from main.product where id = :id and name = :NAME`, PlaceholderQuestion, &Product{ID: 3, Name: "Ball"})
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, "select * from main.product where id = ? and name = ?", "sql")
	eqSlice(t, args, []any{int64(3), "Ball"}, "args")
}

func TestRebind_EmptySliceToNULL_SQLServer(t *testing.T) {
	params := map[string]any{"status": "x", "ids": []int{}}
	out, args, err := Rebind(`SELECT 1 WHERE status=:status AND id IN (:ids)`, PlaceholderAtP, params)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "IN (NULL)") {
		t.Fatalf("expected IN (NULL), got: %s", out)
	}
	if !reAtPToken.MatchString(out) || !strings.Contains(out, "@p1") {
		t.Fatalf("expected @p1 in: %s", out)
	}
	eqSlice(t, args, []any{"x"}, "args with empty slice")
}

func TestRebind_ScalarByteValues(t *testing.T) {
	blob := []byte("hi")
	ref := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	params := map[string]any{"b": blob, "ref": ref, "nums": [2]int{5, 6}}
	out, args, err := Rebind(`SELECT 1 WHERE b=:b AND ref=:ref AND n IN (:nums)`, PlaceholderDollar, params)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, "SELECT 1 WHERE b=$1 AND ref=$2 AND n IN ($3,$4)", "sql")
	eqSlice(t, args, []any{blob, ref, 5, 6}, "args")
}

func TestRebind_RepeatedNames(t *testing.T) {
	type P struct {
		X   int   `db:"x"`
		Arr []int `db:"arr"`
	}
	out, args, err := Rebind(`WHERE a=:x OR b=:x OR c IN (:arr) OR d=:x`, PlaceholderColonNum, P{X: 9, Arr: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, "WHERE a=:1 OR b=:2 OR c IN (:3) OR d=:4", "numbering")
	eqSlice(t, args, []any{9, 9, 1, 9}, "repeated named args order")
}

func TestRebind_MissingName(t *testing.T) {
	_, _, err := Rebind(`select 1 where id = :id`, PlaceholderQuestion, map[string]any{"other": 1})
	if err == nil || !strings.Contains(err.Error(), ":id") {
		t.Fatalf("expected missing :id error, got %v", err)
	}
}

func TestRebind_Positional(t *testing.T) {
	in := `SELECT * FROM t WHERE a=? AND b IN (?,?) -- ? in comment`
	out, args, err := Rebind(in, PlaceholderColonNum, "aa", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, "SELECT * FROM t WHERE a=:1 AND b IN (:2,:3) -- ? in comment", "rewrite")
	eqSlice(t, args, []any{"aa", 2, 3}, "positional passthrough")

	// a single value type is positional, not a parameter bag
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out, args, err = Rebind(`SELECT * FROM t WHERE added_at > ?`, PlaceholderDollar, since)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, "SELECT * FROM t WHERE added_at > $1", "single value")
	eqSlice(t, args, []any{since}, "single value args")
}

func TestRebind_NoParams_QuestionUnchanged(t *testing.T) {
	in := "SELECT ? AS x, '--' AS y"
	out, args, err := Rebind(in, PlaceholderQuestion)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, out, in, "no-op for question")
	if len(args) != 0 {
		t.Fatalf("expected zero args, got %v", args)
	}
}

func TestBindNamedParams_Nil(t *testing.T) {
	if _, _, err := bindNamedParams(`SELECT :a`, nil); !errors.Is(err, ErrNilParams) {
		t.Fatalf("want ErrNilParams, got %v", err)
	}
	var p *struct{ A int }
	if _, _, err := bindNamedParams(`SELECT :a`, p); !errors.Is(err, ErrNilParams) {
		t.Fatalf("want ErrNilParams, got %v", err)
	}
}

func TestRewrite_SkipsQuotedAndComments(t *testing.T) {
	cases := []struct {
		in, suffix string
	}{
		{"SELECT '?', $$ ? $$, $z$ ? $z$, -- ? line\n/* ? block */ ? AS bind", "$1 AS bind"},
		{`SELECT "a ? "" b", ?`, "$1"},
		{"SELECT `c ? `` d`, ?", "$1"},
		{"SELECT $$ ? $$, ?;", "$1;"},
		{`SELECT x::text, ?`, "$1"},
	}
	for _, tc := range cases {
		got := rewritePlaceholders(tc.in, PlaceholderDollar)
		if n := len(reDollarToken.FindAllString(got, -1)); n != 1 || !strings.HasSuffix(got, tc.suffix) {
			t.Fatalf("rewrite %q:\n%s", tc.in, got)
		}
	}
}

func TestRewrite_TwoDigitNumbers(t *testing.T) {
	got := rewritePlaceholders("?"+strings.Repeat(",?", 11), PlaceholderAtP)
	for i := 1; i <= 12; i++ {
		if !strings.Contains(got, "@p"+strconv.Itoa(i)) {
			t.Fatalf("missing @p%d in %s", i, got)
		}
	}
}

func TestRewrite_UnterminatedCopiedThrough(t *testing.T) {
	in := "SELECT ? WHERE name = 'open"
	eq(t, rewritePlaceholders(in, PlaceholderDollar), "SELECT $1 WHERE name = 'open", "rewrite")
}

func TestLexSQL_NamedTokens(t *testing.T) {
	in := `
-- :skip
/* :also_skip */
SELECT ':no', ":no", ` + "`:no`" + `,
$tag$ :no $tag$,
:ok1, :ok_2, ::int, :x9, :_lead, :n1
`
	var names []string
	err := lexSQL(in, func(tok sqlToken) error {
		if tok.kind != tokNamed {
			return nil
		}
		if in[tok.start:tok.end] != ":"+tok.name {
			t.Fatalf("bad offsets for %q (%d,%d)", tok.name, tok.start, tok.end)
		}
		names = append(names, tok.name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ok1", "ok_2", "x9", "_lead", "n1"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names mismatch: got %v, want %v", names, want)
	}
}

func TestLexSQL_Unterminated(t *testing.T) {
	for _, in := range []string{"'abc", `"abc`, "`abc", "/* abc", "$tag$ abc"} {
		var text strings.Builder
		err := lexSQL(in, func(tok sqlToken) error {
			text.WriteString(in[tok.start:tok.end])
			return nil
		})
		if err == nil {
			t.Fatalf("%q: expected error", in)
		}
		if text.String() != in {
			t.Fatalf("%q: remainder not emitted, got %q", in, text.String())
		}
	}
}

func TestSkipQuoted(t *testing.T) {
	for _, in := range []string{"'a''b''c'", `"a""b""c"`, "`a``b``c`"} {
		end, err := skipQuoted(in, 1, in[0], "quoted")
		if err != nil || end != len(in) {
			t.Fatalf("%q: end=%d err=%v", in, end, err)
		}
	}
	if _, err := skipBlockComment("/* x", 2); err == nil {
		t.Fatal("expected unterminated block comment")
	}
	if end, ok, err := skipDollarQuoted("notDollar", 0); end != 0 || ok || err != nil {
		t.Fatalf("expected (0,false,nil), got (%d,%v,%v)", end, ok, err)
	}
	if _, ok, err := skipDollarQuoted("$tag$ no end", 0); !ok || err == nil {
		t.Fatal("expected unterminated dollar-quoted error")
	}
	if got := skipLineComment("-- x\nSELECT", 2); got != 5 {
		t.Fatalf("skipLineComment = %d", got)
	}
}

func TestBuildParamLookup(t *testing.T) {
	type Audit struct {
		By string `db:"by"`
	}
	type Product struct {
		*Audit
		ID   int64  `db:"id,pk"`
		Name string `db:"name"`
		Note string `db:"-"`
		code string
	}
	lut, err := buildParamLookup(Product{Audit: &Audit{By: "ops"}, ID: 10, Name: "Ball", code: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := lut.lookup("ID"); !ok || v.(int64) != 10 {
		t.Fatalf("lookup ID failed: %v %v", ok, v)
	}
	if v, ok := lut.lookup("by"); !ok || v.(string) != "ops" {
		t.Fatalf("embedded pointer fields not flattened: %v %v", ok, v)
	}
	for _, name := range []string{"note", "code"} {
		if _, ok := lut.lookup(name); ok {
			t.Fatalf("%s should be skipped", name)
		}
	}

	lut, err = buildParamLookup(Product{ID: 11})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lut.lookup("by"); ok {
		t.Fatal("nil embedded pointer should contribute nothing")
	}

	lut, err = buildParamLookup(map[string]any{"X": 1})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := lut.lookup("x"); !ok || v.(int) != 1 {
		t.Fatal("map lookup failed")
	}
}

func TestBuildParamLookup_Errors(t *testing.T) {
	var p *struct{ A int }
	if _, err := buildParamLookup(p); !errors.Is(err, ErrNilParams) {
		t.Fatalf("expected ErrNilParams, got %v", err)
	}
	if _, err := buildParamLookup(map[int]any{1: 2}); !errors.Is(err, ErrUnsupportedArg) {
		t.Fatalf("expected ErrUnsupportedArg for map[int]any, got %v", err)
	}
	if _, err := buildParamLookup(123); !errors.Is(err, ErrUnsupportedArg) {
		t.Fatalf("expected ErrUnsupportedArg, got %v", err)
	}
	type Dup struct {
		A string `db:"name"`
		B string `db:"NAME"`
	}
	if _, err := buildParamLookup(Dup{}); !errors.Is(err, ErrDuplicateKeyTag) {
		t.Fatalf("expected ErrDuplicateKeyTag, got %v", err)
	}
}

func TestLooksBindable(t *testing.T) {
	type S struct{ X int }
	var nilPtr *S
	cases := []struct {
		v    any
		want bool
	}{
		{S{}, true},
		{&S{}, true},
		{map[string]any{"a": 1}, true},
		{nilPtr, false},
		{map[int]any{1: 2}, false},
		{time.Now(), false},
		{uuid.New(), false},
		{uuid.NullUUID{}, false},
		{42, false},
	}
	for _, tc := range cases {
		if got := looksBindable(tc.v); got != tc.want {
			t.Fatalf("looksBindable(%T) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestIsSliceOrArray(t *testing.T) {
	if !isSliceOrArray(reflect.ValueOf([]int{1})) {
		t.Fatal("[]int should expand")
	}
	if isSliceOrArray(reflect.ValueOf([]byte{1})) {
		t.Fatal("[]byte should be scalar")
	}
	if !isSliceOrArray(reflect.ValueOf([2]int{1, 2})) {
		t.Fatal("array should expand")
	}
	if isSliceOrArray(reflect.ValueOf(uuid.New())) {
		t.Fatal("uuid.UUID should be scalar")
	}
	if isSliceOrArray(reflect.Value{}) {
		t.Fatal("invalid value should not expand")
	}
}

func TestPlaceholderFormat(t *testing.T) {
	cases := []struct {
		ph       Placeholder
		want     string
		numbered bool
	}{
		{PlaceholderQuestion, "?", false},
		{PlaceholderDollar, "$12", true},
		{PlaceholderAtP, "@p12", true},
		{PlaceholderColonNum, ":12", true},
	}
	for _, tc := range cases {
		eq(t, tc.ph.Format(12), tc.want, "Format")
		eq(t, tc.ph.Numbered(), tc.numbered, "Numbered")
	}
}
