package codec_test

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-rpc/codec"
	"graph-rpc/schema"
)

type Level int

const (
	Low Level = iota
	Mid
	High
)

func (l Level) String() string {
	return [...]string{"LOW", "MID", "HIGH"}[l]
}

type Grade int

const (
	GradeA Grade = 90
	GradeB Grade = 80
)

func (g Grade) Code() int { return int(g) }

func (g Grade) String() string {
	if g == GradeA {
		return "A"
	}
	return "B"
}

func (g Grade) Text() string {
	if g == GradeA {
		return "Excellent"
	}
	return "Good"
}

// Rank has a numeric code and no display text.
type Rank int

const (
	Bronze Rank = 1
	Gold   Rank = 3
)

func (r Rank) Code() int { return int(r) }

func (r Rank) String() string {
	if r == Gold {
		return "GOLD"
	}
	return "BRONZE"
}

type Counter struct {
	Count int
	Name  string
}

type Point struct {
	X, Y int32
}

type Point3 struct {
	Point
	Z int32
}

type Badge struct {
	Grade Grade
	Level Level
}

type Medal struct {
	Level Level
	Grade Grade
	Rank  Rank
}

// Login spells the same key twice under KeyLower and KeyUpper.
type Login struct {
	UserName string
	Username string
}

type Envelope struct {
	Body any
}

type Roster struct {
	Members []*Point
}

type Profile struct {
	Name    string
	Age     int16
	Score   float64
	Active  bool
	Tags    []string
	Labels  map[string]int64
	Seen    map[string]struct{}
	Level   Level
	Grade   Grade
	Nick    *string
	Avatar  []byte
	Balance *big.Int
	Ratio   *big.Float
	Born    schema.Date
	Wake    schema.Clock
	Updated time.Time
	Timeout time.Duration
	Home    *Point
	Path    []Point
	Corners [2]Point
	ByLevel map[Level]string
	Extra   any
	Ignored string `wire:"-"`
}

func newRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.Build(schema.Options{
		Entities: []any{Counter{}, Point{}, Badge{}, Medal{}, Envelope{}, Roster{}, Profile{}},
		Enums: []schema.EnumSpec{
			schema.EnumOf(Low, Mid, High),
			schema.EnumOf(GradeA, GradeB),
			schema.EnumOf(Bronze, Gold),
		},
	})
	require.NoError(t, err)
	return reg
}

func indexOf(t testing.TB, reg *schema.Registry, v any) byte {
	t.Helper()
	e, ok := reg.EntityOf(reflect.TypeOf(v))
	require.True(t, ok)
	return byte(e.Index())
}

func sampleProfile() *Profile {
	nick := "ace"
	balance, _ := new(big.Int).SetString("-123456789012345678901234567890", 10)
	return &Profile{
		Name:    "Ada \"the\" Countess\n",
		Age:     -3,
		Score:   98.25,
		Active:  true,
		Tags:    []string{"admin", "ops"},
		Labels:  map[string]int64{"a": 1, "b": -2},
		Seen:    map[string]struct{}{"x": {}, "y": {}},
		Level:   High,
		Grade:   GradeB,
		Nick:    &nick,
		Avatar:  []byte{0, 1, 2, 0xff},
		Balance: balance,
		Ratio:   big.NewFloat(0.125),
		Born:    schema.Date{Year: 1815, Month: time.December, Day: 10},
		Wake:    schema.Clock{Hour: 7, Minute: 30},
		Updated: time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC),
		Timeout: 90 * time.Second,
		Home:    &Point{X: 1, Y: -1},
		Path:    []Point{{X: 1}, {Y: 2}},
		Corners: [2]Point{{X: 3, Y: 4}, {}},
		ByLevel: map[Level]string{Low: "l", High: "h"},
		Extra:   &Point{X: 9, Y: 9},
	}
}

// assertProfile compares big numbers by value and everything else structurally.
func assertProfile(t *testing.T, want, got *Profile) {
	t.Helper()
	require.NotNil(t, got.Balance)
	require.NotNil(t, got.Ratio)
	assert.Zero(t, want.Balance.Cmp(got.Balance))
	assert.Zero(t, want.Ratio.Cmp(got.Ratio))
	w, g := *want, *got
	w.Balance, g.Balance, w.Ratio, g.Ratio = nil, nil, nil, nil
	assert.Equal(t, w, g)
}

func codecs(reg *schema.Registry) []codec.Codec {
	return []codec.Codec{codec.GetCodec(codec.CodecTypeBinary, reg), codec.GetCodec(codec.CodecTypeJSON, reg)}
}

func TestGetCodec(t *testing.T) {
	reg := newRegistry(t)
	assert.Equal(t, codec.CodecTypeJSON, codec.GetCodec(codec.CodecTypeJSON, reg).Type())
	assert.Equal(t, codec.CodecTypeBinary, codec.GetCodec(codec.CodecTypeBinary, reg).Type())

	ct, err := codec.ParseCodecType("JSON")
	require.NoError(t, err)
	assert.Equal(t, codec.CodecTypeJSON, ct)
	_, err = codec.ParseCodecType("xml")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	for _, c := range codecs(reg) {
		t.Run(c.Type().String(), func(t *testing.T) {
			want := sampleProfile()
			data, err := c.Encode(want)
			require.NoError(t, err)

			got := &Profile{}
			require.NoError(t, c.Decode(data, got))
			assertProfile(t, want, got)
		})
	}
}

func TestCounterScenario(t *testing.T) {
	reg := newRegistry(t)
	idx := indexOf(t, reg, Counter{})
	c := codec.NewBinaryCodec(reg)

	data, err := c.Encode(Counter{Count: 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{idx, 0x00, 0x05, 0x02}, data)

	got := Counter{Count: 9, Name: "stale"}
	require.NoError(t, c.Decode(data, &got))
	assert.Equal(t, Counter{Count: 5}, got)
}

func TestDefaultOmission(t *testing.T) {
	reg := newRegistry(t)
	c := codec.NewBinaryCodec(reg)
	e, _ := reg.EntityOf(reflect.TypeOf(Profile{}))

	data, err := c.Encode(&Profile{})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(e.Index()), byte(e.NumFields())}, data)

	var p Profile
	require.NoError(t, c.Decode(data, &p))
	again, err := c.Encode(&p)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestSkippedOrdinalsAreReset(t *testing.T) {
	reg := newRegistry(t)
	idx := indexOf(t, reg, Counter{})
	c := codec.NewBinaryCodec(reg)

	got := Counter{Count: 7, Name: "old"}
	require.NoError(t, c.Decode([]byte{idx, 0x01, 0x01, 'n', 0x02}, &got))
	assert.Equal(t, Counter{Name: "n"}, got)
}

func TestNilVersusEmpty(t *testing.T) {
	reg := newRegistry(t)
	for _, c := range codecs(reg) {
		t.Run(c.Type().String(), func(t *testing.T) {
			data, err := c.Encode(&Profile{Tags: []string{}, Labels: map[string]int64{}})
			require.NoError(t, err)
			var got Profile
			require.NoError(t, c.Decode(data, &got))
			assert.NotNil(t, got.Tags)
			assert.Empty(t, got.Tags)
			assert.NotNil(t, got.Labels)

			data, err = c.Encode(&Profile{})
			require.NoError(t, err)
			got = Profile{Tags: []string{"stale"}}
			require.NoError(t, c.Decode(data, &got))
			assert.Nil(t, got.Tags)
			assert.Nil(t, got.Labels)
		})
	}
}

func TestEnums(t *testing.T) {
	reg := newRegistry(t)
	idx := indexOf(t, reg, Badge{})

	data, err := codec.NewBinaryCodec(reg).Encode(Badge{Grade: GradeA})
	require.NoError(t, err)
	assert.Equal(t, []byte{idx, 0x00, 0x5a, 0x02}, data)

	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	out, err := js.Encode(Badge{Grade: GradeA, Level: High})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Grade":{"value":90,"name":"A","text":"Excellent"},"Level":{"value":2,"name":"HIGH"}}`, string(out))

	cfg := codec.DefaultJSONConfig()
	cfg.EnumAsObject = false
	out, err = codec.NewJSONCodec(reg, cfg).Encode(Badge{Grade: GradeB, Level: Mid})
	require.NoError(t, err)
	assert.Equal(t, `{"Grade":80,"Level":1}`, string(out))

	for _, in := range []string{
		`{"Grade":"B","Level":1}`,
		`{"Grade":80,"Level":"MID"}`,
		`{"Grade":{"name":"B"},"Level":{"value":1}}`,
	} {
		var b Badge
		require.NoError(t, js.Decode([]byte(in), &b), in)
		assert.Equal(t, Badge{Grade: GradeB, Level: Mid}, b, in)
	}

	var b Badge
	err = js.Decode([]byte(`{"Grade":70}`), &b)
	assert.ErrorIs(t, err, codec.ErrProtocol)
}

func TestEnumConstantsRoundTrip(t *testing.T) {
	reg := newRegistry(t)

	tests := []struct {
		name string
		in   Medal
	}{
		{"plain LOW", Medal{Level: Low}},
		{"plain MID", Medal{Level: Mid}},
		{"plain HIGH", Medal{Level: High}},
		{"coded with text A", Medal{Grade: GradeA}},
		{"coded with text B", Medal{Grade: GradeB}},
		{"coded BRONZE", Medal{Rank: Bronze}},
		{"coded GOLD", Medal{Rank: Gold}},
	}
	for _, c := range codecs(reg) {
		for _, tt := range tests {
			t.Run(c.Type().String()+"/"+tt.name, func(t *testing.T) {
				data, err := c.Encode(tt.in)
				require.NoError(t, err)
				var got Medal
				require.NoError(t, c.Decode(data, &got))
				assert.Equal(t, tt.in, got)
			})
		}
	}

	idx := indexOf(t, reg, Medal{})
	data, err := codec.NewBinaryCodec(reg).Encode(Medal{Rank: Gold})
	require.NoError(t, err)
	assert.Equal(t, []byte{idx, 0x02, 0x03, 0x03}, data)

	out, err := codec.NewJSONCodec(reg, codec.DefaultJSONConfig()).Encode(Medal{Rank: Gold})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Rank":{"value":3,"name":"GOLD"}`)
}

func TestUnsetEnumIsNullInJSON(t *testing.T) {
	reg := newRegistry(t)
	cfg := codec.DefaultJSONConfig()
	cfg.IgnoreNull = false
	out, err := codec.NewJSONCodec(reg, cfg).Encode(Badge{Level: Low})
	require.NoError(t, err)
	assert.Equal(t, `{"Grade":null,"Level":{"value":0,"name":"LOW"}}`, string(out))
}

func TestAnyValues(t *testing.T) {
	reg := newRegistry(t)
	values := []any{int32(7), "text", Mid, GradeA, &Point{X: 1, Y: 2}, 2 * time.Second, []byte("raw")}
	for _, c := range codecs(reg) {
		for _, v := range values {
			data, err := c.Encode(Envelope{Body: v})
			require.NoError(t, err, "%s %T", c.Type(), v)
			var got Envelope
			require.NoError(t, c.Decode(data, &got), "%s %T", c.Type(), v)
			assert.Equal(t, v, got.Body, "%s %T", c.Type(), v)
		}
	}

	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	out, err := js.Encode(Envelope{Body: int32(7)})
	require.NoError(t, err)
	assert.Equal(t, `{"Body":{"@type":"int32","value":7}}`, string(out))
	out, err = js.Encode(Envelope{Body: Point{X: 1, Y: 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"Body":{"@type":"codec_test.Point","X":1,"Y":2}}`, string(out))

	_, err = js.Encode(Envelope{Body: []int{1}})
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestAnyValuesDecodeCanonical(t *testing.T) {
	reg := newRegistry(t)
	n := 5
	for _, c := range codecs(reg) {
		for _, tt := range []struct {
			in, want any
		}{
			{Point{X: 1}, &Point{X: 1}},
			{&n, 5},
		} {
			data, err := c.Encode(Envelope{Body: tt.in})
			require.NoError(t, err)
			var got Envelope
			require.NoError(t, c.Decode(data, &got))
			assert.Equal(t, tt.want, got.Body, "%s %T", c.Type(), tt.in)
		}
	}
}

func TestUntypedDecode(t *testing.T) {
	reg := newRegistry(t)
	bin := codec.NewBinaryCodec(reg)
	data, err := bin.Encode(Point{X: 4, Y: 5})
	require.NoError(t, err)
	var v any
	require.NoError(t, bin.Decode(data, &v))
	assert.Equal(t, &Point{X: 4, Y: 5}, v)

	cfg := codec.DefaultJSONConfig()
	cfg.TypeHint = true
	js := codec.NewJSONCodec(reg, cfg)
	out, err := js.Encode(Point{X: 4, Y: 5})
	require.NoError(t, err)
	assert.Equal(t, `{"@type":"codec_test.Point","X":4,"Y":5}`, string(out))
	v = nil
	require.NoError(t, js.Decode(out, &v))
	assert.Equal(t, &Point{X: 4, Y: 5}, v)

	var p Point
	require.NoError(t, js.Decode(out, &p))
	assert.Equal(t, Point{X: 4, Y: 5}, p)
}

func TestOverride(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.Override(Point{}, Point3{}))

	for _, c := range codecs(reg) {
		data, err := c.Encode(Envelope{Body: Point{X: 1, Y: 2}})
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, c.Decode(data, &env))
		assert.Equal(t, &Point3{Point: Point{X: 1, Y: 2}}, env.Body, c.Type().String())

		// An instance of the override type encodes as its base entity.
		data, err = c.Encode(&Point3{Point: Point{X: 3}, Z: 8})
		require.NoError(t, err)
		var p Point
		require.NoError(t, c.Decode(data, &p))
		assert.Equal(t, Point{X: 3}, p)
	}
}

func TestNilCollectionElements(t *testing.T) {
	reg := newRegistry(t)
	r := Roster{Members: []*Point{{X: 1}, nil}}

	_, err := codec.NewBinaryCodec(reg).Encode(r)
	assert.ErrorIs(t, err, codec.ErrNilValue)

	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	out, err := js.Encode(r)
	require.NoError(t, err)
	assert.Equal(t, `{"Members":[{"X":1,"Y":0},null]}`, string(out))
	var got Roster
	require.NoError(t, js.Decode(out, &got))
	assert.Equal(t, r, got)
}

func TestBinaryProtocolErrors(t *testing.T) {
	reg := newRegistry(t)
	idx := indexOf(t, reg, Counter{})
	c := codec.NewBinaryCodec(reg)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated value", []byte{idx, 0x00}},
		{"ordinal beyond count", []byte{idx, 0x05}},
		{"ordinal not increasing", []byte{idx, 0x01, 0x01, 'a', 0x00, 0x05, 0x02}},
		{"wrong type index", []byte{idx + 1, 0x02}},
		{"trailing bytes", []byte{idx, 0x02, 0x00}},
		{"string longer than input", []byte{idx, 0x01, 0x09, 'a', 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Counter
			err := c.Decode(tt.data, &got)
			require.Error(t, err)
			assert.ErrorIs(t, err, codec.ErrProtocol)
			var pe *codec.ProtocolError
			assert.True(t, errors.As(err, &pe))
		})
	}

	var got Counter
	assert.ErrorIs(t, c.Decode([]byte{idx, 0x00}, &got), io.ErrUnexpectedEOF)
}

func TestDecodeTargetErrors(t *testing.T) {
	reg := newRegistry(t)
	for _, c := range codecs(reg) {
		assert.Error(t, c.Decode([]byte("{}"), Counter{}))
		var m map[string]any
		assert.ErrorIs(t, c.Decode([]byte("{}"), &m), schema.ErrSchema)
		_, err := c.Encode(struct{}{})
		assert.ErrorIs(t, err, schema.ErrSchema)
		_, err = c.Encode((*Counter)(nil))
		assert.ErrorIs(t, err, codec.ErrNilValue)
	}
}

func TestJSONUnknownFields(t *testing.T) {
	reg := newRegistry(t)
	in := `{"Count":5,"junk":{"a":[1,{"b":"}]\""}],"c":null},"more":[[]],"Name":"x"}`

	var got Counter
	require.NoError(t, codec.NewJSONCodec(reg, codec.DefaultJSONConfig()).Decode([]byte(in), &got))
	assert.Equal(t, Counter{Count: 5, Name: "x"}, got)

	cfg := codec.DefaultJSONConfig()
	cfg.IgnoreUndefinedField = false
	err := codec.NewJSONCodec(reg, cfg).Decode([]byte(in), &got)
	assert.ErrorIs(t, err, codec.ErrUndefinedField)
	var ue *codec.UndefinedFieldError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "junk", ue.Key)
}

func TestJSONNullAndQuotedNull(t *testing.T) {
	reg := newRegistry(t)
	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())

	var p Profile
	require.NoError(t, js.Decode([]byte(`{"Nick":"null"}`), &p))
	require.NotNil(t, p.Nick)
	assert.Equal(t, "null", *p.Nick)

	require.NoError(t, js.Decode([]byte(`{"Nick":null,"Name":null}`), &p))
	assert.Nil(t, p.Nick)
	assert.Equal(t, "", p.Name)
}

func TestJSONConfigVariants(t *testing.T) {
	reg := newRegistry(t)
	in := Counter{Count: 5, Name: "x"}

	tests := []struct {
		name string
		edit func(*codec.JSONConfig)
		want string
	}{
		{"default", func(*codec.JSONConfig) {}, `{"Count":5,"Name":"x"}`},
		{"upper keys", func(c *codec.JSONConfig) { c.KeyFormat = schema.KeyUpper }, `{"COUNT":5,"NAME":"x"}`},
		{"snake keys", func(c *codec.JSONConfig) { c.KeyFormat = schema.KeySnake }, `{"count":5,"name":"x"}`},
		{"bare keys", func(c *codec.JSONConfig) { c.QuoteKeys = false }, `{Count:5,Name:"x"}`},
		{"indent", func(c *codec.JSONConfig) { c.Indent = "  " }, "{\n  \"Count\": 5,\n  \"Name\": \"x\"\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := codec.DefaultJSONConfig()
			tt.edit(&cfg)
			js := codec.NewJSONCodec(reg, cfg)
			out, err := js.Encode(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))

			var got Counter
			require.NoError(t, js.Decode(out, &got))
			assert.Equal(t, in, got)
		})
	}
}

func TestJSONTimeFormats(t *testing.T) {
	reg := newRegistry(t)
	cfg := codec.DefaultJSONConfig()
	cfg.Location = time.FixedZone("UTC+2", 2*60*60)
	js := codec.NewJSONCodec(reg, cfg)

	p := Profile{
		Updated: time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC),
		Born:    schema.Date{Year: 2001, Month: time.February, Day: 3},
		Wake:    schema.Clock{Hour: 6, Minute: 5, Second: 4},
		Timeout: 1500 * time.Millisecond,
	}
	out, err := js.Encode(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Updated":"2024-03-02 00:00:00"`)
	assert.Contains(t, string(out), `"Born":"2001-02-03"`)
	assert.Contains(t, string(out), `"Wake":"06:05:04"`)
	assert.Contains(t, string(out), `"Timeout":"1.5s"`)

	var got Profile
	require.NoError(t, js.Decode(out, &got))
	assert.True(t, p.Updated.Equal(got.Updated))
	assert.Equal(t, p.Born, got.Born)
	assert.Equal(t, p.Wake, got.Wake)
	assert.Equal(t, p.Timeout, got.Timeout)
}

func TestJSONZeroDateTime(t *testing.T) {
	reg := newRegistry(t)
	cfg := codec.DefaultJSONConfig()
	cfg.Location = time.FixedZone("UTC+2", 2*60*60)
	js := codec.NewJSONCodec(reg, cfg)
	bin := codec.NewBinaryCodec(reg)

	out, err := js.Encode(Profile{})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Updated":""`)

	var got Profile
	require.NoError(t, js.Decode(out, &got))
	assert.True(t, got.Updated.IsZero())

	fresh, err := bin.Encode(Profile{})
	require.NoError(t, err)
	again, err := bin.Encode(got)
	require.NoError(t, err)
	assert.Equal(t, fresh, again)
}

type countingWriter struct {
	writes int
	data   []byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	w.data = append(w.data, p...)
	return len(p), nil
}

type failingWriter struct{}

var errWrite = errors.New("disk full")

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestJSONEncodeWriterStreams(t *testing.T) {
	reg := newRegistry(t)
	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())

	p := sampleProfile()
	p.Tags = make([]string, 2000)
	for i := range p.Tags {
		p.Tags[i] = fmt.Sprintf("tag-%04d", i)
	}
	want, err := js.Encode(p)
	require.NoError(t, err)

	var w countingWriter
	require.NoError(t, js.EncodeWriter(&w, p))
	assert.Greater(t, w.writes, 1)
	assert.Equal(t, string(want), string(w.data))

	var small countingWriter
	require.NoError(t, js.EncodeWriter(&small, Counter{Count: 1}))
	assert.Equal(t, 1, small.writes)
	assert.Equal(t, `{"Count":1,"Name":""}`, string(small.data))

	assert.ErrorIs(t, js.EncodeWriter(failingWriter{}, p), errWrite)
	assert.ErrorIs(t, js.EncodeWriter(failingWriter{}, Counter{}), errWrite)
}

func TestJSONKeyCollision(t *testing.T) {
	reg, err := schema.Build(schema.Options{Entities: []any{Login{}}})
	require.NoError(t, err)

	declared := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	out, err := declared.Encode(Login{UserName: "a", Username: "b"})
	require.NoError(t, err)
	var got Login
	require.NoError(t, declared.Decode(out, &got))
	assert.Equal(t, Login{UserName: "a", Username: "b"}, got)

	for _, f := range []schema.KeyFormat{schema.KeyLower, schema.KeyUpper} {
		cfg := codec.DefaultJSONConfig()
		cfg.KeyFormat = f
		js := codec.NewJSONCodec(reg, cfg)

		_, err := js.Encode(Login{})
		assert.ErrorIs(t, err, schema.ErrSchema, f.String())
		assert.ErrorIs(t, js.Decode([]byte(`{}`), &got), schema.ErrSchema, f.String())
		assert.ErrorIs(t, js.EncodeWriter(io.Discard, Login{}), schema.ErrSchema, f.String())
	}
}

func TestJSONListReuse(t *testing.T) {
	reg := newRegistry(t)
	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())

	backing := make([]string, 3, 8)
	p := Profile{Tags: backing, Labels: map[string]int64{"stale": 1}}
	require.NoError(t, js.Decode([]byte(`{"Tags":["a","b"],"Labels":{"n":2}}`), &p))
	assert.Equal(t, []string{"a", "b"}, p.Tags)
	assert.Equal(t, 8, cap(p.Tags))
	assert.Equal(t, map[string]int64{"n": 2}, p.Labels)
}

func TestJSONProtocolErrors(t *testing.T) {
	reg := newRegistry(t)
	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	for _, in := range []string{
		``,
		`{"Count":5`,
		`{"Count":"five"}`,
		`{"Count":5,}`,
		`{"Name":"unterminated}`,
		`{"Name":"bad \q escape"}`,
		`{"Count":5} trailing`,
		`[1,2]`,
	} {
		var c Counter
		err := js.Decode([]byte(in), &c)
		assert.ErrorIs(t, err, codec.ErrProtocol, "%q", in)
	}

	var v any
	assert.ErrorIs(t, js.Decode([]byte(`{"Count":5}`), &v), codec.ErrProtocol)
}

func TestJSONUnicode(t *testing.T) {
	reg := newRegistry(t)
	js := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())

	var c Counter
	require.NoError(t, js.Decode([]byte(`{"Name":"😀 é\t\/"}`), &c))
	assert.Equal(t, "😀 é\t/", c.Name)

	in := Counter{Name: "q\"b\\s\x01 é 😀"}
	out, err := js.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, `{"Count":0,"Name":"q\"b\\s\u0001 é 😀"}`, string(out))
	var got Counter
	require.NoError(t, js.Decode(out, &got))
	assert.Equal(t, in, got)
}

func BenchmarkBinaryEncode(b *testing.B) {
	reg := newRegistry(b)
	c := codec.NewBinaryCodec(reg)
	p := sampleProfile()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkJSONEncode(b *testing.B) {
	reg := newRegistry(b)
	c := codec.NewJSONCodec(reg, codec.DefaultJSONConfig())
	p := sampleProfile()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBinaryDecode(b *testing.B) {
	reg := newRegistry(b)
	c := codec.NewBinaryCodec(reg)
	data, err := c.Encode(sampleProfile())
	require.NoError(b, err)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var p Profile
		if err := c.Decode(data, &p); err != nil {
			b.Fatal(err)
		}
	}
}
