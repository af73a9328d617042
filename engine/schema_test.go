package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func nestedSchema() *Schema {
	b := NewSchemaBuilder()
	root := b.MakeFieldList(4)
	b.VisitLong(root, "id", false)
	b.VisitDecimal(root, "price", true, 10, 2)

	address := b.MakeFieldList(2)
	b.VisitString(address, "street", true)
	b.VisitInteger(address, "zip", true)
	b.VisitStruct(root, "address", true, address)

	tags := b.MakeFieldList(1)
	b.VisitString(tags, "element", true)
	b.VisitArray(root, "tags", true, tags)

	attrs := b.MakeFieldList(2)
	b.VisitString(attrs, "key", false)
	b.VisitDouble(attrs, "value", true)
	b.VisitMap(root, "attrs", false, attrs)

	return b.Build(root)
}

func TestSchemaBuilder(t *testing.T) {
	s := nestedSchema()
	require.Len(t, s.Fields, 5)

	f, ok := s.Field("address")
	require.True(t, ok)
	require.Equal(t, TypeStruct, f.DataType)
	require.Len(t, f.Children, 2)
	require.Equal(t, "zip", f.Children[1].Name)

	price, ok := s.Field("price")
	require.True(t, ok)
	p, sc, ok := DecimalPrecision(price.DataType)
	require.True(t, ok)
	require.Equal(t, int32(10), p)
	require.Equal(t, int32(2), sc)

	_, ok = s.Field("nope")
	require.False(t, ok)

	require.Panics(t, func() { NewSchemaBuilder().VisitLong(3, "x", false) })
	require.Empty(t, NewSchemaBuilder().Build(0).Fields)
}

func TestSchemaString(t *testing.T) {
	b := NewSchemaBuilder()
	root := b.MakeFieldList(2)
	inner := b.MakeFieldList(1)
	b.VisitBoolean(inner, "flag", false)
	b.VisitStruct(root, "outer", true, inner)
	b.VisitString(root, "name", false)

	expected := "├─ outer: struct (nullable)\n" +
		"│  └─ flag: boolean\n" +
		"└─ name: string\n"
	require.Equal(t, expected, b.Build(root).String())
}

func TestSchemaJSON(t *testing.T) {
	s := nestedSchema()
	data, err := s.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"struct"`)
	require.Contains(t, string(data), `"decimal(10,2)"`)

	parsed, err := ParseSchema(data)
	require.NoError(t, err)
	require.Equal(t, s.String(), parsed.String())

	attrs, ok := parsed.Field("attrs")
	require.True(t, ok)
	require.Equal(t, "key", attrs.Children[0].Name)
	require.True(t, attrs.Children[1].Nullable)

	_, err = ParseSchema([]byte(`{"type":"array","fields":[]}`))
	require.ErrorIs(t, err, ErrInvalidJSONLog)

	_, err = ParseSchema([]byte(`{"type":"struct","fields":[{"name":"x","type":{"type":"udt"},"nullable":true}]}`))
	require.ErrorIs(t, err, ErrInvalidJSONLog)

	bad := &Schema{Fields: []*Field{{Name: "arr", DataType: TypeArray}}}
	_, err = bad.MarshalJSON()
	require.ErrorIs(t, err, ErrSerializeSchemaJSON)
}

func TestMetadataJSON(t *testing.T) {
	md := &Metadata{
		ID:               "4b1c",
		Name:             "events",
		Format:           Format{Provider: "parquet"},
		Schema:           nestedSchema(),
		PartitionColumns: []string{"id"},
		CreatedTime:      1700000000000,
	}
	data, err := md.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"schemaString":"{`)
	require.Contains(t, string(data), `"configuration":{}`)

	var back Metadata
	require.NoError(t, back.UnmarshalJSON(data))
	require.Equal(t, md.ID, back.ID)
	require.Equal(t, md.PartitionColumns, back.PartitionColumns)
	require.Equal(t, md.Schema.String(), back.Schema.String())
}
