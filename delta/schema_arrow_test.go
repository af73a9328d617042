package delta

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/require"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

func nestedSchema() *engine.Schema {
	b := engine.NewSchemaBuilder()
	root := b.MakeFieldList(6)

	address := b.MakeFieldList(2)
	b.VisitString(address, "street", true)
	b.VisitInteger(address, "zip", false)
	b.VisitStruct(root, "address", true, address)

	tags := b.MakeFieldList(1)
	b.VisitString(tags, "element", true)
	b.VisitArray(root, "tags", true, tags)

	attrs := b.MakeFieldList(2)
	b.VisitString(attrs, "key", false)
	b.VisitLong(attrs, "value", true)
	b.VisitMap(root, "attrs", true, attrs)

	b.VisitDecimal(root, "price", true, 10, 2)
	b.VisitDecimal(root, "huge", true, 50, 0)
	b.VisitPrimitive(root, "seen", engine.TypeTimestampNTZ, false)
	return b.Build(root)
}

func TestArrowSchema(t *testing.T) {
	s, err := ArrowSchema(nestedSchema(), nil)
	require.NoError(t, err)
	require.Equal(t, 6, s.NumFields())
	require.Zero(t, s.Metadata().Len())

	address := s.Field(0)
	require.True(t, address.Nullable)
	st, ok := address.Type.(*arrow.StructType)
	require.True(t, ok)
	require.Equal(t, 2, st.NumFields())
	require.False(t, st.Field(1).Nullable)
	require.Equal(t, arrow.INT32, st.Field(1).Type.ID())

	list, ok := s.Field(1).Type.(*arrow.ListType)
	require.True(t, ok)
	require.Equal(t, arrow.STRING, list.Elem().ID())

	m, ok := s.Field(2).Type.(*arrow.MapType)
	require.True(t, ok)
	require.Equal(t, arrow.STRING, m.KeyType().ID())
	require.Equal(t, arrow.INT64, m.ItemType().ID())
	require.True(t, m.ItemField().Nullable)

	require.Equal(t, &arrow.Decimal128Type{Precision: 10, Scale: 2}, s.Field(3).Type)
	require.Equal(t, arrow.DECIMAL256, s.Field(4).Type.ID())

	ts, ok := s.Field(5).Type.(*arrow.TimestampType)
	require.True(t, ok)
	require.Equal(t, arrow.Microsecond, ts.Unit)
	require.Empty(t, ts.TimeZone)
}

func TestArrowSchemaRejectsUnknownTypes(t *testing.T) {
	schema := &engine.Schema{Fields: []*engine.Field{{Name: "v", DataType: "variant"}}}
	_, err := ArrowSchema(schema, nil)
	require.ErrorIs(t, err, engine.ErrArrow)
	require.Equal(t, Arrow, Classify(err).Code)

	broken := &engine.Schema{Fields: []*engine.Field{{Name: "a", DataType: engine.TypeArray}}}
	_, err = ArrowSchema(broken, nil)
	require.ErrorIs(t, err, engine.ErrArrow)
}

func TestMarshalArrowSchema(t *testing.T) {
	data, err := MarshalArrowSchema(nestedSchema(), []string{"price"})
	require.NoError(t, err)

	r, err := ipc.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Release()
	require.Equal(t, 6, r.Schema().NumFields())
	require.Equal(t, "attrs", r.Schema().Field(2).Name)
	cols, ok := r.Schema().Metadata().GetValue(PartitionColumnsKey)
	require.True(t, ok)
	require.JSONEq(t, `["price"]`, cols)
	require.False(t, r.Next(), "the stream carries no record batches")
}
