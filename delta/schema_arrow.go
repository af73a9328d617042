package delta

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/goccy/go-json"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// PartitionColumnsKey is the Arrow schema metadata key listing the partition
// columns of the table as a JSON array.
const PartitionColumnsKey = "delta.partitionColumns"

// ArrowSchema converts a table schema to an Arrow schema.
func ArrowSchema(s *engine.Schema, partitionColumns []string) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		af, err := arrowField(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, af)
	}
	if len(partitionColumns) == 0 {
		return arrow.NewSchema(fields, nil), nil
	}
	cols, err := json.Marshal(partitionColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrSerializeSchemaJSON, err)
	}
	md := arrow.NewMetadata([]string{PartitionColumnsKey}, []string{string(cols)})
	return arrow.NewSchema(fields, &md), nil
}

func arrowField(f *engine.Field) (arrow.Field, error) {
	t, err := arrowType(f)
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{Name: f.Name, Type: t, Nullable: f.Nullable}, nil
}

func arrowType(f *engine.Field) (arrow.DataType, error) {
	switch f.DataType {
	case engine.TypeString:
		return arrow.BinaryTypes.String, nil
	case engine.TypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	case engine.TypeInteger:
		return arrow.PrimitiveTypes.Int32, nil
	case engine.TypeShort:
		return arrow.PrimitiveTypes.Int16, nil
	case engine.TypeByte:
		return arrow.PrimitiveTypes.Int8, nil
	case engine.TypeFloat:
		return arrow.PrimitiveTypes.Float32, nil
	case engine.TypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case engine.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case engine.TypeBinary:
		return arrow.BinaryTypes.Binary, nil
	case engine.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	case engine.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case engine.TypeTimestampNTZ:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case engine.TypeStruct:
		children := make([]arrow.Field, 0, len(f.Children))
		for _, c := range f.Children {
			af, err := arrowField(c)
			if err != nil {
				return nil, err
			}
			children = append(children, af)
		}
		return arrow.StructOf(children...), nil
	case engine.TypeArray:
		if len(f.Children) != 1 {
			return nil, fmt.Errorf("%w: array %q needs one element field", engine.ErrArrow, f.Name)
		}
		elem, err := arrowField(f.Children[0])
		if err != nil {
			return nil, err
		}
		return arrow.ListOfField(elem), nil
	case engine.TypeMap:
		if len(f.Children) != 2 {
			return nil, fmt.Errorf("%w: map %q needs key and value fields", engine.ErrArrow, f.Name)
		}
		key, err := arrowType(f.Children[0])
		if err != nil {
			return nil, err
		}
		val, err := arrowType(f.Children[1])
		if err != nil {
			return nil, err
		}
		m := arrow.MapOf(key, val)
		m.SetItemNullable(f.Children[1].Nullable)
		return m, nil
	}
	if p, s, ok := engine.DecimalPrecision(f.DataType); ok {
		if p > 38 {
			return &arrow.Decimal256Type{Precision: p, Scale: s}, nil
		}
		return &arrow.Decimal128Type{Precision: p, Scale: s}, nil
	}
	return nil, fmt.Errorf("%w: field %q has unsupported type %q", engine.ErrArrow, f.Name, f.DataType)
}

// MarshalArrowSchema encodes the schema as an Arrow IPC stream holding only
// the schema message.
func MarshalArrowSchema(s *engine.Schema, partitionColumns []string) ([]byte, error) {
	as, err := ArrowSchema(s, partitionColumns)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(as))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrArrow, err)
	}
	return buf.Bytes(), nil
}
