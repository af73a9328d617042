package engine

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Primitive Delta type names understood by the bridge.
const (
	TypeString       = "string"
	TypeLong         = "long"
	TypeInteger      = "integer"
	TypeShort        = "short"
	TypeByte         = "byte"
	TypeFloat        = "float"
	TypeDouble       = "double"
	TypeBoolean      = "boolean"
	TypeBinary       = "binary"
	TypeDate         = "date"
	TypeTimestamp    = "timestamp"
	TypeTimestampNTZ = "timestamp_ntz"
	TypeStruct       = "struct"
	TypeArray        = "array"
	TypeMap          = "map"
)

// Field represents a field in a Delta table schema.
//
// Nested types keep their parts in Children: a struct holds its fields, an
// array holds a single "element" child and a map holds "key" and "value".
// Decimals use the Delta spelling "decimal(p,s)" as DataType.
type Field struct {
	Name     string
	DataType string
	Nullable bool
	Children []*Field
}

// Schema represents a Delta table schema
type Schema struct {
	Fields []*Field
}

// Field returns the top-level field with the given name.
func (s *Schema) Field(name string) (*Field, bool) {
	if s == nil {
		return nil, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// String returns a string representation of the schema with tree-like formatting
func (s *Schema) String() string {
	var b strings.Builder
	for i, field := range s.Fields {
		isLast := i == len(s.Fields)-1
		s.printField(&b, field, 0, 0, isLast)
	}
	return b.String()
}

// printField recursively prints a field with proper tree formatting
func (s *Schema) printField(b *strings.Builder, field *Field, indent int, parentsOnLast int, isLast bool) {
	for j := 0; j < indent; j++ {
		if (indent - parentsOnLast) <= j {
			b.WriteString("   ")
		} else {
			b.WriteString("│  ")
		}
	}

	prefix := "├"
	if isLast {
		prefix = "└"
	}
	nullable := ""
	if field.Nullable {
		nullable = " (nullable)"
	}
	fmt.Fprintf(b, "%s─ %s: %s%s\n", prefix, field.Name, field.DataType, nullable)

	newParentsOnLast := parentsOnLast
	if isLast {
		newParentsOnLast++
	}
	for i, child := range field.Children {
		s.printField(b, child, indent+1, newParentsOnLast, i == len(field.Children)-1)
	}
}

// DecimalPrecision parses a "decimal(p,s)" type name.
func DecimalPrecision(dataType string) (precision, scale int32, ok bool) {
	if !strings.HasPrefix(dataType, "decimal(") {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(dataType, "decimal(%d,%d)", &precision, &scale); err != nil {
		return 0, 0, false
	}
	return precision, scale, true
}

// Delta schemaString wire shapes.
type jsonStruct struct {
	Type   string      `json:"type"`
	Fields []jsonField `json:"fields"`
}

type jsonField struct {
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Nullable bool            `json:"nullable"`
	Metadata map[string]any  `json:"metadata"`
}

type jsonArray struct {
	Type         string          `json:"type"`
	ElementType  json.RawMessage `json:"elementType"`
	ContainsNull bool            `json:"containsNull"`
}

type jsonMap struct {
	Type              string          `json:"type"`
	KeyType           json.RawMessage `json:"keyType"`
	ValueType         json.RawMessage `json:"valueType"`
	ValueContainsNull bool            `json:"valueContainsNull"`
}

// MarshalJSON encodes the schema in the Delta log "schemaString" format.
func (s *Schema) MarshalJSON() ([]byte, error) {
	st, err := encodeStruct(s.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializeSchemaJSON, err)
	}
	return json.Marshal(st)
}

// UnmarshalJSON decodes a Delta log "schemaString".
func (s *Schema) UnmarshalJSON(data []byte) error {
	var st jsonStruct
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: schema: %w", ErrInvalidJSONLog, err)
	}
	if st.Type != TypeStruct {
		return fmt.Errorf("%w: schema root must be a struct, got %q", ErrInvalidJSONLog, st.Type)
	}
	fields, err := decodeFields(st.Fields)
	if err != nil {
		return err
	}
	s.Fields = fields
	return nil
}

// ParseSchema decodes a Delta log "schemaString".
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeStruct(fields []*Field) (jsonStruct, error) {
	st := jsonStruct{Type: TypeStruct, Fields: make([]jsonField, 0, len(fields))}
	for _, f := range fields {
		t, err := encodeType(f)
		if err != nil {
			return st, err
		}
		st.Fields = append(st.Fields, jsonField{
			Name:     f.Name,
			Type:     t,
			Nullable: f.Nullable,
			Metadata: map[string]any{},
		})
	}
	return st, nil
}

func encodeType(f *Field) (json.RawMessage, error) {
	var v any
	switch f.DataType {
	case TypeStruct:
		st, err := encodeStruct(f.Children)
		if err != nil {
			return nil, err
		}
		v = st
	case TypeArray:
		if len(f.Children) != 1 {
			return nil, fmt.Errorf("array field %q needs exactly one element child", f.Name)
		}
		elem, err := encodeType(f.Children[0])
		if err != nil {
			return nil, err
		}
		v = jsonArray{Type: TypeArray, ElementType: elem, ContainsNull: f.Children[0].Nullable}
	case TypeMap:
		if len(f.Children) != 2 {
			return nil, fmt.Errorf("map field %q needs key and value children", f.Name)
		}
		key, err := encodeType(f.Children[0])
		if err != nil {
			return nil, err
		}
		val, err := encodeType(f.Children[1])
		if err != nil {
			return nil, err
		}
		v = jsonMap{Type: TypeMap, KeyType: key, ValueType: val, ValueContainsNull: f.Children[1].Nullable}
	default:
		if f.DataType == "" {
			return nil, fmt.Errorf("field %q has no type", f.Name)
		}
		v = f.DataType
	}
	return json.Marshal(v)
}

func decodeFields(in []jsonField) ([]*Field, error) {
	out := make([]*Field, 0, len(in))
	for _, jf := range in {
		f, err := decodeType(jf.Name, jf.Type, jf.Nullable)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeType(name string, raw json.RawMessage, nullable bool) (*Field, error) {
	var primitive string
	if err := json.Unmarshal(raw, &primitive); err == nil {
		return &Field{Name: name, DataType: primitive, Nullable: nullable}, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidJSONLog, name, err)
	}

	switch probe.Type {
	case TypeStruct:
		var st jsonStruct
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidJSONLog, name, err)
		}
		children, err := decodeFields(st.Fields)
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, DataType: TypeStruct, Nullable: nullable, Children: children}, nil
	case TypeArray:
		var arr jsonArray
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidJSONLog, name, err)
		}
		elem, err := decodeType("element", arr.ElementType, arr.ContainsNull)
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, DataType: TypeArray, Nullable: nullable, Children: []*Field{elem}}, nil
	case TypeMap:
		var m jsonMap
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrInvalidJSONLog, name, err)
		}
		key, err := decodeType("key", m.KeyType, false)
		if err != nil {
			return nil, err
		}
		val, err := decodeType("value", m.ValueType, m.ValueContainsNull)
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, DataType: TypeMap, Nullable: nullable, Children: []*Field{key, val}}, nil
	default:
		return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidJSONLog, name, probe.Type)
	}
}
