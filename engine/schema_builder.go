package engine

import "fmt"

// SchemaBuilder builds a Schema from visitor-style calls.
//
// Engines that walk their own schema representation allocate a field list per
// nesting level with MakeFieldList, append fields to it with the Visit
// methods, and hand the child list id to the enclosing struct, array or map.
type SchemaBuilder struct {
	// Lists of fields, indexed by list ID
	lists []fieldList
}

// fieldList represents a list of fields at a particular level
type fieldList struct {
	fields []*Field
}

// NewSchemaBuilder creates a new schema builder
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{
		lists: make([]fieldList, 0),
	}
}

// MakeFieldList creates a new field list with optional capacity reservation
func (b *SchemaBuilder) MakeFieldList(reserve int) int {
	listID := len(b.lists)
	b.lists = append(b.lists, fieldList{
		fields: make([]*Field, 0, reserve),
	})
	return listID
}

func (b *SchemaBuilder) appendField(siblingListID int, f *Field) {
	if siblingListID < 0 || siblingListID >= len(b.lists) {
		panic(fmt.Sprintf("schema builder: unknown field list %d", siblingListID))
	}
	b.lists[siblingListID].fields = append(b.lists[siblingListID].fields, f)
}

func (b *SchemaBuilder) children(listID int) []*Field {
	if listID < 0 || listID >= len(b.lists) {
		return nil
	}
	return b.lists[listID].fields
}

// VisitStruct is called for struct types; childListID holds the struct's fields.
func (b *SchemaBuilder) VisitStruct(siblingListID int, name string, nullable bool, childListID int) {
	b.appendField(siblingListID, &Field{
		Name:     name,
		DataType: TypeStruct,
		Nullable: nullable,
		Children: b.children(childListID),
	})
}

// VisitArray is called for array types; childListID holds exactly one element field.
func (b *SchemaBuilder) VisitArray(siblingListID int, name string, nullable bool, childListID int) {
	b.appendField(siblingListID, &Field{
		Name:     name,
		DataType: TypeArray,
		Nullable: nullable,
		Children: b.children(childListID),
	})
}

// VisitMap is called for map types; childListID holds the key and value fields.
func (b *SchemaBuilder) VisitMap(siblingListID int, name string, nullable bool, childListID int) {
	b.appendField(siblingListID, &Field{
		Name:     name,
		DataType: TypeMap,
		Nullable: nullable,
		Children: b.children(childListID),
	})
}

// VisitDecimal is called for decimal fields
func (b *SchemaBuilder) VisitDecimal(siblingListID int, name string, nullable bool, precision, scale uint8) {
	b.appendField(siblingListID, &Field{
		Name:     name,
		DataType: fmt.Sprintf("decimal(%d,%d)", precision, scale),
		Nullable: nullable,
	})
}

// VisitPrimitive is called for any non-nested field type.
func (b *SchemaBuilder) VisitPrimitive(siblingListID int, name, dataType string, nullable bool) {
	b.appendField(siblingListID, &Field{Name: name, DataType: dataType, Nullable: nullable})
}

// VisitString is called for string fields
func (b *SchemaBuilder) VisitString(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeString, nullable)
}

// VisitLong is called for long (int64) fields
func (b *SchemaBuilder) VisitLong(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeLong, nullable)
}

// VisitInteger is called for integer (int32) fields
func (b *SchemaBuilder) VisitInteger(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeInteger, nullable)
}

// VisitBoolean is called for boolean fields
func (b *SchemaBuilder) VisitBoolean(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeBoolean, nullable)
}

// VisitDouble is called for double (float64) fields
func (b *SchemaBuilder) VisitDouble(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeDouble, nullable)
}

// VisitTimestamp is called for timestamp fields
func (b *SchemaBuilder) VisitTimestamp(siblingListID int, name string, nullable bool) {
	b.VisitPrimitive(siblingListID, name, TypeTimestamp, nullable)
}

// Build returns the built schema from the root list
func (b *SchemaBuilder) Build(rootListID int) *Schema {
	if rootListID < 0 || rootListID >= len(b.lists) {
		return &Schema{Fields: []*Field{}}
	}

	return &Schema{
		Fields: b.lists[rootListID].fields,
	}
}
