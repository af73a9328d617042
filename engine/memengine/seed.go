package memengine

import (
	"fmt"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// SampleSchema is the schema of tables created by Seed.
func SampleSchema() *engine.Schema {
	b := engine.NewSchemaBuilder()
	list := b.MakeFieldList(5)
	b.VisitLong(list, "id", false)
	b.VisitString(list, "name", true)
	b.VisitDouble(list, "value", true)
	b.VisitTimestamp(list, "ts", true)
	b.VisitString(list, "date", false)
	return b.Build(list)
}

// Seed creates a table partitioned by date and appends commits write commits
// to it, each adding one data file. The table ends at version commits.
func (e *Engine) Seed(uri string, commits int) error {
	md := engine.Metadata{
		Name:             "sample",
		Schema:           SampleSchema(),
		PartitionColumns: []string{"date"},
		Configuration:    map[string]string{"delta.checkpointInterval": "10"},
	}
	proto := engine.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}
	if err := e.CreateTable(uri, md, proto); err != nil {
		return err
	}
	for i := 1; i <= commits; i++ {
		date := fmt.Sprintf("2024-01-%02d", (i-1)%28+1)
		_, err := e.Commit(uri, Commit{
			Operation:           "WRITE",
			OperationParameters: map[string]string{"mode": "Append"},
			Add: []engine.File{{
				Path:             fmt.Sprintf("date=%s/part-%05d.parquet", date, i),
				Size:             int64(1024 * i),
				ModificationTime: e.now().UnixMilli(),
				PartitionValues:  map[string]string{"date": date},
				DataChange:       true,
			}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
