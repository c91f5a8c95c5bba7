package sqlstore

import (
	"fmt"
	"strings"

	"github.com/zero-day-ai/protomodel"
)

// columnTypes maps field types onto SQLite column affinities. Datetimes are
// stored as RFC 3339 text; declaring them DATETIME would make the driver
// parse them itself.
var columnTypes = map[protomodel.FieldType]string{
	protomodel.TypeBool:            "INTEGER",
	protomodel.TypeNullBool:        "INTEGER",
	protomodel.TypeInteger:         "INTEGER",
	protomodel.TypeBigInteger:      "INTEGER",
	protomodel.TypePositiveInteger: "INTEGER",
	protomodel.TypeForeignKey:      "INTEGER",
	protomodel.TypeFloat:           "REAL",
	protomodel.TypeDecimal:         "REAL",
	protomodel.TypeText:            "TEXT",
	protomodel.TypeFile:            "TEXT",
	protomodel.TypeDateTime:        "TEXT",
	protomodel.TypeUUID:            "TEXT",
	protomodel.TypeArray:           "TEXT",
	protomodel.TypeMap:             "TEXT",
	protomodel.TypeIndex:           "TEXT",
	protomodel.TypeBinary:          "BLOB",
}

func columnType(f *protomodel.Field) string {
	if t, ok := columnTypes[f.Type]; ok {
		return t
	}
	return "BLOB"
}

// schema returns the CREATE statements for m and its link tables.
func schema(m *protomodel.Model) []string {
	defs := []string{"id INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, f := range m.Columns() {
		if f.Type == protomodel.TypeAutoID {
			continue
		}
		// No NOT NULL: a fresh instance may leave non-nullable fields unset.
		defs = append(defs, fmt.Sprintf("%s %s", quote(f.Column()), columnType(f)))
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(m.Name()), strings.Join(defs, ",\n\t")),
	}
	for _, f := range linkFields(m) {
		table := linkTable(m, f)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	owner_id INTEGER NOT NULL,
	member_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (owner_id, member_id)
)`, quote(table)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (owner_id, position)",
				quote("idx_"+table+"_position"), quote(table)),
		)
	}
	for _, f := range m.Columns() {
		if f.Type != protomodel.TypeForeignKey {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+m.Name()+"_"+f.Column()), quote(m.Name()), quote(f.Column())))
	}
	return stmts
}

// linkFields returns the to-many fields stored in link tables. Reverse
// foreign keys are read from the related table instead.
func linkFields(m *protomodel.Model) []*protomodel.Field {
	var out []*protomodel.Field
	for _, f := range m.Fields() {
		switch f.Type {
		case protomodel.TypeManyToMany, protomodel.TypeRepeatedMessage, protomodel.TypeMessageMap:
			out = append(out, f)
		}
	}
	return out
}

func linkTable(m *protomodel.Model, f *protomodel.Field) string {
	return m.Name() + "__" + f.Name
}
