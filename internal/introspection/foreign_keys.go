package introspection

// ForeignKeyConstraint is one foreign key constraint with its columns in
// key order.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// ForeignKeyConstraints groups a table's foreign key columns by constraint,
// keeping the order in which constraints were first seen.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	index := make(map[string]int)
	for _, fk := range table.ForeignKeys {
		i, ok := index[fk.ConstraintName]
		if !ok || fk.ConstraintName == "" {
			index[fk.ConstraintName] = len(out)
			out = append(out, ForeignKeyConstraint{
				ConstraintName:  fk.ConstraintName,
				ReferencedTable: fk.ReferencedTable,
			})
			i = len(out) - 1
		}
		out[i].ColumnNames = append(out[i].ColumnNames, fk.ColumnName)
		out[i].ReferencedColumns = append(out[i].ReferencedColumns, fk.ReferencedColumn)
	}
	return out
}
