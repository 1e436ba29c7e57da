package introspection

// PrimaryKeyColumns returns all primary key columns for a table in column order.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.Primary {
			cols = append(cols, col)
		}
	}
	return cols
}

// Identifier resolves the column a table is addressed by in /{id} routes:
// its primary key when that is a single column. Composite keys and keyless
// tables resolve to "".
func Identifier(table Table) string {
	pks := PrimaryKeyColumns(table)
	if len(pks) != 1 {
		return ""
	}
	return pks[0].Name
}
