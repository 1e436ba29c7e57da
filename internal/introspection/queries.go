package introspection

// Catalog queries. Every value is bound; the schema name never reaches
// the SQL text.
const (
	tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	columnsQuery = `
		SELECT column_name, data_type, udt_name, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1
		AND table_name = $2
		ORDER BY ordinal_position`

	primaryKeysQuery = `
		SELECT DISTINCT ON (kcu.column_name)
			kcu.column_name,
			CASE WHEN c.column_default LIKE 'nextval%' THEN true ELSE false END AS is_auto_increment
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.columns AS c
			ON c.table_schema = tc.table_schema
			AND c.table_name = tc.table_name
			AND c.column_name = kcu.column_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2`

	uniqueColumnsQuery = `
		SELECT DISTINCT ccu.column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.constraint_column_usage AS ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'UNIQUE'
		AND tc.table_schema = $1
		AND tc.table_name = $2`

	foreignKeysQuery = `
		SELECT kcu.constraint_name, kcu.column_name, ref.table_name, ref.column_name, kcu.ordinal_position
		FROM information_schema.referential_constraints AS rc
		JOIN information_schema.key_column_usage AS kcu
			ON kcu.constraint_name = rc.constraint_name
			AND kcu.constraint_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage AS ref
			ON ref.constraint_name = rc.unique_constraint_name
			AND ref.constraint_schema = rc.unique_constraint_schema
			AND ref.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema = $1
		AND kcu.table_name = $2
		ORDER BY kcu.constraint_name, kcu.ordinal_position`

	enumValuesQuery = `
		SELECT t.typname, e.enumlabel
		FROM pg_catalog.pg_type AS t
		JOIN pg_catalog.pg_enum AS e ON e.enumtypid = t.oid
		JOIN pg_catalog.pg_namespace AS n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder`
)
