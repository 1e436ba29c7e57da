package naming

import "strings"

// reservedTypeWords are GraphQL keywords, literals and the scalars the
// schema declares. Compared lowercase.
var reservedTypeWords = wordSet(`
	query mutation subscription schema type scalar enum input interface union
	fragment directive extend implements on
	int float string boolean id json
	true false null
`)

// Generated root fields: <table>_by_pk, <table>_aggregate and the
// insert_/update_/delete_ mutations.
var (
	rootFieldSuffixes = []string{"_aggregate", "_by_pk"}
	rootFieldPrefixes = []string{"insert_", "update_", "delete_"}
)

func wordSet(words string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

func isReservedTypeName(name string) bool {
	lower := strings.ToLower(name)
	_, ok := reservedTypeWords[lower]
	return ok || strings.HasPrefix(lower, "__")
}

func isReservedFieldName(name string) bool {
	return strings.HasPrefix(name, "__")
}

// clashesWithRootField reports root query names a table cannot take.
func clashesWithRootField(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range rootFieldSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	for _, prefix := range rootFieldPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
