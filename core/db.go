package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// MapOrderings translates API field names into storage field names using `fields`.
// Orderings on unknown fields are dropped: ordering fields come from query strings and end up in queries.
func MapOrderings(ords []DBOrdering, fields map[string]string) []DBOrdering {
	if len(ords) == 0 {
		return nil
	}
	mapped := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		if field, ok := fields[ord.Field]; ok {
			mapped = append(mapped, DBOrdering{Field: field, Ascending: ord.Ascending})
		}
	}
	return mapped
}
