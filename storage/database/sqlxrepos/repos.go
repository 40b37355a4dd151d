// Package sqlxrepos holds the Postgres repositories of the admin store.
// Change notifications are emitted by the database triggers, see database.Listen.
package sqlxrepos

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const uniqueViolation = "23505"

// trapNoRowsErr converts sql.ErrNoRows into notFound.
func trapNoRowsErr(err, notFound error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
	}
	return false
}

func orderBy(ordering []core.DBOrdering, allowed map[string]string) string {
	clause := ""
	for _, ord := range core.MapOrderings(ordering, allowed) {
		if clause != "" {
			clause += ", "
		}
		clause += ord.String()
	}
	return clause
}
