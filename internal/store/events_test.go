package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWhere_BuildsNumberedClause(t *testing.T) {
	var w where
	assert.Equal(t, "", w.clause())

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.eq("kind", "decision")
	w.eq("source", "")
	w.eq("route", "/users")
	w.between(from, time.Time{})

	assert.Equal(t, " WHERE kind = $1 AND route = $2 AND created_at >= $3", w.clause())
	assert.Equal(t, []any{"decision", "/users", from}, w.args)
}
