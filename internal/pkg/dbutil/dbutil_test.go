package dbutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimitAndRebinds(t *testing.T) {
	query, args := Finalize("SELECT id FROM t WHERE status=? ORDER BY created_at DESC LIMIT ?,?", []interface{}{"pending", uint(10), uint(50)})
	require.Equal(t, "SELECT id FROM t WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"pending", uint(50), uint(10)}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM t WHERE id=?", []interface{}{1})
	require.Equal(t, "SELECT id FROM t WHERE id=$1", query)
	require.Equal(t, []interface{}{1}, args)
}
