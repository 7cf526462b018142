package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestToPgxTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, toPgxTxOptions(nil))

	opts := toPgxTxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable})
	assert.Equal(t, pgx.Serializable, opts.IsoLevel)
	assert.Equal(t, pgx.ReadWrite, opts.AccessMode)

	opts = toPgxTxOptions(&sql.TxOptions{ReadOnly: true})
	assert.Equal(t, pgx.TxIsoLevel(""), opts.IsoLevel, "default isolation defers to the server")
	assert.Equal(t, pgx.ReadOnly, opts.AccessMode)
}
