package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "project_materials", []string{"name", "unit"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"project_materials"}, []string{"name", "unit"}).WillReturnResult(3)

	rows := [][]any{{"商品混凝土", "m3"}, {"中砂", "t"}, {"水泥", "t"}}
	n, err := CopyFrom(context.Background(), mock, "project_materials", []string{"name", "unit"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit", "base_materials"}, []string{"name", "unit"}).WillReturnResult(2)

	rows := [][]any{{"商品混凝土", "m3"}, {"中砂", "t"}}
	n, err := CopyFrom(context.Background(), mock, "audit.base_materials", []string{"name", "unit"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"project_materials"}, []string{"name", "unit"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"商品混凝土", "m3"}}
	_, err = CopyFrom(context.Background(), mock, "project_materials", []string{"name", "unit"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO project_materials")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableIdent(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"base_materials"}, tableIdent("base_materials"))
	assert.Equal(t, pgx.Identifier{"audit", "base_materials"}, tableIdent("audit.base_materials"))
}
