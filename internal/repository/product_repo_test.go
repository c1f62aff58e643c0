package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
)

func TestProductRepository_GetByIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id IN \\(\\?,\\?\\) ORDER BY id ASC").
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "status"}).
			AddRow(1, "Mug", "29.99", model.ProductStatusOnSale).
			AddRow(2, "Lamp", "49.99", model.ProductStatusOffSale))

	products, err := repo.GetByIDs(context.Background(), []uint64{1, 2})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "29.99", products[0].Price.StringFixed(2))
	assert.True(t, products[0].IsOnSale())
	assert.False(t, products[1].IsOnSale())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByIDs_Empty(t *testing.T) {
	db, _ := setupMockDB(t)
	products, err := NewProductRepository(db).GetByIDs(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, products)
}

func TestProductRepository_GetByID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery("SELECT \\* FROM `products` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductRepository_ListIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewProductRepository(db)

	mock.ExpectQuery("SELECT `id` FROM `products` WHERE id > \\? AND status <> \\? ORDER BY id ASC LIMIT \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))

	ids, err := repo.ListIDs(context.Background(), 2, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, ids)
}
