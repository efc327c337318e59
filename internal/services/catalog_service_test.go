package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/utils"
)

func TestCatalogCreateTrimsAndClamps(t *testing.T) {
	svc := NewCatalogService(newTestDB(t))
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, &ProductRequest{
		ProductID:      "  P2001 ",
		Name:           " Stapler ",
		AvailableStock: -5,
		PricePerUnit:   -1,
		TaxPercentage:  -3,
	})
	require.NoError(t, err)
	assert.Equal(t, "P2001", product.ProductID)
	assert.Equal(t, "Stapler", product.Name)
	assert.Equal(t, 0, product.AvailableStock)
	assert.Equal(t, 0.0, product.PricePerUnit)
	assert.Equal(t, 0.0, product.TaxPercentage)

	found, err := svc.GetProductByCode(ctx, "P2001")
	require.NoError(t, err)
	assert.Equal(t, product.ID, found.ID)
}

func TestCatalogRejectsInvalidAndDuplicate(t *testing.T) {
	svc := NewCatalogService(newTestDB(t))
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, &ProductRequest{ProductID: "P9", Name: "   "})
	assert.True(t, billing.IsValidation(err))

	_, err = svc.CreateProduct(ctx, &ProductRequest{ProductID: "", Name: "Glue"})
	assert.True(t, billing.IsValidation(err))

	_, err = svc.CreateProduct(ctx, &ProductRequest{ProductID: "P1001", Name: "Another pen"})
	assert.True(t, billing.IsConflict(err))

	eraser, err := svc.GetProductByCode(ctx, "P1003")
	require.NoError(t, err)
	_, err = svc.UpdateProduct(ctx, eraser.ID, &ProductRequest{ProductID: "P1001", Name: "Eraser"})
	assert.True(t, billing.IsConflict(err))
}

func TestCatalogUpdateAndDelete(t *testing.T) {
	svc := NewCatalogService(newTestDB(t))
	ctx := context.Background()

	pen, err := svc.GetProductByCode(ctx, "P1001")
	require.NoError(t, err)

	updated, err := svc.UpdateProduct(ctx, pen.ID, &ProductRequest{
		ProductID: "P1001", Name: "Ballpoint", AvailableStock: 40, PricePerUnit: 12, TaxPercentage: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ballpoint", updated.Name)
	assert.Equal(t, 40, updated.AvailableStock)

	_, err = svc.UpdateProduct(ctx, 9999, &ProductRequest{ProductID: "X1", Name: "Ghost"})
	assert.True(t, billing.IsNotFound(err))

	require.NoError(t, svc.DeleteProduct(ctx, pen.ID))
	_, err = svc.GetProduct(ctx, pen.ID)
	assert.True(t, billing.IsNotFound(err))
	assert.True(t, billing.IsNotFound(svc.DeleteProduct(ctx, pen.ID)))
}

func TestCatalogListAndDenominations(t *testing.T) {
	svc := NewCatalogService(newTestDB(t))
	ctx := context.Background()

	params := ProductSearchParams{PaginationParams: utils.NormalizePagination(utils.PaginationParams{Sort: "name", Order: "asc"})}
	products, total, err := svc.ListProducts(ctx, params)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, products, 3)
	assert.Equal(t, "Eraser", products[0].Name)

	params.Search = "NOTE"
	products, total, err = svc.ListProducts(ctx, params)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "P1002", products[0].ProductID)

	denominations, err := svc.ListDenominations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2000, 500, 200, 100, 50, 20, 10, 5, 2, 1}, denominations)
}
