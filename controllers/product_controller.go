package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type ProductController struct {
	Products *services.ProductService
	Logger   *zap.Logger
}

func NewProductController(products *services.ProductService, logger *zap.Logger) *ProductController {
	return &ProductController{Products: products, Logger: logger}
}

// ListProducts returns the catalog with optional brand filter and sorting.
// GET /api/v1/products
func (pc *ProductController) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	resp, svcErr := pc.Products.List(c.Request.Context(), services.ProductQuery{
		Page:  page,
		Limit: limit,
		Brand: c.Query("brand"),
		Sort:  c.Query("sort"),
	})
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"products":   resp.Products,
		"count":      resp.Count,
		"pagination": resp.Pagination,
	})
}

// GetProduct fetches a single product.
// GET /api/v1/products/:id
func (pc *ProductController) GetProduct(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid product ID format"})
		return
	}

	product, svcErr := pc.Products.GetByID(c.Request.Context(), id)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "product": product})
}

// SearchProducts runs a full-text search over name, brand and description.
// GET /api/v1/products/search?q=...
func (pc *ProductController) SearchProducts(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Search term is required"})
		return
	}

	products, svcErr := pc.Products.Search(c.Request.Context(), term)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "products": products, "count": len(products)})
}

// CreateProduct adds a catalog entry (admin).
// POST /api/v1/products
func (pc *ProductController) CreateProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid product payload"})
		return
	}

	created, svcErr := pc.Products.Create(c.Request.Context(), &product)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "product": created})
}

// UpdateProduct patches a catalog entry (admin).
// PUT /api/v1/products/:id
func (pc *ProductController) UpdateProduct(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid product ID format"})
		return
	}

	var updates bson.M
	if err := c.ShouldBindJSON(&updates); err != nil || len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid update payload"})
		return
	}
	// _id is immutable in mongo; scrub it so a sloppy client payload
	// doesn't fail the whole update.
	delete(updates, "_id")

	product, svcErr := pc.Products.Update(c.Request.Context(), id, updates)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "product": product})
}

// DeleteProduct removes a catalog entry (admin).
// DELETE /api/v1/products/:id
func (pc *ProductController) DeleteProduct(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid product ID format"})
		return
	}

	if svcErr := pc.Products.Delete(c.Request.Context(), id); svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"success": false, "message": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product deleted"})
}
