package controllers

import (
	"errors"
	"net/http"

	"github.com/phatse/BE-ISC/middleware"
	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type CartController struct {
	Carts    *repository.CartRepository
	Products *repository.ProductRepository
	Logger   *zap.Logger
}

func NewCartController(carts *repository.CartRepository, products *repository.ProductRepository, logger *zap.Logger) *CartController {
	return &CartController{Carts: carts, Products: products, Logger: logger}
}

type addItemRequest struct {
	ProductID string  `json:"productId" binding:"required"`
	Quantity  int     `json:"quantity"`
	Size      float64 `json:"size"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// GetCart returns the caller's cart, empty when nothing has been added yet.
// GET /api/v1/cart
func (cc *CartController) GetCart(c *gin.Context) {
	userID := middleware.GetUserID(c)

	cart, err := cc.Carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		cc.Logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}
	if cart == nil {
		cart = &models.Cart{UserID: userID, Items: []models.CartItem{}}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart, "total": cart.TotalPrice()})
}

// AddItem validates the product against the catalog, snapshots its current
// price, and merges quantities when the same product and size is already in
// the cart.
// POST /api/v1/cart/items
func (cc *CartController) AddItem(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Product ID is required"})
		return
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	productID, err := primitive.ObjectIDFromHex(req.ProductID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid product ID format"})
		return
	}

	product, err := cc.Products.FindByID(c.Request.Context(), productID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Product not found"})
			return
		}
		cc.Logger.Error("Failed to fetch product", zap.String("product_id", req.ProductID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to fetch product"})
		return
	}
	if !product.InStock {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Product is out of stock"})
		return
	}
	if len(product.Sizes) > 0 && !product.HasSize(req.Size) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Size not available for this product"})
		return
	}

	cart, err := cc.Carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		cc.Logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}
	if cart == nil {
		cart = &models.Cart{UserID: userID}
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == req.ProductID && cart.Items[i].Size == req.Size {
			cart.Items[i].Quantity += req.Quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, models.CartItem{
			ItemID:    uuid.NewString(),
			ProductID: req.ProductID,
			Name:      product.Name,
			Price:     product.PriceVND,
			Quantity:  req.Quantity,
			Size:      req.Size,
		})
	}

	if err := cc.Carts.SaveCart(c.Request.Context(), cart); err != nil {
		cc.Logger.Error("Failed to save cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart, "total": cart.TotalPrice()})
}

// UpdateItem sets a line's quantity. Quantity zero or below removes the line.
// PUT /api/v1/cart/items/:itemId
func (cc *CartController) UpdateItem(c *gin.Context) {
	userID := middleware.GetUserID(c)
	itemID := c.Param("itemId")

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Quantity is required"})
		return
	}

	cart, err := cc.Carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		cc.Logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}
	if cart == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Cart is empty"})
		return
	}

	found := false
	items := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ItemID == itemID {
			found = true
			if req.Quantity <= 0 {
				continue
			}
			item.Quantity = req.Quantity
		}
		items = append(items, item)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Item not found in cart"})
		return
	}
	cart.Items = items

	if err := cc.Carts.SaveCart(c.Request.Context(), cart); err != nil {
		cc.Logger.Error("Failed to save cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart, "total": cart.TotalPrice()})
}

// RemoveItem drops one line from the cart.
// DELETE /api/v1/cart/items/:itemId
func (cc *CartController) RemoveItem(c *gin.Context) {
	userID := middleware.GetUserID(c)
	itemID := c.Param("itemId")

	cart, err := cc.Carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		cc.Logger.Error("Failed to load cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}
	if cart == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Cart is empty"})
		return
	}

	found := false
	items := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ItemID == itemID {
			found = true
			continue
		}
		items = append(items, item)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Item not found in cart"})
		return
	}
	cart.Items = items

	if err := cc.Carts.SaveCart(c.Request.Context(), cart); err != nil {
		cc.Logger.Error("Failed to save cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cart": cart, "total": cart.TotalPrice()})
}

// ClearCart deletes the whole cart.
// DELETE /api/v1/cart
func (cc *CartController) ClearCart(c *gin.Context) {
	userID := middleware.GetUserID(c)

	if err := cc.Carts.DeleteCart(c.Request.Context(), userID); err != nil {
		cc.Logger.Error("Failed to clear cart", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to clear cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cart cleared"})
}
