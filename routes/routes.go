package routes

import (
	"net/http"

	"github.com/phatse/BE-ISC/controllers"
	"github.com/phatse/BE-ISC/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type Controllers struct {
	Payments *controllers.PaymentController
	Orders   *controllers.OrderController
	Products *controllers.ProductController
	Carts    *controllers.CartController
}

func Register(router *gin.Engine, c Controllers) {
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "OK", "service": "storefront-backend"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(rate.Limit(20), 40))

	// Gateway callbacks carry their own HMAC signature instead of a user token.
	v1.POST("/payment/webhook", c.Payments.Webhook)

	payment := v1.Group("/payment", middleware.Protect())
	{
		payment.POST("/:orderId/create-link", c.Payments.CreateLink)
		payment.GET("/:orderId/check", c.Payments.Check)
		payment.DELETE("/:orderId/cancel", c.Payments.Cancel)
		// Ownership is checked in the service; an order's owner may also
		// force-confirm their own payment after contacting support.
		payment.PUT("/:orderId/force-update", c.Payments.ForceUpdate)
	}

	orders := v1.Group("/orders", middleware.Protect())
	{
		orders.POST("", c.Orders.CreateOrder)
		orders.GET("/myorders", c.Orders.GetMyOrders)
		orders.GET("", middleware.RequireRole("admin"), c.Orders.GetAllOrders)
		orders.GET("/:orderId", c.Orders.GetOrder)
		orders.PUT("/:orderId", middleware.RequireRole("admin"), c.Orders.UpdateStatus)
	}

	products := v1.Group("/products")
	{
		products.GET("", c.Products.ListProducts)
		products.GET("/search", c.Products.SearchProducts)
		products.GET("/:id", c.Products.GetProduct)

		admin := products.Group("", middleware.Protect(), middleware.RequireRole("admin"))
		admin.POST("", c.Products.CreateProduct)
		admin.PUT("/:id", c.Products.UpdateProduct)
		admin.DELETE("/:id", c.Products.DeleteProduct)
	}

	cart := v1.Group("/cart", middleware.Protect())
	{
		cart.GET("", c.Carts.GetCart)
		cart.DELETE("", c.Carts.ClearCart)
		cart.POST("/items", c.Carts.AddItem)
		cart.PUT("/items/:itemId", c.Carts.UpdateItem)
		cart.DELETE("/items/:itemId", c.Carts.RemoveItem)
	}
}
