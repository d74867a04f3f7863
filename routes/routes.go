package routes

import (
	"payflexi-gateway/controllers"
	"payflexi-gateway/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController) {
	payments := r.Group("/payments")
	payments.POST("/initiate", middleware.AuthMiddleware(), pc.InitiatePayment)
	payments.GET("/confirm", pc.ConfirmPayment)
	payments.GET("/instructions", pc.PaymentInstructions)

	// PayFlexi webhook (signature-verified, no session auth)
	r.POST("/llms-payflexi/events", pc.PayFlexiWebhook)
}
