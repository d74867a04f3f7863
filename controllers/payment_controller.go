package controllers

import (
	"errors"
	"net/http"

	"payflexi-gateway/config"
	"payflexi-gateway/middleware"
	"payflexi-gateway/models"
	"payflexi-gateway/repository"
	"payflexi-gateway/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentController struct {
	Gateway    services.PaymentGateway
	Reconciler *services.Reconciler
	Repo       repository.OrderRepository
	Config     *config.Config
	Logger     *zap.Logger
}

// InitiatePayment opens a PayFlexi checkout session for a pending order and
// redirects the buyer to the hosted checkout page.
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req struct {
		OrderID     uint   `json:"order_id" binding:"required"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)

	order, err := pc.Repo.FindByID(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		pc.Logger.Error("Failed to load order", zap.Uint("order_id", req.OrderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	if order.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Order does not belong to this user"})
		return
	}
	if order.PaymentGateway != services.GatewayID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not payable with this gateway"})
		return
	}
	if order.Status != models.OrderStatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not awaiting payment"})
		return
	}

	student := &models.Student{
		ID:          userID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}

	checkoutURL, err := pc.Gateway.HandlePendingOrder(c.Request.Context(), order, student)
	if err != nil {
		var apiErr *services.APIError
		if errors.As(err, &apiErr) {
			// PayFlexi rejected the checkout; send the buyer back with the
			// gateway's message so they can correct and retry.
			redirectWithNotice(c, pc.Config.CheckoutURL, noticeError, apiErr.Message, order.PlanID)
			return
		}
		pc.Logger.Error("Failed to create checkout session",
			zap.Uint("order_id", order.ID),
			zap.Error(err),
		)
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError,
			"Unable to reach the payment gateway. Please try again.", order.PlanID)
		return
	}

	c.Redirect(http.StatusFound, checkoutURL)
}

// ConfirmPayment is the buyer-facing return leg of checkout. PayFlexi sends
// the buyer back here with the session outcome; approved payments are
// verified against the PayFlexi API before any order state changes.
func (pc *PaymentController) ConfirmPayment(c *gin.Context) {
	orderKey := c.Query("order")
	if orderKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing order key"})
		return
	}

	order, err := pc.Repo.FindByOrderKey(c.Request.Context(), orderKey)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		pc.Logger.Error("Failed to load order", zap.String("order_key", orderKey), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	if order.PaymentGateway != services.GatewayID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not payable with this gateway"})
		return
	}

	switch {
	case c.Query("pf_cancelled") != "":
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError, "Payment was cancelled.", order.PlanID)
		return
	case c.Query("pf_declined") != "":
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError, "Payment was declined.", order.PlanID)
		return
	case c.Query("pf_approved") == "":
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError, "Payment was not completed.", order.PlanID)
		return
	}

	reference := c.Query("pf_approved")
	data, err := pc.Gateway.VerifyTransaction(c.Request.Context(), reference)
	if err != nil {
		pc.Logger.Error("Failed to verify transaction",
			zap.Uint("order_id", order.ID),
			zap.String("reference", reference),
			zap.Error(err),
		)
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError,
			"Unable to verify your payment. Please contact support if you were charged.", order.PlanID)
		return
	}

	// Only the amounts the PayFlexi API reports are trusted; nothing from
	// the redirect query string feeds the reconciliation.
	initialReference := data.InitialReference
	if initialReference == "" {
		initialReference = data.Reference
	}
	event := models.PaymentEvent{
		OrderID:          order.ID,
		Reference:        data.Reference,
		InitialReference: initialReference,
		Status:           models.ParsePaymentEventStatus(data.Status),
		OrderAmount:      data.Amount,
		AmountPaid:       data.TxnAmount,
	}

	outcome, err := pc.Reconciler.Reconcile(c.Request.Context(), order, event)
	if err != nil {
		pc.Logger.Error("Failed to reconcile confirmed payment",
			zap.Uint("order_id", order.ID),
			zap.String("reference", reference),
			zap.Error(err),
		)
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError,
			"Your payment could not be recorded. Please contact support.", order.PlanID)
		return
	}

	switch outcome {
	case services.OutcomeFirstInstallment, services.OutcomeInstallment:
		redirectWithNotice(c, pc.Config.AccountURL, noticeSuccess, "Partial Payment Successful", 0)
	case services.OutcomeCompleted:
		redirectWithNotice(c, pc.Config.AccountURL, noticeSuccess, "Payment Successful", 0)
	default:
		redirectWithNotice(c, pc.Config.CheckoutURL, noticeError, "Payment was not approved.", order.PlanID)
	}
}

// PaymentInstructions returns the configured pay-later instructions for an
// order still awaiting settlement.
func (pc *PaymentController) PaymentInstructions(c *gin.Context) {
	orderKey := c.Query("order")
	if orderKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing order key"})
		return
	}

	order, err := pc.Repo.FindByOrderKey(c.Request.Context(), orderKey)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		pc.Logger.Error("Failed to load order", zap.String("order_key", orderKey), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	if order.PaymentGateway != services.GatewayID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not payable with this gateway"})
		return
	}
	if order.Status != models.OrderStatusPending && order.Status != models.OrderStatusPartial {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order is not awaiting payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":      pc.Gateway.Title(),
		"instructions": pc.Gateway.PaymentInstructions(),
	})
}
