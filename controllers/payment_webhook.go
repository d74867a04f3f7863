package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"payflexi-gateway/models"
	"payflexi-gateway/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const signatureHeader = "X-Payflexi-Signature"

const webhookEventApproved = "transaction.approved"

// PayFlexiWebhook receives signed payment notifications from PayFlexi.
//
// Requests that fail signature verification get an empty 404 so the endpoint
// is indistinguishable from a missing route to a probing caller. Malformed
// but authentic payloads get a 400 so PayFlexi surfaces the delivery as
// failed; transient persistence errors get a 500 so it retries.
func (pc *PaymentController) PayFlexiWebhook(c *gin.Context) {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		c.Status(http.StatusNotFound)
		return
	}

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		pc.Logger.Warn("Failed to read webhook body", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	if !pc.Gateway.VerifyWebhookSignature(rawBody, signature) {
		pc.Logger.Warn("Webhook signature verification failed")
		c.Status(http.StatusNotFound)
		return
	}

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		pc.Logger.Warn("Failed to decode webhook payload", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	if envelope.Event != webhookEventApproved || envelope.Data.Status != "approved" {
		// Authentic but not an approved payment; acknowledge so PayFlexi
		// does not redeliver.
		pc.Logger.Info("Ignoring webhook event",
			zap.String("event", envelope.Event),
			zap.String("status", envelope.Data.Status),
		)
		c.Status(http.StatusOK)
		return
	}

	initialReference := envelope.Data.InitialReference
	if initialReference == "" {
		initialReference = envelope.Data.Reference
	}

	orderID, err := models.ParseOrderReference(initialReference)
	if err != nil {
		pc.Logger.Warn("Webhook carried an unparseable order reference",
			zap.String("initial_reference", initialReference),
		)
		c.Status(http.StatusBadRequest)
		return
	}

	order, err := pc.Repo.FindByID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			pc.Logger.Warn("Webhook referenced an unknown order", zap.Uint("order_id", orderID))
			c.Status(http.StatusBadRequest)
			return
		}
		pc.Logger.Error("Failed to load order for webhook", zap.Uint("order_id", orderID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	event := models.PaymentEvent{
		OrderID:          order.ID,
		Reference:        envelope.Data.Reference,
		InitialReference: initialReference,
		Status:           models.ParsePaymentEventStatus(envelope.Data.Status),
		OrderAmount:      envelope.Data.Amount,
		AmountPaid:       envelope.Data.TxnAmount,
	}

	outcome, err := pc.Reconciler.Reconcile(c.Request.Context(), order, event)
	if err != nil {
		pc.Logger.Error("Failed to reconcile webhook payment",
			zap.Uint("order_id", order.ID),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		c.Status(http.StatusInternalServerError)
		return
	}

	pc.Logger.Info("Webhook reconciled",
		zap.Uint("order_id", order.ID),
		zap.String("reference", event.Reference),
		zap.String("outcome", string(outcome)),
	)
	c.Status(http.StatusOK)
}
