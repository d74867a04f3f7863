package controllers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	noticeError   = "error"
	noticeSuccess = "success"
)

// redirectWithNotice sends the buyer to a host page carrying a flash notice
// in the query string. A non-zero planID points the checkout page back at the
// access plan the buyer was purchasing.
func redirectWithNotice(c *gin.Context, baseURL, noticeType, message string, planID uint) {
	target, err := url.Parse(baseURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid redirect target"})
		return
	}

	query := target.Query()
	query.Set("notice", noticeType)
	query.Set("message", message)
	if planID != 0 {
		query.Set("plan", strconv.FormatUint(uint64(planID), 10))
	}
	target.RawQuery = query.Encode()

	c.Redirect(http.StatusFound, target.String())
}
