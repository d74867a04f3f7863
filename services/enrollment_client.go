package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// EnrollmentService grants and revokes a student's access to the purchased
// product as payments settle.
type EnrollmentService interface {
	Enroll(ctx context.Context, userID, productID uint) error
	Unenroll(ctx context.Context, userID, productID uint, reason string) error
}

// EnrollmentClient talks to the enrollment service over HTTP.
type EnrollmentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ EnrollmentService = (*EnrollmentClient)(nil)

func NewEnrollmentClient(baseURL string, logger *zap.Logger) *EnrollmentClient {
	return &EnrollmentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type enrollmentRequest struct {
	UserID    uint   `json:"user_id"`
	ProductID uint   `json:"product_id"`
	Reason    string `json:"reason,omitempty"`
}

func (e *EnrollmentClient) Enroll(ctx context.Context, userID, productID uint) error {
	e.logger.Info("Enrolling student",
		zap.Uint("user_id", userID),
		zap.Uint("product_id", productID),
	)
	return e.post(ctx, "/enrollments/enroll", enrollmentRequest{
		UserID:    userID,
		ProductID: productID,
	})
}

func (e *EnrollmentClient) Unenroll(ctx context.Context, userID, productID uint, reason string) error {
	e.logger.Info("Unenrolling student",
		zap.Uint("user_id", userID),
		zap.Uint("product_id", productID),
		zap.String("reason", reason),
	)
	return e.post(ctx, "/enrollments/unenroll", enrollmentRequest{
		UserID:    userID,
		ProductID: productID,
		Reason:    reason,
	})
}

func (e *EnrollmentClient) post(ctx context.Context, path string, payload enrollmentRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create enrollment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrollment service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("enrollment service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
