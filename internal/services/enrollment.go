package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Enroller grants a student access to a batch. Enrolling twice is not an error.
type Enroller interface {
	Enroll(ctx context.Context, studentID, batchID string) error
}

// EnrollmentClient calls the course service over HTTP
type EnrollmentClient struct {
	baseURL string
	client  *http.Client
}

func NewEnrollmentClient(baseURL string) *EnrollmentClient {
	return &EnrollmentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *EnrollmentClient) Enroll(ctx context.Context, studentID, batchID string) error {
	data, err := json.Marshal(map[string]string{"student_id": studentID, "batch_id": batchID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enrollments", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 409 means already enrolled
	if resp.StatusCode == http.StatusConflict || resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("enrollment failed with status %d: %s", resp.StatusCode, string(body))
}

type NopEnroller struct{}

func (NopEnroller) Enroll(ctx context.Context, studentID, batchID string) error {
	return nil
}
