package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const (
	ProductionBaseURL = "https://api.asaas.com/v3"
	SandboxBaseURL    = "https://api-sandbox.asaas.com/v3"
)

// APIError is a structured rejection from the Asaas API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asaas API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// ConnectionError wraps transport-level failures: DNS, refused
// connections, timeouts and an open circuit breaker. The request outcome
// is unknown; callers must not treat it as a provider rejection.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "asaas unreachable: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Client is an authenticated Asaas HTTP client with a bounded timeout,
// a small connection-failure retry budget and a circuit breaker.
// Application-level errors (4xx/5xx) are never retried.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxRetries int
	logger     *logrus.Entry
}

// NewClient creates an Asaas client. An empty baseURL selects the
// production or sandbox endpoint from the sandbox flag.
func NewClient(apiKey, baseURL string, sandbox bool, timeout time.Duration, maxRetries int, logger *logrus.Logger) *Client {
	if baseURL == "" {
		if sandbox {
			baseURL = SandboxBaseURL
		} else {
			baseURL = ProductionBaseURL
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "asaas",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Provider rejections are not connectivity failures and
			// must not trip the breaker.
			var connErr *ConnectionError
			return err == nil || !errors.As(err, &connErr)
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		maxRetries: maxRetries,
		logger:     logger.WithField("component", "asaas.client"),
	}
}

type errorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doOnce(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ConnectionError{Err: err}
		}
		return nil, err
	}
	return respBody, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("access_token", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Connection-level failure only; application errors below
			// never reach this branch and are never retried.
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.logger.WithError(err).WithField("attempt", attempt).Warn("asaas request failed, retrying")
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Body:       string(respBody),
		}
		var parsed errorResponse
		if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr == nil && len(parsed.Errors) > 0 {
			apiErr.Code = parsed.Errors[0].Code
			apiErr.Message = parsed.Errors[0].Description
		}
		return nil, apiErr
	}

	return nil, &ConnectionError{Err: lastErr}
}

// Payment is an Asaas payment (charge) object. Asaas reports monetary
// values as floats in BRL; conversions to cents happen at this boundary.
type Payment struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	NetValue          float64 `json:"netValue"`
	Status            string  `json:"status"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description"`
	ExternalReference string  `json:"externalReference"`
	InvoiceURL        string  `json:"invoiceUrl"`
	DateCreated       string  `json:"dateCreated"`
}

// PaymentRequest is the request to create an Asaas payment.
type PaymentRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description,omitempty"`
	ExternalReference string  `json:"externalReference,omitempty"`
}

// CreditCardRequest pays an existing charge with a credit card.
type CreditCardRequest struct {
	CreditCard       CreditCard       `json:"creditCard"`
	CreditCardHolder CreditCardHolder `json:"creditCardHolderInfo"`
}

// CreditCard is the card block of a CreditCardRequest.
type CreditCard struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

// CreditCardHolder is the holder block of a CreditCardRequest.
type CreditCardHolder struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	CPFCnpj      string `json:"cpfCnpj,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	AddressLine1 string `json:"address,omitempty"`
	AddressLine2 string `json:"complement,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// RefundRequest is the request to refund an Asaas payment.
type RefundRequest struct {
	Value       float64 `json:"value,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Refund is an Asaas refund object.
type Refund struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Value       float64 `json:"value"`
	PaymentID   string  `json:"paymentId"`
	DateCreated string  `json:"dateCreated"`
}

// PixQRCode is the PIX QR payload of a payment.
type PixQRCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

// Customer is an Asaas customer object.
type Customer struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	CPFCnpj           string `json:"cpfCnpj"`
	ExternalReference string `json:"externalReference"`
}

// CustomerRequest is the request to create an Asaas customer.
type CustomerRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	CPFCnpj           string `json:"cpfCnpj,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// CreatePayment creates a new charge.
func (c *Client) CreatePayment(ctx context.Context, req *PaymentRequest) (*Payment, error) {
	body, err := c.do(ctx, http.MethodPost, "/payments", req)
	if err != nil {
		return nil, err
	}
	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &payment, nil
}

// GetPayment fetches a charge by id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	body, err := c.do(ctx, http.MethodGet, "/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &payment, nil
}

// CancelPayment cancels an unpaid charge.
func (c *Client) CancelPayment(ctx context.Context, id string) (*Payment, error) {
	body, err := c.do(ctx, http.MethodDelete, "/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &payment, nil
}

// RefundPayment refunds a charge. A zero value requests a full refund.
func (c *Client) RefundPayment(ctx context.Context, id string, req *RefundRequest) (*Refund, error) {
	body, err := c.do(ctx, http.MethodPost, "/payments/"+id+"/refund", req)
	if err != nil {
		return nil, err
	}
	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refund: %w", err)
	}
	return &refund, nil
}

// GetPixQrCode fetches the PIX QR payload of a charge.
func (c *Client) GetPixQrCode(ctx context.Context, id string) (*PixQRCode, error) {
	body, err := c.do(ctx, http.MethodGet, "/payments/"+id+"/pixQrCode", nil)
	if err != nil {
		return nil, err
	}
	var qr PixQRCode
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pix qr code: %w", err)
	}
	return &qr, nil
}

// PayWithCreditCard captures an existing charge with card data.
func (c *Client) PayWithCreditCard(ctx context.Context, id string, req *CreditCardRequest) (*Payment, error) {
	body, err := c.do(ctx, http.MethodPost, "/payments/"+id+"/payWithCreditCard", req)
	if err != nil {
		return nil, err
	}
	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &payment, nil
}

// CreateCustomer creates a customer.
func (c *Client) CreateCustomer(ctx context.Context, req *CustomerRequest) (*Customer, error) {
	body, err := c.do(ctx, http.MethodPost, "/customers", req)
	if err != nil {
		return nil, err
	}
	var customer Customer
	if err := json.Unmarshal(body, &customer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	return &customer, nil
}

// GetCustomer fetches a customer by id.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	body, err := c.do(ctx, http.MethodGet, "/customers/"+id, nil)
	if err != nil {
		return nil, err
	}
	var customer Customer
	if err := json.Unmarshal(body, &customer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	return &customer, nil
}

// Ping issues a lightweight authenticated request used as a health
// probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/finance/balance", nil)
	return err
}

// CentsToValue converts integer cents to the float BRL value Asaas
// expects.
func CentsToValue(cents int64) float64 {
	return float64(cents) / 100.0
}

// ValueToCents converts an Asaas float value to integer cents.
func ValueToCents(value float64) int64 {
	return int64(value*100 + 0.5)
}
