package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/pkg/models"
)

// ReceiptVerifier validates a purchase receipt with its platform store.
// Verification calls are not retried: store-side verification can have
// side effects and the client can safely resubmit.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receiptData, productID string) (*models.VerifiedReceipt, error)
	Platform() string
}

const (
	appleProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	appleSandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// Apple status 21007: production receipt submitted to sandbox or vice
	// versa; retry against the sandbox endpoint.
	appleStatusSandboxReceipt = 21007
)

// AppleReceiptVerifier verifies App Store receipts, falling back from the
// production endpoint to sandbox for test purchases.
type AppleReceiptVerifier struct {
	sharedSecret string
	prodURL      string
	sandboxURL   string
	httpClient   *http.Client
}

// NewAppleReceiptVerifier creates a verifier using the app's shared secret.
func NewAppleReceiptVerifier(sharedSecret string) *AppleReceiptVerifier {
	return &AppleReceiptVerifier{
		sharedSecret: sharedSecret,
		prodURL:      appleProductionURL,
		sandboxURL:   appleSandboxURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (v *AppleReceiptVerifier) Platform() string { return "ios" }

// Verify submits the receipt to Apple and extracts the latest transaction.
func (v *AppleReceiptVerifier) Verify(ctx context.Context, receiptData, productID string) (*models.VerifiedReceipt, error) {
	resp, err := v.submit(ctx, receiptData, v.prodURL)
	if err != nil {
		return nil, err
	}
	if resp.Status == appleStatusSandboxReceipt {
		resp, err = v.submit(ctx, receiptData, v.sandboxURL)
		if err != nil {
			return nil, err
		}
	}
	if resp.Status != 0 {
		log.Warn().Int("status", resp.Status).Msg("apple receipt rejected")
		return nil, fmt.Errorf("%w: apple status %d", ErrInvalidReceipt, resp.Status)
	}
	if len(resp.LatestReceiptInfo) == 0 {
		return nil, fmt.Errorf("%w: no transactions in receipt", ErrInvalidReceipt)
	}

	// Latest transaction first.
	tx := resp.LatestReceiptInfo[0]
	if productID != "" && tx.ProductID != productID {
		return nil, fmt.Errorf("%w: receipt is for product %q", ErrInvalidReceipt, tx.ProductID)
	}

	verified := &models.VerifiedReceipt{
		Platform:              v.Platform(),
		ProductID:             tx.ProductID,
		TransactionID:         tx.TransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		PurchaseDate:          msToUnix(tx.PurchaseDateMS),
	}
	if tx.ExpiresDateMS != "" {
		exp := msToUnix(tx.ExpiresDateMS)
		verified.ExpiresAt = &exp
	}
	for _, renewal := range resp.PendingRenewalInfo {
		if renewal.AutoRenewStatus == "1" {
			verified.AutoRenew = true
		}
	}
	return verified, nil
}

func (v *AppleReceiptVerifier) submit(ctx context.Context, receiptData, url string) (*appleVerifyResponse, error) {
	payload := map[string]any{
		"receipt-data":             receiptData,
		"exclude-old-transactions": true,
	}
	if v.sharedSecret != "" {
		payload["password"] = v.sharedSecret
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling apple verification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apple verification returned %s", resp.Status)
	}
	var out appleVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding apple response: %w", err)
	}
	return &out, nil
}

type appleVerifyResponse struct {
	Status            int `json:"status"`
	LatestReceiptInfo []struct {
		ProductID             string `json:"product_id"`
		TransactionID         string `json:"transaction_id"`
		OriginalTransactionID string `json:"original_transaction_id"`
		PurchaseDateMS        string `json:"purchase_date_ms"`
		ExpiresDateMS         string `json:"expires_date_ms"`
	} `json:"latest_receipt_info"`
	PendingRenewalInfo []struct {
		AutoRenewStatus string `json:"auto_renew_status"`
	} `json:"pending_renewal_info"`
}

func msToUnix(ms string) int64 {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	return v / 1000
}

// GoogleReceiptVerifier verifies Play Store purchase tokens through the
// Android Publisher API.
type GoogleReceiptVerifier struct {
	packageName string
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewGoogleReceiptVerifier creates a verifier for the given application
// package. accessToken is a service-account bearer token.
func NewGoogleReceiptVerifier(packageName, accessToken string) *GoogleReceiptVerifier {
	return &GoogleReceiptVerifier{
		packageName: packageName,
		accessToken: accessToken,
		baseURL:     "https://androidpublisher.googleapis.com/androidpublisher/v3",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (v *GoogleReceiptVerifier) Platform() string { return "android" }

// Verify checks a subscription purchase token with Google.
func (v *GoogleReceiptVerifier) Verify(ctx context.Context, purchaseToken, productID string) (*models.VerifiedReceipt, error) {
	url := fmt.Sprintf("%s/applications/%s/purchases/subscriptions/%s/tokens/%s",
		v.baseURL, v.packageName, productID, purchaseToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if v.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+v.accessToken)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling google verification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("status", resp.Status).Msg("google receipt rejected")
		return nil, fmt.Errorf("%w: google returned %s", ErrInvalidReceipt, resp.Status)
	}

	var purchase struct {
		OrderID          string `json:"orderId"`
		StartTimeMillis  string `json:"startTimeMillis"`
		ExpiryTimeMillis string `json:"expiryTimeMillis"`
		AutoRenewing     bool   `json:"autoRenewing"`
		PaymentState     *int   `json:"paymentState"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&purchase); err != nil {
		return nil, fmt.Errorf("decoding google response: %w", err)
	}
	// paymentState 1 = received, 2 = free trial.
	if purchase.PaymentState == nil || (*purchase.PaymentState != 1 && *purchase.PaymentState != 2) {
		return nil, fmt.Errorf("%w: payment not received", ErrInvalidReceipt)
	}

	verified := &models.VerifiedReceipt{
		Platform:              v.Platform(),
		ProductID:             productID,
		TransactionID:         purchase.OrderID,
		OriginalTransactionID: purchase.OrderID,
		PurchaseDate:          msToUnix(purchase.StartTimeMillis),
		AutoRenew:             purchase.AutoRenewing,
	}
	if purchase.ExpiryTimeMillis != "" {
		exp := msToUnix(purchase.ExpiryTimeMillis)
		verified.ExpiresAt = &exp
	}
	return verified, nil
}
