package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const defaultPayOSBaseURL = "https://api-merchant.payos.vn"

// qrFallbackURL renders a checkout URL as a scannable QR image when the
// provider response omits its own QR payload.
const qrFallbackURL = "https://api.qrserver.com/v1/create-qr-code/?size=250x250&data="

// maxDescriptionLen is the provider's checkout description limit.
const maxDescriptionLen = 25

// PayOSProvider implements PaymentProvider against the PayOS REST API.
type PayOSProvider struct {
	clientID    string
	apiKey      string
	checksumKey string
	baseURL     string
	httpClient  *http.Client
}

// NewPayOSProvider creates a PayOS adapter. baseURL may be empty to use the
// production endpoint; tests point it at an httptest server.
func NewPayOSProvider(clientID, apiKey, checksumKey, baseURL string) *PayOSProvider {
	if baseURL == "" {
		baseURL = defaultPayOSBaseURL
	}
	return &PayOSProvider{
		clientID:    clientID,
		apiKey:      apiKey,
		checksumKey: checksumKey,
		baseURL:     baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ---- PayOS API request/response structs ----

type payosEnvelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type payosCreateLinkRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int    `json:"amount"`
	Description string `json:"description"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	Signature   string `json:"signature"`
}

type payosLinkData struct {
	PaymentLinkID string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	Status        string `json:"status"`
	Amount        int    `json:"amount"`
	AmountPaid    int    `json:"amountPaid"`
	Description   string `json:"description"`
	Bin           string `json:"bin"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Transactions  []struct {
		Reference           string `json:"reference"`
		Amount              int    `json:"amount"`
		Description         string `json:"description"`
		TransactionDateTime string `json:"transactionDateTime"`
	} `json:"transactions"`
}

type payosCancelRequest struct {
	CancellationReason string `json:"cancellationReason"`
}

// ---- PaymentProvider implementation ----

// CreatePaymentLink opens a PayOS checkout link.
func (p *PayOSProvider) CreatePaymentLink(ctx context.Context, req CreateLinkRequest) (*PaymentLink, error) {
	desc := truncateRunes(req.Description, maxDescriptionLen)

	body := payosCreateLinkRequest{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: desc,
		CancelURL:   req.CancelURL,
		ReturnURL:   req.ReturnURL,
	}
	// Checksum over the canonical field order PayOS expects.
	body.Signature = p.sign(fmt.Sprintf(
		"amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		body.Amount, body.CancelURL, body.Description, body.OrderCode, body.ReturnURL,
	))

	env, err := p.doRequest(ctx, http.MethodPost, "/v2/payment-requests", body)
	if err != nil {
		return nil, err
	}
	if env.Code != "00" {
		return nil, &RejectedError{Code: env.Code, Desc: env.Desc}
	}

	var data payosLinkData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("payos createPaymentLink: decode data: %w", err)
	}

	link := &PaymentLink{
		LinkID:        data.PaymentLinkID,
		OrderCode:     data.OrderCode,
		CheckoutURL:   data.CheckoutURL,
		QRCode:        data.QRCode,
		Status:        data.Status,
		Amount:        data.Amount,
		Description:   data.Description,
		Bin:           data.Bin,
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
	}
	if link.QRCode == "" && link.CheckoutURL != "" {
		link.QRCode = qrFallbackURL + url.QueryEscape(link.CheckoutURL)
	}
	return link, nil
}

// GetPaymentLink queries current link state. Failures are folded into a
// StatusError sentinel so reconciliation paths never see a hard error.
func (p *PayOSProvider) GetPaymentLink(ctx context.Context, linkID string) *LinkInfo {
	if linkID == "" {
		return &LinkInfo{Status: StatusError, ErrorMessage: "empty payment link id"}
	}

	env, err := p.doRequest(ctx, http.MethodGet, "/v2/payment-requests/"+url.PathEscape(linkID), nil)
	if err != nil {
		return &LinkInfo{Status: StatusError, ErrorMessage: err.Error()}
	}
	if env.Code != "00" {
		return &LinkInfo{Status: StatusError, ErrorMessage: env.Desc}
	}

	var data payosLinkData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return &LinkInfo{Status: StatusError, ErrorMessage: "decode data: " + err.Error()}
	}

	info := &LinkInfo{
		Status:      data.Status,
		Amount:      data.Amount,
		AmountPaid:  data.AmountPaid,
		Description: data.Description,
	}
	for _, tx := range data.Transactions {
		info.Transactions = append(info.Transactions, LinkTransaction{
			Reference:   tx.Reference,
			Amount:      tx.Amount,
			Description: tx.Description,
			DateTime:    tx.TransactionDateTime,
		})
	}
	return info
}

// CancelPaymentLink cancels an unpaid link.
func (p *PayOSProvider) CancelPaymentLink(ctx context.Context, linkID, reason string) error {
	path := "/v2/payment-requests/" + url.PathEscape(linkID) + "/cancel"
	env, err := p.doRequest(ctx, http.MethodPost, path, payosCancelRequest{CancellationReason: reason})
	if err != nil {
		return err
	}
	if env.Code != "00" {
		return &RejectedError{Code: env.Code, Desc: env.Desc}
	}
	return nil
}

// VerifyWebhook recomputes the checksum over the webhook data object and
// returns the notification if it matches.
func (p *PayOSProvider) VerifyWebhook(payload []byte) (*WebhookData, error) {
	var env payosEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if len(env.Data) == 0 || env.Signature == "" {
		return nil, fmt.Errorf("%w: missing data or signature", ErrVerificationFailed)
	}

	expected, err := p.signJSON(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrVerificationFailed)
	}

	var data struct {
		OrderCode           int64  `json:"orderCode"`
		Status              string `json:"status"`
		Code                string `json:"code"`
		Reference           string `json:"reference"`
		Amount              int    `json:"amount"`
		Description         string `json:"description"`
		TransactionDateTime string `json:"transactionDateTime"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrVerificationFailed, err)
	}

	status := data.Status
	if status == "" && data.Code == "00" {
		// PayOS success notifications carry code "00" instead of an
		// explicit status field.
		status = StatusPaid
	}

	return &WebhookData{
		OrderCode:     data.OrderCode,
		Status:        status,
		TransactionID: data.Reference,
		Amount:        data.Amount,
		Description:   data.Description,
		Time:          data.TransactionDateTime,
	}, nil
}

// ---- checksum helpers ----

// sign computes the hex HMAC-SHA256 of msg under the checksum key.
func (p *PayOSProvider) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(p.checksumKey))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// signJSON canonicalizes a JSON object as "k1=v1&k2=v2" with keys sorted
// alphabetically and signs it. Nested values are re-encoded as JSON, null
// becomes the empty string, numbers keep their literal form.
func (p *PayOSProvider) signJSON(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return "", err
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(canonicalValue(obj[k]))
	}
	return p.sign(buf.String()), nil
}

func canonicalValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ---- HTTP helper ----

func (p *PayOSProvider) doRequest(ctx context.Context, method, path string, body interface{}) (*payosEnvelope, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("payos: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("payos: create request: %w", err)
	}
	req.Header.Set("x-client-id", p.clientID)
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var env payosEnvelope
	if err := json.Unmarshal(respBytes, &env); err != nil {
		return nil, fmt.Errorf("payos: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 && env.Code == "" {
		return nil, &RejectedError{Code: strconv.Itoa(resp.StatusCode), Desc: string(respBytes)}
	}
	return &env, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
