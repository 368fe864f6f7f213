package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
)

// providerEndpoints maps a provider name to its OTP endpoints.
var providerEndpoints = map[string]struct{ send, verify string }{
	"cashfree": {
		send:   "https://api.cashfree.com/verification/aadhaar/otp",
		verify: "https://api.cashfree.com/verification/aadhaar/verify",
	},
	"signzy": {
		send:   "https://api.signzy.tech/api/v2/aadhaar/sendOtp",
		verify: "https://api.signzy.tech/api/v2/aadhaar/verifyOtp",
	},
	"surepass": {
		send:   "https://kyc-api.surepass.io/api/v1/aadhaar-v2/generate-otp",
		verify: "https://kyc-api.surepass.io/api/v1/aadhaar-v2/submit-otp",
	},
}

// RemoteVerifier talks to a licensed verification provider over HTTPS.
// Every call is bounded by the client timeout; a timed-out call is a
// plain failure, never a hang, and leaves no state behind.
type RemoteVerifier struct {
	sendURL   string
	verifyURL string
	clientID  string
	secret    string
	client    *http.Client
}

// NewRemoteVerifier builds a client for the named provider. baseURL
// overrides the provider endpoints when non-empty (tests, sandboxes).
func NewRemoteVerifier(provider, baseURL, clientID, secret string, timeout time.Duration) *RemoteVerifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ep, ok := providerEndpoints[provider]
	if !ok {
		ep = providerEndpoints["cashfree"]
	}
	v := &RemoteVerifier{
		sendURL:   ep.send,
		verifyURL: ep.verify,
		clientID:  clientID,
		secret:    secret,
		client:    &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		v.sendURL = baseURL + "/otp"
		v.verifyURL = baseURL + "/verify"
	}
	return v
}

func (v *RemoteVerifier) SendChallenge(ctx context.Context, identityNumber string) (*Challenge, error) {
	clean, err := CleanNumber(identityNumber)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{
		"aadhaar_number": clean,
		"request_id":     requestID(),
	}
	var out struct {
		Success       bool   `json:"success"`
		Message       string `json:"message"`
		TransactionID string `json:"transaction_id"`
		RefID         string `json:"ref_id"`
		MobileMasked  string `json:"mobile_masked"`
	}
	if err := v.post(ctx, v.sendURL, payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "failed to send verification code"
		}
		return nil, apperrors.Validation("%s", msg)
	}
	txn := out.TransactionID
	if txn == "" {
		txn = out.RefID
	}
	masked := out.MobileMasked
	if masked == "" {
		masked = "registered mobile"
	}
	return &Challenge{TransactionID: txn, Message: "code sent to " + masked}, nil
}

func (v *RemoteVerifier) VerifyChallenge(ctx context.Context, transactionID, code string) (*Result, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	payload := map[string]string{
		"transaction_id": transactionID,
		"otp":            code,
	}
	var out struct {
		Success  bool   `json:"success"`
		Verified bool   `json:"verified"`
		Message  string `json:"message"`
		Data     struct {
			FullName string `json:"full_name"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	if err := v.post(ctx, v.verifyURL, payload, &out); err != nil {
		return nil, err
	}
	if !out.Success && !out.Verified {
		msg := out.Message
		if msg == "" {
			msg = "invalid code"
		}
		return &Result{Verified: false, Message: msg}, nil
	}
	name := out.Data.FullName
	if name == "" {
		name = out.Data.Name
	}
	return &Result{Verified: true, Message: "identity verified", FullName: name}, nil
}

// post sends JSON and decodes the response. The payload may carry the
// identity number, so errors report only the endpoint and status.
func (v *RemoteVerifier) post(ctx context.Context, url string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", v.clientID)
	req.Header.Set("X-Client-Secret", v.secret)
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("verification provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("verification provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func requestID() string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:16]
}

// StubVerifier is the deterministic offline variant. It accepts the
// fixed code 123456 and mints predictable transaction ids.
type StubVerifier struct{}

func (StubVerifier) SendChallenge(_ context.Context, identityNumber string) (*Challenge, error) {
	if _, err := CleanNumber(identityNumber); err != nil {
		return nil, err
	}
	txn := "STUB-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return &Challenge{TransactionID: txn, Message: "code sent (stub mode)"}, nil
}

func (StubVerifier) VerifyChallenge(_ context.Context, _, code string) (*Result, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if code != "123456" {
		return &Result{Verified: false, Message: "invalid code"}, nil
	}
	return &Result{Verified: true, Message: "identity verified (stub mode)", FullName: "STUB USER"}, nil
}
