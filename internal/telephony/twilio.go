package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioProvider talks to the Twilio REST API directly. No SDK; the three
// call operations this system performs do not justify one.
type TwilioProvider struct {
	baseURL string
	client  *http.Client
}

type TwilioOption func(*TwilioProvider)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(u string) TwilioOption {
	return func(p *TwilioProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) TwilioOption {
	return func(p *TwilioProvider) { p.client = c }
}

func NewTwilioProvider(opts ...TwilioOption) *TwilioProvider {
	p := &TwilioProvider{
		baseURL: defaultTwilioBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  string `json:"duration"`
}

type twilioError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (p *TwilioProvider) CreateCall(ctx context.Context, acct Account, from, to, callbackURL string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Url", callbackURL)

	var call twilioCall
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", url.PathEscape(acct.SID))
	if err := p.do(ctx, acct, http.MethodPost, path, form, &call); err != nil {
		return "", err
	}
	return call.SID, nil
}

func (p *TwilioProvider) CompleteCall(ctx context.Context, acct Account, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", url.PathEscape(acct.SID), url.PathEscape(callSID))
	return p.do(ctx, acct, http.MethodPost, path, form, &twilioCall{})
}

func (p *TwilioProvider) FetchCall(ctx context.Context, acct Account, callSID string) (CallInfo, error) {
	var call twilioCall
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", url.PathEscape(acct.SID), url.PathEscape(callSID))
	if err := p.do(ctx, acct, http.MethodGet, path, nil, &call); err != nil {
		return CallInfo{}, err
	}
	return CallInfo{
		SID:       call.SID,
		Status:    call.Status,
		StartTime: call.StartTime,
		EndTime:   call.EndTime,
		Duration:  call.Duration,
	}, nil
}

func (p *TwilioProvider) do(ctx context.Context, acct Account, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.SetBasicAuth(acct.SID, acct.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrCallNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var terr twilioError
		if json.Unmarshal(raw, &terr) == nil && terr.Message != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrProvider, terr.Message, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrProvider, err)
		}
	}
	return nil
}
