package lti

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/kuitang/lti-e2e/internal/errs"
	"github.com/kuitang/lti-e2e/internal/obs"
	"github.com/kuitang/lti-e2e/internal/urlutil"
)

const (
	MessageTypeDeepLinkingResponse = "LtiDeepLinkingResponse"

	// ResponseParam carries the response token on both the redirect and the auto-post form.
	ResponseParam = "JWT"

	keysetFetchTimeout = 10 * time.Second
	clockLeeway        = time.Minute
)

// ContentItem is one selected item in a Deep Linking response.
type ContentItem struct {
	Type   string         `json:"type"`
	Title  string         `json:"title,omitempty"`
	URL    string         `json:"url,omitempty"`
	Text   string         `json:"text,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
}

// DeepLinkingResponse holds the claims of a tool's Deep Linking response.
type DeepLinkingResponse struct {
	jwt.Claims
	MessageType  string        `json:"https://purl.imsglobal.org/spec/lti/claim/message_type,omitempty"`
	Version      string        `json:"https://purl.imsglobal.org/spec/lti/claim/version,omitempty"`
	DeploymentID string        `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id,omitempty"`
	Data         string        `json:"https://purl.imsglobal.org/spec/lti-dl/claim/data,omitempty"`
	ContentItems []ContentItem `json:"https://purl.imsglobal.org/spec/lti-dl/claim/content_items"`

	KeyID     string `json:"-"`
	Algorithm string `json:"-"`
}

// ResponseJWT extracts the response token from a Deep Linking return redirect.
func ResponseJWT(returnURL string) (string, bool) {
	if token, ok := urlutil.QueryParam(returnURL, ResponseParam); ok && token != "" {
		return token, true
	}
	// The tool appends "?JWT=" even when the return URL already carries a query, which
	// folds the token into the previous parameter's value.
	marker := "?" + ResponseParam + "="
	i := strings.LastIndex(returnURL, marker)
	if i < 0 || !strings.Contains(returnURL[:i], "?") {
		return "", false
	}
	token := returnURL[i+len(marker):]
	if end := strings.IndexAny(token, "&#"); end >= 0 {
		token = token[:end]
	}
	if token == "" {
		return "", false
	}
	return token, true
}

// ResponseJWTFromForm extracts the response token from an auto-post form in html.
func ResponseJWTFromForm(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	token, ok := doc.Find(fmt.Sprintf("form input[name=%q]", ResponseParam)).First().Attr("value")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// ParseDeepLinkingResponse decodes a response token without verifying its signature.
func ParseDeepLinkingResponse(raw string) (*DeepLinkingResponse, error) {
	token, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, errs.Wrap(errs.AssertionFailed, "deep linking response is not a signed JWT", err)
	}
	resp := &DeepLinkingResponse{}
	if err := token.UnsafeClaimsWithoutVerification(resp); err != nil {
		return nil, errs.Wrap(errs.AssertionFailed, "decode deep linking claims", err)
	}
	if len(token.Headers) > 0 {
		resp.KeyID = token.Headers[0].KeyID
		resp.Algorithm = token.Headers[0].Algorithm
	}
	if resp.ContentItems == nil {
		return nil, errs.New(errs.NotFound, "deep linking response has no content_items claim")
	}
	return resp, nil
}

// Validate checks the audience and the time window of the response.
func (r *DeepLinkingResponse) Validate(clientID string, now time.Time) error {
	expected := jwt.Expected{Time: now}
	if clientID != "" {
		expected.Audience = jwt.Audience{clientID}
	}
	if err := r.Claims.ValidateWithLeeway(expected, clockLeeway); err != nil {
		return errs.Wrap(errs.AssertionFailed, "deep linking response claims", err)
	}
	if r.MessageType != "" && r.MessageType != MessageTypeDeepLinkingResponse {
		return errs.New(errs.AssertionFailed, fmt.Sprintf("unexpected message type %q", r.MessageType))
	}
	return nil
}

// Verifier checks response signatures against the tool's published key set.
type Verifier struct {
	keys *oidc.RemoteKeySet
}

// NewVerifier returns a verifier that fetches keysetURL on first use and when it sees
// an unknown key id. ctx bounds every key set fetch made by the verifier.
func NewVerifier(ctx context.Context, keysetURL string) *Verifier {
	ctx = oidc.ClientContext(ctx, obs.NewHTTPClient("lti", keysetFetchTimeout))
	return &Verifier{keys: oidc.NewRemoteKeySet(ctx, keysetURL)}
}

// Verify checks the signature of raw and decodes its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*DeepLinkingResponse, error) {
	if _, err := v.keys.VerifySignature(ctx, raw); err != nil {
		return nil, errs.Wrap(errs.AssertionFailed, "deep linking response signature", err)
	}
	resp, err := ParseDeepLinkingResponse(raw)
	if err != nil {
		return nil, err
	}
	obs.From(ctx).Debug("deep_linking_response_verified", "kid", resp.KeyID, "items", len(resp.ContentItems))
	return resp, nil
}
