// Package session drives one authenticated browser-like HTTP session
// against an agency portal. Every operation is synchronous and returns a
// typed automation error; retries are the caller's decision.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/openrecords/relay/internal/comms"
)

// Automator holds the cookie jar and timeouts for one portal session.
// It is not safe for concurrent use; the engine serializes per request.
type Automator struct {
	client         *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	log            *slog.Logger
}

// New creates an Automator with a fresh cookie jar. requestTimeout bounds
// each individual HTTP call; uploadTimeout bounds document transfers.
func New(requestTimeout, uploadTimeout time.Duration, log *slog.Logger) (*Automator, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if requestTimeout <= 0 {
		requestTimeout = 20 * time.Second
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Second
	}
	// Timeouts are applied per call via context: uploads and downloads
	// get uploadTimeout, everything else requestTimeout. A client-level
	// timeout would cap transfers at the shorter request budget.
	return &Automator{
		client:         &http.Client{Jar: jar},
		requestTimeout: requestTimeout,
		uploadTimeout:  uploadTimeout,
		log:            log.With(slog.String("component", "portal_session")),
	}, nil
}

// checkpoint is called between automation steps, never mid-call. On
// cancellation the session is abandoned and the typed error surfaces.
func (a *Automator) checkpoint(ctx context.Context) *comms.AutomationError {
	select {
	case <-ctx.Done():
		a.Close()
		return comms.NewAutomationError(comms.StepCancelled, "operation cancelled between steps", ctx.Err())
	default:
		return nil
	}
}

// Close discards the session's cookies. Subsequent calls start logged out.
func (a *Automator) Close() {
	jar, err := cookiejar.New(nil)
	if err == nil {
		a.client.Jar = jar
	}
}

// Get fetches a page, requiring http.StatusOK, and returns the body.
func (a *Automator) Get(ctx context.Context, pageURL string) ([]byte, *comms.AutomationError) {
	if err := a.checkpoint(ctx); err != nil {
		return nil, err
	}
	return a.do(ctx, http.MethodGet, pageURL, "", nil, http.StatusOK)
}

// PostForm submits a URL-encoded form and requires the given status.
func (a *Automator) PostForm(ctx context.Context, formURL string, form url.Values, wantStatus int) ([]byte, *comms.AutomationError) {
	if err := a.checkpoint(ctx); err != nil {
		return nil, err
	}
	body := strings.NewReader(form.Encode())
	return a.do(ctx, http.MethodPost, formURL, "application/x-www-form-urlencoded", body, wantStatus)
}

func (a *Automator) do(ctx context.Context, method, rawURL, contentType string, body io.Reader, wantStatus int) ([]byte, *comms.AutomationError) {
	callCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, method, rawURL, body)
	if err != nil {
		return nil, comms.NewAutomationError(comms.StepStatus, fmt.Sprintf("build %s %s", method, rawURL), err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, comms.NewAutomationError(comms.StepTimeout, fmt.Sprintf("%s %s timed out", method, rawURL), err)
		}
		return nil, comms.NewAutomationError(comms.StepStatus, fmt.Sprintf("%s %s", method, rawURL), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, comms.NewAutomationError(comms.StepStatus, fmt.Sprintf("read %s response", rawURL), err)
	}
	if resp.StatusCode != wantStatus {
		return nil, comms.NewAutomationError(comms.StepStatus,
			fmt.Sprintf("%s %s returned %d, want %d", method, rawURL, resp.StatusCode, wantStatus), nil)
	}
	return payload, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Login fetches the login page, scrapes its CSRF token, and submits the
// credentials. usernameField/passwordField name the form inputs; any
// failure surfaces as a login-step automation error.
func (a *Automator) Login(ctx context.Context, loginURL, tokenField, usernameField, passwordField, username, password string) *comms.AutomationError {
	if err := a.checkpoint(ctx); err != nil {
		return err
	}
	page, aerr := a.do(ctx, http.MethodGet, loginURL, "", nil, http.StatusOK)
	if aerr != nil {
		return comms.NewAutomationError(comms.StepLogin, "fetch login page: "+aerr.Detail, aerr)
	}
	token, aerr := extractToken(page, tokenField)
	if aerr != nil {
		return aerr
	}
	if err := a.checkpoint(ctx); err != nil {
		return err
	}
	form := url.Values{
		tokenField:    {token},
		usernameField: {username},
		passwordField: {password},
	}
	body := strings.NewReader(form.Encode())
	postCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, loginURL, body)
	if err != nil {
		return comms.NewAutomationError(comms.StepLogin, "build login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)
	resp, err := a.client.Do(req)
	if err != nil {
		return comms.NewAutomationError(comms.StepLogin, "submit login form", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	// Portals answer a good login with a redirect (already followed) or 200;
	// a re-rendered login form with 401/403 means bad credentials.
	if resp.StatusCode != http.StatusOK {
		return comms.NewAutomationError(comms.StepLogin,
			fmt.Sprintf("login to %s returned %d", loginURL, resp.StatusCode), nil)
	}
	a.log.Debug("portal login succeeded", slog.String("url", loginURL))
	return nil
}

// CsrfToken fetches the given page and scrapes the named hidden input.
func (a *Automator) CsrfToken(ctx context.Context, pageURL, tokenField string) (string, *comms.AutomationError) {
	if err := a.checkpoint(ctx); err != nil {
		return "", err
	}
	page, aerr := a.do(ctx, http.MethodGet, pageURL, "", nil, http.StatusOK)
	if aerr != nil {
		return "", aerr
	}
	return extractToken(page, tokenField)
}

// extractToken walks the HTML for <input name=tokenField value=...>.
func extractToken(page []byte, tokenField string) (string, *comms.AutomationError) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", comms.NewAutomationError(comms.StepCSRFMissing, "parse page html", err)
	}
	var token string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if token != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				}
			}
			if name == tokenField && value != "" {
				token = value
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if token == "" {
		return "", comms.NewAutomationError(comms.StepCSRFMissing,
			fmt.Sprintf("no %s input found in page", tokenField), nil)
	}
	return token, nil
}

// UploadDocument posts one document as a multipart form with the session's
// upload timeout. fields carries the extra form values, fileField names the
// file part.
func (a *Automator) UploadDocument(ctx context.Context, uploadURL, fileField, filename string,
	content []byte, fields url.Values, wantStatus int) *comms.AutomationError {
	if err := a.checkpoint(ctx); err != nil {
		return err
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, values := range fields {
		for _, v := range values {
			if err := writer.WriteField(key, v); err != nil {
				return comms.NewAutomationError(comms.StepUpload, "write form field "+key, err)
			}
		}
	}
	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return comms.NewAutomationError(comms.StepUpload, "create file part", err)
	}
	if _, err := part.Write(content); err != nil {
		return comms.NewAutomationError(comms.StepUpload, "write file content", err)
	}
	if err := writer.Close(); err != nil {
		return comms.NewAutomationError(comms.StepUpload, "finalize multipart body", err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, a.uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return comms.NewAutomationError(comms.StepUpload, "build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return comms.NewAutomationError(comms.StepTimeout,
				fmt.Sprintf("upload of %s timed out", filename), err)
		}
		return comms.NewAutomationError(comms.StepUpload, fmt.Sprintf("upload %s", filename), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != wantStatus {
		return comms.NewAutomationError(comms.StepUpload,
			fmt.Sprintf("upload of %s returned %d, want %d", filename, resp.StatusCode, wantStatus), nil)
	}
	return nil
}

// DownloadDocument fetches a released document with the upload timeout.
func (a *Automator) DownloadDocument(ctx context.Context, docURL string) ([]byte, *comms.AutomationError) {
	if err := a.checkpoint(ctx); err != nil {
		return nil, err
	}
	dlCtx, cancel := context.WithTimeout(ctx, a.uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, comms.NewAutomationError(comms.StepStatus, "build download request", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, comms.NewAutomationError(comms.StepTimeout,
				fmt.Sprintf("download of %s timed out", docURL), err)
		}
		return nil, comms.NewAutomationError(comms.StepStatus, fmt.Sprintf("download %s", docURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, comms.NewAutomationError(comms.StepStatus,
			fmt.Sprintf("download of %s returned %d", docURL, resp.StatusCode), nil)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, comms.NewAutomationError(comms.StepStatus, "read document body", err)
	}
	return content, nil
}
