// Package nextrequest automates agencies running the NextRequest records
// portal. Outbound messages are posted through the portal's web forms;
// inbound notification emails are classified by subject line.
package nextrequest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/portal"
	"github.com/openrecords/relay/internal/tasks"
)

const Type portal.PortalType = "nextrequest"

const csrfField = "authenticity_token"

// Adapter drives one NextRequest deployment per agency.
type Adapter struct {
	portal.Scripted
}

// New creates the NextRequest adapter and installs its route table.
func New(deps portal.Deps, manual *portal.ManualAdapter) *Adapter {
	a := &Adapter{Scripted: portal.NewScripted(deps, manual, "nextrequest")}
	a.SetRouter(portal.NewRouter(
		portal.Route{
			Name:    "confirm-open",
			Pattern: regexp.MustCompile(`^Your first record request ([A-Za-z0-9-]+) has been opened\.?$`),
			Handle:  a.handleOpened,
		},
		portal.Route{
			Name:    "documents-released",
			Pattern: regexp.MustCompile(`^Documents have been released for (?:record )?request ([A-Za-z0-9-]+)`),
			Handle:  a.handleDocuments,
		},
		portal.Route{
			Name:    "request-closed",
			Pattern: regexp.MustCompile(`^(?:Your )?[Rr]ecord request ([A-Za-z0-9-]+) has been closed\.?$`),
			Handle:  a.handleClosed,
		},
		portal.Route{
			Name:    "message-received",
			Pattern: regexp.MustCompile(`^A message was sent to you regarding (?:record )?request ([A-Za-z0-9-]+)`),
			Handle:  a.handleMessage,
		},
		portal.Route{
			Name:    "account-created",
			Pattern: regexp.MustCompile(`(?i)^your .*account (?:has been |was )?created`),
			Handle:  a.handleAccount,
		},
	))
	return a
}

func (a *Adapter) Type() portal.PortalType {
	return Type
}

func (a *Adapter) Descriptor() portal.Descriptor {
	return portal.Descriptor{
		Type:        Type,
		DisplayName: "NextRequest",
		Scripted:    true,
	}
}

// Send logs in and posts the message through the portal. The first message
// creates a new request; later ones post to the existing one. Any
// automation failure falls back to manual.
func (a *Adapter) Send(ctx context.Context, pc portal.Context, msg comms.Outbound) error {
	automator, err := a.Deps.Sessions()
	if err != nil {
		return fmt.Errorf("create portal session: %w", err)
	}
	defer automator.Close()

	base := strings.TrimRight(pc.Agency.PortalURL, "/")
	aerr := automator.Login(ctx, base+"/users/sign_in", csrfField,
		"user[email]", "user[password]",
		pc.Request.PortalUsername, pc.Request.PortalPassword)
	if aerr != nil {
		return a.SendFallback(ctx, pc, msg, aerr)
	}

	var formURL, textField string
	if pc.Request.TrackingID == "" {
		formURL = base + "/requests/new"
		textField = "request[request_text]"
	} else {
		formURL = base + "/requests/" + url.PathEscape(pc.Request.TrackingID)
		textField = "note[note_text]"
	}
	token, aerr := automator.CsrfToken(ctx, formURL, csrfField)
	if aerr != nil {
		return a.SendFallback(ctx, pc, msg, aerr)
	}
	form := url.Values{
		csrfField: {token},
		textField: {msg.Body},
	}
	postURL := formURL
	if pc.Request.TrackingID == "" {
		postURL = base + "/requests"
	} else {
		postURL = formURL + "/notes"
	}
	if _, aerr = automator.PostForm(ctx, postURL, form, http.StatusOK); aerr != nil {
		return a.SendFallback(ctx, pc, msg, aerr)
	}
	for _, doc := range msg.Attachments {
		aerr = automator.UploadDocument(ctx, postURL+"/documents", "document[file]",
			doc.Name, doc.Content, url.Values{csrfField: {token}}, http.StatusOK)
		if aerr != nil {
			return a.SendFallback(ctx, pc, msg, aerr)
		}
	}
	return nil
}

// Receive classifies a portal notification email by its subject.
func (a *Adapter) Receive(ctx context.Context, pc portal.Context, msg comms.Inbound) error {
	return a.ReceiveRouted(ctx, pc, msg)
}

// Probe verifies the stored credentials with a bare login.
func (a *Adapter) Probe(ctx context.Context, pc portal.Context) error {
	automator, err := a.Deps.Sessions()
	if err != nil {
		return fmt.Errorf("create portal session: %w", err)
	}
	defer automator.Close()
	base := strings.TrimRight(pc.Agency.PortalURL, "/")
	if aerr := automator.Login(ctx, base+"/users/sign_in", csrfField,
		"user[email]", "user[password]",
		pc.Request.PortalUsername, pc.Request.PortalPassword); aerr != nil {
		return aerr
	}
	return nil
}

// handleOpened records the agency-issued tracking ID and marks the
// request as being processed.
func (a *Adapter) handleOpened(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
	parsed := match[1]
	if cerr := portal.ValidateTracking(pc.Request, parsed); cerr != nil {
		return cerr
	}
	if pc.Request.TrackingID == "" {
		if err := a.Deps.Requests.SetTrackingID(ctx, pc.Request.ID, parsed); err != nil {
			return fmt.Errorf("set tracking id: %w", err)
		}
	}
	if err := a.Deps.Requests.UpdateStatus(ctx, pc.Request.ID, foia.StatusProcessed); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return a.Accept(ctx, pc, msg)
}

func (a *Adapter) handleDocuments(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
	if cerr := portal.ValidateTracking(pc.Request, match[1]); cerr != nil {
		return cerr
	}
	if err := a.Deps.Requests.UpdateStatus(ctx, pc.Request.ID, foia.StatusPartial); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return a.Accept(ctx, pc, msg)
}

func (a *Adapter) handleClosed(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
	if cerr := portal.ValidateTracking(pc.Request, match[1]); cerr != nil {
		return cerr
	}
	if err := a.Deps.Requests.UpdateStatus(ctx, pc.Request.ID, foia.StatusDone); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return a.Accept(ctx, pc, msg)
}

func (a *Adapter) handleMessage(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
	if cerr := portal.ValidateTracking(pc.Request, match[1]); cerr != nil {
		return cerr
	}
	return a.Accept(ctx, pc, msg)
}

// handleAccount rotates the portal password after the portal provisions
// an account, so the throwaway initial credential never stays on file.
func (a *Adapter) handleAccount(ctx context.Context, pc portal.Context, msg comms.Inbound, _ []string) error {
	fresh := uuid.NewString()
	if err := a.Deps.Requests.RotatePortalPassword(ctx, pc.Request.ID, fresh); err != nil {
		a.Deps.Sink.Escalate(ctx, tasks.Escalation{
			RequestID:  pc.Request.ID,
			Category:   tasks.CategoryCredentialRotation,
			Reason:     fmt.Sprintf("rotate portal password: %v", err),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return nil
	}
	a.Log.Info("portal password rotated", slog.String("request_id", pc.Request.ID))
	return a.Accept(ctx, pc, msg)
}
