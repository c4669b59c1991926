// Package efoipa automates the FBI's eFOIPA portal family. The portal
// accepts a single submission form and announces releases by email with a
// download link; there is no message thread to post to.
package efoipa

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/portal"
	"github.com/openrecords/relay/internal/tasks"
)

const Type portal.PortalType = "efoipa"

const csrfField = "__RequestVerificationToken"

// downloadLink pulls the release URL out of a notification body.
var downloadLink = regexp.MustCompile(`https://\S+/(?:download|files)/\S+`)

// Adapter drives eFOIPA submissions and release notifications.
type Adapter struct {
	portal.Scripted
}

// New creates the eFOIPA adapter and installs its route table.
func New(deps portal.Deps, manual *portal.ManualAdapter) *Adapter {
	a := &Adapter{Scripted: portal.NewScripted(deps, manual, "efoipa")}
	a.SetRouter(portal.NewRouter(
		portal.Route{
			Name:    "request-received",
			Pattern: regexp.MustCompile(`(?i)^your e?FOIPA request .*No\.? ([0-9-]+) has been received`),
			Handle:  a.handleReceived,
		},
		portal.Route{
			Name:    "files-available",
			Pattern: regexp.MustCompile(`(?i)^eFOIA files available`),
			Handle:  a.handleFiles,
		},
		portal.Route{
			Name:    "request-completed",
			Pattern: regexp.MustCompile(`(?i)^e?FOIPA request .*No\.? ([0-9-]+) (?:is|has been) (?:completed|closed)`),
			Handle:  a.handleCompleted,
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
		DisplayName: "FBI eFOIPA",
		Scripted:    true,
	}
}

// Send submits the request through the portal form. The portal has no
// follow-up thread, so anything after the first contact falls back to a
// manual task.
func (a *Adapter) Send(ctx context.Context, pc portal.Context, msg comms.Outbound) error {
	if pc.Request.TrackingID != "" {
		return a.Manual.FallbackSend(ctx, pc, msg, tasks.CategoryPortalManual,
			"efoipa accepts no follow-up messages, contact the agency directly")
	}
	automator, err := a.Deps.Sessions()
	if err != nil {
		return fmt.Errorf("create portal session: %w", err)
	}
	defer automator.Close()

	base := strings.TrimRight(pc.Agency.PortalURL, "/")
	formURL := base + "/palSubmission"
	token, aerr := automator.CsrfToken(ctx, formURL, csrfField)
	if aerr != nil {
		return a.SendFallback(ctx, pc, msg, aerr)
	}
	form := url.Values{
		csrfField:            {token},
		"requesterEmail":     {pc.Request.PortalUsername},
		"requestDescription": {msg.Body},
		"requestSubject":     {msg.Subject},
	}
	if _, aerr = automator.PostForm(ctx, formURL, form, http.StatusOK); aerr != nil {
		return a.SendFallback(ctx, pc, msg, aerr)
	}
	for _, doc := range msg.Attachments {
		aerr = automator.UploadDocument(ctx, base+"/palUpload", "supportingFile",
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

func (a *Adapter) handleReceived(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
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

// handleFiles downloads the released files so the release is verified
// before the message is accepted. A failed download surfaces as an
// automation error and escalates through the receive fallback.
func (a *Adapter) handleFiles(ctx context.Context, pc portal.Context, msg comms.Inbound, _ []string) error {
	link := downloadLink.FindString(msg.Body)
	if link == "" {
		return &comms.ClassificationError{
			Category: comms.ClassMalformedField,
			Detail:   "release notification carries no download link",
		}
	}
	automator, err := a.Deps.Sessions()
	if err != nil {
		return fmt.Errorf("create portal session: %w", err)
	}
	defer automator.Close()
	content, aerr := automator.DownloadDocument(ctx, link)
	if aerr != nil {
		return aerr
	}
	a.Log.Info("release downloaded",
		slog.String("request_id", pc.Request.ID),
		slog.Int("bytes", len(content)))
	if err := a.Deps.Requests.UpdateStatus(ctx, pc.Request.ID, foia.StatusPartial); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return a.Accept(ctx, pc, msg)
}

func (a *Adapter) handleCompleted(ctx context.Context, pc portal.Context, msg comms.Inbound, match []string) error {
	if cerr := portal.ValidateTracking(pc.Request, match[1]); cerr != nil {
		return cerr
	}
	if err := a.Deps.Requests.UpdateStatus(ctx, pc.Request.ID, foia.StatusDone); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return a.Accept(ctx, pc, msg)
}
