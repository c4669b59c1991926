package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/openrecords/relay/internal/config"
)

// Receiver watches the intake mailbox over IMAP and hands each new message
// to the inbound handler. It prefers IDLE and falls back to polling when
// the server does not support it.
type Receiver struct {
	cfg     config.EmailConfig
	handler InboundHandler
	log     *slog.Logger

	cancel  context.CancelFunc
	once    sync.Once
	lastUID imap.UID
}

// NewReceiver creates the IMAP receiver.
func NewReceiver(cfg config.EmailConfig, handler InboundHandler, log *slog.Logger) *Receiver {
	return &Receiver{
		cfg:     cfg,
		handler: handler,
		log:     log.With(slog.String("component", "imap_receiver")),
	}
}

// Start launches the receive loop.
func (r *Receiver) Start(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(rctx)
}

// Stop halts the receive loop.
func (r *Receiver) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

func (r *Receiver) run(ctx context.Context) {
	for {
		if err := r.connectAndReceive(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("imap connection error, retrying in 30s", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
		}
	}
}

func (r *Receiver) pollInterval() time.Duration {
	seconds := r.cfg.PollIntervalSeconds
	if seconds <= 0 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

func (r *Receiver) connectAndReceive(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.IMAPHost, r.cfg.IMAPPort)

	newMailCh := make(chan struct{}, 1)
	notifyNewMail := func() {
		select {
		case newMailCh <- struct{}{}:
		default:
		}
	}

	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: r.cfg.IMAPHost},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					notifyNewMail()
				}
			},
		},
	}
	var client *imapclient.Client
	var err error
	switch r.cfg.IMAPSecurity {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return fmt.Errorf("dial imap (%s): %w", r.cfg.IMAPSecurity, err)
	}
	defer client.Close()

	if err := client.Login(r.cfg.Username, r.cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	r.log.Info("imap connected", slog.String("host", r.cfg.IMAPHost))
	r.fetchNewMessages(ctx, client)

	idleCmd, idleErr := client.Idle()
	if idleErr != nil {
		r.log.Warn("IDLE not supported, falling back to polling", slog.Any("error", idleErr))
		return r.pollLoop(ctx, client)
	}

	// Even with IDLE, periodically check for new mail as a safety net
	// (some servers accept IDLE but don't push EXISTS notifications)
	checkInterval := r.pollInterval()
	if checkInterval > 2*time.Minute {
		checkInterval = 2 * time.Minute
	}

	for {
		select {
		case <-ctx.Done():
			_ = idleCmd.Close()
			return nil
		case <-newMailCh:
			_ = idleCmd.Close()
			r.fetchNewMessages(ctx, client)
			idleCmd, idleErr = client.Idle()
			if idleErr != nil {
				return r.pollLoop(ctx, client)
			}
		case <-time.After(checkInterval):
			_ = idleCmd.Close()
			r.fetchNewMessages(ctx, client)
			idleCmd, idleErr = client.Idle()
			if idleErr != nil {
				return r.pollLoop(ctx, client)
			}
		}
	}
}

func (r *Receiver) pollLoop(ctx context.Context, client *imapclient.Client) error {
	for {
		r.fetchNewMessages(ctx, client)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.pollInterval()):
		}
	}
}

func (r *Receiver) fetchNewMessages(ctx context.Context, client *imapclient.Client) {
	// UID ranges are independent of the \Seen flag, so other clients
	// reading the mailbox don't interfere.
	var uidSet imap.UIDSet
	if r.lastUID > 0 {
		uidSet.AddRange(r.lastUID+1, 0)
	} else {
		uidSet.AddRange(1, 0)
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	isFirstRun := r.lastUID == 0
	processed := 0

	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if buf.UID > r.lastUID {
			r.lastUID = buf.UID
		}
		// On first run, just record the highest UID without replaying old mail
		if isFirstRun {
			continue
		}
		inbound := bufToInbound(buf)
		if inbound == nil {
			continue
		}
		processed++
		r.handler(ctx, *inbound)
	}
	if processed > 0 {
		r.log.Info("imap fetch completed",
			slog.Int("processed", processed),
			slog.Uint64("last_uid", uint64(r.lastUID)))
	}
}

func bufToInbound(buf *imapclient.FetchMessageBuffer) *InboundEmail {
	env := buf.Envelope
	if env == nil {
		return nil
	}
	var bodyText string
	if len(buf.BodySection) > 0 {
		bodyText = string(buf.BodySection[0].Bytes)
	}
	from := ""
	if len(env.From) > 0 {
		from = env.From[0].Addr()
	}
	var to []string
	for _, addr := range env.To {
		to = append(to, addr.Addr())
	}
	return &InboundEmail{
		MessageID:  env.MessageID,
		From:       from,
		To:         to,
		Subject:    env.Subject,
		BodyText:   bodyText,
		ReceivedAt: env.Date,
	}
}
