// -----------------------------------------------------------------------
// IMAP Watcher - polls a mailbox for OTP emails as a second delivery path
// Extracted codes land in the same slot the webhook feeds
// -----------------------------------------------------------------------

package otp

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// Watcher polls an IMAP folder for unseen OTP emails, deposits the first
// code it finds in each message, and marks the message seen. A cycle that
// fails is logged and retried on the next tick; the watcher never takes
// the service down.
type Watcher struct {
	config    common.ImapConfig
	registry  interfaces.MailboxRegistry
	otpLength int
	logger    arbor.ILogger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWatcher creates an IMAP watcher. otpLength is the digit-run size the
// body scan looks for, normally the vendor profile's OTP length.
func NewWatcher(config common.ImapConfig, registry interfaces.MailboxRegistry, otpLength int, logger arbor.ILogger) *Watcher {
	if otpLength <= 0 {
		otpLength = 6
	}
	return &Watcher{
		config:    config,
		registry:  registry,
		otpLength: otpLength,
		logger:    logger,
	}
}

// Start launches the poll loop. No-op when the watcher is disabled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.Debug().Msg("IMAP watcher disabled")
		return nil
	}
	if w.config.Host == "" || w.config.Username == "" || w.config.Password == "" {
		return fmt.Errorf("imap watcher enabled but host/username/password incomplete")
	}

	interval, err := time.ParseDuration(w.config.PollInterval)
	if err != nil || interval <= 0 {
		interval = 15 * time.Second
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	common.SafeGoWithContext(ctx, w.logger, "imapWatcher", func() {
		defer close(w.done)
		w.logger.Info().
			Str("host", w.config.Host).
			Str("folder", w.folder()).
			Str("interval", interval.String()).
			Msg("IMAP watcher started")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("IMAP watcher stopped")
				return
			case <-ticker.C:
				if err := w.poll(); err != nil {
					w.logger.Warn().Err(err).Msg("IMAP poll cycle failed")
				}
			}
		}
	})

	return nil
}

// Stop ends the poll loop and waits for it to exit
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Watcher) folder() string {
	if w.config.Folder == "" {
		return "INBOX"
	}
	return w.config.Folder
}

// poll runs one fetch cycle: connect, scan unseen messages, deposit codes,
// mark handled messages seen.
func (w *Watcher) poll() error {
	addr := fmt.Sprintf("%s:%d", w.config.Host, w.config.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(w.config.Username, w.config.Password); err != nil {
		return fmt.Errorf("IMAP login failed: %w", err)
	}

	mbox, err := c.Select(w.folder(), false)
	if err != nil {
		return fmt.Errorf("failed to select %s: %w", w.folder(), err)
	}
	if mbox.Messages == 0 {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	messages := make(chan *imap.Message, len(seqNums))
	section := &imap.BodySectionName{}

	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}, messages)
	}()

	var handled []uint32
	for msg := range messages {
		if msg == nil {
			continue
		}

		subject := msg.Envelope.Subject
		if w.config.SubjectFilter != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(w.config.SubjectFilter)) {
			continue
		}

		body, err := parseMessageBody(msg, section)
		if err != nil {
			w.logger.Warn().Err(err).Int("seq", int(msg.SeqNum)).Msg("Failed to parse message body")
			continue
		}

		code, ok := ExtractCode(subject+" "+body, w.otpLength)
		if !ok {
			continue
		}

		w.registry.Route("").Deposit(models.OtpEvent{
			Value:      code,
			Source:     models.OtpSourceImap,
			ReceivedAt: msg.Envelope.Date,
		})
		handled = append(handled, msg.SeqNum)

		w.logger.Info().
			Int("seq", int(msg.SeqNum)).
			Str("subject", subject).
			Msg("OTP extracted from email")
	}

	if err := <-fetchDone; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	if len(handled) > 0 {
		if err := markSeen(c, handled); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to mark messages as read")
		}
	}

	return nil
}

// markSeen flags handled messages so they are not scanned again
func markSeen(c *client.Client, seqNums []uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	return c.Store(seqSet, item, flags, nil)
}

// parseMessageBody extracts the text body from an IMAP message
func parseMessageBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var body string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read body: %w", err)
				}
				body = string(b)
			}
		}
	}

	return strings.TrimSpace(body), nil
}

// ExtractCode finds the first exact digit run of the given length in text.
// Longer runs do not match: an order number embedding six digits inside
// ten is not a code.
func ExtractCode(text string, length int) (string, bool) {
	if length <= 0 || text == "" {
		return "", false
	}
	re := regexp.MustCompile(fmt.Sprintf(`(^|\D)(\d{%d})(\D|$)`, length))
	match := re.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return match[2], true
}
