package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	logx "datastash/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// ---- log ----

type logChannel struct{ log logx.Logger }

func (c logChannel) Send(ctx context.Context, target, subject, body string) error {
	c.log.Info("notification",
		logx.String("target", target),
		logx.String("subject", subject),
		logx.String("body", body),
	)
	return nil
}

// ---- telegram ----

// telegramMessageLimit stays below the 4096 character hard limit.
const telegramMessageLimit = 4000

type telegramChannel struct {
	bot *tele.Bot
}

func newTelegramChannel(token string) (*telegramChannel, error) {
	b, err := tele.NewBot(tele.Settings{
		Token: token,
		// Send-only: skip getMe on startup and never poll.
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &telegramChannel{bot: b}, nil
}

// parseTelegramTarget parses "<chat>[/<thread>]".
func parseTelegramTarget(target string) (chatID int64, threadID int, err error) {
	chat, thread, hasThread := strings.Cut(strings.TrimSpace(target), "/")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid telegram chat %q", errPermanent, chat)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid telegram thread %q", errPermanent, thread)
		}
	}
	return chatID, threadID, nil
}

func (c *telegramChannel) Send(ctx context.Context, target, subject, body string) error {
	chatID, threadID, err := parseTelegramTarget(target)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{ThreadID: threadID, DisableWebPagePreview: true}
	for _, part := range splitMessage(subject+"\n\n"+body, telegramMessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, part, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	text = strings.TrimRight(text, "\n")
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var out []string
	start := 0
	for start < len(text) {
		runes, end, lastNL := 0, start, -1
		for end < len(text) && runes < limit {
			r, size := utf8.DecodeRuneInString(text[end:])
			if r == '\n' {
				lastNL = end + size
			}
			runes++
			end += size
		}
		if end < len(text) && lastNL > start {
			end = lastNL
		}
		if chunk := strings.TrimRight(text[start:end], "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}

// ---- smtp ----

type smtpChannel struct {
	cfg SMTPConfig
}

func newSMTPChannel(cfg SMTPConfig) *smtpChannel { return &smtpChannel{cfg: cfg} }

func (c *smtpChannel) Send(ctx context.Context, target, subject, body string) error {
	to, err := mail.ParseAddress(target)
	if err != nil {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}
	from, err := mail.ParseAddress(c.cfg.From)
	if err != nil {
		return fmt.Errorf("%w: from: %w", errPermanent, err)
	}
	host, _, err := net.SplitHostPort(c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: smtp addr: %w", errPermanent, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	cl, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer cl.Close()

	if c.cfg.StartTLS {
		if ok, _ := cl.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := cl.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if c.cfg.Username != "" {
		if err := cl.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, host)); err != nil {
			return fmt.Errorf("%w: auth: %w", errPermanent, err)
		}
	}
	if err := cl.Mail(from.Address); err != nil {
		return err
	}
	if err := cl.Rcpt(to.Address); err != nil {
		return err
	}
	w, err := cl.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(from, to, subject, body, time.Now())); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return cl.Quit()
}

func buildMessage(from, to *mail.Address, subject, body string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mimeHeader(subject) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func mimeHeader(s string) string {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
