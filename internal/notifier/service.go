package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"datastash/internal/eventbus"
	logx "datastash/pkg/logx"

	"golang.org/x/time/rate"
)

// Service routes recipients to channels with rate limiting and retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus

	cfg      Config
	limiter  *rate.Limiter
	channels map[string]Channel
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}

	// Keep channels registered by callers; rebuild the configured ones.
	chans := map[string]Channel{"log": logChannel{log: s.log}}
	for k, ch := range s.channels {
		if _, builtin := builtinSchemes[k]; !builtin {
			chans[k] = ch
		}
	}
	if tok := strings.TrimSpace(cfg.TelegramToken); tok != "" {
		tg, err := newTelegramChannel(tok)
		if err != nil {
			s.log.Warn("telegram channel disabled", logx.Err(err))
		} else {
			chans["telegram"] = tg
		}
	}
	if strings.TrimSpace(cfg.SMTP.Addr) != "" {
		chans["mailto"] = newSMTPChannel(cfg.SMTP)
	}

	s.cfg = cfg
	s.channels = chans
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

var builtinSchemes = map[string]struct{}{"log": {}, "telegram": {}, "mailto": {}}

// RegisterChannel installs ch for recipients of the form "<scheme>:<target>".
func (s *Service) RegisterChannel(scheme string, ch Channel) {
	s.mu.Lock()
	s.channels[strings.ToLower(scheme)] = ch
	s.mu.Unlock()
}

// ParseRecipient splits a recipient into scheme and target.
// A bare address containing '@' is treated as mailto.
func ParseRecipient(recipient string) (scheme, target string) {
	r := strings.TrimSpace(recipient)
	if i := strings.IndexByte(r, ':'); i > 0 {
		return strings.ToLower(r[:i]), r[i+1:]
	}
	if strings.Contains(r, "@") {
		return "mailto", r
	}
	return "", r
}

func (s *Service) Notify(ctx context.Context, recipient, subject, body string) (Delivery, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	scheme, target := ParseRecipient(recipient)
	ch := s.channels[scheme]
	s.mu.Unlock()

	if ch == nil {
		err := fmt.Errorf("%w: %w: %q", ErrDelivery, ErrNoChannel, recipient)
		s.publish(eventbus.NotifyFailed, NotificationEvent{Channel: scheme, Recipient: recipient, Error: err.Error()})
		return Delivery{}, err
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := ch.Send(callCtx, target, subject, body)
		cancel()
		if err == nil {
			d := Delivery{Channel: scheme, Recipient: recipient, Attempts: attempt, At: time.Now()}
			s.publish(eventbus.NotifySent, NotificationEvent{Channel: scheme, Recipient: recipient, Attempts: attempt, At: d.At})
			return d, nil
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("channel", scheme),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
		)
		if attempt >= maxAttempts || errors.Is(err, errPermanent) {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
			continue
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
		}
		break
	}

	attempts := min(attempt, maxAttempts)
	err := fmt.Errorf("%w: %s after %d attempt(s): %w", ErrDelivery, scheme, attempts, lastErr)
	s.publish(eventbus.NotifyFailed, NotificationEvent{Channel: scheme, Recipient: recipient, Attempts: attempts, Error: err.Error()})
	return Delivery{}, err
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// errPermanent marks channel errors that retrying cannot fix.
var errPermanent = errors.New("permanent")

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	return max(0, min(d, cfg.RetryMaxDelay))
}
