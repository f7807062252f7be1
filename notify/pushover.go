package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"git.0xdad.com/tblyler/meditime/logx"
	"github.com/gregdel/pushover"
	"golang.org/x/time/rate"
)

type pushoverSender interface {
	SendMessage(message *pushover.Message, recipient *pushover.Recipient) (*pushover.Response, error)
}

// Pushover gateway, one recipient per device token
type Pushover struct {
	app     pushoverSender
	limiter *rate.Limiter
	log     logx.Logger
}

// NewPushover creates a gateway for the given application token. perSecond
// caps outgoing API calls; zero or less disables the limit.
func NewPushover(apiToken string, perSecond float64, log logx.Logger) *Pushover {
	return newPushover(pushover.New(apiToken), perSecond, log)
}

func newPushover(app pushoverSender, perSecond float64, log logx.Logger) *Pushover {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	if log.IsZero() {
		log = logx.Nop()
	}

	return &Pushover{
		app:     app,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(logx.String("comp", "gateway")),
	}
}

// Send the message to every token. The result is successful when at least
// one device accepted it. When nothing was delivered the transport errors are
// returned; rejections alone come back as an unsuccessful result.
func (p *Pushover) Send(ctx context.Context, msg Message) (Result, error) {
	if len(msg.Tokens) == 0 {
		return Result{}, ErrNoTokens
	}

	var (
		result     Result
		errs       []error
		rejections []string
	)

	for _, token := range msg.Tokens {
		if err := p.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("waiting for pushover rate limit: %w", err)
		}

		_, err := p.app.SendMessage(p.message(msg), pushover.NewRecipient(token))
		if rejected(err) {
			p.log.Warn("pushover rejected message", logx.String("title", msg.Title), logx.Err(err))
			rejections = append(rejections, err.Error())
			continue
		}

		if err != nil {
			p.log.Warn("pushover send failed", logx.String("title", msg.Title), logx.Err(err))
			errs = append(errs, err)
			continue
		}

		result.Delivered++
	}

	if result.Delivered > 0 {
		result.Success = true
		return result, nil
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		result.Error = err.Error()
		return result, fmt.Errorf("unable to send pushover message %q: %w", msg.Title, err)
	}

	result.Error = "rejected: " + strings.Join(rejections, "; ")

	return result, nil
}

// rejected reports whether err is the API or the client refusing the
// message or recipient rather than a transport failure
func rejected(err error) bool {
	var apiErrs pushover.Errors
	if errors.As(err, &apiErrs) {
		return true
	}

	return errors.Is(err, pushover.ErrInvalidRecipientToken) ||
		errors.Is(err, pushover.ErrEmptyRecipientToken)
}

func (p *Pushover) message(msg Message) *pushover.Message {
	m := pushover.NewMessageWithTitle(msg.Body, msg.Title)

	switch msg.Priority {
	case PriorityHigh:
		m.Priority = pushover.PriorityHigh
	default:
		m.Priority = pushover.PriorityNormal
	}

	return m
}
