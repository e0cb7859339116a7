package mailer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denden/memberauth/internal"
)

const (
	defaultQueueSize = 64
	maxDeliveries    = 3
	baseBackoff      = 2 * time.Second
)

// Config tunes the background delivery queue.
type Config struct {
	QueueSize           int
	VerificationTTL     time.Duration
	OtpTTL              time.Duration
	LockDuration        time.Duration
	MaskRecipientInLogs bool
}

type job struct {
	msg      Message
	kind     string
	attempts int
}

// Dispatcher queues transactional mail and delivers it asynchronously.
// Enqueue operations never block the authentication path: when the queue is
// full the message is dropped and counted.
type Dispatcher struct {
	config Config
	sender Sender
	logger *slog.Logger

	ch        chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery worker. logger may be nil.
func NewDispatcher(cfg Config, sender Sender, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		config: cfg,
		sender: sender,
		logger: logger,
		ch:     make(chan job, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// SendVerification queues the activation token email.
func (d *Dispatcher) SendVerification(ctx context.Context, to, token string) {
	msg, err := renderVerification(token, d.config.VerificationTTL)
	if err != nil {
		d.logger.Error("render verification mail", "error", err)
		return
	}
	msg.To = to
	d.enqueue(job{msg: msg, kind: "verification"})
}

// SendOtp queues the login code email.
func (d *Dispatcher) SendOtp(ctx context.Context, to, code string) {
	msg, err := renderOtp(code, d.config.OtpTTL)
	if err != nil {
		d.logger.Error("render otp mail", "error", err)
		return
	}
	msg.To = to
	d.enqueue(job{msg: msg, kind: "otp"})
}

// SendAccountLocked queues the lockout notice.
func (d *Dispatcher) SendAccountLocked(ctx context.Context, to string) {
	msg, err := renderLocked(d.config.LockDuration)
	if err != nil {
		d.logger.Error("render lock notice mail", "error", err)
		return
	}
	msg.To = to
	d.enqueue(job{msg: msg, kind: "account_locked"})
}

func (d *Dispatcher) enqueue(j job) {
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	select {
	case d.ch <- j:
	case <-d.done:
		d.dropped.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn("mail queue full, dropping message", "kind", j.kind)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case j := <-d.ch:
			d.deliver(j)
		case <-d.done:
			for {
				select {
				case j := <-d.ch:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	backoff := baseBackoff
	for attempt := 1; attempt <= maxDeliveries; attempt++ {
		err := d.sender.Send(context.Background(), j.msg)
		if err == nil {
			return
		}
		d.logger.Warn("mail delivery failed",
			"kind", j.kind,
			"recipient", d.recipient(j.msg.To),
			"attempt", attempt,
			"error", err,
		)
		if attempt == maxDeliveries {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.done:
			// Shutdown in progress; one last immediate try below.
		}
		backoff *= 2
	}
}

func (d *Dispatcher) recipient(to string) string {
	if d.config.MaskRecipientInLogs {
		return internal.MaskEmail(to)
	}
	return to
}

// Dropped reports how many messages were discarded due to a full queue or
// shutdown.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting messages, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
