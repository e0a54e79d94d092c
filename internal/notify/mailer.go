package notify

import (
	"go.uber.org/zap"
)

type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a single message. Implementations must not block the
// caller on upstream latency.
type Mailer interface {
	Send(mail Mail)
}

// LogMailer writes mail to the log instead of sending it. It stands in
// until an SMTP relay is configured.
type LogMailer struct{}

func (LogMailer) Send(mail Mail) {
	zap.L().Info("mail queued",
		zap.String("to", mail.To),
		zap.String("subject", mail.Subject))
}

// AsyncMailer queues mail onto a background worker. A full queue drops the
// message rather than stalling a trade transition.
type AsyncMailer struct {
	queue chan Mail
	inner Mailer
	done  chan struct{}
}

func NewAsyncMailer(inner Mailer, depth int) *AsyncMailer {
	if depth <= 0 {
		depth = 256
	}
	m := &AsyncMailer{
		queue: make(chan Mail, depth),
		inner: inner,
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *AsyncMailer) run() {
	for mail := range m.queue {
		m.inner.Send(mail)
	}
	close(m.done)
}

func (m *AsyncMailer) Send(mail Mail) {
	select {
	case m.queue <- mail:
	default:
		zap.L().Warn("mail queue full, dropping message", zap.String("to", mail.To))
	}
}

// Close stops the worker after draining the queue.
func (m *AsyncMailer) Close() {
	close(m.queue)
	<-m.done
}
