package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"time"

	"github.com/sony/gobreaker"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier renders HTML mail and sends it through a circuit breaker, so a dead mail
// server fails sends fast instead of tying up workers.
type SMTPNotifier struct {
	addr    string
	from    string
	auth    smtp.Auth
	send    sendFunc
	breaker *gobreaker.CircuitBreaker
}

func NewSMTPNotifier(addr, from, user, password string) *SMTPNotifier {
	var auth smtp.Auth
	if user != "" {
		host, _, _ := net.SplitHostPort(addr)
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPNotifier{
		addr: addr,
		from: from,
		auth: auth,
		send: sendMail,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, m Message) error {
	body, err := render(m)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.send(ctx, n.addr, n.auth, n.from, []string{m.To}, n.compose(m, body))
	})
	if err != nil {
		return fmt.Errorf("smtp send to %s: %w", m.To, err)
	}
	return nil
}

// sendMail is smtp.SendMail bound to ctx: the dial and every later read or write on the
// connection fail once ctx is done.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) compose(m Message, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}

func render(m Message) ([]byte, error) {
	var b bytes.Buffer
	if err := templates.ExecuteTemplate(&b, string(m.Template)+".html", m.Data); err != nil {
		return nil, fmt.Errorf("render %s: %w", m.Template, err)
	}
	return b.Bytes(), nil
}
