// Package mail delivers outbound notifications. Only a logging implementation
// ships with the gateway; a real transport plugs in behind Mailer.
package mail

import (
	"context"
	"net/url"

	"github.com/sirupsen/logrus"
)

type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer records deliveries in the log instead of sending them. The link
// path carries the reset token, so only the link's host is logged.
type LogMailer struct {
	logger logrus.FieldLogger
}

func NewLogMailer(logger logrus.FieldLogger) *LogMailer {
	return &LogMailer{logger: logger.WithField("component", "mailer")}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	host := ""
	if u, err := url.Parse(link); err == nil {
		host = u.Host
	}
	m.logger.WithFields(logrus.Fields{
		"to":        email,
		"link_host": host,
	}).Info("password reset email delivered")
	return nil
}
