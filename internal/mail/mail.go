// Package mail renders email templates and delivers messages through a
// pluggable transport.
package mail

import (
	"context"
	"net/mail"
)

type Message struct {
	To      mail.Address
	Subject string
	HTML    string
}

// Transport delivers one message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}
