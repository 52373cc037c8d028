package tools

import (
	"context"
	"net/url"
	"strings"
)

// Dialer places calls and composes text messages on the device.
type Dialer interface {
	Call(ctx context.Context, number string) error
	ComposeSMS(ctx context.Context, number, body string) error
}

// Opener hands a URI to the platform, the way a browser follows tel: links.
type Opener interface {
	Open(ctx context.Context, uri string) error
}

// URIDialer dials through tel: and sms: URIs.
type URIDialer struct {
	Opener Opener
}

func (d URIDialer) Call(ctx context.Context, number string) error {
	return d.Opener.Open(ctx, "tel:"+number)
}

func (d URIDialer) ComposeSMS(ctx context.Context, number, body string) error {
	return d.Opener.Open(ctx, SMSURI(number, body))
}

func SMSURI(number, body string) string {
	return "sms:" + number + "?body=" + strings.ReplaceAll(url.QueryEscape(body), "+", "%20")
}
