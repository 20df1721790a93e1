package imap

import (
	"github.com/emersion/go-sasl"
	"github.com/hkdb/aerion-core/internal/oauth2"
)

// NewXOAuth2Client builds the XOAUTH2 SASL client loginOAuth2 needs.
// go-sasl ships PLAIN/LOGIN/ANONYMOUS/OAUTHBEARER but not XOAUTH2
// itself, so the mechanism lives in internal/oauth2 alongside the
// refresh lock that produces the access token in the first place.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return oauth2.SaslClient(username, accessToken)
}
