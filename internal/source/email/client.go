package email

import (
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mlist/internal/model"
	"github.com/nhle/mlist/internal/source"
)

// IMAPClient holds the settings for connecting to an IMAP server.
type IMAPClient struct {
	host     string
	port     int
	username string
	password string
	tls      string
}

// NewIMAPClient creates a new IMAP client configuration for acct.
func NewIMAPClient(acct model.AccountConfig, password string) *IMAPClient {
	return &IMAPClient{
		host:     acct.Host,
		port:     acct.Port,
		username: acct.Username,
		password: password,
		tls:      acct.TLS,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(handler *imapclient.UnilateralDataHandler) (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	opts := &imapclient.Options{UnilateralDataHandler: handler}

	var client *imapclient.Client
	var err error

	switch c.tls {
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}
