package sdk

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const headerRequestID = "X-Request-ID"

// bearerTransport decorates outgoing requests with the current access token and a
// request ID. Unlike oauth2.Transport it never fails a request because the token
// could not be read; the request goes out without credentials instead.
type bearerTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
	logger *zap.Logger
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Header.Get(headerRequestID) == "" {
		out.Header.Set(headerRequestID, uuid.NewString())
	}
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}

	if t.source != nil && out.Header.Get("Authorization") == "" {
		tok, err := t.source.Token()
		switch {
		case errors.Is(err, ErrInvalidToken):
			// anonymous request
		case err != nil:
			t.logger.Warn("could not read access token, sending request without it",
				zap.String("url", out.URL.String()),
				zap.Error(err),
			)
		default:
			tok.SetAuthHeader(out)
		}
	}

	return t.base.RoundTrip(out)
}
