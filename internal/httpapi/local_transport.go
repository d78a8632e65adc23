package httpapi

import (
	"net/http"
	"net/http/httptest"
)

// HandlerTransport is an http.RoundTripper that serves requests from an
// in-process handler, so the dashboard can call the API without a socket.
// Streaming endpoints block until the request context ends.
type HandlerTransport struct {
	Handler http.Handler
}

func (transport HandlerTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	serverRequest := request.Clone(request.Context())
	if serverRequest.Body == nil {
		serverRequest.Body = http.NoBody
	}
	serverRequest.RequestURI = request.URL.RequestURI()

	recorder := httptest.NewRecorder()
	transport.Handler.ServeHTTP(recorder, serverRequest)

	response := recorder.Result()
	response.Request = request
	return response, nil
}
