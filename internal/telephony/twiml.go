package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
)

// TwiML builder for the outbound-call answer. It intentionally avoids any
// provider SDK dependency.
//
// The carrier fetches this markup when the callee answers, then opens a
// media-stream websocket against streamURL, forwarding the named parameters
// verbatim in its "start" event. Missing inputs simply render as empty
// parameter values; the carrier proceeds regardless.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlStream struct {
	XMLName    xml.Name         `xml:"Stream"`
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamParams are the call parameters threaded from the control plane
// through the carrier into the relay session.
type StreamParams struct {
	TenantID     string
	Prompt       string
	FirstMessage string
}

// StreamTwiML renders markup directing the carrier to open the relay's
// media-stream endpoint on host. authToken rides the stream URL query so the
// upgrade passes the same gate as every other streaming caller.
func StreamTwiML(host, authToken string, p StreamParams) (string, error) {
	streamURL := fmt.Sprintf("wss://%s/outbound-media-stream", host)
	if authToken != "" {
		streamURL += "?token=" + url.QueryEscape(authToken)
	}

	r := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: streamURL,
				Parameters: []twimlParameter{
					{Name: "user_id", Value: p.TenantID},
					{Name: "prompt", Value: p.Prompt},
					{Name: "first_message", Value: p.FirstMessage},
				},
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
