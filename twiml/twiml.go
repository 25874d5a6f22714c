// Package twiml builds voice-response documents for Twilio call
// webhooks. Only the verbs the bridge needs are modeled: Say, Pause and
// Connect/Stream.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// Say speaks text to the caller using Twilio's built-in TTS.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Pause waits for the given number of seconds.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Connect hands the call to a bidirectional media stream.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  *Stream  `xml:"Stream"`
}

// Stream points Twilio at the media-stream websocket.
type Stream struct {
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter is a custom key/value passed on the stream's start event.
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Response is a TwiML document. Verbs render in order; each element
// carries its own XMLName so mixed verb sequences marshal correctly.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// AppendSay adds a Say verb.
func (r *Response) AppendSay(text string) *Response {
	r.Verbs = append(r.Verbs, Say{Text: text})
	return r
}

// AppendPause adds a Pause verb.
func (r *Response) AppendPause(seconds int) *Response {
	r.Verbs = append(r.Verbs, Pause{Length: seconds})
	return r
}

// AppendConnectStream adds a Connect verb streaming to url.
func (r *Response) AppendConnectStream(url string, params ...Parameter) *Response {
	r.Verbs = append(r.Verbs, Connect{Stream: &Stream{URL: url, Parameters: params}})
	return r
}

// Render marshals the document with the standard XML header.
func (r *Response) Render() (string, error) {
	out, err := xml.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("twiml render: %w", err)
	}
	return xml.Header + string(out), nil
}

// MediaStreamResponse is the document both call webhooks return: an
// optional greeting, a beat of silence, then the media stream connect.
func MediaStreamResponse(greeting, streamURL string) (string, error) {
	r := &Response{}
	if greeting != "" {
		r.AppendSay(greeting).AppendPause(1)
	}
	r.AppendConnectStream(streamURL)
	return r.Render()
}
