// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gdamore/botvisor"
)

// Client talks to a botvisord instance over its HTTP API.
type Client struct {
	base      string // URI to root of tree on server
	client    *http.Client
	transport *http.Transport
}

func (c *Client) url(parts ...string) string {
	u := c.base + "/api"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// envelope is the part of every reply used to detect failures.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// do issues the request and decodes the reply into v.  Replies that do not
// report success come back as *Error carrying the HTTP status.
func (c *Client) do(ctx context.Context, method, u, ctype string, body io.Reader, v interface{}) error {
	req, e := http.NewRequestWithContext(ctx, method, u, body)
	if e != nil {
		return e
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()

	data, e := io.ReadAll(res.Body)
	if e != nil {
		return e
	}
	env := envelope{}
	if json.Unmarshal(data, &env) != nil || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = res.Status
		}
		return &Error{Code: res.StatusCode, Message: msg}
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *Client) post(ctx context.Context, action, name string) (*Reply, error) {
	r := &Reply{}
	if e := c.do(ctx, "POST", c.url("bot", action, name), "", nil, r); e != nil {
		return nil, e
	}
	return r, nil
}

// Bots returns every bot the server knows about.
func (c *Client) Bots(ctx context.Context) ([]botvisor.Descriptor, error) {
	r := &BotsReply{}
	if e := c.do(ctx, "GET", c.url("bots"), "", nil, r); e != nil {
		return nil, e
	}
	return r.Bots, nil
}

func (c *Client) Bot(ctx context.Context, name string) (*botvisor.Descriptor, error) {
	r := &Reply{}
	if e := c.do(ctx, "GET", c.url("bot", name), "", nil, r); e != nil {
		return nil, e
	}
	return r.Bot, nil
}

// Deploy uploads a zip archive as a new bot.  Empty name and command leave
// the choice to the server.
func (c *Client) Deploy(ctx context.Context, name, command, filename string, archive io.Reader) (*botvisor.Descriptor, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if name != "" {
		mw.WriteField(FieldName, name)
	}
	if command != "" {
		mw.WriteField(FieldCommand, command)
	}
	fw, e := mw.CreateFormFile(FieldArchive, filepath.Base(filename))
	if e != nil {
		return nil, e
	}
	if _, e = io.Copy(fw, archive); e != nil {
		return nil, e
	}
	if e = mw.Close(); e != nil {
		return nil, e
	}
	r := &Reply{}
	if e = c.do(ctx, "POST", c.url("upload-bot"), mw.FormDataContentType(), buf, r); e != nil {
		return nil, e
	}
	return r.Bot, nil
}

// Start launches the bot and returns its process id.
func (c *Client) Start(ctx context.Context, name string) (int, error) {
	r, e := c.post(ctx, "start", name)
	if e != nil {
		return 0, e
	}
	return r.PID, nil
}

func (c *Client) Stop(ctx context.Context, name string) error {
	_, e := c.post(ctx, "stop", name)
	return e
}

func (c *Client) Restart(ctx context.Context, name string) (int, error) {
	r, e := c.post(ctx, "restart", name)
	if e != nil {
		return 0, e
	}
	return r.PID, nil
}

// Logs fetches the bot's log text, limited to the last tail lines when
// tail is positive.
func (c *Client) Logs(ctx context.Context, name string, tail int) (string, error) {
	u := c.url("bot", "logs", name)
	if tail > 0 {
		u += "?tail=" + strconv.Itoa(tail)
	}
	r := &LogsReply{}
	if e := c.do(ctx, "GET", u, "", nil, r); e != nil {
		return "", e
	}
	return r.Logs, nil
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", c.url("bot", name), "", nil, nil)
}

// UpdateConfig merges patch into the bot's descriptor and returns the
// result.
func (c *Client) UpdateConfig(ctx context.Context, name string, patch map[string]interface{}) (*botvisor.Descriptor, error) {
	b, e := json.Marshal(patch)
	if e != nil {
		return nil, e
	}
	r := &Reply{}
	if e = c.do(ctx, "PUT", c.url("bot", "config", name), mimeJson, bytes.NewReader(b), r); e != nil {
		return nil, e
	}
	return r.Config, nil
}

// Events returns the events after since, and the id to pass next time.
// With wait positive the server holds the request up to that long for
// something to happen.
func (c *Client) Events(ctx context.Context, since int64, wait time.Duration) ([]botvisor.Event, int64, error) {
	u := c.url("events") + "?since=" + strconv.FormatInt(since, 10)
	if secs := int(wait / time.Second); secs > 0 {
		u += "&wait=" + strconv.Itoa(secs)
	}
	r := &EventsReply{}
	if e := c.do(ctx, "GET", u, "", nil, r); e != nil {
		return nil, since, e
	}
	return r.Events, r.Last, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*HealthReply, error) {
	r := &HealthReply{}
	if e := c.do(ctx, "GET", c.base+"/healthz", "", nil, r); e != nil {
		return nil, e
	}
	return r, nil
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		transport: t,
		base:      baseURI,
		client:    &http.Client{Transport: t},
	}
}
