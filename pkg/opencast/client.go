package opencast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"recording-orchestrator/pkg/retry"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Client talks to the ingest, scheduler, capture-admin and series services.
// Every method issues a single request; callers own the retry policy.
type Client struct {
	baseURL  string
	user     string
	password string
	client   *http.Client
}

func New(cfg Config, client *http.Client) *Client {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		user:     cfg.User,
		password: cfg.Password,
		client:   client,
	}
}

func (c *Client) CreateMediaPackage(ctx context.Context, id string) (string, error) {
	op := "ingest.createMediaPackage"
	req, err := c.newRequest(ctx, op, http.MethodGet, "/ingest/createMediaPackageWithID/"+url.PathEscape(id), nil, "")
	if err != nil {
		return "", err
	}
	return c.text(op, req)
}

func (c *Client) AddCatalog(ctx context.Context, mediaPackage string, flavor string, catalog string) (string, error) {
	op := "ingest.addDCCatalog"
	form := url.Values{
		"mediaPackage": {mediaPackage},
		"flavor":       {flavor},
		"dublinCore":   {catalog},
	}
	req, err := c.newForm(ctx, op, http.MethodPost, "/ingest/addDCCatalog", form)
	if err != nil {
		return "", err
	}
	return c.text(op, req)
}

func (c *Client) AddAttachment(ctx context.Context, mediaPackage string, flavor string, name string, content string) (string, error) {
	op := "ingest.addAttachment"
	fields := map[string]string{"mediaPackage": mediaPackage, "flavor": flavor}
	body, contentType, err := multipartBody(fields, name, strings.NewReader(content))
	if err != nil {
		return "", retry.ClientSide(op, err)
	}
	req, err := c.newRequest(ctx, op, http.MethodPost, "/ingest/addAttachment", body, contentType)
	if err != nil {
		return "", err
	}
	return c.text(op, req)
}

// AddTrack streams the file at path into the media package.
func (c *Client) AddTrack(ctx context.Context, mediaPackage string, flavor string, path string) (string, error) {
	op := "ingest.addTrack"
	file, err := os.Open(path)
	if err != nil {
		return "", retry.ClientSide(op, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipart(mw, map[string]string{"mediaPackage": mediaPackage, "flavor": flavor}, filepath.Base(path), file)
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, op, http.MethodPost, "/ingest/addTrack", pr, mw.FormDataContentType())
	if err != nil {
		pr.Close()
		return "", err
	}
	return c.text(op, req)
}

func (c *Client) Ingest(ctx context.Context, mediaPackage string, workflow string) error {
	op := "ingest.ingest"
	form := url.Values{"mediaPackage": {mediaPackage}}
	req, err := c.newForm(ctx, op, http.MethodPost, "/ingest/ingest/"+url.PathEscape(workflow), form)
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

// ScheduleRequest describes a recording window in the scheduler.
type ScheduleRequest struct {
	EventId      string
	MediaPackage string
	Catalog      string
	Agent        string
	Start        time.Time
	End          time.Time
	Workflow     string
}

func (c *Client) Schedule(ctx context.Context, in ScheduleRequest) error {
	op := "scheduler.create"
	form := url.Values{
		"mediaPackage":    {in.MediaPackage},
		"dublincore":      {in.Catalog},
		"agent":           {in.Agent},
		"start":           {millis(in.Start)},
		"end":             {millis(in.End)},
		"source":          {in.EventId},
		"agentparameters": {"org.opencastproject.workflow.definition=" + in.Workflow},
	}
	req, err := c.newForm(ctx, op, http.MethodPost, "/recordings", form)
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

func (c *Client) UpdateSchedule(ctx context.Context, eventId string, start time.Time, end time.Time) error {
	op := "scheduler.update"
	form := url.Values{"start": {millis(start)}, "end": {millis(end)}}
	req, err := c.newForm(ctx, op, http.MethodPut, "/recordings/"+url.PathEscape(eventId), form)
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

func (c *Client) SetAgentState(ctx context.Context, agent string, state string) error {
	op := "capture-admin.agent"
	form := url.Values{"state": {state}, "address": {c.baseURL}}
	req, err := c.newForm(ctx, op, http.MethodPost, "/capture-admin/agents/"+url.PathEscape(agent), form)
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

func (c *Client) SetRecordingState(ctx context.Context, eventId string, state string) error {
	op := "capture-admin.recording"
	form := url.Values{"state": {state}}
	req, err := c.newForm(ctx, op, http.MethodPut, "/capture-admin/recordings/"+url.PathEscape(eventId), form)
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

type seriesList []struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

// FindSeries returns the id of the series titled title, or "" when there is none.
func (c *Client) FindSeries(ctx context.Context, title string) (string, error) {
	op := "series.find"
	query := url.Values{"seriesTitle": {title}, "count": {"20"}}
	req, err := c.newRequest(ctx, op, http.MethodGet, "/series/series.json?"+query.Encode(), nil, "")
	if err != nil {
		return "", err
	}
	body, err := c.text(op, req)
	if err != nil {
		return "", err
	}

	var list seriesList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return "", retry.ClientSide(op, fmt.Errorf("decode series list: %w", err))
	}
	for _, s := range list {
		if s.Title == title {
			return s.Identifier, nil
		}
	}
	return "", nil
}

// CreateSeries posts a series catalog built around a fresh identifier and returns it.
func (c *Client) CreateSeries(ctx context.Context, title string, acl string) (string, error) {
	op := "series.create"
	id, catalog, err := seriesCatalog(title)
	if err != nil {
		return "", retry.ClientSide(op, err)
	}
	form := url.Values{"series": {catalog}, "acl": {acl}}
	req, err := c.newForm(ctx, op, http.MethodPost, "/series/", form)
	if err != nil {
		return "", err
	}
	if _, err := c.text(op, req); err != nil {
		return "", err
	}
	return id, nil
}

// ACL renders a XACML policy granting read and write to roles. No request is made.
func (c *Client) ACL(ctx context.Context, roles []string) (string, error) {
	return xacmlPolicy(roles)
}

func (c *Client) Health(ctx context.Context) error {
	op := "info.health"
	req, err := c.newRequest(ctx, op, http.MethodGet, "/info/health", nil, "")
	if err != nil {
		return err
	}
	_, err = c.text(op, req)
	return err
}

func (c *Client) newForm(ctx context.Context, op, method, path string, form url.Values) (*http.Request, error) {
	return c.newRequest(ctx, op, method, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) newRequest(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, retry.ClientSide(op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.SetBasicAuth(c.user, c.password)
	// digest-capable endpoints accept basic auth when this header is present
	req.Header.Set("X-Requested-Auth", "Basic")
	return req, nil
}

// text executes req and classifies the outcome for pkg/retry.
func (c *Client) text(op string, req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", retry.NoResponse(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", retry.NoResponse(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &retry.StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}

func multipartBody(fields map[string]string, fileName string, content io.Reader) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := writeMultipart(mw, fields, fileName, content); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

// writeMultipart writes fields, then the BODY part, then closes mw.
func writeMultipart(mw *multipart.Writer, fields map[string]string, fileName string, content io.Reader) error {
	for _, key := range []string{"mediaPackage", "flavor"} {
		if v, ok := fields[key]; ok {
			if err := mw.WriteField(key, v); err != nil {
				return err
			}
		}
	}
	part, err := mw.CreateFormFile("BODY", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mw.Close()
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
